package extract

import "strings"

// DefaultDomain はキーワードに一致しなかった場合の分野ラベルです。
const DefaultDomain = "general business system"

type domainEntry struct {
	label string
	words []string
}

// domainVocabulary はファイル名・プロジェクト名との部分一致で分野を推定する
// ための固定語彙です。先に一致したエントリが勝ちます。
var domainVocabulary = []domainEntry{
	{label: "e-commerce platform", words: []string{"shop", "cart", "commerce", "retail", "storefront"}},
	{label: "financial services system", words: []string{"bank", "finance", "financial", "payment", "accounting", "ledger", "invoice"}},
	{label: "healthcare system", words: []string{"health", "medical", "clinic", "hospital", "patient"}},
	{label: "education platform", words: []string{"school", "education", "learning", "course", "campus"}},
	{label: "logistics management system", words: []string{"logistics", "warehouse", "shipping", "delivery", "inventory"}},
	{label: "HR management system", words: []string{"payroll", "employee", "recruiting", "attendance", "onboarding"}},
	{label: "IoT platform", words: []string{"iot", "sensor", "telemetry", "firmware"}},
}

// InferDomain はファイル名とプロジェクト名から文書の分野ラベルを推定します。
// プロンプトの文脈を補うためのもので、一致しない場合も既定ラベルを返し、
// 失敗にはなりません。
func InferDomain(fileName, projectName string) string {
	subject := strings.ToLower(fileName + " " + projectName)
	for _, entry := range domainVocabulary {
		for _, word := range entry.words {
			if strings.Contains(subject, word) {
				return entry.label
			}
		}
	}
	return DefaultDomain
}
