package extract

// Perspective は分析観点を表します。Category は生成結果の分類が
// 不正だった場合に充てる既定カテゴリです。
type Perspective struct {
	Name     string
	Focus    string
	Category Category
}

// DefaultPerspectives は既定の観点カタログを優先順に返します。
// 1回の抽出では先頭から numAnalyses 件だけを使います。
func DefaultPerspectives() []Perspective {
	return []Perspective{
		{
			Name:     "Functional Requirements",
			Focus:    "core functionality and business processes",
			Category: CategoryFunctional,
		},
		{
			Name:     "Non-Functional Requirements",
			Focus:    "performance, scalability, availability and maintainability",
			Category: CategoryNonFunctional,
		},
		{
			Name:     "Security Requirements",
			Focus:    "authentication, authorization, data protection and audit",
			Category: CategorySecurity,
		},
		{
			Name:     "Performance Requirements",
			Focus:    "response time, throughput and resource efficiency",
			Category: CategoryPerformance,
		},
		{
			Name:     "Data Management Requirements",
			Focus:    "data models, integrity, retention and migration",
			Category: CategoryFunctional,
		},
		{
			Name:     "Integration Requirements",
			Focus:    "external systems, APIs and file interfaces",
			Category: CategoryFunctional,
		},
	}
}

// selectPerspectives はカタログの先頭から numAnalyses 件を選びます。
// カタログ長を超える指定はカタログ全体に丸めます。
func selectPerspectives(catalog []Perspective, numAnalyses int) []Perspective {
	if numAnalyses <= 0 {
		numAnalyses = 1
	}
	if numAnalyses > len(catalog) {
		numAnalyses = len(catalog)
	}
	return catalog[:numAnalyses]
}
