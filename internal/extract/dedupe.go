package extract

import "strings"

// 重複判定の既定しきい値。タイトルと説明の両方を超えた場合のみ重複とみなします。
const (
	DefaultTitleThreshold = 0.7
	DefaultDescThreshold  = 0.5
)

// Similarity は2つの短文の類似度を 0〜1 で返します。
// 小文字化した文字バイグラム集合の Dice 係数で、同一文字列は 1、
// どちらかが空なら 0 になります。
func Similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	setA := bigrams(a)
	setB := bigrams(b)
	if len(setA)+len(setB) == 0 {
		return 0
	}

	intersection := 0
	for bg := range setA {
		if _, ok := setB[bg]; ok {
			intersection++
		}
	}
	return 2 * float64(intersection) / float64(len(setA)+len(setB))
}

func bigrams(s string) map[string]struct{} {
	runes := []rune(s)
	set := make(map[string]struct{}, len(runes))
	for i := 0; i+1 < len(runes); i++ {
		set[string(runes[i:i+2])] = struct{}{}
	}
	return set
}

// Deduper は類似度しきい値に基づいて重複ドラフトを統合します。
type Deduper struct {
	TitleThreshold float64
	DescThreshold  float64
}

// NewDeduper は Deduper を作成します。0以下のしきい値には既定値を使います。
func NewDeduper(titleThreshold, descThreshold float64) *Deduper {
	if titleThreshold <= 0 {
		titleThreshold = DefaultTitleThreshold
	}
	if descThreshold <= 0 {
		descThreshold = DefaultDescThreshold
	}
	return &Deduper{
		TitleThreshold: titleThreshold,
		DescThreshold:  descThreshold,
	}
}

// Dedupe は先勝ちで重複ドラフトを取り除き、初出順を維持して返します。
// タイトルか説明を欠くドラフトは比較の前に無条件で除外します。
// 重複判定は「既に残したドラフト」との比較のみで行うため、入力順が
// どの個体を残すかを決めます。
func (d *Deduper) Dedupe(drafts []RequirementDraft) []RequirementDraft {
	kept := make([]RequirementDraft, 0, len(drafts))
	for _, draft := range drafts {
		if strings.TrimSpace(draft.Title) == "" || strings.TrimSpace(draft.Description) == "" {
			continue
		}
		duplicate := false
		for i := range kept {
			if Similarity(draft.Title, kept[i].Title) > d.TitleThreshold &&
				Similarity(draft.Description, kept[i].Description) > d.DescThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, draft)
		}
	}
	return kept
}
