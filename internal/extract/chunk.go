// Package extract は文書テキストからの要求抽出パイプラインを実装します。
// 分割・サンプリング・多観点の生成呼び出し・応答解析・重複統合を担います。
package extract

import (
	"regexp"
	"strings"
)

// singlePassThreshold 以下の長さ（rune数）の文書は分割せず一括で処理します。
const singlePassThreshold = 5000

// ChunkTier は入力長に応じた分割パラメータです。
// MaxInputLen 未満の入力に適用され、0 は上限なしを意味します。
type ChunkTier struct {
	MaxInputLen int
	ChunkSize   int
	Overlap     int
	MaxChunks   int
}

// DefaultTiers は既定の分割ティア表を返します。
// 入力が大きいほど窓を広げ、チャンク数上限で外部呼び出し回数を抑えます。
func DefaultTiers() []ChunkTier {
	return []ChunkTier{
		{MaxInputLen: 10000, ChunkSize: 4000, Overlap: 400, MaxChunks: 2},
		{MaxInputLen: 30000, ChunkSize: 6000, Overlap: 600, MaxChunks: 3},
		{MaxInputLen: 100000, ChunkSize: 8000, Overlap: 800, MaxChunks: 4},
		{MaxInputLen: 0, ChunkSize: 10000, Overlap: 1000, MaxChunks: 6},
	}
}

func tierFor(length int, tiers []ChunkTier) ChunkTier {
	for _, tier := range tiers {
		if tier.MaxInputLen == 0 || length < tier.MaxInputLen {
			return tier
		}
	}
	// 表が空か全ティアに上限がある場合の保険。
	return ChunkTier{ChunkSize: 10000, Overlap: 1000, MaxChunks: 6}
}

var newlineRun = regexp.MustCompile(`\n{3,}`)

// NormalizeText は改行コードを LF に統一し、連続する空行を1つにまとめます。
func NormalizeText(text string) string {
	s := strings.ReplaceAll(text, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return newlineRun.ReplaceAllString(s, "\n\n")
}

// ChunkText はテキストを重なり付きの窓に分割します。長さは rune 単位で、
// 正規化後の長さが chunkSize 以下なら分割せずそのまま返します。
func ChunkText(text string, chunkSize, overlap int) []string {
	normalized := NormalizeText(text)
	if chunkSize <= 0 {
		chunkSize = 4000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 10
	}

	runes := []rune(normalized)
	if len(runes) <= chunkSize {
		return []string{normalized}
	}

	step := chunkSize - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		// 末尾の断片は直前の窓とほぼ重複するため、overlap の2倍以下なら捨てます。
		if end == len(runes) && len(chunks) > 0 && end-start <= overlap*2 {
			break
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Segmentation は分割結果と採用パラメータです。
type Segmentation struct {
	Chunks      []string
	Tier        ChunkTier
	TotalChunks int // サンプリング前のチャンク数
	SinglePass  bool
}

// SegmentText はパイプラインの分割入口です。短い文書は一括処理し、
// それ以外はティア表に従って分割後、上限を超えた分を代表サンプリングします。
func SegmentText(text string, tiers []ChunkTier) Segmentation {
	normalized := NormalizeText(text)
	length := len([]rune(normalized))
	if length <= singlePassThreshold {
		return Segmentation{
			Chunks:      []string{normalized},
			TotalChunks: 1,
			SinglePass:  true,
		}
	}

	tier := tierFor(length, tiers)
	chunks := ChunkText(normalized, tier.ChunkSize, tier.Overlap)
	total := len(chunks)
	return Segmentation{
		Chunks:      SampleChunks(chunks, tier.MaxChunks),
		Tier:        tier,
		TotalChunks: total,
	}
}
