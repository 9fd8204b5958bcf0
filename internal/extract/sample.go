package extract

// SampleChunks は過大なチャンク列を決定的に間引きます。
// 上限以内ならそのまま返し、超える場合は先頭と末尾を必ず含めたうえで
// 残りの枠を等間隔のインデックスで埋めます。同じ入力には常に同じ結果を返します。
func SampleChunks(chunks []string, maxChunks int) []string {
	if maxChunks <= 0 || len(chunks) <= maxChunks {
		return chunks
	}
	if maxChunks == 1 {
		return chunks[:1]
	}

	sampled := make([]string, 0, maxChunks)
	sampled = append(sampled, chunks[0])
	interior := maxChunks - 2
	for i := 0; i < interior; i++ {
		idx := 1 + i*(len(chunks)-2)/interior
		sampled = append(sampled, chunks[idx])
	}
	sampled = append(sampled, chunks[len(chunks)-1])
	return sampled
}
