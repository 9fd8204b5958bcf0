package extract

import (
	"fmt"
	"strings"
)

// extractionPromptTemplate は1回の生成呼び出しに渡す指示文の雛形です。
// 応答はJSON配列のみを想定しますが、前後に説明文が混ざっても
// ParseDraftArray 側で吸収します。
const extractionPromptTemplate = `You are a senior business analyst extracting software requirements from a client document.

Project: %s
Source file: %s
Domain: %s
Analysis perspective: %s (focus: %s)
%sExtract exactly %d distinct requirements from the document below, viewed strictly through this perspective.

Respond with a JSON array only. Each element must be an object with these fields:
- "title": a short imperative summary of the requirement (at most 80 characters)
- "description": a detailed explanation of at least 150 words covering purpose, scope and acceptance criteria
- "category": one of "functional", "non-functional", "security", "performance"
- "priority": one of "high", "medium", "low"

Do not include any text before or after the JSON array.

Document:
%s`

type promptInput struct {
	ProjectName string
	FileName    string
	Domain      string
	Perspective Perspective
	ChunkIndex  int
	ChunkCount  int
	Count       int
	Text        string
}

// buildExtractionPrompt は観点・チャンクごとの指示文を組み立てます。
func buildExtractionPrompt(in promptInput) string {
	project := in.ProjectName
	if project == "" {
		project = "(unnamed project)"
	}
	fileName := in.FileName
	if fileName == "" {
		fileName = "(direct text input)"
	}

	section := ""
	if in.ChunkCount > 1 {
		section = fmt.Sprintf("This is section %d of %d of the document; requirements from other sections are collected separately.\n", in.ChunkIndex+1, in.ChunkCount)
	}

	return fmt.Sprintf(extractionPromptTemplate,
		project,
		fileName,
		in.Domain,
		in.Perspective.Name,
		in.Perspective.Focus,
		section,
		in.Count,
		strings.TrimSpace(in.Text),
	)
}
