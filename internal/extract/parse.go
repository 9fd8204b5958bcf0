package extract

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParseStatus は生成応答の解析結果の区分を表します。
type ParseStatus string

const (
	// ParseOK は応答からドラフトの配列を取り出せたことを示します。
	ParseOK ParseStatus = "parsed"
	// ParseMalformed は応答に有効なJSON配列が含まれなかったことを示します。
	ParseMalformed ParseStatus = "malformed"
)

// ParseResult は1回の生成応答を解析した結果です。
// Malformed の場合でもジョブは継続し、該当呼び出し分のドラフトが
// 空になるだけです。Raw は失敗調査用に元の応答を保持します。
type ParseResult struct {
	Status ParseStatus
	Drafts []RequirementDraft
	Raw    string
}

// draftArraySchema は応答に要求するJSON配列の構造を定義します。
// title と description は必須、category と priority は任意で
// 後段のフォールバックに委ねます。
var draftArraySchema = jsonschema.MustCompileString("drafts.json", `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["title", "description"],
		"properties": {
			"title": {"type": "string"},
			"description": {"type": "string"},
			"category": {"type": "string"},
			"priority": {"type": "string"}
		}
	}
}`)

type rawDraft struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Priority    string `json:"priority"`
}

// ParseDraftArray は生成応答からドラフト配列を取り出します。
// 応答前後の説明文やコードフェンスを取り除いた上で、最初に現れる
// トップレベルのJSON配列をスキーマ検証してから復号します。
// どの候補も検証を通らない場合は Malformed を返し、エラーにはしません。
func ParseDraftArray(raw string) ParseResult {
	trimmed := strings.TrimSpace(stripCodeFences(raw))

	candidates := make([]string, 0, 2)
	if arr := extractJSONArray(trimmed); arr != "" {
		candidates = append(candidates, arr)
	}
	if len(candidates) == 0 || candidates[0] != trimmed {
		candidates = append(candidates, trimmed)
	}

	for _, candidate := range candidates {
		drafts, ok := decodeDrafts(candidate)
		if !ok {
			continue
		}
		return ParseResult{Status: ParseOK, Drafts: drafts, Raw: raw}
	}
	return ParseResult{Status: ParseMalformed, Raw: raw}
}

func decodeDrafts(candidate string) ([]RequirementDraft, bool) {
	var doc any
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		return nil, false
	}
	if err := draftArraySchema.Validate(doc); err != nil {
		return nil, false
	}

	var raws []rawDraft
	if err := json.Unmarshal([]byte(candidate), &raws); err != nil {
		return nil, false
	}

	drafts := make([]RequirementDraft, 0, len(raws))
	for _, r := range raws {
		drafts = append(drafts, RequirementDraft{
			Title:       strings.TrimSpace(r.Title),
			Description: strings.TrimSpace(r.Description),
			Category:    Category(strings.ToLower(strings.TrimSpace(r.Category))),
			Priority:    Priority(strings.ToLower(strings.TrimSpace(r.Priority))),
		})
	}
	return drafts, true
}

// stripCodeFences はMarkdownのコードフェンスで囲まれた応答から中身を取り出します。
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	body := trimmed[3:]
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return body
}

// extractJSONArray は文字列中の最初のトップレベルJSON配列を返します。
// 文字列リテラルとエスケープを考慮して対応する閉じ括弧を探します。
// ASCIIの区切り文字はUTF-8の多バイト列に現れないためバイト走査で安全です。
func extractJSONArray(s string) string {
	var depth int
	var start = -1
	var inString, escape bool

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '[':
			if depth == 0 {
				start = i
			}
			depth++
		case ']':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
