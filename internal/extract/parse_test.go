package extract

import (
	"strings"
	"testing"
)

const draftArrayJSON = `[
	{"title": "User login", "description": "Users authenticate with email and password.", "category": "security", "priority": "high"},
	{"title": "CSV export", "description": "Reports can be exported as CSV files.", "category": "functional", "priority": "medium"}
]`

func TestParseDraftArrayCleanJSON(t *testing.T) {
	res := ParseDraftArray(draftArrayJSON)
	if res.Status != ParseOK {
		t.Fatalf("status = %s, want parsed", res.Status)
	}
	if len(res.Drafts) != 2 {
		t.Fatalf("expected 2 drafts, got %d", len(res.Drafts))
	}
	if res.Drafts[0].Title != "User login" || res.Drafts[0].Category != CategorySecurity {
		t.Fatalf("unexpected first draft: %+v", res.Drafts[0])
	}
}

func TestParseDraftArraySurroundedByProse(t *testing.T) {
	raw := "Here are the requirements I extracted from the document:\n\n" +
		draftArrayJSON +
		"\n\nLet me know if you need more detail."
	res := ParseDraftArray(raw)
	if res.Status != ParseOK {
		t.Fatalf("status = %s, want parsed", res.Status)
	}
	if len(res.Drafts) != 2 {
		t.Fatalf("expected 2 drafts, got %d", len(res.Drafts))
	}
}

func TestParseDraftArrayMarkdownFence(t *testing.T) {
	raw := "```json\n" + draftArrayJSON + "\n```"
	res := ParseDraftArray(raw)
	if res.Status != ParseOK {
		t.Fatalf("status = %s, want parsed", res.Status)
	}
	if len(res.Drafts) != 2 {
		t.Fatalf("expected 2 drafts, got %d", len(res.Drafts))
	}
}

func TestParseDraftArrayBracketsInsideStrings(t *testing.T) {
	raw := `[{"title": "Range check", "description": "Values outside [0, 100] are rejected with an error."}]`
	res := ParseDraftArray(raw)
	if res.Status != ParseOK {
		t.Fatalf("status = %s, want parsed", res.Status)
	}
	if !strings.Contains(res.Drafts[0].Description, "[0, 100]") {
		t.Fatalf("description mangled: %q", res.Drafts[0].Description)
	}
}

func TestParseDraftArrayEscapedQuotes(t *testing.T) {
	raw := `[{"title": "Quoting", "description": "The term \"requirement\" appears in [brackets] and \"quotes\"."}]`
	res := ParseDraftArray(raw)
	if res.Status != ParseOK {
		t.Fatalf("status = %s, want parsed", res.Status)
	}
}

func TestParseDraftArrayNormalizesFields(t *testing.T) {
	raw := `[{"title": "  Padded  ", "description": " text ", "category": " Security ", "priority": "HIGH"}]`
	res := ParseDraftArray(raw)
	if res.Status != ParseOK {
		t.Fatalf("status = %s, want parsed", res.Status)
	}
	d := res.Drafts[0]
	if d.Title != "Padded" || d.Category != CategorySecurity || d.Priority != PriorityHigh {
		t.Fatalf("fields not normalized: %+v", d)
	}
}

func TestParseDraftArrayMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"plain prose", "I could not find any requirements in this section."},
		{"object not array", `{"title": "x", "description": "y"}`},
		{"missing required field", `[{"description": "no title present"}]`},
		{"wrong item type", `["just", "strings"]`},
		{"truncated array", `[{"title": "x", "description": "y"`},
		{"empty input", ""},
	}
	for _, tc := range cases {
		res := ParseDraftArray(tc.raw)
		if res.Status != ParseMalformed {
			t.Errorf("%s: status = %s, want malformed", tc.name, res.Status)
		}
		if res.Raw != tc.raw {
			t.Errorf("%s: raw text not preserved", tc.name)
		}
		if len(res.Drafts) != 0 {
			t.Errorf("%s: malformed result carries drafts", tc.name)
		}
	}
}

func TestParseDraftArrayEmptyArray(t *testing.T) {
	res := ParseDraftArray("[]")
	if res.Status != ParseOK {
		t.Fatalf("status = %s, want parsed", res.Status)
	}
	if len(res.Drafts) != 0 {
		t.Fatalf("expected no drafts, got %d", len(res.Drafts))
	}
}

func TestExtractJSONArrayIgnoresLeadingBracketNoise(t *testing.T) {
	// The matcher returns the first top-level array, tracking strings so
	// brackets inside them do not end the scan early.
	s := `noise ["a", "b ] c"] trailing`
	got := extractJSONArray(s)
	if got != `["a", "b ] c"]` {
		t.Fatalf("extractJSONArray = %q", got)
	}
}

func TestStripCodeFences(t *testing.T) {
	if got := stripCodeFences("no fences here"); got != "no fences here" {
		t.Fatalf("unfenced input changed: %q", got)
	}
	got := stripCodeFences("```json\n[1]\n```")
	if strings.TrimSpace(got) != "[1]" {
		t.Fatalf("fenced body = %q", got)
	}
}
