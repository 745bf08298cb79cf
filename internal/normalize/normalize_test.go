package normalize

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/local/ocrmd/internal/document"
)

type dumper struct{ out map[string]any }

func (d dumper) ModelDump() (map[string]any, error) { return d.out, nil }

// allCaps exposes every capability; only ModelDump may be used.
type allCaps struct{ Field string }

func (allCaps) ModelDump() (map[string]any, error) { return map[string]any{"from": "model_dump"}, nil }
func (allCaps) Dict() map[string]any               { return map[string]any{"from": "dict"} }
func (allCaps) ToMap() map[string]any              { return map[string]any{"from": "to_map"} }
func (allCaps) String() string                     { return `{"from":"json"}` }

type dictAndMap struct{}

func (dictAndMap) Dict() map[string]any  { return map[string]any{"from": "dict"} }
func (dictAndMap) ToMap() map[string]any { return map[string]any{"from": "to_map"} }

type toMapOnly struct{}

func (toMapOnly) ToMap() map[string]any { return map[string]any{"from": "to_map"} }

type failingDump struct{ Pages []any }

func (failingDump) ModelDump() (map[string]any, error) { return nil, errors.New("boom") }

type typedResponse struct {
	Model string      `json:"model"`
	Pages []typedPage `json:"pages"`
}

type typedPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type stringer string

func (s stringer) String() string { return string(s) }

func TestModelDumpOutputIsVerbatim(t *testing.T) {
	out := map[string]any{
		"pages": []any{map[string]any{"markdown": "hi", "index": 0}},
		"usage": map[string]any{"pages_processed": 1},
	}
	res := Normalize(dumper{out: out})
	if res.Strategy != StrategyModelDump {
		t.Fatalf("strategy = %s", res.Strategy)
	}
	if !reflect.DeepEqual(map[string]any(res.Document), out) {
		t.Fatalf("document = %#v, want %#v", res.Document, out)
	}
}

func TestProbingOrder(t *testing.T) {
	tests := []struct {
		name         string
		in           any
		wantStrategy string
		wantFrom     string
	}{
		{"all capabilities", allCaps{}, StrategyModelDump, "model_dump"},
		{"pointer with all capabilities", &allCaps{}, StrategyModelDump, "model_dump"},
		{"dict before to_map", dictAndMap{}, StrategyDict, "dict"},
		{"to_map", toMapOnly{}, StrategyToMap, "to_map"},
		{"mapping is attribute storage", map[string]any{"from": "attributes"}, StrategyAttributes, "attributes"},
		{"json string", `{"from":"json"}`, StrategyJSONText, "json"},
		{"json bytes", []byte(`{"from":"json"}`), StrategyJSONText, "json"},
		{"raw message", json.RawMessage(`  {"from":"json"}  `), StrategyJSONText, "json"},
		{"stringer", stringer(`{"from":"json"}`), StrategyJSONText, "json"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := Normalize(tc.in)
			if res.Strategy != tc.wantStrategy {
				t.Fatalf("strategy = %s, want %s", res.Strategy, tc.wantStrategy)
			}
			if res.Document["from"] != tc.wantFrom {
				t.Fatalf("from = %v, want %s", res.Document["from"], tc.wantFrom)
			}
		})
	}
}

func TestStructAttributes(t *testing.T) {
	res := Normalize(&typedResponse{Model: "m", Pages: []typedPage{{Index: 0, Markdown: "a"}}})
	if res.Strategy != StrategyAttributes {
		t.Fatalf("strategy = %s", res.Strategy)
	}
	pages, err := res.Document.Pages()
	if err != nil || len(pages) != 1 || pages[0].Markdown != "a" {
		t.Fatalf("pages=%+v err=%v", pages, err)
	}
	if _, ok := res.Document["pages"].([]any); !ok {
		t.Fatalf("pages should be plain []any, got %T", res.Document["pages"])
	}
}

func TestRawTextFallback(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"plain text", "not json at all", "not json at all"},
		{"json array", "[1,2]", "[1,2]"},
		{"number", 42, "42"},
		{"nil", nil, "<nil>"},
		{"nil pointer", (*typedResponse)(nil), "<nil>"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := Normalize(tc.in)
			if res.Strategy != StrategyRawText {
				t.Fatalf("strategy = %s", res.Strategy)
			}
			if res.Document["raw_text"] != tc.want {
				t.Fatalf("raw_text = %q, want %q", res.Document["raw_text"], tc.want)
			}
			pages, err := res.Document.Pages()
			if err != nil || len(pages) != 0 {
				t.Fatalf("raw_text document should have zero pages: %v %v", pages, err)
			}
		})
	}
}

func TestMatchedCapabilityFailureDoesNotFallThrough(t *testing.T) {
	// failingDump is also a struct, but attribute storage must not be tried.
	res := Normalize(failingDump{Pages: []any{}})
	if res.Strategy != StrategyRawText || res.Err == nil {
		t.Fatalf("res = %+v", res)
	}
	if _, ok := res.Document["pages"]; ok {
		t.Fatal("attributes strategy should not have been used")
	}
}

func TestNilMappingFallsBackToRawText(t *testing.T) {
	res := Normalize(dumper{out: nil})
	if res.Strategy != StrategyRawText || res.Err == nil {
		t.Fatalf("res = %+v", res)
	}
}

func TestCanonicalizesTypedValues(t *testing.T) {
	res := Normalize(dumper{out: map[string]any{
		"pages": []typedPage{{Index: 0, Markdown: "x"}},
	}})
	if res.Strategy != StrategyModelDump {
		t.Fatalf("strategy = %s", res.Strategy)
	}
	pages, ok := res.Document["pages"].([]any)
	if !ok || len(pages) != 1 {
		t.Fatalf("pages = %#v", res.Document["pages"])
	}
	page := pages[0].(map[string]any)
	if page["markdown"] != "x" || page["index"] != json.Number("0") {
		t.Fatalf("page = %#v", page)
	}
}

func TestNormalizedDocumentPassesThrough(t *testing.T) {
	in := document.Normalized{"pages": []any{}}
	res := Normalize(in)
	if res.Strategy != StrategyAttributes {
		t.Fatalf("strategy = %s", res.Strategy)
	}
}
