// Package normalize turns whatever an OCR backend returned into a plain
// document.Normalized mapping.
//
// Backends and backend versions expose different conversion capabilities, so
// the response is probed against an ordered list of strategies. The first
// strategy whose guard accepts the value is used and no later strategy is
// tried, even if the chosen one fails; a failure degrades to the raw_text
// fallback instead.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/local/ocrmd/internal/document"
)

// ModelDumper is implemented by typed response models that can dump
// themselves into a mapping. It is the most specific capability.
type ModelDumper interface {
	ModelDump() (map[string]any, error)
}

// DictConverter is the older generic dict conversion.
type DictConverter interface {
	Dict() map[string]any
}

// MapConverter is the to-mapping conversion some client libraries provide.
type MapConverter interface {
	ToMap() map[string]any
}

// Strategy names, in probing order.
const (
	StrategyModelDump  = "model_dump"
	StrategyDict       = "dict"
	StrategyToMap      = "to_map"
	StrategyAttributes = "attributes"
	StrategyJSONText   = "json_text"
	StrategyRawText    = "raw_text"
)

// Strategy is one guarded extraction.
type Strategy struct {
	Name    string
	Match   func(v any) bool
	Extract func(v any) (map[string]any, error)
}

// Strategies returns the probing order. raw_text is not listed: it is what
// Normalize falls back to.
func Strategies() []Strategy {
	return []Strategy{
		{
			Name:  StrategyModelDump,
			Match: func(v any) bool { _, ok := v.(ModelDumper); return ok },
			Extract: func(v any) (map[string]any, error) {
				return v.(ModelDumper).ModelDump()
			},
		},
		{
			Name:    StrategyDict,
			Match:   func(v any) bool { _, ok := v.(DictConverter); return ok },
			Extract: func(v any) (map[string]any, error) { return v.(DictConverter).Dict(), nil },
		},
		{
			Name:    StrategyToMap,
			Match:   func(v any) bool { _, ok := v.(MapConverter); return ok },
			Extract: func(v any) (map[string]any, error) { return v.(MapConverter).ToMap(), nil },
		},
		{
			Name:    StrategyAttributes,
			Match:   hasAttributes,
			Extract: attributes,
		},
		{
			Name:    StrategyJSONText,
			Match:   func(v any) bool { _, ok := parseJSONObject(textOf(v)); return ok },
			Extract: func(v any) (map[string]any, error) { m, _ := parseJSONObject(textOf(v)); return m, nil },
		},
	}
}

// Result is a normalized response plus the strategy that produced it.
type Result struct {
	Document document.Normalized
	Strategy string
	// Err is set when the matched strategy failed and raw_text was used.
	Err error
}

// Normalize never fails: the worst case is {"raw_text": <text of v>}.
func Normalize(v any) Result {
	for _, s := range Strategies() {
		if !s.Match(v) {
			continue
		}
		m, err := s.Extract(v)
		if err == nil && m == nil {
			err = fmt.Errorf("%s returned no mapping", s.Name)
		}
		if err == nil {
			m, err = canonical(m)
		}
		if err != nil {
			return Result{Document: rawText(v), Strategy: StrategyRawText, Err: fmt.Errorf("%s: %w", s.Name, err)}
		}
		return Result{Document: document.Normalized(m), Strategy: s.Name}
	}
	return Result{Document: rawText(v), Strategy: StrategyRawText}
}

func rawText(v any) document.Normalized {
	return document.Normalized{"raw_text": textOf(v)}
}

func hasAttributes(v any) bool {
	switch v.(type) {
	case map[string]any, document.Normalized:
		return true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Struct
}

// attributes reads a struct's exported fields through its JSON encoding so
// field tags decide the key names.
func attributes(v any) (map[string]any, error) {
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case document.Normalized:
		return m, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	m, ok := parseJSONObject(string(b))
	if !ok {
		return nil, fmt.Errorf("attributes of %T do not encode to an object", v)
	}
	return m, nil
}

func textOf(v any) string {
	switch t := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return t
	case []byte:
		return string(t)
	case json.RawMessage:
		return string(t)
	case fmt.Stringer:
		return t.String()
	case error:
		return t.Error()
	default:
		return fmt.Sprint(v)
	}
}

func parseJSONObject(s string) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return m, true
}

// canonical returns m unchanged when it already holds only plain values, so a
// capability's output is kept verbatim. Otherwise it is re-encoded through
// JSON so no backend-specific types survive.
func canonical(m map[string]any) (map[string]any, error) {
	if isPlain(m) {
		return m, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	out, ok := parseJSONObject(string(b))
	if !ok {
		return nil, fmt.Errorf("canonicalize: re-decode failed")
	}
	return out, nil
}

func isPlain(v any) bool {
	switch t := v.(type) {
	case nil, string, bool, json.Number,
		float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	case map[string]any:
		for _, e := range t {
			if !isPlain(e) {
				return false
			}
		}
		return true
	case []any:
		for _, e := range t {
			if !isPlain(e) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
