// Package document holds the canonical shape of one OCR response after
// normalization: an ordered list of pages, each with Markdown text and the
// image records embedded in it.
package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Normalized is the canonical mapping produced for one OCR response. Only
// "pages" is interpreted; every other top-level key passes through untouched
// into the JSON snapshot.
type Normalized map[string]any

// Page is one entry of the "pages" sequence.
type Page struct {
	Index    int // position in the pages sequence, 0-based
	Markdown string
	Images   []ImageRecord
}

// Number returns the 1-based page number used in file names and descriptions.
func (p Page) Number() int { return p.Index + 1 }

// Pages decodes the "pages" sequence. A missing key yields zero pages. A
// value that is not a sequence, a page that is not a mapping, or a non-text
// markdown field is an error for the whole document.
func (n Normalized) Pages() ([]Page, error) {
	raw, ok := n["pages"]
	if !ok {
		return nil, nil
	}
	items, ok := asSlice(raw)
	if !ok {
		return nil, fmt.Errorf("pages: expected a sequence, got %T", raw)
	}

	pages := make([]Page, 0, len(items))
	for i, item := range items {
		m, ok := asMap(item)
		if !ok {
			return nil, fmt.Errorf("page %d: expected a mapping, got %T", i+1, item)
		}
		page := Page{Index: i}

		switch md := m["markdown"].(type) {
		case nil:
		case string:
			page.Markdown = md
		default:
			return nil, fmt.Errorf("page %d: markdown is %T, not text", i+1, md)
		}

		if rawImages, ok := m["images"]; ok && rawImages != nil {
			images, ok := asSlice(rawImages)
			if !ok {
				return nil, fmt.Errorf("page %d: images: expected a sequence, got %T", i+1, rawImages)
			}
			for _, img := range images {
				page.Images = append(page.Images, ParseImage(img))
			}
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// HasImages reports whether any page carries at least one image record.
func HasImages(pages []Page) bool {
	for _, p := range pages {
		if len(p.Images) > 0 {
			return true
		}
	}
	return false
}

// ParseImage discriminates a single image record by field presence. A record
// with a non-null "data" field is inline; one with "id" or "image_base64" is
// a placeholder; anything else is Unknown.
func ParseImage(v any) ImageRecord {
	m, ok := asMap(v)
	if !ok {
		return UnknownImage{Reason: fmt.Sprintf("record is %T, not a mapping", v)}
	}
	if present(m, "data") {
		return InlineImage{
			Data:        str(m, "data"),
			Format:      str(m, "format"),
			Description: str(m, "description"),
			AltText:     str(m, "alt_text"),
		}
	}
	if present(m, "id") || present(m, "image_base64") {
		return PlaceholderImage{
			ID:          str(m, "id"),
			ImageBase64: str(m, "image_base64"),
			Format:      str(m, "format"),
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return UnknownImage{Reason: "no data or id/image_base64 field", Keys: keys}
}

func present(m map[string]any, key string) bool {
	v, ok := m[key]
	return ok && v != nil
}

// str returns the field as text. Numbers are rendered in their JSON form so an
// id like 7 still matches the "![7](7)" token in the page text.
func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	case float64, int, int64, bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Normalized:
		return t, true
	default:
		return nil, false
	}
}

func asSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	default:
		return nil, false
	}
}

// BaseName strips the directory and the last extension from a file name:
// "scans/report.v2.pdf" becomes "report.v2".
func BaseName(fileName string) string {
	name := fileName
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return name
}
