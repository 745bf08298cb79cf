// Package rewrite points image references in page Markdown at materialized
// files and joins pages into the final document text.
package rewrite

import (
	"strings"

	"github.com/local/ocrmd/internal/document"
	"github.com/local/ocrmd/internal/materialize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// PageSeparator sits between consecutive pages of the assembled document.
const PageSeparator = "\n\n"

// Page rewrites one page's Markdown. Images are applied in order; only
// successfully materialized ones change the text. A placeholder token is
// replaced everywhere it occurs, an inline image is appended as a new
// reference paragraph. Placeholders with no matching image stay as they are.
func Page(markdown string, imgs []materialize.MaterializedImage) string {
	for _, img := range imgs {
		if !img.OK {
			continue
		}
		switch r := img.Record.(type) {
		case document.PlaceholderImage:
			markdown = strings.ReplaceAll(markdown, r.Token(), "![Image "+r.ID+"]("+img.Ref+")")
		case document.InlineImage:
			markdown += "\n\n![" + img.Description + "](" + img.Ref + ")\n\n"
		}
	}
	return markdown
}

// Assemble joins pages in order and trims surrounding whitespace. Empty pages
// keep their slot.
func Assemble(pages []string) string {
	return strings.TrimSpace(strings.Join(pages, PageSeparator))
}

// UnresolvedPlaceholders lists image references that still point at their own
// id, i.e. "![x](x)" where x is a bare name rather than a path.
func UnresolvedPlaceholders(markdown string) []string {
	src := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var out []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		img, ok := n.(*ast.Image)
		if !ok {
			return ast.WalkContinue, nil
		}
		dest := string(img.Destination)
		if dest != "" && !strings.Contains(dest, "/") && altText(img, src) == dest {
			out = append(out, dest)
		}
		return ast.WalkSkipChildren, nil
	})
	return out
}

func altText(n ast.Node, src []byte) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
		case *ast.String:
			sb.Write(t.Value)
		default:
			sb.WriteString(altText(c, src))
		}
	}
	return sb.String()
}
