// Package artifact persists the final Markdown and JSON snapshot of a document.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/local/ocrmd/internal/document"
	"github.com/local/ocrmd/internal/storage"
	"github.com/rs/zerolog/log"
)

// Artifacts describes what was written for one document.
type Artifacts struct {
	MarkdownPath string
	JSONPath     string
	Markdown     string
	Snapshot     []byte
}

// MarkdownPath is "{base}.md".
func MarkdownPath(base string) string { return base + ".md" }

// JSONPath is "{base}_full.json".
func JSONPath(base string) string { return base + "_full.json" }

// Writer writes artifact pairs to a Filesystem.
type Writer struct {
	fs storage.Filesystem
}

func NewWriter(fs storage.Filesystem) *Writer { return &Writer{fs: fs} }

// Write persists both files or neither: the snapshot is encoded before any
// write, and the Markdown is removed again if the JSON write fails.
func (w *Writer) Write(ctx context.Context, base, markdown string, doc document.Normalized) (Artifacts, error) {
	snap, err := EncodeSnapshot(doc)
	if err != nil {
		return Artifacts{}, err
	}
	a := Artifacts{
		MarkdownPath: MarkdownPath(base),
		JSONPath:     JSONPath(base),
		Markdown:     markdown,
		Snapshot:     snap,
	}

	if err := w.fs.WriteText(ctx, a.MarkdownPath, markdown); err != nil {
		return Artifacts{}, fmt.Errorf("write %s: %w", a.MarkdownPath, err)
	}
	if err := w.fs.WriteFile(ctx, a.JSONPath, snap); err != nil {
		if rmErr := w.fs.Remove(ctx, a.MarkdownPath); rmErr != nil {
			log.Error().Err(rmErr).Str("path", a.MarkdownPath).Msg("failed to roll back markdown after snapshot write error")
		}
		return Artifacts{}, fmt.Errorf("write %s: %w", a.JSONPath, err)
	}

	log.Info().Str("markdown", a.MarkdownPath).Str("json", a.JSONPath).Int("markdown_bytes", len(markdown)).Msg("artifacts saved")
	return a, nil
}

// EncodeSnapshot renders doc as 2-space indented UTF-8 JSON. HTML characters
// are kept literal so Markdown inside the snapshot stays readable.
func EncodeSnapshot(doc document.Normalized) ([]byte, error) {
	if doc == nil {
		doc = document.Normalized{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
