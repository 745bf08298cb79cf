package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/local/ocrmd/internal/document"
	"github.com/rs/zerolog/log"
)

// Replay serves responses captured earlier, one "{base}.json" per document,
// so a batch can be re-materialized without calling the OCR service again.
type Replay struct {
	dir string
}

func NewReplay(dir string) *Replay { return &Replay{dir: dir} }

func (r *Replay) Name() string { return "replay" }

// Process ignores data and returns the stored response text as-is.
func (r *Replay) Process(_ context.Context, _ []byte, filename string) (any, error) {
	p := filepath.Join(r.dir, document.BaseName(filename)+".json")
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	log.Debug().Str("file", filename).Str("response", p).Msg("replaying captured OCR response")
	return json.RawMessage(b), nil
}
