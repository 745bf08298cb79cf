//go:build ocr

package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/local/ocrmd/internal/filetype"
	"github.com/otiai10/gosseract/v2"
)

// Tesseract runs local OCR on image inputs. It requires Tesseract to be
// installed on the system.
type Tesseract struct {
	lang string
}

func NewTesseract(lang string) *Tesseract {
	if lang == "" {
		lang = "eng"
	}
	return &Tesseract{lang: lang}
}

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) Process(ctx context.Context, data []byte, filename string) (any, error) {
	if info := filetype.DetectBytes(data); info.Kind != filetype.KindImage {
		return nil, fmt.Errorf("%w: tesseract accepts images only, got %s", ErrUnsupported, info.MIMEType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Split(t.lang, "+")...); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}
	return TesseractResult{
		Language: t.lang,
		Pages:    []TesseractPage{{Index: 0, Markdown: strings.TrimSpace(text)}},
	}, nil
}
