//go:build !ocr

package ocr

import "context"

// Tesseract is a stub that fails every call with ErrOCRNotEnabled.
type Tesseract struct {
	lang string
}

func NewTesseract(lang string) *Tesseract { return &Tesseract{lang: lang} }

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) Process(context.Context, []byte, string) (any, error) {
	return nil, ErrOCRNotEnabled
}
