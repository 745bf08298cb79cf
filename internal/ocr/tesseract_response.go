package ocr

// TesseractPage is the text recognized on one input image.
type TesseractPage struct {
	Index    int
	Markdown string
}

// TesseractResult is the response of the local backend. It never carries
// images: Tesseract only returns text.
type TesseractResult struct {
	Language string
	Pages    []TesseractPage
}

// ToMap renders the result in the same page shape the hosted service uses.
func (r TesseractResult) ToMap() map[string]any {
	pages := make([]any, 0, len(r.Pages))
	for _, p := range r.Pages {
		pages = append(pages, map[string]any{
			"index":    p.Index,
			"markdown": p.Markdown,
			"images":   []any{},
		})
	}
	return map[string]any{
		"model":    "tesseract",
		"language": r.Language,
		"pages":    pages,
	}
}
