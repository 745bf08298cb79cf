// Package materialize decodes or fetches the images embedded in an OCR page
// and writes them into the document's image directory.
package materialize

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/local/ocrmd/internal/document"
	"github.com/local/ocrmd/internal/fetch"
	mpkg "github.com/local/ocrmd/internal/metrics"
	"github.com/local/ocrmd/internal/storage"
	"github.com/rs/zerolog/log"
)

var (
	// ErrUnknownDataFormat is returned for inline data that is neither a
	// data URI nor an http(s) URL.
	ErrUnknownDataFormat = errors.New("unknown image data format")
	// ErrMissingFields is returned for a placeholder record without id or payload.
	ErrMissingFields = errors.New("image record missing required fields")
	// ErrUnknownRecord marks a record matching neither convention.
	ErrUnknownRecord = errors.New("unrecognized image record")
	// ErrNoFetcher is returned for a URL image when no Fetcher is configured.
	ErrNoFetcher = errors.New("no fetcher configured for remote image")
)

// ImageDirName is the per-document image directory, relative to the output root.
func ImageDirName(base string) string { return base + "_images" }

// FileName is the deterministic name of image i on page p (both 1-based).
func FileName(base string, page, image int, ext string) string {
	return fmt.Sprintf("%s_page%d_img%d.%s", base, page, image, ext)
}

// DefaultDescription is used for inline images without description or alt text.
func DefaultDescription(page, image int) string {
	return fmt.Sprintf("Image %d on page %d", image, page)
}

// MaterializedImage is the outcome for one image record. Ref is the
// Markdown-relative path used in rewritten references.
type MaterializedImage struct {
	Record      document.ImageRecord
	PageNumber  int
	ImageNumber int
	FileName    string
	Path        string
	Ref         string
	Description string
	OK          bool
	Err         error
}

// Options configures a Materializer.
type Options struct {
	BaseName string
	FS       storage.Filesystem
	// Fetcher resolves http(s) inline images. Nil disables remote images.
	Fetcher fetch.Fetcher
}

// Materializer writes one document's images. The image directory is created
// on the first image record and reused for the rest of the document.
type Materializer struct {
	base       string
	dir        string
	fs         storage.Filesystem
	fetcher    fetch.Fetcher
	dirCreated bool
}

// New returns a Materializer for a single document.
func New(opts Options) *Materializer {
	return &Materializer{
		base:    opts.BaseName,
		dir:     ImageDirName(opts.BaseName),
		fs:      opts.FS,
		fetcher: opts.Fetcher,
	}
}

// Dir is the image directory path relative to the filesystem root.
func (m *Materializer) Dir() string { return m.dir }

// DirCreated reports whether any page had images.
func (m *Materializer) DirCreated() bool { return m.dirCreated }

// MaterializePage produces one MaterializedImage per record on page, in order.
// The returned error is non-nil only when the image directory cannot be
// created; individual image failures are reported through OK and Err.
func (m *Materializer) MaterializePage(ctx context.Context, page document.Page) ([]MaterializedImage, error) {
	if len(page.Images) == 0 {
		return nil, nil
	}
	if !m.dirCreated {
		if err := m.fs.MkdirAll(ctx, m.dir); err != nil {
			return nil, fmt.Errorf("create image dir %s: %w", m.dir, err)
		}
		m.dirCreated = true
	}

	out := make([]MaterializedImage, 0, len(page.Images))
	for i, rec := range page.Images {
		img := m.materialize(ctx, page.Number(), i+1, rec)
		result := "ok"
		if !img.OK {
			result = "failed"
			log.Warn().Err(img.Err).
				Str("document", m.base).
				Int("page", img.PageNumber).
				Int("image", img.ImageNumber).
				Str("variant", string(rec.Variant())).
				Msg("image skipped")
		} else {
			log.Debug().Str("document", m.base).Str("file", img.Path).Msg("image saved")
		}
		mpkg.IncImage(string(rec.Variant()), result)
		out = append(out, img)
	}
	return out, nil
}

func (m *Materializer) materialize(ctx context.Context, pageNum, imgNum int, rec document.ImageRecord) MaterializedImage {
	name := FileName(m.base, pageNum, imgNum, rec.Extension())
	img := MaterializedImage{
		Record:      rec,
		PageNumber:  pageNum,
		ImageNumber: imgNum,
		FileName:    name,
		Path:        path.Join(m.dir, name),
		Ref:         "./" + m.dir + "/" + name,
	}

	var (
		data []byte
		err  error
	)
	switch r := rec.(type) {
	case document.InlineImage:
		img.Description = describe(r, pageNum, imgNum)
		data, err = m.inline(ctx, r)
	case document.PlaceholderImage:
		data, err = placeholder(r)
	case document.UnknownImage:
		err = fmt.Errorf("%w: %s (keys %v)", ErrUnknownRecord, r.Reason, r.Keys)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownRecord, rec)
	}
	if err == nil {
		err = m.fs.WriteFile(ctx, img.Path, data)
	}
	if err != nil {
		img.Err = err
		return img
	}
	img.OK = true
	return img
}

func (m *Materializer) inline(ctx context.Context, r document.InlineImage) ([]byte, error) {
	switch {
	case strings.HasPrefix(r.Data, "data:image"):
		_, payload, ok := strings.Cut(r.Data, ",")
		if !ok {
			return nil, fmt.Errorf("data URI without payload")
		}
		return decodeBase64(payload)
	case strings.HasPrefix(r.Data, "http://"), strings.HasPrefix(r.Data, "https://"):
		if m.fetcher == nil {
			return nil, ErrNoFetcher
		}
		return m.fetcher.Fetch(ctx, r.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataFormat, prefix(r.Data))
	}
}

func placeholder(r document.PlaceholderImage) ([]byte, error) {
	if r.ID == "" || r.ImageBase64 == "" {
		return nil, ErrMissingFields
	}
	payload := r.ImageBase64
	if strings.HasPrefix(payload, "data:") {
		if _, rest, ok := strings.Cut(payload, ","); ok {
			payload = rest
		}
	}
	return decodeBase64(payload)
}

func describe(r document.InlineImage, page, image int) string {
	if r.Description != "" {
		return r.Description
	}
	if r.AltText != "" {
		return r.AltText
	}
	return DefaultDescription(page, image)
}

// decodeBase64 tolerates embedded whitespace and missing padding.
func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}

func prefix(s string) string {
	r := []rune(s)
	if len(r) > 16 {
		return string(r[:16]) + "..."
	}
	return s
}
