package document

import "strings"

// Variant names the embedding convention of an image record.
type Variant string

const (
	VariantInline      Variant = "inline"
	VariantPlaceholder Variant = "placeholder"
	VariantUnknown     Variant = "unknown"
)

// DefaultFormat is the file extension used when a record carries no format.
const DefaultFormat = "png"

// ImageRecord is one of InlineImage, PlaceholderImage or UnknownImage.
type ImageRecord interface {
	Variant() Variant
	// Extension is the file extension to write the decoded bytes under.
	Extension() string
	isImageRecord()
}

// InlineImage carries its payload in Data: either a data URI with a base64
// body or an absolute http(s) URL. The page text has no token for it.
type InlineImage struct {
	Data        string
	Format      string
	Description string
	AltText     string
}

func (InlineImage) Variant() Variant    { return VariantInline }
func (i InlineImage) Extension() string { return extension(i.Format) }
func (InlineImage) isImageRecord()      {}

// PlaceholderImage is referenced from the page text as "![ID](ID)".
type PlaceholderImage struct {
	ID          string
	ImageBase64 string
	Format      string
}

func (PlaceholderImage) Variant() Variant    { return VariantPlaceholder }
func (p PlaceholderImage) Extension() string { return extension(p.Format) }
func (PlaceholderImage) isImageRecord()      {}

// Token is the literal placeholder as it appears in the page Markdown.
func (p PlaceholderImage) Token() string { return "![" + p.ID + "](" + p.ID + ")" }

// UnknownImage is a record that matches neither convention.
type UnknownImage struct {
	Reason string
	Keys   []string
}

func (UnknownImage) Variant() Variant  { return VariantUnknown }
func (UnknownImage) Extension() string { return DefaultFormat }
func (UnknownImage) isImageRecord()    {}

// extension cleans a declared format into something safe to use as a file
// suffix. Anything that could escape the image directory falls back to png.
func extension(format string) string {
	f := strings.TrimPrefix(strings.TrimSpace(format), ".")
	if f == "" || strings.ContainsAny(f, `/\`) || strings.Contains(f, "..") {
		return DefaultFormat
	}
	return f
}
