package filetype

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

var (
	pngMagic = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	pdfMagic = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
)

func TestDetectBytes(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		kind Kind
	}{
		{"png", pngMagic, KindImage},
		{"pdf", pdfMagic, KindPDF},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0x10, 'J', 'F', 'I', 'F', 0}, KindImage},
		{"text", []byte("just some words"), KindUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := DetectBytes(tt.data)
			if info.Kind != tt.kind {
				t.Errorf("kind = %s (%s), want %s", info.Kind, info.MIMEType, tt.kind)
			}
			if info.Supported() != (tt.kind != KindUnsupported) {
				t.Errorf("supported = %v", info.Supported())
			}
		})
	}
}

func TestDetectFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "misnamed.txt")
	if err := os.WriteFile(p, pdfMagic, 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := Detect(p)
	if err != nil {
		t.Fatal(err)
	}
	if info.Kind != KindPDF || info.MIMEType != "application/pdf" {
		t.Fatalf("info = %+v", info)
	}
	if _, err := Detect(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.PDF", "a.png", "c.TIFF", "notes.txt", "d.webp", "archive.zip"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.pdf"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := Discover(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "b.PDF"),
		filepath.Join(dir, "c.TIFF"),
		filepath.Join(dir, "d.webp"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v\nwant %v", got, want)
	}

	if _, err := Discover(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing dir")
	}
}

func TestPageCountInvalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(p, []byte("not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := PageCount(p); err == nil {
		t.Fatal("expected error for invalid pdf")
	}
}
