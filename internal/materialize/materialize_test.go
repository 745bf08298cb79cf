package materialize

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/local/ocrmd/internal/document"
)

type memFS struct {
	dirs    []string
	files   map[string][]byte
	failOn  string
	failDir bool
}

func newMemFS() *memFS { return &memFS{files: map[string][]byte{}} }

func (m *memFS) MkdirAll(_ context.Context, dir string) error {
	if m.failDir {
		return errors.New("read-only")
	}
	m.dirs = append(m.dirs, dir)
	return nil
}

func (m *memFS) WriteFile(_ context.Context, p string, data []byte) error {
	if p == m.failOn {
		return errors.New("disk full")
	}
	m.files[p] = data
	return nil
}

func (m *memFS) WriteText(ctx context.Context, p, text string) error {
	return m.WriteFile(ctx, p, []byte(text))
}

func (m *memFS) Remove(_ context.Context, p string) error {
	delete(m.files, p)
	return nil
}

type stubFetcher struct {
	data map[string][]byte
}

func (s stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	if b, ok := s.data[url]; ok {
		return b, nil
	}
	return nil, errors.New("not found")
}

var pngB64 = base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\nfake"))

func TestMaterializePage(t *testing.T) {
	fs := newMemFS()
	m := New(Options{
		BaseName: "report",
		FS:       fs,
		Fetcher:  stubFetcher{data: map[string][]byte{"https://cdn.example.com/a.jpg": []byte("JPEG")}},
	})

	page := document.Page{Index: 1, Images: []document.ImageRecord{
		document.InlineImage{Data: "data:image/png;base64," + pngB64, Description: "chart"},
		document.InlineImage{Data: "https://cdn.example.com/a.jpg", Format: "jpg", AltText: "photo"},
		document.PlaceholderImage{ID: "img-0.jpeg", ImageBase64: "data:image/jpeg;base64," + pngB64, Format: "jpeg"},
		document.InlineImage{Data: "ftp://nope"},
		document.UnknownImage{Reason: "no data", Keys: []string{"bbox"}},
	}}

	imgs, err := m.MaterializePage(context.Background(), page)
	if err != nil {
		t.Fatal(err)
	}
	if len(imgs) != 5 {
		t.Fatalf("got %d results, want 5", len(imgs))
	}
	if len(fs.dirs) != 1 || fs.dirs[0] != "report_images" {
		t.Fatalf("dirs = %v", fs.dirs)
	}

	want := []struct {
		file string
		ok   bool
		desc string
	}{
		{"report_page2_img1.png", true, "chart"},
		{"report_page2_img2.jpg", true, "photo"},
		{"report_page2_img3.jpeg", true, ""},
		{"report_page2_img4.png", false, "Image 4 on page 2"},
		{"report_page2_img5.png", false, ""},
	}
	for i, w := range want {
		got := imgs[i]
		if got.FileName != w.file || got.OK != w.ok || got.Description != w.desc {
			t.Errorf("image %d = {%s ok=%v desc=%q err=%v}, want {%s ok=%v desc=%q}",
				i+1, got.FileName, got.OK, got.Description, got.Err, w.file, w.ok, w.desc)
		}
		if got.Ref != "./report_images/"+w.file || got.Path != "report_images/"+w.file {
			t.Errorf("image %d path=%s ref=%s", i+1, got.Path, got.Ref)
		}
	}
	if string(fs.files["report_images/report_page2_img1.png"]) != "\x89PNG\r\n\x1a\nfake" {
		t.Error("inline image bytes not decoded")
	}
	if string(fs.files["report_images/report_page2_img2.jpg"]) != "JPEG" {
		t.Error("fetched bytes not written")
	}
	if !errors.Is(imgs[3].Err, ErrUnknownDataFormat) {
		t.Errorf("err = %v, want ErrUnknownDataFormat", imgs[3].Err)
	}
	if !errors.Is(imgs[4].Err, ErrUnknownRecord) {
		t.Errorf("err = %v, want ErrUnknownRecord", imgs[4].Err)
	}
	if len(fs.files) != 3 {
		t.Errorf("wrote %d files, want 3", len(fs.files))
	}
}

func TestDirectoryCreatedOnce(t *testing.T) {
	fs := newMemFS()
	m := New(Options{BaseName: "doc", FS: fs})
	ctx := context.Background()

	if imgs, err := m.MaterializePage(ctx, document.Page{Index: 0}); err != nil || imgs != nil {
		t.Fatalf("empty page: %v %v", imgs, err)
	}
	if m.DirCreated() {
		t.Fatal("directory created for a page without images")
	}
	p := document.Page{Index: 1, Images: []document.ImageRecord{document.PlaceholderImage{ID: "x", ImageBase64: pngB64}}}
	for i := 0; i < 2; i++ {
		if _, err := m.MaterializePage(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	if len(fs.dirs) != 1 || !m.DirCreated() {
		t.Fatalf("dirs = %v", fs.dirs)
	}
}

func TestDirectoryFailure(t *testing.T) {
	fs := newMemFS()
	fs.failDir = true
	m := New(Options{BaseName: "doc", FS: fs})
	p := document.Page{Images: []document.ImageRecord{document.PlaceholderImage{ID: "x", ImageBase64: pngB64}}}
	if _, err := m.MaterializePage(context.Background(), p); err == nil {
		t.Fatal("expected directory error")
	}
}

func TestPerImageFailures(t *testing.T) {
	fs := newMemFS()
	fs.failOn = "doc_images/doc_page1_img3.png"
	m := New(Options{BaseName: "doc", FS: fs})

	p := document.Page{Images: []document.ImageRecord{
		document.PlaceholderImage{ID: "a", ImageBase64: "!!!not base64!!!"},
		document.PlaceholderImage{ID: "b"},
		document.PlaceholderImage{ID: "c", ImageBase64: pngB64},
		document.InlineImage{Data: "https://example.com/x.png"},
		document.InlineImage{Data: "data:image/png;base64"},
	}}
	imgs, err := m.MaterializePage(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	for i, img := range imgs {
		if img.OK || img.Err == nil {
			t.Errorf("image %d unexpectedly ok", i+1)
		}
	}
	if !errors.Is(imgs[1].Err, ErrMissingFields) {
		t.Errorf("err = %v, want ErrMissingFields", imgs[1].Err)
	}
	if !errors.Is(imgs[3].Err, ErrNoFetcher) {
		t.Errorf("err = %v, want ErrNoFetcher", imgs[3].Err)
	}
}

func TestDecodeBase64(t *testing.T) {
	want := "hello world"
	tests := []string{
		"aGVsbG8gd29ybGQ=",
		"aGVsbG8gd29ybGQ",
		"aGVsbG8g\nd29ybGQ=\n",
	}
	for _, in := range tests {
		got, err := decodeBase64(in)
		if err != nil || string(got) != want {
			t.Errorf("decodeBase64(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := decodeBase64("@@@"); err == nil {
		t.Error("expected error for invalid input")
	}
}

func TestPrefixKeepsRunes(t *testing.T) {
	long := strings.Repeat("é", 20)
	got := prefix(long)
	if !utf8.ValidString(got) || got != strings.Repeat("é", 16)+"..." {
		t.Errorf("prefix = %q", got)
	}
	if got := prefix("ftp://x"); got != "ftp://x" {
		t.Errorf("short prefix = %q", got)
	}
}

func TestNaming(t *testing.T) {
	if got := FileName("scan", 3, 12, "webp"); got != "scan_page3_img12.webp" {
		t.Errorf("FileName = %s", got)
	}
	if got := DefaultDescription(2, 1); got != "Image 1 on page 2" {
		t.Errorf("DefaultDescription = %s", got)
	}
	if got := ImageDirName("scan"); got != "scan_images" {
		t.Errorf("ImageDirName = %s", got)
	}
}
