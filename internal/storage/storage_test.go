package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestLocalFS(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fs := NewLocalFS(root)

	if err := fs.MkdirAll(ctx, "doc_images"); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile(ctx, "doc_images/doc_page1_img1.png", []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteText(ctx, "doc.md", "# hi"); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(root, "doc_images", "doc_page1_img1.png"))
	if err != nil || !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("image = %v, %v", got, err)
	}
	info, err := os.Stat(filepath.Join(root, "doc.md"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("mode = %v", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(root)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".ocrmd-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}

	if err := fs.Remove(ctx, "doc.md"); err != nil {
		t.Fatal(err)
	}
	if err := fs.Remove(ctx, "doc.md"); err != nil {
		t.Fatalf("removing a missing file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "doc.md")); !os.IsNotExist(err) {
		t.Fatalf("doc.md still present: %v", err)
	}
}

func TestNewLocalFSDefaultRoot(t *testing.T) {
	if got := NewLocalFS("").Root(); got != "." {
		t.Fatalf("root = %q", got)
	}
}

func TestSealRoundTrip(t *testing.T) {
	plain := []byte("# page one\n\n![img](./doc_images/doc_page1_img1.png)")
	sealed, err := Seal(plain, "secret")
	if err != nil {
		t.Fatal(err)
	}
	if string(sealed[:len(SealFormat)]) != SealFormat {
		t.Fatalf("missing magic: %q", sealed[:8])
	}
	if len(sealed) != headerSize+len(plain)+tagLen {
		t.Fatalf("sealed length = %d", len(sealed))
	}

	got, err := Open(sealed, "secret")
	if err != nil || !bytes.Equal(got, plain) {
		t.Fatalf("open = %q, %v", got, err)
	}
	if _, err := Open(sealed, "wrong"); err == nil {
		t.Fatal("expected failure with wrong password")
	}
	if _, err := Open(sealed[:10], "secret"); err == nil {
		t.Fatal("expected failure on truncated input")
	}
}

type fakeUploader struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, b)
	return &manager.UploadOutput{Location: "s3://" + aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)}, nil
}

type fakeObjects struct {
	deleted []string
	headErr error
}

func (f *fakeObjects) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func (f *fakeObjects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3FSKey(t *testing.T) {
	tests := []struct {
		prefix, in, want string
	}{
		{"", "doc.md", "doc.md"},
		{"out/", "doc_images/a.png", "out/doc_images/a.png"},
		{"/a/b/", `doc_images\a.png`, "a/b/doc_images/a.png"},
		{"out", "../escape.md", "out/escape.md"},
	}
	for _, tt := range tests {
		fs := newS3FS(nil, nil, S3Options{Bucket: "b", Prefix: tt.prefix})
		if got := fs.Key(tt.in); got != tt.want {
			t.Errorf("Key(%q) with prefix %q = %q, want %q", tt.in, tt.prefix, got, tt.want)
		}
	}
}

func TestS3FSWrite(t *testing.T) {
	ctx := context.Background()
	up := &fakeUploader{}
	objs := &fakeObjects{}
	fs := newS3FS(objs, up, S3Options{Bucket: "bucket", Prefix: "runs"})

	if err := fs.MkdirAll(ctx, "doc_images"); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteText(ctx, "doc.md", "# hi"); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteText(ctx, "doc_full.json", "{}"); err != nil {
		t.Fatal(err)
	}
	if len(up.inputs) != 2 {
		t.Fatalf("uploads = %d", len(up.inputs))
	}
	md := up.inputs[0]
	if aws.ToString(md.Key) != "runs/doc.md" || aws.ToString(md.ContentType) != "text/markdown; charset=utf-8" {
		t.Errorf("md upload = %s %s", aws.ToString(md.Key), aws.ToString(md.ContentType))
	}
	if md.Metadata["encrypted"] != "false" || md.Metadata["name"] != "doc.md" {
		t.Errorf("metadata = %v", md.Metadata)
	}
	if aws.ToString(up.inputs[1].ContentType) != "application/json" {
		t.Errorf("json content type = %s", aws.ToString(up.inputs[1].ContentType))
	}
	if string(up.bodies[0]) != "# hi" {
		t.Errorf("body = %q", up.bodies[0])
	}

	if err := fs.Remove(ctx, "doc.md"); err != nil {
		t.Fatal(err)
	}
	if len(objs.deleted) != 1 || objs.deleted[0] != "runs/doc.md" {
		t.Errorf("deleted = %v", objs.deleted)
	}
}

func TestS3FSSealed(t *testing.T) {
	up := &fakeUploader{}
	fs := newS3FS(&fakeObjects{}, up, S3Options{Bucket: "bucket", Password: "pw"})
	png := []byte("\x89PNG\r\n\x1a\n0000")
	if err := fs.WriteFile(context.Background(), "doc_images/x.png", png); err != nil {
		t.Fatal(err)
	}
	in := up.inputs[0]
	if in.Metadata["encrypted"] != "true" || in.Metadata["encryption-format"] != SealFormat {
		t.Fatalf("metadata = %v", in.Metadata)
	}
	if aws.ToString(in.ContentType) != "application/octet-stream" || in.Metadata["plain-content-type"] != "image/png" {
		t.Errorf("content type = %s, plain %s", aws.ToString(in.ContentType), in.Metadata["plain-content-type"])
	}
	plain, err := Open(up.bodies[0], "pw")
	if err != nil || !bytes.Equal(plain, png) {
		t.Fatalf("open = %q, %v", plain, err)
	}
}

func TestS3FSSealedText(t *testing.T) {
	up := &fakeUploader{}
	fs := newS3FS(&fakeObjects{}, up, S3Options{Bucket: "bucket", Password: "pw"})
	ctx := context.Background()
	if err := fs.WriteText(ctx, "doc.md", "# Title"); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteText(ctx, "doc_full.json", "{}"); err != nil {
		t.Fatal(err)
	}
	want := []string{"text/markdown; charset=utf-8", "application/json"}
	for i, in := range up.inputs {
		if aws.ToString(in.ContentType) != "application/octet-stream" {
			t.Errorf("%s content type = %s", aws.ToString(in.Key), aws.ToString(in.ContentType))
		}
		if in.Metadata["plain-content-type"] != want[i] {
			t.Errorf("%s plain content type = %s", aws.ToString(in.Key), in.Metadata["plain-content-type"])
		}
	}
	plain, err := Open(up.bodies[0], "pw")
	if err != nil || string(plain) != "# Title" {
		t.Fatalf("open = %q, %v", plain, err)
	}
}

func TestS3FSUploadError(t *testing.T) {
	boom := errors.New("boom")
	fs := newS3FS(&fakeObjects{}, &fakeUploader{err: boom}, S3Options{Bucket: "b"})
	if err := fs.WriteText(context.Background(), "doc.md", "x"); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewS3FSRequiresBucket(t *testing.T) {
	if _, err := NewS3FS(context.Background(), S3Options{}); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestS3FSPing(t *testing.T) {
	objs := &fakeObjects{}
	fs := newS3FS(objs, &fakeUploader{}, S3Options{Bucket: "b"})
	if err := fs.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	objs.headErr = errors.New("forbidden")
	if err := fs.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
}
