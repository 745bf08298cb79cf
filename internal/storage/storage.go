package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Filesystem is where a document's artifacts land. Paths are relative to the
// filesystem root and use forward slashes.
type Filesystem interface {
	MkdirAll(ctx context.Context, dir string) error
	WriteFile(ctx context.Context, path string, data []byte) error
	WriteText(ctx context.Context, path, text string) error
	Remove(ctx context.Context, path string) error
}

// LocalFS writes under a root directory on local disk.
type LocalFS struct {
	root string
}

// NewLocalFS returns a LocalFS rooted at dir ("." when empty).
func NewLocalFS(dir string) *LocalFS {
	if dir == "" {
		dir = "."
	}
	return &LocalFS{root: dir}
}

// Root is the directory all paths are resolved against.
func (l *LocalFS) Root() string { return l.root }

func (l *LocalFS) abs(p string) string { return filepath.Join(l.root, filepath.FromSlash(p)) }

func (l *LocalFS) MkdirAll(_ context.Context, dir string) error {
	if err := os.MkdirAll(l.abs(dir), 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// WriteFile writes through a temp file in the target directory and renames
// it into place, so readers never see a half-written artifact.
func (l *LocalFS) WriteFile(_ context.Context, p string, data []byte) error {
	dst := l.abs(p)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", p, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".ocrmd-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", p, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", p, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", p, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", p, err)
	}
	return nil
}

func (l *LocalFS) WriteText(ctx context.Context, p, text string) error {
	return l.WriteFile(ctx, p, []byte(text))
}

func (l *LocalFS) Remove(_ context.Context, p string) error {
	if err := os.Remove(l.abs(p)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}
