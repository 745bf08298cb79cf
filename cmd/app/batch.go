package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/ocrmd/internal/document"
	"github.com/local/ocrmd/internal/filetype"
	"github.com/local/ocrmd/internal/pipeline"
)

// summary counts documents by outcome.
type summary struct {
	Succeeded int
	Failed    int
}

// batch runs the pipeline over a list of files. Documents are independent:
// one failing never stops the others.
type batch struct {
	pipeline    *pipeline.Pipeline
	out         io.Writer
	concurrency int
	docTimeout  time.Duration

	mu sync.Mutex
}

func (b *batch) Run(ctx context.Context, files []string) summary {
	results := make([]bool, len(files))
	owners := nameOwners(files)

	if b.concurrency <= 1 {
		for i, f := range files {
			results[i] = b.process(ctx, f, owners[i])
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(b.concurrency)
		for i, f := range files {
			i, f := i, f
			g.Go(func() error {
				results[i] = b.process(ctx, f, owners[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	var sum summary
	for _, ok := range results {
		if ok {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}
	return sum
}

// nameOwners returns, for each file, the earlier file whose artifacts already
// use the same base name, or "" if the file is the first to claim it. Names
// compare case-insensitively so case-folding filesystems do not collide.
func nameOwners(files []string) []string {
	claimed := make(map[string]string, len(files))
	owners := make([]string, len(files))
	for i, f := range files {
		key := strings.ToLower(document.BaseName(filepath.Base(f)))
		if prev, ok := claimed[key]; ok {
			owners[i] = prev
			continue
		}
		claimed[key] = f
	}
	return owners
}

func (b *batch) printf(format string, args ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprintf(b.out, format, args...)
}

func (b *batch) process(ctx context.Context, path, owner string) bool {
	name := filepath.Base(path)
	if err := ctx.Err(); err != nil {
		b.printf("Skipping %s: %v\n", name, err)
		return false
	}
	if owner != "" {
		b.printf("Skipping %s: output name %q already used by %s\n", name, document.BaseName(name), filepath.Base(owner))
		log.Warn().Str("file", path).Str("owner", owner).Msg("duplicate output base name; document skipped")
		return false
	}
	b.printf("\nProcessing: %s\n", name)

	data, err := os.ReadFile(path)
	if err != nil {
		b.printf("Error processing %s: %v\n", name, err)
		log.Error().Err(err).Str("file", path).Msg("failed to read input")
		return false
	}

	in := pipeline.Input{Name: name, Data: data}
	if info := filetype.DetectBytes(data); info.Kind == filetype.KindPDF {
		if n, err := filetype.PageCount(path); err == nil {
			in.ExpectedPages = n
		} else {
			log.Debug().Err(err).Str("file", path).Msg("page count unavailable")
		}
	}

	dctx := ctx
	if b.docTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, b.docTimeout)
		defer cancel()
	}

	b.printf("  Running OCR on %s...\n", name)
	res := b.pipeline.Run(dctx, in)
	if !res.OK() {
		b.printf("Error processing %s: %v\n", name, res.Err)
		return false
	}

	if res.Images > 0 {
		b.printf("  Saved %d of %d image(s) to %s_images/\n", res.ImagesOK, res.Images, res.BaseName)
	}
	b.printf("  Saved markdown to: %s\n", res.Artifacts.MarkdownPath)
	b.printf("  Saved full response to: %s\n", res.Artifacts.JSONPath)
	b.printf("Successfully processed: %s (%d page(s), %s)\n", name, res.Pages, res.Elapsed.Round(time.Millisecond))
	return true
}
