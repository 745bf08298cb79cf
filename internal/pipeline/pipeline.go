// Package pipeline runs one document from OCR response to persisted artifacts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/local/ocrmd/internal/artifact"
	"github.com/local/ocrmd/internal/document"
	"github.com/local/ocrmd/internal/fetch"
	"github.com/local/ocrmd/internal/materialize"
	mpkg "github.com/local/ocrmd/internal/metrics"
	"github.com/local/ocrmd/internal/normalize"
	"github.com/local/ocrmd/internal/ocr"
	"github.com/local/ocrmd/internal/rewrite"
	"github.com/local/ocrmd/internal/storage"
	"github.com/local/ocrmd/internal/store"
	"github.com/rs/zerolog/log"
)

// State is a document's position in the pipeline.
type State string

const (
	StateUploaded     State = "uploaded"
	StateProcessed    State = "processed"
	StateNormalized   State = "normalized"
	StateMaterialized State = "materialized"
	StateAssembled    State = "assembled"
	StatePersisted    State = "persisted"
	StateFailed       State = "failed"
)

var progress = map[State]int{
	StateUploaded:     5,
	StateProcessed:    30,
	StateNormalized:   45,
	StateMaterialized: 70,
	StateAssembled:    85,
	StatePersisted:    100,
}

// Dependencies are the collaborators of a Pipeline. Fetcher and Status may be
// nil: remote images then fail individually and status goes to the log.
type Dependencies struct {
	Backend ocr.Backend
	FS      storage.Filesystem
	Fetcher fetch.Fetcher
	Status  store.StatusStore
}

// Pipeline is safe for concurrent use; every Run owns its own state.
type Pipeline struct {
	deps   Dependencies
	writer *artifact.Writer
}

func New(deps Dependencies) *Pipeline {
	if deps.Status == nil {
		deps.Status = store.LogStatus{}
	}
	return &Pipeline{deps: deps, writer: artifact.NewWriter(deps.FS)}
}

// Input is one document to process.
type Input struct {
	Name string
	Data []byte
	// ExpectedPages is the page count measured locally, 0 when unknown. A
	// mismatch with the response is logged, never fatal.
	ExpectedPages int
}

// Result summarizes one Run.
type Result struct {
	DocID      string
	BaseName   string
	State      State
	Strategy   string
	Pages      int
	Images     int
	ImagesOK   int
	Unresolved []string
	Artifacts  artifact.Artifacts
	Err        error
	Elapsed    time.Duration
}

func (r Result) OK() bool { return r.State == StatePersisted && r.Err == nil }

type run struct {
	p     *Pipeline
	res   *Result
	name  string
	start time.Time
}

// Run processes one document. It never returns an error: failures are
// reported in Result, and a panic inside any stage marks the document failed.
func (p *Pipeline) Run(ctx context.Context, in Input) (res Result) {
	res = Result{DocID: uuid.NewString(), BaseName: document.BaseName(in.Name)}
	r := &run{p: p, res: &res, name: in.Name, start: time.Now()}

	defer func() {
		if rec := recover(); rec != nil {
			r.fail(ctx, fmt.Errorf("panic: %v", rec))
		}
		res.Elapsed = time.Since(r.start)
		if res.OK() {
			mpkg.IncDocument("success")
		} else {
			mpkg.IncDocument("failed")
		}
	}()

	if res.BaseName == "" {
		r.fail(ctx, errors.New("empty document name"))
		return res
	}
	r.transition(ctx, StateUploaded, "document received", map[string]any{"bytes": len(in.Data)})

	resp, err := p.deps.Backend.Process(ctx, in.Data, in.Name)
	if err != nil {
		r.fail(ctx, fmt.Errorf("%s backend: %w", p.deps.Backend.Name(), err))
		return res
	}
	r.transition(ctx, StateProcessed, "OCR response received", map[string]any{"engine": p.deps.Backend.Name()})

	norm := normalize.Normalize(resp)
	res.Strategy = norm.Strategy
	mpkg.IncStrategy(norm.Strategy)
	if norm.Err != nil {
		log.Warn().Err(norm.Err).Str("document", res.BaseName).Msg("response capability failed; kept as raw text")
	}
	pages, err := norm.Document.Pages()
	if err != nil {
		r.fail(ctx, fmt.Errorf("read pages: %w", err))
		return res
	}
	res.Pages = len(pages)
	if in.ExpectedPages > 0 && in.ExpectedPages != len(pages) {
		log.Warn().Str("document", res.BaseName).Int("expected", in.ExpectedPages).Int("received", len(pages)).Msg("page count mismatch")
	}
	r.transition(ctx, StateNormalized, fmt.Sprintf("normalized via %s: %d pages", norm.Strategy, len(pages)),
		map[string]any{"strategy": norm.Strategy, "pages": len(pages)})

	m := materialize.New(materialize.Options{BaseName: res.BaseName, FS: p.deps.FS, Fetcher: p.deps.Fetcher})
	texts := make([]string, 0, len(pages))
	for _, page := range pages {
		imgs, err := m.MaterializePage(ctx, page)
		if err != nil {
			r.fail(ctx, fmt.Errorf("page %d: %w", page.Number(), err))
			return res
		}
		for _, img := range imgs {
			res.Images++
			if img.OK {
				res.ImagesOK++
			}
		}
		texts = append(texts, rewrite.Page(page.Markdown, imgs))
	}
	r.transition(ctx, StateMaterialized, fmt.Sprintf("%d of %d images saved", res.ImagesOK, res.Images),
		map[string]any{"images": res.Images, "images_ok": res.ImagesOK, "image_dir": m.DirCreated()})

	markdown := rewrite.Assemble(texts)
	res.Unresolved = rewrite.UnresolvedPlaceholders(markdown)
	if n := len(res.Unresolved); n > 0 {
		mpkg.AddUnresolved(n)
		log.Warn().Str("document", res.BaseName).Strs("placeholders", res.Unresolved).Msg("image placeholders left unresolved")
	}
	r.transition(ctx, StateAssembled, "markdown assembled", map[string]any{"markdown_bytes": len(markdown)})

	arts, err := p.writer.Write(ctx, res.BaseName, markdown, norm.Document)
	if err != nil {
		r.fail(ctx, fmt.Errorf("persist: %w", err))
		return res
	}
	res.Artifacts = arts
	if norm.Strategy != normalize.StrategyRawText {
		r.checkShape(arts.Snapshot)
	}

	end := time.Now()
	r.set(ctx, StatePersisted, store.Status{
		Message:  "artifacts written",
		End:      &end,
		Metadata: map[string]any{"markdown": arts.MarkdownPath, "json": arts.JSONPath},
	})
	return res
}

// checkShape logs snapshot fields the pipeline tolerated but did not expect.
func (r *run) checkShape(snapshot []byte) {
	issues, err := document.Validate(snapshot)
	if err != nil {
		log.Debug().Err(err).Msg("snapshot validation unavailable")
		return
	}
	for _, is := range issues {
		log.Warn().Str("document", r.res.BaseName).Str("location", is.Location).Msg(is.Message)
	}
}

func (r *run) transition(ctx context.Context, s State, msg string, meta map[string]any) {
	r.set(ctx, s, store.Status{Message: msg, Metadata: meta})
}

func (r *run) fail(ctx context.Context, err error) {
	r.res.Err = err
	end := time.Now()
	log.Error().Err(err).Str("document", r.name).Str("doc_id", r.res.DocID).Str("after", string(r.res.State)).Msg("document failed")
	r.set(ctx, StateFailed, store.Status{Message: err.Error(), End: &end})
}

func (r *run) set(ctx context.Context, s State, st store.Status) {
	r.res.State = s
	st.State = string(s)
	st.Progress = progress[s]
	st.Start = &r.start
	if st.Metadata == nil {
		st.Metadata = map[string]any{}
	}
	st.Metadata["document"] = r.name
	if err := r.p.deps.Status.Set(context.WithoutCancel(ctx), r.res.DocID, st); err != nil {
		log.Warn().Err(err).Str("doc_id", r.res.DocID).Str("state", string(s)).Msg("status update failed")
	}
}
