// Package store records per-document processing status.
package store

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Status is a snapshot of one document's progress through the pipeline.
type Status struct {
	State    string         `json:"state"`
	Progress int            `json:"progress"`
	Message  string         `json:"message"`
	Start    *time.Time     `json:"start_time,omitempty"`
	End      *time.Time     `json:"end_time,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StatusStore receives every state transition of a document.
type StatusStore interface {
	Set(ctx context.Context, docID string, st Status) error
}

// LogStatus narrates transitions through the global logger.
type LogStatus struct{}

func (LogStatus) Set(_ context.Context, docID string, st Status) error {
	ev := log.Info()
	if st.State == "failed" {
		ev = log.Error()
	}
	ev = ev.Str("doc_id", docID).Str("state", st.State).Int("progress", st.Progress)
	if len(st.Metadata) > 0 {
		ev = ev.Interface("metadata", st.Metadata)
	}
	if st.Start != nil && st.End != nil {
		ev = ev.Dur("elapsed", st.End.Sub(*st.Start))
	}
	ev.Msg(st.Message)
	return nil
}

// Multi fans a transition out to several stores. The first error is returned
// after every store has been called.
type Multi []StatusStore

func (m Multi) Set(ctx context.Context, docID string, st Status) error {
	var first error
	for _, s := range m {
		if err := s.Set(ctx, docID, st); err != nil && first == nil {
			first = err
		}
	}
	return first
}
