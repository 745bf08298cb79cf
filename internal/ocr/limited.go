package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Gate is the part of limiter.Adaptive a Limited backend uses.
type Gate interface {
	Remaining(ctx context.Context, key string) time.Duration
	Open(ctx context.Context, key string) time.Duration
	Reset(ctx context.Context, key string)
	Acquire(ctx context.Context, key string) (func(), error)
}

// Limited bounds in-flight calls to the wrapped backend and stops calling it
// for a cooldown once it reports rate limiting.
type Limited struct {
	next Backend
	gate Gate
}

func NewLimited(next Backend, gate Gate) *Limited {
	return &Limited{next: next, gate: gate}
}

func (l *Limited) Name() string { return l.next.Name() }

func (l *Limited) Process(ctx context.Context, data []byte, filename string) (any, error) {
	key := l.next.Name()
	if d := l.gate.Remaining(ctx, key); d > 0 {
		return nil, fmt.Errorf("%w: %s cooling down for %s", ErrRateLimited, key, d.Round(time.Second))
	}
	release, err := l.gate.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := l.next.Process(ctx, data, filename)
	switch {
	case err == nil:
		l.gate.Reset(ctx, key)
	case errors.Is(err, ErrRateLimited):
		d := l.gate.Open(ctx, key)
		log.Warn().Str("engine", key).Dur("cooldown", d).Str("file", filename).Msg("OCR engine rate limited; cooling down")
	}
	return resp, err
}
