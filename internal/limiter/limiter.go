// Package limiter bounds concurrent calls to an OCR engine and holds a
// cooldown after the engine reports rate limiting. Cooldowns live in Redis
// when several processes share one API key, in memory otherwise.
package limiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type Adaptive struct {
	rdb         *redis.Client
	maxInflight int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time

	mu   sync.Mutex
	sem  map[string]chan struct{}
	cool map[string]cooldown
}

type cooldown struct {
	until    time.Time
	attempts int
}

type Options struct {
	MaxInflight int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (o *Options) defaults() {
	if o.MaxInflight <= 0 {
		o.MaxInflight = 2
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 30 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Minute
	}
}

// New returns a limiter keeping cooldowns in process memory.
func New(opts Options) *Adaptive {
	opts.defaults()
	return &Adaptive{
		maxInflight: opts.MaxInflight,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		now:         time.Now,
		sem:         map[string]chan struct{}{},
		cool:        map[string]cooldown{},
	}
}

// NewRedis returns a limiter whose cooldowns are shared through Redis.
// In-flight slots stay per process.
func NewRedis(ctx context.Context, redisURL string, opts Options) (*Adaptive, error) {
	ro, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(ro)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a := New(opts)
	a.rdb = c
	return a, nil
}

func redisKey(key string) string {
	return "ocrmd:cb:" + strings.ToLower(key)
}

// Remaining returns how long the cooldown for key still runs, zero when the
// engine may be called.
func (a *Adaptive) Remaining(ctx context.Context, key string) time.Duration {
	now := a.now()
	if a.rdb != nil {
		ts, err := a.rdb.Get(ctx, redisKey(key)).Int64()
		if err != nil {
			return 0
		}
		if d := time.Unix(ts, 0).Sub(now); d > 0 {
			return d
		}
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if d := a.cool[key].until.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Open starts or extends the cooldown for key. The duration doubles with
// every consecutive call up to the configured maximum.
func (a *Adaptive) Open(ctx context.Context, key string) time.Duration {
	if a.rdb != nil {
		k := redisKey(key)
		attempts, _ := a.rdb.Incr(ctx, k+":attempts").Result()
		d := a.backoff(int(attempts))
		_ = a.rdb.Set(ctx, k, a.now().Add(d).Unix(), d).Err()
		return d
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.cool[key]
	c.attempts++
	d := a.backoff(c.attempts)
	c.until = a.now().Add(d)
	a.cool[key] = c
	return d
}

// Reset clears the cooldown and its attempt counter.
func (a *Adaptive) Reset(ctx context.Context, key string) {
	if a.rdb != nil {
		k := redisKey(key)
		_ = a.rdb.Del(ctx, k, k+":attempts").Err()
		return
	}
	a.mu.Lock()
	delete(a.cool, key)
	a.mu.Unlock()
}

func (a *Adaptive) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := a.baseBackoff
	for i := 1; i < attempts && d < a.maxBackoff; i++ {
		d *= 2
	}
	if d > a.maxBackoff {
		d = a.maxBackoff
	}
	return d
}

// Acquire waits for an in-flight slot for key. The returned release must be
// called once the call finishes.
func (a *Adaptive) Acquire(ctx context.Context, key string) (func(), error) {
	a.mu.Lock()
	ch, ok := a.sem[key]
	if !ok {
		ch = make(chan struct{}, a.maxInflight)
		a.sem[key] = ch
	}
	a.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Adaptive) Close() error {
	if a.rdb == nil {
		return nil
	}
	return a.rdb.Close()
}
