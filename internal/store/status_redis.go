package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultKeyNamespace prefixes every status key.
const DefaultKeyNamespace = "ocrmd:doc"

// RedisStatus keeps each document's status in a hash at
// "{namespace}:{docID}:status".
type RedisStatus struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

// NewRedisStatus connects and pings the server. A zero ttl keeps keys forever.
func NewRedisStatus(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStatus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStatus{client: c, keyNS: DefaultKeyNamespace, ttl: ttl}, nil
}

func (s *RedisStatus) key(docID string) string { return statusKey(s.keyNS, docID) }

func statusKey(ns, docID string) string { return fmt.Sprintf("%s:%s:status", ns, docID) }

func (s *RedisStatus) Set(ctx context.Context, docID string, st Status) error {
	key := s.key(docID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, statusFields(st))
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set status %s: %w", key, err)
	}
	return nil
}

func (s *RedisStatus) Get(ctx context.Context, docID string) (Status, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(docID)).Result()
	if err != nil {
		return Status{}, false, err
	}
	if len(res) == 0 {
		return Status{}, false, nil
	}
	return parseStatus(res), true, nil
}

func (s *RedisStatus) Close() error { return s.client.Close() }

func (s *RedisStatus) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func statusFields(st Status) map[string]any {
	m := map[string]any{
		"state":    st.State,
		"progress": st.Progress,
		"message":  st.Message,
	}
	if st.Start != nil {
		m["start"] = st.Start.Format(time.RFC3339Nano)
	}
	if st.End != nil {
		m["end"] = st.End.Format(time.RFC3339Nano)
	}
	if st.Metadata != nil {
		b, _ := json.Marshal(st.Metadata)
		m["metadata"] = string(b)
	}
	return m
}

func parseStatus(res map[string]string) Status {
	st := Status{State: res["state"], Message: res["message"]}
	if p, err := strconv.Atoi(res["progress"]); err == nil {
		st.Progress = p
	}
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.End = &t
		}
	}
	if v := res["metadata"]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.Metadata)
	}
	return st
}
