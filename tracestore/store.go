package tracestore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/condukt-run/missionengine/trace"
)

// Store persists finished traces to Redis for later inspection. It never
// reads a trace back to resume execution — resumable runs are out of
// scope (see SPEC_FULL.md §4.12) — Load exists purely for audit tooling.
type Store struct {
	client *Client
	ttl    time.Duration
}

// NewStore wraps an already-connected Client. ttl of 0 means traces never
// expire.
func NewStore(client *Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

var slugPattern = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func slugify(goal string) string {
	s := strings.ToLower(slugPattern.ReplaceAllString(goal, "-"))
	s = strings.Trim(s, "-")
	if s == "" {
		s = "run"
	}
	return s
}

// Key returns the archive key for a trace, "missionengine:trace:<slug>:<started_at-unix-nano>".
func Key(t trace.Trace) string {
	return fmt.Sprintf("missionengine:trace:%s:%d", slugify(t.Goal), t.StartedAt.UnixNano())
}

// Save serializes t to JSON and writes it under Key(t).
func (s *Store) Save(ctx context.Context, t trace.Trace) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("tracestore: marshal trace: %w", err)
	}
	return s.client.Set(ctx, Key(t), data, s.ttl)
}

// Load reads back a previously archived trace by its exact key.
func (s *Store) Load(ctx context.Context, key string) (trace.Trace, error) {
	var t trace.Trace
	raw, err := s.client.Get(ctx, key)
	if err != nil {
		return t, fmt.Errorf("tracestore: get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return t, fmt.Errorf("tracestore: unmarshal trace: %w", err)
	}
	return t, nil
}
