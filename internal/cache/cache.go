// Package cache stores the outputs of external escalation calls, addressed by
// a content fingerprint, with TTL expiry and least-recently-used eviction.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crossref-cli/internal/model"
)

const (
	// DefaultTTL is how long an entry stays readable after a put.
	DefaultTTL = 30 * 24 * time.Hour
	// DefaultMaxEntries is the capacity above which LRU eviction kicks in.
	DefaultMaxEntries = 10000
	// DefaultSweepInterval is how often expired entries are removed.
	DefaultSweepInterval = 24 * time.Hour
)

// Entry is one cached external-call payload.
type Entry struct {
	Fingerprint  string      `json:"fingerprint"`
	Stage        model.Stage `json:"stage"`
	Payload      []byte      `json:"payload"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
	HitCount     int64       `json:"hit_count"`
	LastAccessed time.Time   `json:"last_accessed"`
}

// Stats summarizes a store. Hits, Misses and Evictions count since the store
// was opened.
type Stats struct {
	Backend   string `json:"backend"`
	Entries   int    `json:"entries"`
	Expired   int    `json:"expired"`
	TotalHits int64  `json:"total_hits"`
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Evictions int64  `json:"evictions"`
}

// Store is a key-value contract shared by every backend. Writes are
// idempotent upserts so concurrent workers need no external locking.
type Store interface {
	// Get returns the entry for key, or nil when it is missing or expired.
	// A hit increments HitCount by one and refreshes LastAccessed.
	Get(ctx context.Context, key string) (*Entry, error)
	// Put upserts the payload with ExpiresAt = now + TTL and enforces
	// capacity.
	Put(ctx context.Context, key string, stage model.Stage, payload []byte) error
	// Sweep removes every expired entry and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Options configures a store. Zero values use the defaults.
type Options struct {
	TTL        time.Duration
	MaxEntries int
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	return o
}

// GetJSON looks up key and decodes the payload into out. It reports whether
// there was a hit.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	e, err := s.Get(ctx, key)
	if err != nil || e == nil {
		return false, err
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return false, eris.Wrapf(err, "cache: decode %s", key)
	}
	return true, nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, stage model.Stage, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "cache: encode %s", key)
	}
	return s.Put(ctx, key, stage, payload)
}
