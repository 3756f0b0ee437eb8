package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crossref-cli/internal/db"
	"github.com/sells-group/crossref-cli/internal/model"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool db.Pool
	opts Options

	hits, misses, evictions atomic.Int64

	nowFunc func() time.Time
}

// NewPostgres creates the cache table if needed and returns the store. The
// store takes ownership of pool and closes it on Close.
func NewPostgres(ctx context.Context, pool db.Pool, opts Options) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool, opts: opts.withDefaults(), nowFunc: time.Now}
	if _, err := pool.Exec(ctx, postgresMigration); err != nil {
		return nil, eris.Wrap(err, "postgres: migrate")
	}
	return s, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS match_cache (
	fingerprint   TEXT PRIMARY KEY,
	stage         TEXT NOT NULL,
	payload       BYTEA NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL,
	hit_count     BIGINT NOT NULL DEFAULT 0,
	last_accessed TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_match_cache_expires_at ON match_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_match_cache_lru ON match_cache(last_accessed, hit_count);
`

func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	now := s.nowFunc().UTC()
	e := Entry{Fingerprint: key}
	var stage string
	err := s.pool.QueryRow(ctx,
		`UPDATE match_cache SET hit_count = hit_count + 1, last_accessed = $1
		 WHERE fingerprint = $2 AND expires_at > $1
		 RETURNING stage, payload, created_at, expires_at, hit_count, last_accessed`,
		now, key,
	).Scan(&stage, &e.Payload, &e.CreatedAt, &e.ExpiresAt, &e.HitCount, &e.LastAccessed)
	if errors.Is(err, pgx.ErrNoRows) {
		s.misses.Add(1)
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cache entry %s", key)
	}
	s.hits.Add(1)
	e.Stage = model.Stage(stage)
	return &e, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, stage model.Stage, payload []byte) error {
	now := s.nowFunc().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO match_cache (fingerprint, stage, payload, created_at, expires_at, hit_count, last_accessed)
		 VALUES ($1, $2, $3, $4, $5, 0, $4)
		 ON CONFLICT (fingerprint) DO UPDATE SET
			stage = EXCLUDED.stage,
			payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			last_accessed = EXCLUDED.last_accessed`,
		key, string(stage), payload, now, now.Add(s.opts.TTL),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: put cache entry %s", key)
	}
	return s.evict(ctx)
}

func (s *PostgresStore) evict(ctx context.Context) error {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM match_cache`).Scan(&count); err != nil {
		return eris.Wrap(err, "postgres: count cache entries")
	}
	over := count - int64(s.opts.MaxEntries)
	if over <= 0 {
		return nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM match_cache WHERE fingerprint IN (
			SELECT fingerprint FROM match_cache
			ORDER BY last_accessed ASC, hit_count ASC, fingerprint ASC
			LIMIT $1
		)`, over)
	if err != nil {
		return eris.Wrap(err, "postgres: evict cache entries")
	}
	s.evictions.Add(tag.RowsAffected())
	return nil
}

func (s *PostgresStore) Sweep(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM match_cache WHERE expires_at <= $1`, s.nowFunc().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: sweep cache")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		Backend:   "postgres",
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
	}
	var entries, expired int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE expires_at <= $1),
			COALESCE(SUM(hit_count), 0)::bigint
		 FROM match_cache`,
		s.nowFunc().UTC(),
	).Scan(&entries, &expired, &st.TotalHits)
	if err != nil {
		return Stats{}, eris.Wrap(err, "postgres: cache stats")
	}
	st.Entries = int(entries)
	st.Expired = int(expired)
	return st, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
