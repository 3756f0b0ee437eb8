package cache

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/crossref-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as unix nanoseconds.
type SQLiteStore struct {
	db   *sql.DB
	opts Options

	hits, misses, evictions atomic.Int64

	nowFunc func() time.Time
}

// NewSQLite opens a SQLite database at the given path, configures WAL mode
// and creates the cache table.
func NewSQLite(ctx context.Context, dsn string, opts Options) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection serializes writers instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	s := &SQLiteStore{db: db, opts: opts.withDefaults(), nowFunc: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS match_cache (
	fingerprint   TEXT PRIMARY KEY,
	stage         TEXT NOT NULL,
	payload       BLOB NOT NULL,
	created_at    INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL,
	hit_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_match_cache_expires_at ON match_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_match_cache_lru ON match_cache(last_accessed, hit_count);
`

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Entry, error) {
	now := s.nowFunc().UnixNano()
	row := s.db.QueryRowContext(ctx,
		`UPDATE match_cache SET hit_count = hit_count + 1, last_accessed = ?
		 WHERE fingerprint = ? AND expires_at > ?
		 RETURNING stage, payload, created_at, expires_at, hit_count, last_accessed`,
		now, key, now,
	)

	e := Entry{Fingerprint: key}
	var stage string
	var created, expires, accessed int64
	err := row.Scan(&stage, &e.Payload, &created, &expires, &e.HitCount, &accessed)
	if errors.Is(err, sql.ErrNoRows) {
		s.misses.Add(1)
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cache entry %s", key)
	}
	s.hits.Add(1)
	e.Stage = model.Stage(stage)
	e.CreatedAt = time.Unix(0, created).UTC()
	e.ExpiresAt = time.Unix(0, expires).UTC()
	e.LastAccessed = time.Unix(0, accessed).UTC()
	return &e, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, stage model.Stage, payload []byte) error {
	now := s.nowFunc()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO match_cache (fingerprint, stage, payload, created_at, expires_at, hit_count, last_accessed)
		 VALUES (?, ?, ?, ?, ?, 0, ?)
		 ON CONFLICT (fingerprint) DO UPDATE SET
			stage = excluded.stage,
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			last_accessed = excluded.last_accessed`,
		key, string(stage), payload, now.UnixNano(), now.Add(s.opts.TTL).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: put cache entry %s", key)
	}
	return s.evict(ctx)
}

func (s *SQLiteStore) evict(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM match_cache`).Scan(&count); err != nil {
		return eris.Wrap(err, "sqlite: count cache entries")
	}
	over := count - s.opts.MaxEntries
	if over <= 0 {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM match_cache WHERE fingerprint IN (
			SELECT fingerprint FROM match_cache
			ORDER BY last_accessed ASC, hit_count ASC, fingerprint ASC
			LIMIT ?
		)`, over)
	if err != nil {
		return eris.Wrap(err, "sqlite: evict cache entries")
	}
	n, _ := res.RowsAffected()
	s.evictions.Add(n)
	return nil
}

func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM match_cache WHERE expires_at <= ?`, s.nowFunc().UnixNano())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sweep cache")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		Backend:   "sqlite",
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(hit_count), 0)
		 FROM match_cache`,
		s.nowFunc().UnixNano(),
	).Scan(&st.Entries, &st.Expired, &st.TotalHits)
	if err != nil {
		return Stats{}, eris.Wrap(err, "sqlite: cache stats")
	}
	return st, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
