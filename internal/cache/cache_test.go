package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crossref-cli/internal/model"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storeFactory func(t *testing.T, opts Options, clock *testClock) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(_ *testing.T, opts Options, clock *testClock) Store {
			s := NewMemory(opts)
			s.nowFunc = clock.Now
			return s
		},
		"sqlite": func(t *testing.T, opts Options, clock *testClock) Store {
			t.Helper()
			s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "cache.db"), opts)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() }) //nolint:errcheck
			s.nowFunc = clock.Now
			return s
		},
	}
}

func eachBackend(t *testing.T, opts Options, fn func(t *testing.T, s Store, clock *testClock)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			clock := newTestClock()
			fn(t, factory(t, opts, clock), clock)
		})
	}
}

func TestStore_MissOnUnknownKey(t *testing.T) {
	eachBackend(t, Options{}, func(t *testing.T, s Store, _ *testClock) {
		e, err := s.Get(context.Background(), "xref:v1:missing")
		require.NoError(t, err)
		assert.Nil(t, e)

		st, err := s.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), st.Misses)
	})
}

func TestStore_RoundTripIncrementsHitCount(t *testing.T) {
	eachBackend(t, Options{}, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		payload := []byte(`{"match_found":true,"matched_sku":"GSX160361"}`)
		require.NoError(t, s.Put(ctx, "k1", model.StageAIEnhanced, payload))

		clock.Advance(time.Minute)
		e, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, payload, e.Payload)
		assert.Equal(t, model.StageAIEnhanced, e.Stage)
		assert.Equal(t, int64(1), e.HitCount)
		assert.True(t, e.LastAccessed.Equal(clock.Now()))
		assert.True(t, e.ExpiresAt.Equal(e.CreatedAt.Add(DefaultTTL)))

		e, err = s.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), e.HitCount)
	})
}

func TestStore_ExpiredEntriesNeverReturned(t *testing.T) {
	eachBackend(t, Options{TTL: time.Hour}, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "k", model.StageWebResearch, []byte("{}")))

		clock.Advance(time.Hour)
		e, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, e, "entry at exactly expiresAt must not be returned")

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, st.Entries)
		assert.Equal(t, 1, st.Expired)
	})
}

func TestStore_PutIsIdempotentUpsert(t *testing.T) {
	eachBackend(t, Options{TTL: time.Hour}, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "k", model.StageAIEnhanced, []byte("a")))
		clock.Advance(50 * time.Minute)
		require.NoError(t, s.Put(ctx, "k", model.StageAIEnhanced, []byte("b")))
		clock.Advance(30 * time.Minute)

		e, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.NotNil(t, e, "re-put refreshes expiry")
		assert.Equal(t, []byte("b"), e.Payload)

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, st.Entries)
	})
}

func TestStore_EvictsLeastRecentlyUsed(t *testing.T) {
	eachBackend(t, Options{MaxEntries: 3}, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			require.NoError(t, s.Put(ctx, fmt.Sprintf("k%d", i), model.StageAIEnhanced, []byte("x")))
			clock.Advance(time.Second)
		}

		// Touch k0 so k1 becomes the least recently used.
		_, err := s.Get(ctx, "k0")
		require.NoError(t, err)
		clock.Advance(time.Second)

		require.NoError(t, s.Put(ctx, "k3", model.StageAIEnhanced, []byte("x")))

		for key, want := range map[string]bool{"k0": true, "k1": false, "k2": true, "k3": true} {
			e, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, want, e != nil, key)
		}
		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, st.Entries)
		assert.Equal(t, int64(1), st.Evictions)
	})
}

func TestStore_EvictionTieBreaksOnHitCount(t *testing.T) {
	eachBackend(t, Options{MaxEntries: 2}, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "a", model.StageAIEnhanced, []byte("x")))
		require.NoError(t, s.Put(ctx, "b", model.StageAIEnhanced, []byte("x")))
		// Same access time for both; a gets an extra hit.
		_, err := s.Get(ctx, "a")
		require.NoError(t, err)
		_, err = s.Get(ctx, "b")
		require.NoError(t, err)
		_, err = s.Get(ctx, "a")
		require.NoError(t, err)

		clock.Advance(time.Second)
		require.NoError(t, s.Put(ctx, "c", model.StageAIEnhanced, []byte("x")))

		b, err := s.Get(ctx, "b")
		require.NoError(t, err)
		assert.Nil(t, b)
		a, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.NotNil(t, a)
	})
}

func TestStore_SweepRemovesExpired(t *testing.T) {
	eachBackend(t, Options{TTL: time.Hour}, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "old", model.StageAIEnhanced, []byte("x")))
		clock.Advance(2 * time.Hour)
		require.NoError(t, s.Put(ctx, "new", model.StageAIEnhanced, []byte("x")))

		n, err := s.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, st.Entries)
		assert.Zero(t, st.Expired)
	})
}

func TestStore_ConcurrentAccess(t *testing.T) {
	eachBackend(t, Options{MaxEntries: 50}, func(t *testing.T, s Store, _ *testClock) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					key := fmt.Sprintf("k%d", (w+i)%10)
					assert.NoError(t, s.Put(ctx, key, model.StageAIEnhanced, []byte(key)))
					e, err := s.Get(ctx, key)
					assert.NoError(t, err)
					if e != nil {
						assert.Equal(t, key, string(e.Payload))
					}
				}
			}(w)
		}
		wg.Wait()

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10, st.Entries)
	})
}

func TestJSONHelpers(t *testing.T) {
	s := NewMemory(Options{})
	ctx := context.Background()

	in := model.AIResponse{MatchFound: true, MatchedSKU: "GSX160361", Confidence: 0.8, Reasoning: []string{"same tonnage"}}
	require.NoError(t, PutJSON(ctx, s, "k", model.StageAIEnhanced, in))

	var out model.AIResponse
	hit, err := GetJSON(ctx, s, "k", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, in, out)

	hit, err = GetJSON(ctx, s, "missing", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, s.Put(ctx, "bad", model.StageAIEnhanced, []byte("{not json")))
	_, err = GetJSON(ctx, s, "bad", &out)
	assert.ErrorContains(t, err, "cache: decode")
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemory(Options{})
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", model.StageAIEnhanced, []byte("abc")))

	e, err := s.Get(ctx, "k")
	require.NoError(t, err)
	e.Payload[0] = 'z'

	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again.Payload))
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	s := NewMemory(Options{TTL: time.Millisecond})
	require.NoError(t, s.Put(context.Background(), "k", model.StageAIEnhanced, []byte("x")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, s, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		st, _ := s.Stats(context.Background())
		return st.Entries == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestMemoryStore_RecencyListTracksEntries(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(Options{MaxEntries: 100, TTL: time.Hour})
	for i := 0; i < 250; i++ {
		require.NoError(t, s.Put(ctx, fmt.Sprintf("k%03d", i), model.StageAIEnhanced, []byte("x")))
		if i%10 == 0 {
			_, err := s.Get(ctx, "k000")
			require.NoError(t, err)
		}
	}

	assert.Len(t, s.entries, 100)
	assert.Equal(t, 100, s.order.Len())
	e, err := s.Get(ctx, "k000")
	require.NoError(t, err)
	assert.NotNil(t, e, "frequently read entry survives")
	e, err = s.Get(ctx, "k001")
	require.NoError(t, err)
	assert.Nil(t, e)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(150), st.Evictions)
}
