package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/hivemind/pkg/knowledge"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a store connected to a miniredis instance.
func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s, err := New(&redis.Options{Addr: mr.Addr()}, "test-swarm", 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s, mr
}

func newEntry(t *testing.T, topic, content string, kind knowledge.Kind, tags ...string) knowledge.Entry {
	t.Helper()
	e, err := knowledge.NewEntry(topic, content, "coder:1", tags, kind, knowledge.Metadata{})
	require.NoError(t, err)
	return e
}

func TestNew(t *testing.T) {
	t.Run("creates store", func(t *testing.T) {
		s, _ := setupTestStore(t)
		assert.Equal(t, "test-swarm", s.Namespace())
		assert.Equal(t, DefaultMaxScan, s.maxScan)
	})

	t.Run("rejects empty namespace", func(t *testing.T) {
		_, err := New(&redis.Options{Addr: "localhost:6379"}, " ", 0, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "namespace cannot be empty")
	})
}

func TestPing(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	assert.NoError(t, s.Ping(ctx))

	mr.Close()
	assert.Error(t, s.Ping(ctx))
}

func TestAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("stores entry with indexes", func(t *testing.T) {
		s, mr := setupTestStore(t)
		e := newEntry(t, "build", "make all", knowledge.KindProcedural, "coder", "ci")

		res, err := s.Add(ctx, e)
		require.NoError(t, err)
		assert.Equal(t, knowledge.StatusStored, res.Status)
		require.NotEmpty(t, res.ID)

		assert.True(t, mr.Exists(EntryKey("test-swarm", res.ID)))
		got, err := mr.Get(IdentityKey("test-swarm", e.IdentityHash))
		require.NoError(t, err)
		assert.Equal(t, res.ID, got)

		for _, key := range []string{
			AllIndexKey("test-swarm"),
			KindIndexKey("test-swarm", knowledge.KindProcedural),
			TagIndexKey("test-swarm", "ci"),
			TagIndexKey("test-swarm", "coder"),
		} {
			members, err := mr.ZMembers(key)
			require.NoError(t, err, key)
			assert.Equal(t, []string{res.ID}, members, key)
		}

		loaded, err := s.Get(ctx, res.ID)
		require.NoError(t, err)
		assert.Equal(t, e.Content, loaded.Content)
		assert.Equal(t, e.IdentityHash, loaded.IdentityHash)
		assert.True(t, e.Timestamp.Equal(loaded.Timestamp))
	})

	t.Run("same identity is a duplicate", func(t *testing.T) {
		s, _ := setupTestStore(t)
		first, err := s.Add(ctx, newEntry(t, "Build", "make all", knowledge.KindProcedural))
		require.NoError(t, err)
		second, err := s.Add(ctx, newEntry(t, "  build ", "make all", knowledge.KindProcedural, "other"))
		require.NoError(t, err)

		assert.Equal(t, knowledge.StatusDuplicate, second.Status)
		assert.Equal(t, first.ID, second.ID)

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.TotalEntries)
		assert.Equal(t, int64(1), stats.DuplicatesRejected)
	})

	t.Run("concurrent identical adds store once", func(t *testing.T) {
		s, _ := setupTestStore(t)
		e := newEntry(t, "race", "same content", knowledge.KindSemantic)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			results []knowledge.Result
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := s.Add(ctx, e)
				assert.NoError(t, err)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}()
		}
		wg.Wait()

		stored := 0
		for _, r := range results {
			if r.Status == knowledge.StatusStored {
				stored++
			}
			assert.Equal(t, results[0].ID, r.ID)
		}
		assert.Equal(t, 1, stored)
	})

	t.Run("rejects invalid entry", func(t *testing.T) {
		s, _ := setupTestStore(t)
		e := newEntry(t, "t", "c", knowledge.KindSemantic)
		e.IdentityHash = "nope"

		_, err := s.Add(ctx, e)
		require.Error(t, err)
		assert.True(t, knowledge.IsValidationError(err))
	})

	t.Run("redis down", func(t *testing.T) {
		s, mr := setupTestStore(t)
		mr.Close()

		_, err := s.Add(ctx, newEntry(t, "t", "c", knowledge.KindSemantic))
		require.Error(t, err)
		assert.False(t, knowledge.IsValidationError(err))
	})
}

func TestGet(t *testing.T) {
	s, _ := setupTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestStats(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	empty, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-swarm", empty.Namespace)
	assert.Zero(t, empty.TotalEntries)
	assert.Zero(t, empty.DuplicatesRejected)

	for i := 0; i < 3; i++ {
		_, err := s.Add(ctx, newEntry(t, "fact", fmt.Sprint(i), knowledge.KindSemantic))
		require.NoError(t, err)
	}
	_, err = s.Add(ctx, newEntry(t, "event", "happened", knowledge.KindEpisodic))
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalEntries)
	assert.Equal(t, int64(3), stats.ByKind[knowledge.KindSemantic])
	assert.Equal(t, int64(1), stats.ByKind[knowledge.KindEpisodic])
	assert.Equal(t, int64(0), stats.ByKind[knowledge.KindProcedural])
}

func TestNamespacing(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	ctx := context.Background()

	a, err := New(&redis.Options{Addr: mr.Addr()}, "swarm-a", 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	b, err := New(&redis.Options{Addr: mr.Addr()}, "swarm-b", 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	e := newEntry(t, "shared", "content", knowledge.KindSemantic)
	resA, err := a.Add(ctx, e)
	require.NoError(t, err)
	resB, err := b.Add(ctx, e)
	require.NoError(t, err)

	assert.Equal(t, knowledge.StatusStored, resA.Status)
	assert.Equal(t, knowledge.StatusStored, resB.Status)

	found, err := b.Search(ctx, knowledge.Filter{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, resB.ID, found[0].ID)
}

func TestSubscribeEntryEvents(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	t.Run("receives stored entries", func(t *testing.T) {
		sub, err := s.SubscribeEntryEvents(ctx)
		require.NoError(t, err)
		defer sub.Close()

		res, err := s.Add(ctx, newEntry(t, "news", "fresh", knowledge.KindEpisodic, "x"))
		require.NoError(t, err)

		select {
		case got := <-sub.Events():
			assert.Equal(t, res.ID, got.ID)
			assert.Equal(t, "fresh", got.Content)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	})

	t.Run("duplicates are not published", func(t *testing.T) {
		e := newEntry(t, "once", "only", knowledge.KindEpisodic)
		_, err := s.Add(ctx, e)
		require.NoError(t, err)

		sub, err := s.SubscribeEntryEvents(ctx)
		require.NoError(t, err)
		defer sub.Close()

		res, err := s.Add(ctx, e)
		require.NoError(t, err)
		require.True(t, res.IsDuplicate())

		select {
		case got := <-sub.Events():
			t.Fatalf("unexpected event %s", got.ID)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("decode failures go to errors", func(t *testing.T) {
		sub, err := s.SubscribeEntryEvents(ctx)
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, s.rdb.Publish(ctx, EntryEventsChannel("test-swarm"), "not json").Err())

		select {
		case err := <-sub.Errors():
			assert.Contains(t, err.Error(), "failed to unmarshal entry event")
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for error")
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		sub, err := s.SubscribeEntryEvents(ctx)
		require.NoError(t, err)
		assert.NoError(t, sub.Close())
		assert.NoError(t, sub.Close())
	})

	t.Run("context cancellation closes events", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		sub, err := s.SubscribeEntryEvents(cctx)
		require.NoError(t, err)

		cancel()

		select {
		case _, ok := <-sub.Events():
			assert.False(t, ok, "channel should be closed")
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for channel close")
		}
	})
}
