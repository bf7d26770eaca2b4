package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/hivemind/pkg/knowledge"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addAt(t *testing.T, s *Store, at time.Time, topic, content string, kind knowledge.Kind, tags ...string) string {
	t.Helper()
	e, err := knowledge.NewEntry(topic, content, "coder:1", tags, kind, knowledge.Metadata{}, knowledge.WithTimestamp(at))
	require.NoError(t, err)
	res, err := s.Add(context.Background(), e)
	require.NoError(t, err)
	return res.ID
}

func ids(entries []knowledge.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	s, _ := setupTestStore(t)
	oldFact := addAt(t, s, base, "redis", "use pipelines for bulk writes", knowledge.KindSemantic, "coder", "redis")
	newFact := addAt(t, s, base.Add(time.Hour), "redis", "SETNX claims keys atomically", knowledge.KindSemantic, "coder", "redis")
	event := addAt(t, s, base.Add(2*time.Hour), "event:deploy", "deployed redis cluster", knowledge.KindEpisodic, "ops", "swarm_event")
	howto := addAt(t, s, base.Add(3*time.Hour), "howto", "bulk import with redis pipelines", knowledge.KindProcedural, "coder")

	t.Run("empty query returns everything newest first", func(t *testing.T) {
		got, err := s.Search(ctx, knowledge.Filter{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{howto, event, newFact, oldFact}, ids(got))
	})

	t.Run("filters by kind", func(t *testing.T) {
		got, err := s.Search(ctx, knowledge.Filter{Kind: knowledge.KindSemantic})
		require.NoError(t, err)
		assert.Equal(t, []string{newFact, oldFact}, ids(got))
	})

	t.Run("tags are ANDed", func(t *testing.T) {
		got, err := s.Search(ctx, knowledge.Filter{Tags: []string{"coder", "redis"}})
		require.NoError(t, err)
		assert.Equal(t, []string{newFact, oldFact}, ids(got))

		none, err := s.Search(ctx, knowledge.Filter{Tags: []string{"ops", "coder"}})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("unknown tag matches nothing", func(t *testing.T) {
		got, err := s.Search(ctx, knowledge.Filter{Tags: []string{"nobody"}})
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("ranks by term overlap then recency", func(t *testing.T) {
		got, err := s.Search(ctx, knowledge.Filter{Query: "Redis bulk pipelines"})
		require.NoError(t, err)
		// howto and oldFact match all three terms, the rest only "redis".
		assert.Equal(t, []string{howto, oldFact, event, newFact}, ids(got))
	})

	t.Run("query terms must match something", func(t *testing.T) {
		got, err := s.Search(ctx, knowledge.Filter{Query: "kubernetes"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("limit cuts after ranking", func(t *testing.T) {
		got, err := s.Search(ctx, knowledge.Filter{Query: "pipelines", Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{howto}, ids(got))
	})
}

func TestSearchSkipsStaleIndexEntries(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	keep := addAt(t, s, time.Now().UTC(), "a", "kept", knowledge.KindSemantic)
	gone := addAt(t, s, time.Now().UTC(), "b", "removed", knowledge.KindSemantic)
	mr.Del(EntryKey("test-swarm", gone))

	corrupt := addAt(t, s, time.Now().UTC(), "c", "corrupt", knowledge.KindSemantic)
	mr.HSet(EntryKey("test-swarm", corrupt), "memory_type", "dream")

	got, err := s.Search(ctx, knowledge.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{keep}, ids(got))
}

func TestSearchMaxScan(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	s, err := New(&redis.Options{Addr: mr.Addr()}, "test-swarm", 2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	addAt(t, s, base, "t", "one", knowledge.KindSemantic)
	second := addAt(t, s, base.Add(time.Second), "t", "two", knowledge.KindSemantic)
	third := addAt(t, s, base.Add(2*time.Second), "t", "three", knowledge.KindSemantic)

	got, err := s.Search(context.Background(), knowledge.Filter{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, []string{third, second}, ids(got))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "42"}, tokenize("Hello, WORLD! hello 42"))
	assert.Empty(t, tokenize("  --  "))
}

func TestRelevance(t *testing.T) {
	e := knowledge.Entry{Topic: "Go modules", Content: "run tidy", Tags: []string{"tooling"}}
	assert.Equal(t, 3, relevance([]string{"go", "tidy", "tooling"}, e))
	assert.Equal(t, 1, relevance([]string{"modules", "rust"}, e))
	assert.Zero(t, relevance(nil, e))
}
