package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a client for workerType backed by a fresh fake
// gateway.
func setupTestClient(t *testing.T, workerType string) (*Client, *fakeGateway) {
	t.Helper()
	gw := newFakeGateway()
	c, err := New(context.Background(), gw, Options{WorkerType: workerType, InstanceID: "1"}, nil)
	require.NoError(t, err)
	return c, gw
}

func TestNew(t *testing.T) {
	t.Run("requires gateway", func(t *testing.T) {
		_, err := New(context.Background(), nil, Options{WorkerType: "coder"}, nil)
		assert.Error(t, err)
	})

	t.Run("requires worker type", func(t *testing.T) {
		_, err := New(context.Background(), newFakeGateway(), Options{WorkerType: "  "}, nil)
		assert.Error(t, err)
	})

	t.Run("unreachable store does not fail construction", func(t *testing.T) {
		gw := newFakeGateway()
		gw.healthErr = &GatewayError{Op: "health", Err: errUnavailable}
		c, err := New(context.Background(), gw, Options{WorkerType: "coder"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "coder", c.Source())
	})

	t.Run("source includes instance", func(t *testing.T) {
		c, _ := setupTestClient(t, "reviewer")
		assert.Equal(t, "reviewer", c.WorkerType())
		assert.Equal(t, "reviewer:1", c.Source())
	})
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("attaches worker and memory tags", func(t *testing.T) {
		c, gw := setupTestClient(t, "coder")

		res, err := c.Store(ctx, StoreRequest{
			Topic:    "lint",
			Content:  "golangci-lint run",
			Kind:     KindProcedural,
			Tags:     []string{"tooling"},
			Metadata: Metadata{TaskID: "T-7", RepoPath: "/src/app"},
		})
		require.NoError(t, err)
		assert.Equal(t, StatusStored, res.Status)
		assert.NotEmpty(t, res.ID)

		require.Equal(t, 1, gw.count())
		stored := gw.entries[0]
		assert.Equal(t, "coder:1", stored.Source)
		assert.Equal(t,
			[]string{"coder", "repo_path:/src/app", "swarm_memory", "task_id:T-7", "tooling"},
			stored.Tags)
	})

	t.Run("identical content is a duplicate", func(t *testing.T) {
		c, gw := setupTestClient(t, "coder")
		req := StoreRequest{Topic: "t", Content: "same", Kind: KindSemantic}

		first, err := c.Store(ctx, req)
		require.NoError(t, err)
		second, err := c.Store(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, StatusStored, first.Status)
		assert.Equal(t, StatusDuplicate, second.Status)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 1, gw.count())
	})

	t.Run("validation failure is neither sent nor buffered", func(t *testing.T) {
		c, gw := setupTestClient(t, "coder")

		_, err := c.Store(ctx, StoreRequest{Topic: "", Content: "x", Kind: KindSemantic})
		assert.True(t, IsValidationError(err))
		assert.Zero(t, gw.putCalls)
		assert.Empty(t, c.Pending())
	})

	t.Run("gateway failure is buffered", func(t *testing.T) {
		c, gw := setupTestClient(t, "coder")
		gw.setFailPut(true, false)

		_, err := c.Store(ctx, StoreRequest{Topic: "t", Content: "c", Kind: KindEpisodic})
		require.Error(t, err)
		assert.True(t, IsGatewayError(err))

		pending := c.Pending()
		require.Len(t, pending, 1)
		assert.Equal(t, OpStore, pending[0].Op)
		assert.Equal(t, "t", pending[0].Entry.Topic)
		assert.Zero(t, pending[0].Attempts)
	})

	t.Run("full buffer drops and counts the write", func(t *testing.T) {
		gw := newFakeGateway()
		gw.setFailPut(true, false)
		c, err := New(ctx, gw, Options{WorkerType: "coder", RetryCapacity: 1}, nil)
		require.NoError(t, err)

		_, err = c.Store(ctx, StoreRequest{Topic: "a", Content: "c", Kind: KindEpisodic})
		require.Error(t, err)
		_, err = c.Store(ctx, StoreRequest{Topic: "b", Content: "c", Kind: KindEpisodic})
		require.Error(t, err)

		assert.Len(t, c.Pending(), 1)
		assert.Equal(t, 1, c.DroppedWrites())
	})

	t.Run("cancelled call is not buffered", func(t *testing.T) {
		c, _ := setupTestClient(t, "coder")
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := c.Store(cctx, StoreRequest{Topic: "t", Content: "c", Kind: KindEpisodic})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, c.Pending())
	})

	t.Run("non-gateway error is not buffered", func(t *testing.T) {
		c, err := New(ctx, errGateway{}, Options{WorkerType: "coder"}, nil)
		require.NoError(t, err)

		_, err = c.Store(ctx, StoreRequest{Topic: "t", Content: "c", Kind: KindEpisodic})
		require.Error(t, err)
		assert.Empty(t, c.Pending())
	})

	t.Run("concurrent stores are safe", func(t *testing.T) {
		c, gw := setupTestClient(t, "coder")
		gw.setFailPut(true, false)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _ = c.Store(ctx, StoreRequest{Topic: "t", Content: fmt.Sprint(i), Kind: KindEpisodic})
			}(i)
		}
		wg.Wait()
		assert.Len(t, c.Pending(), 50)
	})
}

// errGateway fails every call with a plain error.
type errGateway struct{}

func (errGateway) Put(context.Context, Entry) (Result, error) { return Result{}, errors.New("boom") }
func (errGateway) Query(context.Context, Filter) ([]Entry, error) { return nil, errors.New("boom") }
func (errGateway) Health(context.Context) error { return nil }
func (errGateway) Stats(context.Context) (Stats, error) { return Stats{}, errors.New("boom") }

func TestSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults the limit and normalizes tags", func(t *testing.T) {
		c, gw := setupTestClient(t, "coder")
		c.Search(ctx, SearchRequest{Query: "q", Tags: []string{"b", "a", "b"}})

		assert.Equal(t, DefaultSearchLimit, gw.lastQuery.Limit)
		assert.Equal(t, []string{"a", "b"}, gw.lastQuery.Tags)
		assert.Equal(t, "q", gw.lastQuery.Query)
	})

	t.Run("scope isolation", func(t *testing.T) {
		coder, gw := setupTestClient(t, "coder")
		reviewer, err := New(ctx, gw, Options{WorkerType: "reviewer"}, nil)
		require.NoError(t, err)

		_, err = coder.Store(ctx, StoreRequest{Topic: "a", Content: "from coder", Kind: KindSemantic})
		require.NoError(t, err)
		_, err = reviewer.Store(ctx, StoreRequest{Topic: "b", Content: "from reviewer", Kind: KindSemantic})
		require.NoError(t, err)

		mine := coder.Search(ctx, SearchRequest{OnlySelf: true})
		require.Len(t, mine, 1)
		assert.Equal(t, "from coder", mine[0].Content)

		all := coder.Search(ctx, SearchRequest{})
		assert.Len(t, all, 2)
	})

	t.Run("only self checks the source, not just the tag", func(t *testing.T) {
		coder, gw := setupTestClient(t, "coder")
		reviewer, err := New(ctx, gw, Options{WorkerType: "reviewer", InstanceID: "2"}, nil)
		require.NoError(t, err)

		_, err = reviewer.Store(ctx, StoreRequest{Topic: "c", Content: "about coder", Kind: KindSemantic, Tags: []string{"coder"}})
		require.NoError(t, err)
		_, err = coder.Store(ctx, StoreRequest{Topic: "d", Content: "by coder", Kind: KindSemantic})
		require.NoError(t, err)

		mine := coder.Search(ctx, SearchRequest{OnlySelf: true})
		require.Len(t, mine, 1)
		assert.Equal(t, "by coder", mine[0].Content)
		assert.Equal(t, "coder:1", mine[0].Source)
	})

	t.Run("failure yields empty results", func(t *testing.T) {
		c, gw := setupTestClient(t, "coder")
		gw.seed(mustEntry(t, "t", "c", KindSemantic, "coder"))
		gw.setFailQuery(true)

		got := c.Search(ctx, SearchRequest{})
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestLogEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("writes an episodic event", func(t *testing.T) {
		c, gw := setupTestClient(t, "coder")

		err := c.LogEvent(ctx, "task_completed", map[string]int{"files": 3}, &Metadata{TaskID: "T-1"})
		require.NoError(t, err)

		require.Equal(t, 1, gw.count())
		e := gw.entries[0]
		assert.Equal(t, KindEpisodic, e.Kind)
		assert.Equal(t, "event:task_completed", e.Topic)
		assert.True(t, e.HasAllTags([]string{TagSwarmEvent, "task_completed", "coder", "task_id:T-1"}))
		assert.Equal(t, "task_completed", e.Metadata.EventKind)

		var rec eventRecord
		require.NoError(t, json.Unmarshal([]byte(e.Content), &rec))
		assert.Equal(t, "task_completed", rec.EventKind)
		assert.JSONEq(t, `{"files":3}`, string(rec.Data))
	})

	t.Run("failure goes to overflow not retry", func(t *testing.T) {
		c, gw := setupTestClient(t, "coder")
		gw.setFailPut(true, false)

		err := c.LogEvent(ctx, "heartbeat", nil, nil)
		require.Error(t, err)

		assert.Len(t, c.Overflow(), 1)
		assert.Empty(t, c.Pending())

		drained := c.DrainOverflow()
		assert.Len(t, drained, 1)
		assert.Empty(t, c.Overflow())
	})

	t.Run("overflow is bounded", func(t *testing.T) {
		gw := newFakeGateway()
		gw.setFailPut(true, false)
		c, err := New(ctx, gw, Options{WorkerType: "coder", OverflowCapacity: 2}, nil)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			_ = c.LogEvent(ctx, "tick", i, nil)
		}
		assert.Len(t, c.Overflow(), 2)
	})

	t.Run("rejects empty kind and unencodable data", func(t *testing.T) {
		c, gw := setupTestClient(t, "coder")

		assert.True(t, IsValidationError(c.LogEvent(ctx, " ", nil, nil)))
		assert.True(t, IsValidationError(c.LogEvent(ctx, "x", make(chan int), nil)))
		assert.Zero(t, gw.putCalls)
	})
}

func mustEntry(t *testing.T, topic, content string, kind Kind, tags ...string) Entry {
	t.Helper()
	e, err := NewEntry(topic, content, "test", tags, kind, Metadata{})
	require.NoError(t, err)
	return e
}
