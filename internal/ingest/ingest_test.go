package ingest

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/hivemind/internal/server"
	"github.com/dyluth/hivemind/internal/store"
	"github.com/dyluth/hivemind/pkg/knowledge"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStorer stores requests in memory and collapses repeats by topic.
type recordingStorer struct {
	mu   sync.Mutex
	reqs []knowledge.StoreRequest
	seen map[string]bool
	fail map[string]error
	sent int64 // content bytes of every call, failed ones included
}

func (r *recordingStorer) Store(_ context.Context, req knowledge.StoreRequest) (knowledge.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent += int64(len(req.Content))
	if err := r.fail[req.Topic]; err != nil {
		return knowledge.Result{}, err
	}
	r.reqs = append(r.reqs, req)
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	if r.seen[req.Topic] {
		return knowledge.Result{ID: req.Topic, Status: knowledge.StatusDuplicate}, nil
	}
	r.seen[req.Topic] = true
	return knowledge.Result{ID: req.Topic, Status: knowledge.StatusStored}, nil
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func setupTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "README.md", "# service\nhow to run it")
	writeFile(t, root, "notes.txt", "redis must run with appendonly")
	writeFile(t, root, "docs/design.go", "package docs")
	writeFile(t, root, ".git/HEAD.md", "ref: refs/heads/main")
	writeFile(t, root, "logo.png", "not really a png")
	writeFile(t, root, "empty.md", "  \n")
	writeFile(t, root, "binary.txt", "\xff\xfe\x00")
	return root
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("stores matching files", func(t *testing.T) {
		root := setupTree(t)
		s := &recordingStorer{}

		report, err := Run(ctx, s, Options{Root: root, RepoPath: "/src/service"})
		require.NoError(t, err)

		assert.Equal(t, 3, report.Stored)
		assert.Zero(t, report.Duplicates)
		assert.ElementsMatch(t, []string{"empty.md", "binary.txt"}, report.SkippedType)
		assert.Empty(t, report.SkippedSize)
		assert.Empty(t, report.Failed)

		topics := make([]string, len(s.reqs))
		for i, r := range s.reqs {
			topics[i] = r.Topic
		}
		assert.Equal(t, []string{"README.md", "docs/design.go", "notes.txt"}, topics)

		readme := s.reqs[0]
		assert.Equal(t, knowledge.KindSemantic, readme.Kind)
		assert.Equal(t, "# service\nhow to run it", readme.Content)
		assert.Equal(t, []string{TagIngest, "ext:md"}, readme.Tags)
		assert.Equal(t, "README.md", readme.Metadata.FilePath)
		assert.Equal(t, "/src/service", readme.Metadata.RepoPath)
		assert.Equal(t, int64(len("# service\nhow to run it")+len("package docs")+len("redis must run with appendonly")), report.Bytes)
	})

	t.Run("extension filter", func(t *testing.T) {
		root := setupTree(t)
		s := &recordingStorer{}

		report, err := Run(ctx, s, Options{Root: root, Extensions: []string{"go", ".PNG"}})
		require.NoError(t, err)
		assert.Equal(t, 2, report.Stored)
		assert.Equal(t, []string{"ext:go"}, s.reqs[0].Tags[1:])
		assert.Equal(t, []string{"ext:png"}, s.reqs[1].Tags[1:])
	})

	t.Run("aggregate size limit skips files that do not fit", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "a.md", "aaaaaa")
		writeFile(t, root, "b.md", "bbbbbb")
		writeFile(t, root, "c.md", "ccc")
		s := &recordingStorer{}

		report, err := Run(ctx, s, Options{Root: root, MaxTotalBytes: 10})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrSizeLimit))
		assert.Equal(t, 2, report.Stored)
		assert.Equal(t, []string{"b.md"}, report.SkippedSize)
		assert.Equal(t, int64(9), report.Bytes)
	})

	t.Run("store failures are reported and the walk continues", func(t *testing.T) {
		root := setupTree(t)
		s := &recordingStorer{fail: map[string]error{"notes.txt": errors.New("gateway down")}}

		report, err := Run(ctx, s, Options{Root: root})
		require.NoError(t, err)
		assert.Equal(t, 2, report.Stored)
		assert.Equal(t, map[string]string{"notes.txt": "gateway down"}, report.Failed)
		assert.Empty(t, report.Retryable)
	})

	t.Run("failed writes count against the size limit", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "a.md", "aaaaaaaaa")
		writeFile(t, root, "b.md", "bbbbbbbbb")
		s := &recordingStorer{fail: map[string]error{
			"a.md": &knowledge.GatewayError{Op: "add", Err: errors.New("connection refused")},
		}}

		report, err := Run(ctx, s, Options{Root: root, MaxTotalBytes: 10})
		assert.ErrorIs(t, err, ErrSizeLimit)
		assert.Equal(t, []string{"b.md"}, report.SkippedSize)
		assert.Equal(t, []string{"a.md"}, report.Retryable)
		assert.Equal(t, int64(9), report.Bytes)
		assert.LessOrEqual(t, s.sent, int64(10))
	})

	t.Run("second run collapses to duplicates", func(t *testing.T) {
		root := setupTree(t)
		s := &recordingStorer{}

		_, err := Run(ctx, s, Options{Root: root})
		require.NoError(t, err)
		report, err := Run(ctx, s, Options{Root: root})
		require.NoError(t, err)
		assert.Zero(t, report.Stored)
		assert.Equal(t, 3, report.Duplicates)
	})

	t.Run("cancelled context stops the walk", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := Run(cctx, &recordingStorer{}, Options{Root: setupTree(t)})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("bad root", func(t *testing.T) {
		_, err := Run(ctx, &recordingStorer{}, Options{Root: filepath.Join(t.TempDir(), "missing")})
		assert.ErrorContains(t, err, "failed to read root")

		file := filepath.Join(t.TempDir(), "f.md")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
		_, err = Run(ctx, &recordingStorer{}, Options{Root: file})
		assert.ErrorContains(t, err, "not a directory")

		_, err = Run(ctx, nil, Options{Root: t.TempDir()})
		assert.ErrorContains(t, err, "storer cannot be nil")
	})
}

func TestRunAgainstServer(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	st, err := store.New(&redis.Options{Addr: mr.Addr()}, "ingest", 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := httptest.NewServer(server.New(st, server.Config{}, nil).Handler())
	t.Cleanup(srv.Close)

	client, err := knowledge.New(ctx, knowledge.NewHTTPGateway(srv.URL, srv.Client(), nil),
		knowledge.Options{WorkerType: "indexer", InstanceID: "1"}, nil)
	require.NoError(t, err)

	root := setupTree(t)
	first, err := Run(ctx, client, Options{Root: root, RepoPath: "/src/service"})
	require.NoError(t, err)
	assert.Equal(t, 3, first.Stored)

	second, err := Run(ctx, client, Options{Root: root, RepoPath: "/src/service"})
	require.NoError(t, err)
	assert.Equal(t, 3, second.Duplicates)

	found := client.Search(ctx, knowledge.SearchRequest{Query: "appendonly", Tags: []string{TagIngest}})
	require.Len(t, found, 1)
	assert.Equal(t, "notes.txt", found[0].Topic)
	assert.True(t, found[0].HasTag("file_path:notes.txt"))
	assert.True(t, found[0].HasTag("ext:txt"))
}

// fakeRetrier reports the given sweep and then the remaining slots.
type fakeRetrier struct {
	before, after []knowledge.Slot
	report        knowledge.RetryReport
	swept         bool
}

func (f *fakeRetrier) Pending() []knowledge.Slot {
	if f.swept {
		return f.after
	}
	return f.before
}

func (f *fakeRetrier) RetryAll(context.Context) knowledge.RetryReport {
	f.swept = true
	return f.report
}

func slotFor(topic string) knowledge.Slot {
	return knowledge.Slot{ID: topic, Op: knowledge.OpStore, Entry: knowledge.Entry{Topic: topic}}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	failedReport := func() Report {
		return Report{
			Stored:    1,
			Failed:    map[string]string{"a.md": "down", "b.md": "down", "c.md": "invalid"},
			Retryable: []string{"a.md", "b.md"},
		}
	}

	t.Run("nothing pending is a no-op", func(t *testing.T) {
		report := failedReport()
		r := &fakeRetrier{}

		got := Retry(ctx, r, &report)
		assert.Zero(t, got)
		assert.False(t, r.swept)
		assert.Len(t, report.Failed, 3)
	})

	t.Run("recovered writes move into the counts", func(t *testing.T) {
		report := failedReport()
		r := &fakeRetrier{
			before: []knowledge.Slot{slotFor("a.md"), slotFor("b.md")},
			after:  []knowledge.Slot{slotFor("b.md")},
			report: knowledge.RetryReport{Succeeded: 1, Duplicates: 1, Requeued: 1, Remaining: 1},
		}

		Retry(ctx, r, &report)
		assert.Equal(t, 1, report.Stored)
		assert.Equal(t, 1, report.Duplicates)
		assert.Equal(t, map[string]string{"b.md": "down", "c.md": "invalid"}, report.Failed)
		assert.Equal(t, []string{"b.md"}, report.Retryable)
	})

	t.Run("discarded slots leave failures in place", func(t *testing.T) {
		report := failedReport()
		r := &fakeRetrier{
			before: []knowledge.Slot{slotFor("a.md"), slotFor("b.md")},
			report: knowledge.RetryReport{Succeeded: 1, Discarded: 1},
		}

		Retry(ctx, r, &report)
		assert.Equal(t, 2, report.Stored)
		assert.Len(t, report.Failed, 3)
	})
}
