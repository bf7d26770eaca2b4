package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// fakeGateway is an in-memory Gateway with failure injection.
// Query returns matches in insertion order.
type fakeGateway struct {
	mu        sync.Mutex
	entries   []Entry
	byHash    map[string]string
	nextID    int
	putCalls  int
	failPut   bool
	persistOn bool // with failPut: persist the entry but still report failure
	failQuery bool
	healthErr error
	lastQuery Filter
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{byHash: make(map[string]string)}
}

var errUnavailable = errors.New("connection refused")

func (g *fakeGateway) Put(ctx context.Context, e Entry) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.putCalls++

	if err := ctx.Err(); err != nil {
		return Result{}, &GatewayError{Op: "add", Err: err}
	}
	if g.failPut && !g.persistOn {
		return Result{}, &GatewayError{Op: "add", Err: errUnavailable}
	}

	res := g.insertLocked(e)
	if g.failPut {
		return Result{}, &GatewayError{Op: "add", Err: errUnavailable}
	}
	return res, nil
}

func (g *fakeGateway) insertLocked(e Entry) Result {
	if id, ok := g.byHash[e.IdentityHash]; ok {
		return Result{ID: id, Status: StatusDuplicate}
	}
	g.nextID++
	e.ID = fmt.Sprintf("id-%d", g.nextID)
	g.byHash[e.IdentityHash] = e.ID
	g.entries = append(g.entries, e)
	return Result{ID: e.ID, Status: StatusStored}
}

func (g *fakeGateway) Query(ctx context.Context, f Filter) ([]Entry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastQuery = f

	if g.failQuery {
		return nil, &GatewayError{Op: "search", StatusCode: 503, Err: errUnavailable}
	}

	var out []Entry
	for _, e := range g.entries {
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if !e.HasAllTags(f.Tags) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (g *fakeGateway) Health(ctx context.Context) error {
	return g.healthErr
}

func (g *fakeGateway) Stats(ctx context.Context) (Stats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	byKind := make(map[Kind]int64)
	for _, e := range g.entries {
		byKind[e.Kind]++
	}
	return Stats{Namespace: "fake", TotalEntries: int64(len(g.entries)), ByKind: byKind}, nil
}

func (g *fakeGateway) setFailPut(fail, persist bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failPut = fail
	g.persistOn = persist
}

func (g *fakeGateway) setFailQuery(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failQuery = fail
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

func (g *fakeGateway) seed(e Entry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.insertLocked(e)
}
