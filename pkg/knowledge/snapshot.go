package knowledge

import (
	"context"
	"sync"
	"time"
)

// Bounds used by LoadContext.
const (
	snapshotPatterns  = 5
	snapshotLearnings = 10
	snapshotEvents    = 20
	snapshotMessages  = 10
)

// Snapshot is a read-only view of the swarm knowledge relevant to a worker
// at startup. It is not persisted; the caller owns it once returned.
type Snapshot struct {
	Patterns     []PatternRecord  `json:"patterns"`
	Learnings    []LearningRecord `json:"learnings"`
	RecentEvents []Entry          `json:"recent_events"`
	Messages     []Message        `json:"messages"`
	LoadedAt     time.Time        `json:"loaded_at"`
}

// LoadContext assembles a Snapshot. The four lookups run concurrently and
// each degrades to an empty slice on failure rather than failing the whole
// snapshot.
func (c *Client) LoadContext(ctx context.Context) Snapshot {
	var (
		wg   sync.WaitGroup
		snap Snapshot
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		snap.Patterns = c.RetrievePatterns(ctx, PatternQuery{Limit: snapshotPatterns})
	}()
	go func() {
		defer wg.Done()
		snap.Learnings = c.RetrieveLearnings(ctx, LearningQuery{Limit: snapshotLearnings})
	}()
	go func() {
		defer wg.Done()
		snap.RecentEvents = c.Search(ctx, SearchRequest{
			Limit: snapshotEvents,
			Kind:  KindEpisodic,
			Tags:  []string{TagSwarmEvent},
		})
	}()
	go func() {
		defer wg.Done()
		snap.Messages = c.Receive(ctx, ReceiveQuery{Limit: snapshotMessages})
	}()
	wg.Wait()

	snap.LoadedAt = time.Now().UTC()
	c.logger.Debug("context loaded",
		"patterns", len(snap.Patterns),
		"learnings", len(snap.Learnings),
		"events", len(snap.RecentEvents),
		"messages", len(snap.Messages))
	return snap
}
