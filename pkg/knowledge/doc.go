// Package knowledge provides the client-side shared knowledge layer used by
// hivemind swarm workers.
//
// # Overview
//
// Workers persist and exchange knowledge through a single remote store reached
// over HTTP. This package owns everything on the client side of that boundary:
// the content-addressed Entry model, the Gateway that speaks the wire protocol,
// and the Client that layers deduplication, scoping, ranking, messaging and
// retry buffering on top of it.
//
// # Core Concepts
//
// Entries are immutable knowledge units. Every Entry carries an identity hash
// derived from its normalized (topic, content, source) triple. The identity
// hash is the only deduplication key: storing the same triple twice yields a
// "stored" result followed by a "duplicate" result with the same ID.
//
// Kinds classify entries:
//
//	semantic   - durable facts and learnings
//	episodic   - time-stamped events, metrics and inter-worker messages
//	procedural - reusable execution patterns
//
// Archives (patterns and learnings) re-rank search results client-side by
// success score or confidence, since the remote store ranks by relevance.
//
// The mailbox stores inter-worker messages as episodic entries and returns
// them ordered by priority (critical > high > normal > low), newest first
// within a priority. Reads never delete.
//
// # Failure Model
//
// Writes that fail at the gateway are returned to the caller and also queued
// in a bounded retry buffer. Replays resend the identical Entry, so a write
// that actually landed is reported as a duplicate rather than stored twice.
// Reads are best-effort: failures are logged and surface as empty results.
//
// # Usage Example
//
//	gw := knowledge.NewHTTPGateway("http://localhost:8765", nil, logger)
//	client, err := knowledge.New(ctx, gw, knowledge.Options{
//		WorkerType: "coder",
//		InstanceID: "coder-1",
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	res, err := client.Store(ctx, knowledge.StoreRequest{
//		Topic:   "go modules",
//		Content: "run go mod tidy after adding imports",
//		Kind:    knowledge.KindSemantic,
//	})
//
//	// Replay anything that failed while the store was down.
//	report := client.RetryAll(ctx)
package knowledge
