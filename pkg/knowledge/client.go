package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Client defaults.
const (
	DefaultSearchLimit      = 10
	DefaultOverflowCapacity = 500
)

// Options configures a Client.
type Options struct {
	// WorkerType is the owning worker's type (required). It is added to the
	// tags of every entry the client writes and scopes self-only searches.
	WorkerType string

	// InstanceID identifies this worker instance. Source is
	// "<worker_type>:<instance_id>".
	InstanceID string

	RetryCapacity    int // default DefaultRetryCapacity
	MaxAttempts      int // default DefaultMaxAttempts
	OverflowCapacity int // default DefaultOverflowCapacity
}

// Client is the knowledge layer used by one worker. It is safe for
// concurrent use by many goroutines.
type Client struct {
	gateway    Gateway
	logger     *slog.Logger
	workerType string
	source     string

	retry *RetryBuffer

	overflowMu  sync.Mutex
	overflow    []Entry
	overflowCap int
}

// New creates a client and probes the gateway once. An unreachable store is
// logged but does not prevent construction; writes will buffer until it
// comes back.
func New(ctx context.Context, gw Gateway, opts Options, logger *slog.Logger) (*Client, error) {
	if gw == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	opts.WorkerType = strings.TrimSpace(opts.WorkerType)
	if opts.WorkerType == "" {
		return nil, fmt.Errorf("worker type cannot be empty")
	}
	if opts.OverflowCapacity <= 0 {
		opts.OverflowCapacity = DefaultOverflowCapacity
	}

	source := opts.WorkerType
	if id := strings.TrimSpace(opts.InstanceID); id != "" {
		source = opts.WorkerType + ":" + id
	}

	c := &Client{
		gateway:     gw,
		logger:      orDiscard(logger).With("worker_type", opts.WorkerType),
		workerType:  opts.WorkerType,
		source:      source,
		retry:       NewRetryBuffer(opts.RetryCapacity, opts.MaxAttempts),
		overflowCap: opts.OverflowCapacity,
	}

	if err := gw.Health(ctx); err != nil {
		c.logger.Warn("knowledge store unreachable, writes will be buffered", "error", err)
	} else {
		c.logger.Debug("knowledge store reachable")
	}
	return c, nil
}

// WorkerType returns the owning worker type.
func (c *Client) WorkerType() string {
	return c.workerType
}

// Source returns the source identifier stamped on entries.
func (c *Client) Source() string {
	return c.source
}

// StoreRequest describes one write.
type StoreRequest struct {
	Topic    string
	Content  string
	Kind     Kind
	Tags     []string
	Metadata Metadata

	// MetadataIdentity folds metadata into the identity hash.
	MetadataIdentity bool
}

// Store builds an Entry and writes it through the gateway.
//
// The worker type, "swarm_memory" and any promoted metadata tags are always
// attached. A gateway failure is returned and the entry is queued for
// RetryAll, unless ctx was cancelled or expired: abandoned calls are never
// buffered. Validation failures are returned without being sent or buffered.
func (c *Client) Store(ctx context.Context, req StoreRequest) (Result, error) {
	entry, err := c.buildEntry(req)
	if err != nil {
		return Result{}, err
	}
	return c.put(ctx, entry)
}

func (c *Client) buildEntry(req StoreRequest) (Entry, error) {
	tags := make([]string, 0, len(req.Tags)+6)
	tags = append(tags, req.Tags...)
	tags = append(tags, c.workerType, TagSwarmMemory)
	tags = append(tags, req.Metadata.promotedTags()...)

	var opts []EntryOption
	if req.MetadataIdentity {
		opts = append(opts, WithMetadataIdentity())
	}
	return NewEntry(req.Topic, req.Content, c.source, tags, req.Kind, req.Metadata, opts...)
}

func (c *Client) put(ctx context.Context, entry Entry) (Result, error) {
	res, err := c.gateway.Put(ctx, entry)
	if err == nil {
		if res.IsDuplicate() {
			c.logger.Debug("duplicate entry", "id", res.ID, "hash", entry.IdentityHash)
		}
		return res, nil
	}

	if ctx.Err() != nil {
		c.logger.Debug("store abandoned by caller, not buffering", "topic", entry.Topic, "error", err)
		return Result{}, err
	}
	if !IsGatewayError(err) {
		return Result{}, err
	}

	if c.retry.Enqueue(OpStore, entry) {
		c.logger.Warn("store failed, buffered for retry",
			"topic", entry.Topic, "pending", c.retry.Len(), "error", err)
	} else {
		c.logger.Error("store failed and retry buffer is full, dropping write",
			"topic", entry.Topic, "capacity", c.retry.Capacity(), "error", err)
	}
	return Result{}, err
}

// SearchRequest describes one search.
type SearchRequest struct {
	Query string
	Limit int // default DefaultSearchLimit
	Kind  Kind
	Tags  []string

	// OnlySelf restricts results to entries written by this client's worker
	// type (include_other_workers = false): the worker type tag is required
	// and the source must name the worker type.
	OnlySelf bool
}

// Search queries the store. Results keep the gateway's order. Failures are
// logged and produce an empty slice.
func (c *Client) Search(ctx context.Context, req SearchRequest) []Entry {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	tags := append([]string(nil), req.Tags...)
	if req.OnlySelf {
		tags = append(tags, c.workerType)
	}

	entries, err := c.gateway.Query(ctx, Filter{
		Query: req.Query,
		Limit: limit,
		Kind:  req.Kind,
		Tags:  NormalizeTags(tags),
	})
	if err != nil {
		c.logger.Warn("search failed, returning no results", "query", req.Query, "error", err)
		return []Entry{}
	}
	if !req.OnlySelf {
		return entries
	}

	// Tags share one namespace with categories and names, so the tag alone
	// does not prove authorship.
	own := entries[:0]
	for _, e := range entries {
		if c.authored(e) {
			own = append(own, e)
		}
	}
	return own
}

// authored reports whether e was written by a worker of this client's type.
func (c *Client) authored(e Entry) bool {
	src := strings.ToLower(strings.TrimSpace(e.Source))
	wt := strings.ToLower(c.workerType)
	return src == wt || strings.HasPrefix(src, wt+":")
}

// eventRecord is the content of an event entry.
type eventRecord struct {
	EventKind string          `json:"event_kind"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// LogEvent writes an episodic event entry. A failed write is appended to the
// in-process overflow list instead of the retry buffer.
func (c *Client) LogEvent(ctx context.Context, eventKind string, data any, md *Metadata) error {
	eventKind = strings.TrimSpace(eventKind)
	if eventKind == "" {
		return invalid("event_kind", "cannot be empty")
	}

	rec := eventRecord{EventKind: eventKind, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return invalid("data", "not JSON encodable: %v", err)
		}
		rec.Data = raw
	}
	content, err := json.Marshal(rec)
	if err != nil {
		return invalid("data", "not JSON encodable: %v", err)
	}

	var meta Metadata
	if md != nil {
		meta = *md
	}
	meta.EventKind = eventKind

	entry, err := c.buildEntry(StoreRequest{
		Topic:    "event:" + eventKind,
		Content:  string(content),
		Kind:     KindEpisodic,
		Tags:     []string{TagSwarmEvent, eventKind},
		Metadata: meta,
	})
	if err != nil {
		return err
	}

	if _, err := c.gateway.Put(ctx, entry); err != nil {
		if ctx.Err() == nil {
			c.addOverflow(entry)
		}
		c.logger.Debug("event write failed", "event_kind", eventKind, "error", err)
		return err
	}
	return nil
}

func (c *Client) addOverflow(e Entry) {
	c.overflowMu.Lock()
	defer c.overflowMu.Unlock()

	if len(c.overflow) >= c.overflowCap {
		c.logger.Warn("event overflow full, dropping event", "topic", e.Topic)
		return
	}
	c.overflow = append(c.overflow, e)
}

// Overflow returns a copy of the events that could not be written.
func (c *Client) Overflow() []Entry {
	c.overflowMu.Lock()
	defer c.overflowMu.Unlock()

	out := make([]Entry, len(c.overflow))
	copy(out, c.overflow)
	return out
}

// DrainOverflow returns the overflowed events and clears the list.
func (c *Client) DrainOverflow() []Entry {
	c.overflowMu.Lock()
	defer c.overflowMu.Unlock()

	out := c.overflow
	c.overflow = nil
	return out
}

// Pending returns a copy of the buffered writes awaiting RetryAll.
func (c *Client) Pending() []Slot {
	return c.retry.Slots()
}

// DroppedWrites returns how many failed writes were lost because the retry
// buffer was full.
func (c *Client) DroppedWrites() int {
	return c.retry.Dropped()
}

// Stats returns the store's diagnostic counters.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	return c.gateway.Stats(ctx)
}
