package knowledge

import (
	"sort"
	"strings"
	"time"
)

// Kind classifies an Entry.
type Kind string

const (
	// KindSemantic holds durable facts and learnings
	KindSemantic Kind = "semantic"

	// KindEpisodic holds time-stamped events, metrics and messages
	KindEpisodic Kind = "episodic"

	// KindProcedural holds reusable execution patterns
	KindProcedural Kind = "procedural"
)

// Validate checks if the Kind is a valid enum value.
func (k Kind) Validate() error {
	switch k {
	case KindSemantic, KindEpisodic, KindProcedural:
		return nil
	default:
		return invalid("kind", "unknown kind: %q", k)
	}
}

// Priority orders inter-worker messages.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Validate checks if the Priority is a valid enum value.
func (p Priority) Validate() error {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return nil
	default:
		return invalid("priority", "unknown priority: %q", p)
	}
}

// Rank returns the sort weight of a priority; higher is more urgent.
// Unknown priorities rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	default:
		return -1
	}
}

// Status is the outcome of a successful put.
type Status string

const (
	// StatusStored indicates the remote store created a new record
	StatusStored Status = "stored"

	// StatusDuplicate indicates the identity hash was already known.
	// This is a successful outcome, not an error.
	StatusDuplicate Status = "duplicate"
)

// Validate checks if the Status is a valid enum value.
func (s Status) Validate() error {
	switch s {
	case StatusStored, StatusDuplicate:
		return nil
	default:
		return invalid("status", "unknown status: %q", s)
	}
}

// Result is returned by the gateway and the client on a successful write.
type Result struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// IsDuplicate reports whether the write collapsed onto an existing record.
func (r Result) IsDuplicate() bool {
	return r.Status == StatusDuplicate
}

// Tags that the client attaches to entries it builds.
const (
	TagSwarmMemory  = "swarm_memory"
	TagSwarmEvent   = "swarm_event"
	TagPattern      = "pattern"
	TagStrategy     = "strategy"
	TagLearning     = "learning"
	TagMessage      = "inter_worker_message"
	EventInterComms = "inter_worker_communication"
)

// Entry is the atomic, immutable unit of persisted knowledge.
type Entry struct {
	ID           string    `json:"id,omitempty"` // assigned by the remote store
	Topic        string    `json:"topic"`
	Content      string    `json:"content"`
	Source       string    `json:"source"`
	Tags         []string  `json:"tags"`
	Kind         Kind      `json:"memory_type"`
	Timestamp    time.Time `json:"timestamp"`
	Metadata     Metadata  `json:"metadata"`
	IdentityHash string    `json:"identity_hash"`
}

// EntryOption customises NewEntry.
type EntryOption func(*entryOptions)

type entryOptions struct {
	metadataIdentity bool
	now              func() time.Time
}

// WithMetadataIdentity folds the canonical metadata into the identity hash,
// so entries differing only in metadata are not collapsed.
func WithMetadataIdentity() EntryOption {
	return func(o *entryOptions) { o.metadataIdentity = true }
}

// WithTimestamp overrides the construction time.
func WithTimestamp(t time.Time) EntryOption {
	return func(o *entryOptions) { o.now = func() time.Time { return t } }
}

// NewEntry builds and validates an Entry and computes its identity hash.
// It performs no I/O.
func NewEntry(topic, content, source string, tags []string, kind Kind, md Metadata, opts ...EntryOption) (Entry, error) {
	o := entryOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	e := Entry{
		Topic:     topic,
		Content:   content,
		Source:    source,
		Tags:      NormalizeTags(tags),
		Kind:      kind,
		Timestamp: o.now().UTC(),
		Metadata:  md,
	}
	if err := e.validateFields(); err != nil {
		return Entry{}, err
	}

	if o.metadataIdentity {
		e.IdentityHash = IdentityHashWithMetadata(topic, content, source, md)
	} else {
		e.IdentityHash = IdentityHash(topic, content, source)
	}
	return e, nil
}

// Validate checks an Entry decoded from the wire.
func (e Entry) Validate() error {
	if err := e.validateFields(); err != nil {
		return err
	}
	if !isHexHash(e.IdentityHash) {
		return invalid("identity_hash", "must be a 64-character hex digest")
	}
	return nil
}

func (e Entry) validateFields() error {
	if strings.TrimSpace(e.Topic) == "" {
		return invalid("topic", "cannot be empty")
	}
	if strings.TrimSpace(e.Content) == "" {
		return invalid("content", "cannot be empty")
	}
	if err := e.Kind.Validate(); err != nil {
		return err
	}
	return e.Metadata.Validate()
}

// HasTag reports whether the entry carries tag.
func (e Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasAllTags reports whether the entry carries every tag in tags.
func (e Entry) HasAllTags(tags []string) bool {
	for _, t := range tags {
		if !e.HasTag(t) {
			return false
		}
	}
	return true
}

// NormalizeTags trims, drops empties, deduplicates and sorts tags.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
