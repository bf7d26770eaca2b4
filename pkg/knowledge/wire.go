package knowledge

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire types for the remote knowledge service.
//
//	POST /memory/add     AddRequest    -> AddResponse
//	POST /memory/search  QueryRequest  -> QueryResponse
//	GET  /health                        -> HealthResponse
//	GET  /stats                         -> Stats
//
// The same types are used by the reference server in internal/server.

// Endpoint paths.
const (
	PathAdd    = "/memory/add"
	PathSearch = "/memory/search"
	PathHealth = "/health"
	PathStats  = "/stats"
)

// AddRequest is the body of POST /memory/add.
type AddRequest struct {
	Topic        string          `json:"topic"`
	Content      string          `json:"content"`
	Source       string          `json:"source"`
	Tags         []string        `json:"tags"`
	MemoryType   Kind            `json:"memory_type"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	IdentityHash string          `json:"identity_hash,omitempty"` // server recomputes when empty
	Timestamp    string          `json:"timestamp,omitempty"`     // RFC3339Nano; server uses now when empty
}

// AddResponse is the body of a 200 response to POST /memory/add.
type AddResponse = Result

// QueryRequest is the body of POST /memory/search. Tags are ANDed.
type QueryRequest struct {
	Query      string   `json:"query"`
	Limit      int      `json:"limit"`
	MemoryType Kind     `json:"memory_type,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// QueryResponse is the body of a 200 response to POST /memory/search.
type QueryResponse struct {
	Results []RawEntry `json:"results"`
}

// RawEntry is an entry as it travels over the wire.
type RawEntry struct {
	ID           string          `json:"id"`
	Topic        string          `json:"topic"`
	Content      string          `json:"content"`
	Source       string          `json:"source"`
	Tags         []string        `json:"tags"`
	MemoryType   Kind            `json:"memory_type"`
	Timestamp    string          `json:"timestamp"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	IdentityHash string          `json:"identity_hash"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ErrorResponse is the body of any non-200 response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Stats holds store-wide counters returned by GET /stats.
// Used for diagnostics only.
type Stats struct {
	Namespace          string         `json:"namespace"`
	TotalEntries       int64          `json:"total_entries"`
	ByKind             map[Kind]int64 `json:"by_kind"`
	DuplicatesRejected int64          `json:"duplicates_rejected"`
}

// Filter narrows a gateway query.
type Filter struct {
	Query string
	Limit int
	Kind  Kind // empty = any kind
	Tags  []string
}

// NewAddRequest converts an Entry into its wire form.
func NewAddRequest(e Entry) (AddRequest, error) {
	req := AddRequest{
		Topic:        e.Topic,
		Content:      e.Content,
		Source:       e.Source,
		Tags:         e.Tags,
		MemoryType:   e.Kind,
		IdentityHash: e.IdentityHash,
	}
	if req.Tags == nil {
		req.Tags = []string{}
	}
	if !e.Timestamp.IsZero() {
		req.Timestamp = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if !e.Metadata.IsZero() {
		md, err := json.Marshal(e.Metadata)
		if err != nil {
			return AddRequest{}, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		req.Metadata = md
	}
	return req, nil
}

// ToRawEntry converts an Entry into its wire form for search responses.
func ToRawEntry(e Entry) (RawEntry, error) {
	raw := RawEntry{
		ID:           e.ID,
		Topic:        e.Topic,
		Content:      e.Content,
		Source:       e.Source,
		Tags:         e.Tags,
		MemoryType:   e.Kind,
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		IdentityHash: e.IdentityHash,
	}
	if raw.Tags == nil {
		raw.Tags = []string{}
	}
	if !e.Metadata.IsZero() {
		md, err := json.Marshal(e.Metadata)
		if err != nil {
			return RawEntry{}, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		raw.Metadata = md
	}
	return raw, nil
}

// Entry decodes and validates a RawEntry. Malformed shapes produce a
// *ValidationError.
func (r RawEntry) Entry() (Entry, error) {
	md, err := DecodeMetadata(r.Metadata)
	if err != nil {
		return Entry{}, err
	}

	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return Entry{}, invalid("timestamp", "not RFC3339: %q", r.Timestamp)
	}

	e := Entry{
		ID:           r.ID,
		Topic:        r.Topic,
		Content:      r.Content,
		Source:       r.Source,
		Tags:         NormalizeTags(r.Tags),
		Kind:         r.MemoryType,
		Timestamp:    ts.UTC(),
		Metadata:     md,
		IdentityHash: r.IdentityHash,
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}
