package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dyluth/hivemind/pkg/knowledge"
)

// Serialization helpers for converting between entries and Redis hashes.
//
// Scalar fields map to individual hash fields. Tags and metadata are
// JSON-encoded into single fields.

// EntryToHash converts an Entry to a Redis hash.
func EntryToHash(e knowledge.Entry) (map[string]interface{}, error) {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	metadataJSON := ""
	if !e.Metadata.IsZero() {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	return map[string]interface{}{
		"id":            e.ID,
		"topic":         e.Topic,
		"content":       e.Content,
		"source":        e.Source,
		"tags":          string(tagsJSON),
		"memory_type":   string(e.Kind),
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"metadata":      metadataJSON,
		"identity_hash": e.IdentityHash,
	}, nil
}

// HashToEntry converts a Redis hash back to an Entry. The result is
// validated, so a corrupted hash is reported rather than served.
func HashToEntry(hash map[string]string) (knowledge.Entry, error) {
	var tags []string
	if raw := hash["tags"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			return knowledge.Entry{}, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	md, err := knowledge.DecodeMetadata(json.RawMessage(hash["metadata"]))
	if err != nil {
		return knowledge.Entry{}, fmt.Errorf("failed to decode metadata: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, hash["timestamp"])
	if err != nil {
		return knowledge.Entry{}, fmt.Errorf("invalid timestamp field: %w", err)
	}

	e := knowledge.Entry{
		ID:           hash["id"],
		Topic:        hash["topic"],
		Content:      hash["content"],
		Source:       hash["source"],
		Tags:         knowledge.NormalizeTags(tags),
		Kind:         knowledge.Kind(hash["memory_type"]),
		Timestamp:    ts.UTC(),
		Metadata:     md,
		IdentityHash: hash["identity_hash"],
	}
	if err := e.Validate(); err != nil {
		return knowledge.Entry{}, fmt.Errorf("invalid entry %s: %w", e.ID, err)
	}
	return e, nil
}
