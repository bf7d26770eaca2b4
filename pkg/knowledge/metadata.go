package knowledge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Metadata holds the structured attributes an Entry may carry.
// Only the fields below are accepted on the wire; unknown keys are rejected
// during decoding.
type Metadata struct {
	TaskID    string `json:"task_id,omitempty"`
	AgentRole string `json:"agent_role,omitempty"`
	RepoPath  string `json:"repo_path,omitempty"`
	FilePath  string `json:"file_path,omitempty"`

	SuccessScore *float64 `json:"success_score,omitempty"` // patterns, in [0,1]
	Confidence   *float64 `json:"confidence,omitempty"`    // learnings, in [0,1]

	Priority  Priority `json:"priority,omitempty"`   // messages
	EventKind string   `json:"event_kind,omitempty"` // events

	// Attributes carries free-form string context such as pattern context.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Validate checks score ranges and enum values.
func (m Metadata) Validate() error {
	if m.SuccessScore != nil {
		if err := checkUnitInterval("metadata.success_score", *m.SuccessScore); err != nil {
			return err
		}
	}
	if m.Confidence != nil {
		if err := checkUnitInterval("metadata.confidence", *m.Confidence); err != nil {
			return err
		}
	}
	if m.Priority != "" {
		if err := m.Priority.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// IsZero reports whether no field is set.
func (m Metadata) IsZero() bool {
	return m.TaskID == "" && m.AgentRole == "" && m.RepoPath == "" && m.FilePath == "" &&
		m.SuccessScore == nil && m.Confidence == nil && m.Priority == "" &&
		m.EventKind == "" && len(m.Attributes) == 0
}

// promotedTags returns the "key:value" tags derived from indexable metadata keys.
func (m Metadata) promotedTags() []string {
	var tags []string
	for _, kv := range [][2]string{
		{"task_id", m.TaskID},
		{"agent_role", m.AgentRole},
		{"repo_path", m.RepoPath},
		{"file_path", m.FilePath},
	} {
		if kv[1] != "" {
			tags = append(tags, kv[0]+":"+kv[1])
		}
	}
	return tags
}

// canonical returns a deterministic JSON rendering used for metadata-inclusive
// identity hashes. encoding/json emits struct fields in declaration order and
// map keys sorted, so equal metadata always renders identically.
func (m Metadata) canonical() string {
	if m.IsZero() {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		// Only NaN/Inf scores can fail and Validate rejects them first.
		return ""
	}
	return string(data)
}

// DecodeMetadata strictly decodes a metadata object from the wire.
// Unknown keys and out-of-range values produce a *ValidationError.
func DecodeMetadata(raw json.RawMessage) (Metadata, error) {
	var m Metadata
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return m, nil
	}

	if err := decodeStrict(trimmed, &m); err != nil {
		return Metadata{}, invalid("metadata", "%v", err)
	}
	if err := m.Validate(); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// AttributeKeys returns the attribute keys in sorted order.
func (m Metadata) AttributeKeys() []string {
	keys := make([]string, 0, len(m.Attributes))
	for k := range m.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func checkUnitInterval(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid(field, "must be a finite number")
	}
	if v < 0 || v > 1 {
		return invalid(field, "must be within [0,1], got %g", v)
	}
	return nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}

// Float returns a pointer to v, for populating score fields.
func Float(v float64) *float64 {
	return &v
}
