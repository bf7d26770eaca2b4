package knowledge

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultReceiveLimit is the default number of messages returned by Receive.
const DefaultReceiveLimit = 20

// MessagePayload is the structured body of an inter-worker message.
type MessagePayload struct {
	Subject    string            `json:"subject"`
	Body       string            `json:"body,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Message is the envelope persisted as an episodic entry.
type Message struct {
	ID           string         `json:"id"`
	FromWorker   string         `json:"from_worker"`
	ToWorkerType string         `json:"to_worker_type"`
	Payload      MessagePayload `json:"payload"`
	Priority     Priority       `json:"priority"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Validate checks the envelope shape.
func (m Message) Validate() error {
	if m.ID == "" {
		return invalid("message.id", "cannot be empty")
	}
	if strings.TrimSpace(m.FromWorker) == "" {
		return invalid("message.from_worker", "cannot be empty")
	}
	if strings.TrimSpace(m.ToWorkerType) == "" {
		return invalid("message.to_worker_type", "cannot be empty")
	}
	if strings.TrimSpace(m.Payload.Subject) == "" {
		return invalid("message.payload.subject", "cannot be empty")
	}
	if m.Timestamp.IsZero() {
		return invalid("message.timestamp", "cannot be zero")
	}
	return m.Priority.Validate()
}

func toTag(workerType string) string   { return "to:" + workerType }
func fromTag(workerType string) string { return "from:" + workerType }
func priorityTag(p Priority) string    { return "priority:" + string(p) }

// Send stores a message addressed to every worker of toWorkerType. An empty
// priority means normal. A companion inter_worker_communication event is
// logged on a best-effort basis.
func (c *Client) Send(ctx context.Context, toWorkerType string, payload MessagePayload, priority Priority) (Message, error) {
	if priority == "" {
		priority = PriorityNormal
	}

	msg := Message{
		ID:           uuid.New().String(),
		FromWorker:   c.source,
		ToWorkerType: strings.TrimSpace(toWorkerType),
		Payload:      payload,
		Priority:     priority,
		Timestamp:    time.Now().UTC(),
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}

	content, err := json.Marshal(msg)
	if err != nil {
		return Message{}, invalid("message", "not JSON encodable: %v", err)
	}

	if _, err := c.Store(ctx, StoreRequest{
		Topic:   "message:" + msg.ToWorkerType,
		Content: string(content),
		Kind:    KindEpisodic,
		Tags: []string{
			TagMessage,
			toTag(msg.ToWorkerType),
			fromTag(c.workerType),
			priorityTag(priority),
		},
		Metadata: Metadata{Priority: priority},
	}); err != nil {
		return Message{}, err
	}

	if err := c.LogEvent(ctx, EventInterComms, map[string]string{
		"message_id": msg.ID,
		"from":       c.workerType,
		"to":         msg.ToWorkerType,
		"priority":   string(priority),
		"subject":    payload.Subject,
	}, nil); err != nil {
		c.logger.Debug("failed to log message event", "message_id", msg.ID, "error", err)
	}
	return msg, nil
}

// ReceiveQuery narrows Receive.
type ReceiveQuery struct {
	Priority Priority // empty = any priority
	Limit    int      // 0 = DefaultReceiveLimit
}

// Receive returns messages addressed to this worker type, most urgent first
// and newest first within a priority. Messages are not removed.
func (c *Client) Receive(ctx context.Context, q ReceiveQuery) []Message {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultReceiveLimit
	}

	tags := []string{TagMessage, toTag(c.workerType)}
	if q.Priority != "" {
		if err := q.Priority.Validate(); err != nil {
			c.logger.Warn("ignoring receive with invalid priority filter", "error", err)
			return []Message{}
		}
		tags = append(tags, priorityTag(q.Priority))
	}

	entries := c.Search(ctx, SearchRequest{
		Limit: limit * archiveFetchFactor,
		Kind:  KindEpisodic,
		Tags:  tags,
	})

	msgs := make([]Message, 0, len(entries))
	for _, e := range entries {
		var m Message
		if err := decodeStrict([]byte(e.Content), &m); err != nil {
			c.logger.Debug("skipping malformed message", "id", e.ID, "error", err)
			continue
		}
		if err := m.Validate(); err != nil || m.ToWorkerType != c.workerType {
			c.logger.Debug("skipping invalid message", "id", e.ID)
			continue
		}
		if q.Priority != "" && m.Priority != q.Priority {
			continue
		}
		msgs = append(msgs, m)
	}

	SortMessages(msgs)
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs
}

// SortMessages orders messages by priority (critical first), then by
// timestamp, newest first.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		ri, rj := msgs[i].Priority.Rank(), msgs[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return msgs[i].Timestamp.After(msgs[j].Timestamp)
	})
}
