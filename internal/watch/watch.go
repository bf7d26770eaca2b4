// Package watch follows the knowledge store as entries arrive.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/hivemind/pkg/knowledge"
)

// PollInterval is how often PollForMessages re-reads the inbox.
var PollInterval = 200 * time.Millisecond

// EventSource delivers stored entries as they are written. Errors are
// non-fatal. *store.Subscription implements it.
type EventSource interface {
	Events() <-chan knowledge.Entry
	Errors() <-chan error
}

// Filter selects which streamed entries are emitted. Zero values match all.
type Filter struct {
	Kind   knowledge.Kind
	Tags   []string // ANDed
	Source string   // substring of the entry source
}

// Match reports whether e passes the filter.
func (f Filter) Match(e knowledge.Entry) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if !e.HasAllTags(f.Tags) {
		return false
	}
	if f.Source != "" && !strings.Contains(e.Source, f.Source) {
		return false
	}
	return true
}

// Stream calls emit for every matching entry until ctx is done, the source
// closes or emit fails. Source errors do not stop the stream; they are
// passed to onErr when it is set.
func Stream(ctx context.Context, src EventSource, f Filter, emit func(knowledge.Entry) error, onErr func(error)) error {
	events, errs := src.Events(), src.Errors()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if onErr != nil {
				onErr(err)
			}

		case e, ok := <-events:
			if !ok {
				return nil
			}
			if !f.Match(e) {
				continue
			}
			if err := emit(e); err != nil {
				return err
			}
		}
	}
}

// Receiver is the part of the knowledge client used by PollForMessages.
type Receiver interface {
	Receive(ctx context.Context, q knowledge.ReceiveQuery) []knowledge.Message
}

// PollForMessages polls the inbox until at least one message newer than
// since arrives, and returns those messages in inbox order.
// Returns an error if the timeout elapses first.
func PollForMessages(ctx context.Context, r Receiver, q knowledge.ReceiveQuery, since time.Time, timeout time.Duration) ([]knowledge.Message, error) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		if msgs := newerThan(r.Receive(ctx, q), since); len(msgs) > 0 {
			return msgs, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for messages after %v", timeout)
		case <-ticker.C:
		}
	}
}

func newerThan(msgs []knowledge.Message, since time.Time) []knowledge.Message {
	out := msgs[:0:0]
	for _, m := range msgs {
		if m.Timestamp.After(since) {
			out = append(out, m)
		}
	}
	return out
}

// FormatEntry renders one streamed entry as a single line.
func FormatEntry(e knowledge.Entry) string {
	ts := e.Timestamp.UTC().Format("15:04:05")

	switch {
	case e.HasTag(knowledge.TagMessage):
		subject := "-"
		if m, ok := decodeMessage(e); ok {
			subject = m.Payload.Subject
		}
		return fmt.Sprintf("[%s] ✉️  Message: %s, priority=%s: %s",
			ts, strings.TrimPrefix(e.Topic, "message:"), orDash(string(e.Metadata.Priority)), subject)

	case e.HasTag(knowledge.TagSwarmEvent):
		return fmt.Sprintf("[%s] ⚡ Event %s: by=%s", ts, orDash(e.Metadata.EventKind), e.Source)

	case e.HasTag(knowledge.TagPattern):
		score := "-"
		if e.Metadata.SuccessScore != nil {
			score = fmt.Sprintf("%.2f", *e.Metadata.SuccessScore)
		}
		return fmt.Sprintf("[%s] 🧩 Pattern %s: by=%s, score=%s", ts, strings.TrimPrefix(e.Topic, "pattern:"), e.Source, score)

	case e.HasTag(knowledge.TagLearning):
		conf := "-"
		if e.Metadata.Confidence != nil {
			conf = fmt.Sprintf("%.2f", *e.Metadata.Confidence)
		}
		return fmt.Sprintf("[%s] 💡 Learning %s: by=%s, confidence=%s", ts, strings.TrimPrefix(e.Topic, "learning:"), e.Source, conf)

	default:
		return fmt.Sprintf("[%s] 📝 %s %s: by=%s, id=%s", ts, capitalize(string(e.Kind)), e.Topic, e.Source, e.ID)
	}
}

func decodeMessage(e knowledge.Entry) (knowledge.Message, bool) {
	var m knowledge.Message
	if err := json.Unmarshal([]byte(e.Content), &m); err != nil {
		return knowledge.Message{}, false
	}
	return m, true
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
