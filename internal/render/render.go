// Package render writes knowledge records for the CLI as a table, JSONL or
// YAML.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/hivemind/pkg/knowledge"
	"gopkg.in/yaml.v3"
)

// Format selects the output encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates an --output value. Empty means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSONL, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s (must be 'table', 'jsonl', or 'yaml')", s)
	}
}

// Renderer writes records in one format.
type Renderer struct {
	w      io.Writer
	format Format
	now    func() time.Time
}

// New returns a Renderer writing to w.
func New(w io.Writer, format Format) *Renderer {
	return &Renderer{w: w, format: format, now: time.Now}
}

// Entries writes entries in the order given.
func (r *Renderer) Entries(entries []knowledge.Entry) error {
	switch r.format {
	case FormatJSONL:
		return writeJSONL(r.w, entries)
	case FormatYAML:
		return writeYAML(r.w, entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(r.w, "No entries found")
		return nil
	}

	fmt.Fprintf(r.w, "%-10s %-10s %-24s %-18s %-8s %s\n", "ID", "KIND", "TOPIC", "SOURCE", "AGE", "CONTENT")
	fmt.Fprintf(r.w, "%-10s %-10s %-24s %-18s %-8s %s\n",
		"----------", "----------", "------------------------", "------------------", "--------", "----------------------------------------")
	for _, e := range entries {
		fmt.Fprintf(r.w, "%-10s %-10s %-24s %-18s %-8s %s\n",
			formatID(e.ID),
			e.Kind,
			truncate(e.Topic, 24),
			truncate(orDash(e.Source), 18),
			r.formatAge(e.Timestamp),
			formatContent(e.Content),
		)
	}
	fmt.Fprintf(r.w, "\n%s found\n", plural(len(entries), "entry", "entries"))
	return nil
}

// Patterns writes pattern records.
func (r *Renderer) Patterns(patterns []knowledge.PatternRecord) error {
	switch r.format {
	case FormatJSONL:
		return writeJSONL(r.w, patterns)
	case FormatYAML:
		return writeYAML(r.w, patterns)
	}

	if len(patterns) == 0 {
		fmt.Fprintln(r.w, "No patterns found")
		return nil
	}

	fmt.Fprintf(r.w, "%-24s %-6s %-18s %-8s %s\n", "NAME", "SCORE", "SOURCE", "AGE", "STRATEGY")
	fmt.Fprintf(r.w, "%-24s %-6s %-18s %-8s %s\n",
		"------------------------", "------", "------------------", "--------", "----------------------------------------")
	for _, p := range patterns {
		fmt.Fprintf(r.w, "%-24s %-6.2f %-18s %-8s %s\n",
			truncate(p.Name, 24),
			p.SuccessScore,
			truncate(orDash(p.Source), 18),
			r.formatAge(p.Timestamp),
			formatContent(p.Data.Strategy),
		)
	}
	fmt.Fprintf(r.w, "\n%s found\n", plural(len(patterns), "pattern", "patterns"))
	return nil
}

// Learnings writes learning records.
func (r *Renderer) Learnings(learnings []knowledge.LearningRecord) error {
	switch r.format {
	case FormatJSONL:
		return writeJSONL(r.w, learnings)
	case FormatYAML:
		return writeYAML(r.w, learnings)
	}

	if len(learnings) == 0 {
		fmt.Fprintln(r.w, "No learnings found")
		return nil
	}

	fmt.Fprintf(r.w, "%-18s %-6s %-18s %-8s %s\n", "CATEGORY", "CONF", "SOURCE", "AGE", "INSIGHT")
	fmt.Fprintf(r.w, "%-18s %-6s %-18s %-8s %s\n",
		"------------------", "------", "------------------", "--------", "----------------------------------------")
	for _, l := range learnings {
		fmt.Fprintf(r.w, "%-18s %-6.2f %-18s %-8s %s\n",
			truncate(l.Category, 18),
			l.Confidence,
			truncate(orDash(l.Source), 18),
			r.formatAge(l.Timestamp),
			formatContent(l.Insight),
		)
	}
	fmt.Fprintf(r.w, "\n%s found\n", plural(len(learnings), "learning", "learnings"))
	return nil
}

// Messages writes inbox messages.
func (r *Renderer) Messages(msgs []knowledge.Message) error {
	switch r.format {
	case FormatJSONL:
		return writeJSONL(r.w, msgs)
	case FormatYAML:
		return writeYAML(r.w, msgs)
	}

	if len(msgs) == 0 {
		fmt.Fprintln(r.w, "No messages found")
		return nil
	}

	fmt.Fprintf(r.w, "%-10s %-8s %-18s %-8s %s\n", "ID", "PRIO", "FROM", "AGE", "SUBJECT")
	fmt.Fprintf(r.w, "%-10s %-8s %-18s %-8s %s\n",
		"----------", "--------", "------------------", "--------", "----------------------------------------")
	for _, m := range msgs {
		fmt.Fprintf(r.w, "%-10s %-8s %-18s %-8s %s\n",
			formatID(m.ID),
			m.Priority,
			truncate(m.FromWorker, 18),
			r.formatAge(m.Timestamp),
			formatContent(m.Payload.Subject),
		)
	}
	fmt.Fprintf(r.w, "\n%s found\n", plural(len(msgs), "message", "messages"))
	return nil
}

// Snapshot writes a loaded context. JSONL emits the whole snapshot as one line.
func (r *Renderer) Snapshot(s knowledge.Snapshot) error {
	switch r.format {
	case FormatJSONL:
		return writeJSONL(r.w, []knowledge.Snapshot{s})
	case FormatYAML:
		return writeYAML(r.w, s)
	}

	fmt.Fprintf(r.w, "Context loaded at %s\n\n", s.LoadedAt.Format(time.RFC3339))

	sections := []struct {
		title string
		write func() error
	}{
		{"Patterns", func() error { return r.Patterns(s.Patterns) }},
		{"Learnings", func() error { return r.Learnings(s.Learnings) }},
		{"Recent events", func() error { return r.Entries(s.RecentEvents) }},
		{"Messages", func() error { return r.Messages(s.Messages) }},
	}
	for i, sec := range sections {
		if i > 0 {
			fmt.Fprintln(r.w)
		}
		fmt.Fprintf(r.w, "== %s ==\n", sec.title)
		if err := sec.write(); err != nil {
			return err
		}
	}
	return nil
}

// Stats writes store counters.
func (r *Renderer) Stats(s knowledge.Stats) error {
	switch r.format {
	case FormatJSONL:
		return writeJSONL(r.w, []knowledge.Stats{s})
	case FormatYAML:
		return writeYAML(r.w, s)
	}

	fmt.Fprintf(r.w, "%-22s %s\n", "Namespace:", orDash(s.Namespace))
	fmt.Fprintf(r.w, "%-22s %d\n", "Total entries:", s.TotalEntries)
	for _, k := range []knowledge.Kind{knowledge.KindSemantic, knowledge.KindEpisodic, knowledge.KindProcedural} {
		fmt.Fprintf(r.w, "  %-20s %d\n", string(k)+":", s.ByKind[k])
	}
	fmt.Fprintf(r.w, "%-22s %d\n", "Duplicates rejected:", s.DuplicatesRejected)
	return nil
}

// writeJSONL writes each item as a single JSON object on its own line.
func writeJSONL[T any](w io.Writer, items []T) error {
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// writeYAML renders v through its JSON form so field names and order match
// the JSON output.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal to JSON: %w", err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("failed to convert to YAML: %w", err)
	}
	blockStyle(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("failed to write YAML output: %w", err)
	}
	return enc.Close()
}

// blockStyle clears the flow and quoting styles inherited from JSON.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
