package knowledge

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Archive defaults.
const (
	DefaultMinSuccessScore = 0.7
	DefaultPatternLimit    = 10
	DefaultMinConfidence   = 0.7
	DefaultLearningLimit   = 20

	// NoThreshold disables score filtering when passed as a minimum.
	NoThreshold = -1.0

	// archiveFetchFactor over-fetches so that threshold filtering still
	// leaves enough records to fill the limit.
	archiveFetchFactor = 3
)

// PatternData is the structured payload of a pattern record.
type PatternData struct {
	Strategy  string   `json:"strategy"`
	RolesUsed []string `json:"roles_used,omitempty"`
	Outcome   string   `json:"outcome,omitempty"`
	Steps     []string `json:"steps,omitempty"`
}

// PatternRecord is a procedural entry carrying a success score.
type PatternRecord struct {
	Name         string            `json:"name"`
	Data         PatternData       `json:"pattern_data"`
	SuccessScore float64           `json:"success_score"`
	Context      map[string]string `json:"context,omitempty"`
	Source       string            `json:"source"`
	Timestamp    time.Time         `json:"timestamp"`
	Entry        Entry             `json:"-"`
}

// LearningRecord is a semantic entry carrying a confidence.
type LearningRecord struct {
	Category   string            `json:"category"`
	Insight    string            `json:"insight"`
	Confidence float64           `json:"confidence"`
	Context    map[string]string `json:"context,omitempty"`
	Source     string            `json:"source"`
	Timestamp  time.Time         `json:"timestamp"`
	Entry      Entry             `json:"-"`
}

// StorePattern records a successful execution pattern. The score is part of
// the identity, so re-recording a pattern with a new score adds a record
// while an identical recording collapses.
func (c *Client) StorePattern(ctx context.Context, name string, data PatternData, successScore float64, attrs map[string]string) (Result, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Result{}, invalid("name", "cannot be empty")
	}
	if strings.TrimSpace(data.Strategy) == "" {
		return Result{}, invalid("pattern_data.strategy", "cannot be empty")
	}

	content, err := json.Marshal(data)
	if err != nil {
		return Result{}, invalid("pattern_data", "not JSON encodable: %v", err)
	}

	return c.Store(ctx, StoreRequest{
		Topic:   "pattern:" + name,
		Content: string(content),
		Kind:    KindProcedural,
		Tags:    []string{TagPattern, TagStrategy, name},
		Metadata: Metadata{
			SuccessScore: Float(successScore),
			Attributes:   attrs,
		},
		MetadataIdentity: true,
	})
}

// PatternQuery narrows RetrievePatterns.
type PatternQuery struct {
	Name            string  // empty = this worker's patterns
	MinSuccessScore float64 // 0 = DefaultMinSuccessScore, NoThreshold = none
	Limit           int     // 0 = DefaultPatternLimit
}

// RetrievePatterns returns patterns at or above the threshold, highest
// success score first. Equal scores keep their search order.
func (c *Client) RetrievePatterns(ctx context.Context, q PatternQuery) []PatternRecord {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPatternLimit
	}
	minScore := threshold(q.MinSuccessScore, DefaultMinSuccessScore)

	// Without a name the scope is this worker's own patterns.
	scope := strings.TrimSpace(q.Name)
	onlySelf := scope == ""
	if onlySelf {
		scope = c.workerType
	}

	entries := c.Search(ctx, SearchRequest{
		Limit:    limit * archiveFetchFactor,
		Kind:     KindProcedural,
		Tags:     []string{TagPattern, scope},
		OnlySelf: onlySelf,
	})

	records := make([]PatternRecord, 0, len(entries))
	for _, e := range entries {
		rec, ok := parsePattern(e)
		if !ok {
			c.logger.Debug("skipping malformed pattern", "id", e.ID)
			continue
		}
		if rec.SuccessScore < minScore {
			continue
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SuccessScore > records[j].SuccessScore
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}

func parsePattern(e Entry) (PatternRecord, bool) {
	if e.Metadata.SuccessScore == nil || !e.HasTag(TagPattern) {
		return PatternRecord{}, false
	}
	var data PatternData
	if err := decodeStrict([]byte(e.Content), &data); err != nil || data.Strategy == "" {
		return PatternRecord{}, false
	}
	return PatternRecord{
		Name:         strings.TrimPrefix(e.Topic, "pattern:"),
		Data:         data,
		SuccessScore: *e.Metadata.SuccessScore,
		Context:      e.Metadata.Attributes,
		Source:       e.Source,
		Timestamp:    e.Timestamp,
		Entry:        e,
	}, true
}

// StoreLearning records an insight under a category.
func (c *Client) StoreLearning(ctx context.Context, category, insight string, confidence float64, attrs map[string]string) (Result, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return Result{}, invalid("category", "cannot be empty")
	}

	return c.Store(ctx, StoreRequest{
		Topic:   "learning:" + category,
		Content: insight,
		Kind:    KindSemantic,
		Tags:    []string{TagLearning, category},
		Metadata: Metadata{
			Confidence: Float(confidence),
			Attributes: attrs,
		},
		MetadataIdentity: true,
	})
}

// LearningQuery narrows RetrieveLearnings.
type LearningQuery struct {
	Category      string  // empty = any category
	MinConfidence float64 // 0 = DefaultMinConfidence, NoThreshold = none
	Limit         int     // 0 = DefaultLearningLimit

	// OnlySelf restricts to this worker's learnings
	// (include_other_workers = false).
	OnlySelf bool
}

// RetrieveLearnings returns learnings at or above the threshold, most
// confident first. Equal confidences keep their search order.
func (c *Client) RetrieveLearnings(ctx context.Context, q LearningQuery) []LearningRecord {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLearningLimit
	}
	minConf := threshold(q.MinConfidence, DefaultMinConfidence)

	tags := []string{TagLearning}
	if cat := strings.TrimSpace(q.Category); cat != "" {
		tags = append(tags, cat)
	}

	entries := c.Search(ctx, SearchRequest{
		Limit:    limit * archiveFetchFactor,
		Kind:     KindSemantic,
		Tags:     tags,
		OnlySelf: q.OnlySelf,
	})

	records := make([]LearningRecord, 0, len(entries))
	for _, e := range entries {
		rec, ok := parseLearning(e)
		if !ok {
			c.logger.Debug("skipping malformed learning", "id", e.ID)
			continue
		}
		if rec.Confidence < minConf {
			continue
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Confidence > records[j].Confidence
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}

func parseLearning(e Entry) (LearningRecord, bool) {
	if e.Metadata.Confidence == nil || !e.HasTag(TagLearning) {
		return LearningRecord{}, false
	}
	return LearningRecord{
		Category:   strings.TrimPrefix(e.Topic, "learning:"),
		Insight:    e.Content,
		Confidence: *e.Metadata.Confidence,
		Context:    e.Metadata.Attributes,
		Source:     e.Source,
		Timestamp:  e.Timestamp,
		Entry:      e,
	}, true
}

func threshold(v, def float64) float64 {
	switch {
	case v < 0:
		return 0
	case v == 0:
		return def
	default:
		return v
	}
}
