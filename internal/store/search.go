package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/dyluth/hivemind/pkg/knowledge"
	"github.com/redis/go-redis/v9"
)

// Search returns entries matching f.
//
// Candidates come from the most selective index (the smallest tag ZSET, else
// the kind ZSET, else every entry), newest first and bounded by maxScan. They
// are hydrated, AND-filtered on kind and tags and scored by how many distinct
// query tokens appear in their topic, content or tags. Entries scoring zero
// are dropped unless the query is empty. Results are ordered by score, then
// newest first.
func (s *Store) Search(ctx context.Context, f knowledge.Filter) ([]knowledge.Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = knowledge.DefaultSearchLimit
	}
	if limit > s.maxScan {
		limit = s.maxScan
	}
	tags := knowledge.NormalizeTags(f.Tags)

	indexKey, err := s.candidateIndex(ctx, f.Kind, tags)
	if err != nil {
		return nil, err
	}

	ids, err := s.rdb.ZRevRange(ctx, indexKey, 0, int64(s.maxScan-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	entries, err := s.hydrate(ctx, ids)
	if err != nil {
		return nil, err
	}

	terms := tokenize(f.Query)
	hits := make([]scored, 0, len(entries))
	for _, e := range entries {
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if !e.HasAllTags(tags) {
			continue
		}
		score := relevance(terms, e)
		if len(terms) > 0 && score == 0 {
			continue
		}
		hits = append(hits, scored{entry: e, score: score})
	}

	sortScored(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]knowledge.Entry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out, nil
}

// candidateIndex picks the smallest index that every match must belong to.
func (s *Store) candidateIndex(ctx context.Context, kind knowledge.Kind, tags []string) (string, error) {
	if len(tags) == 0 {
		if kind != "" {
			return KindIndexKey(s.namespace, kind), nil
		}
		return AllIndexKey(s.namespace), nil
	}

	cards := make([]*redis.IntCmd, len(tags))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, tag := range tags {
			cards[i] = pipe.ZCard(ctx, TagIndexKey(s.namespace, tag))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to size tag indexes: %w", err)
	}

	best := 0
	for i := range cards {
		if cards[i].Val() < cards[best].Val() {
			best = i
		}
	}
	return TagIndexKey(s.namespace, tags[best]), nil
}

// hydrate loads entries by id, keeping index order. Ids whose hash is gone or
// fails to decode are skipped.
func (s *Store) hydrate(ctx context.Context, ids []string) ([]knowledge.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, EntryKey(s.namespace, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read entries from Redis: %w", err)
	}

	entries := make([]knowledge.Entry, 0, len(ids))
	for i, cmd := range cmds {
		hash := cmd.Val()
		if len(hash) == 0 {
			continue
		}
		e, err := HashToEntry(hash)
		if err != nil {
			s.logger.Warn("skipping corrupt entry", "id", ids[i], "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

type scored struct {
	entry knowledge.Entry
	score int
}

func sortScored(hits []scored) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].entry.Timestamp.After(hits[j].entry.Timestamp)
	})
}

// tokenize lower-cases s and splits it on anything that is not a letter or
// digit. Duplicate tokens are removed.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// relevance counts the query terms present in the entry's text.
func relevance(terms []string, e knowledge.Entry) int {
	if len(terms) == 0 {
		return 0
	}

	words := make(map[string]struct{})
	for _, w := range tokenize(e.Topic + " " + e.Content + " " + strings.Join(e.Tags, " ")) {
		words[w] = struct{}{}
	}

	n := 0
	for _, t := range terms {
		if _, ok := words[t]; ok {
			n++
		}
	}
	return n
}
