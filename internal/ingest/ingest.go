// Package ingest bulk-loads files from a directory tree into the knowledge
// store as semantic entries.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dyluth/hivemind/internal/logging"
	"github.com/dyluth/hivemind/pkg/knowledge"
)

// DefaultMaxTotalBytes is the aggregate ingest ceiling.
const DefaultMaxTotalBytes int64 = 10 << 20

// TagIngest marks every ingested entry.
const TagIngest = "ingest"

// DefaultExtensions are ingested when Options.Extensions is empty.
var DefaultExtensions = []string{".md", ".txt", ".go", ".py", ".yaml", ".yml", ".json", ".toml"}

// ErrSizeLimit is returned when at least one file was skipped because it
// would have pushed the run past MaxTotalBytes.
var ErrSizeLimit = errors.New("ingest size limit reached")

// Storer is the part of the knowledge client used by Run.
type Storer interface {
	Store(ctx context.Context, req knowledge.StoreRequest) (knowledge.Result, error)
}

// Options configures a run.
type Options struct {
	Root          string
	Extensions    []string // with leading dot; default DefaultExtensions
	MaxTotalBytes int64    // default DefaultMaxTotalBytes
	RepoPath      string   // recorded as metadata.repo_path
	Logger        *slog.Logger
}

// Report summarises a run. Paths are relative to Root, slash separated.
type Report struct {
	Stored      int               `json:"stored"`
	Duplicates  int               `json:"duplicates"`
	Bytes       int64             `json:"bytes"` // content sent, including failed writes
	SkippedSize []string          `json:"skipped_size,omitempty"`
	SkippedType []string          `json:"skipped_type,omitempty"` // empty or not valid UTF-8
	Failed      map[string]string `json:"failed,omitempty"`
	Retryable   []string          `json:"retryable,omitempty"` // subset of Failed that hit a gateway error
}

// Retrier is the part of the knowledge client used by Retry.
type Retrier interface {
	Pending() []knowledge.Slot
	RetryAll(ctx context.Context) knowledge.RetryReport
}

// Retry replays writes buffered during a run and folds the recovered ones
// into report. Files whose write is still pending, or whose fate is unknown
// because the sweep discarded slots, stay in Failed.
func Retry(ctx context.Context, r Retrier, report *Report) knowledge.RetryReport {
	if len(r.Pending()) == 0 {
		return knowledge.RetryReport{}
	}

	retry := r.RetryAll(ctx)
	report.Stored += retry.Succeeded - retry.Duplicates
	report.Duplicates += retry.Duplicates

	if retry.Discarded > 0 {
		return retry
	}
	pending := make(map[string]bool)
	for _, slot := range r.Pending() {
		pending[slot.Entry.Topic] = true
	}
	kept := report.Retryable[:0]
	for _, path := range report.Retryable {
		if pending[path] {
			kept = append(kept, path)
			continue
		}
		delete(report.Failed, path)
	}
	report.Retryable = kept
	return retry
}

// Run walks opts.Root and stores each matching file. Hidden directories are
// skipped. Per-file store failures are recorded in the report and do not stop
// the walk; a cancelled context does.
func Run(ctx context.Context, s Storer, opts Options) (Report, error) {
	var report Report

	if s == nil {
		return report, fmt.Errorf("storer cannot be nil")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return report, fmt.Errorf("failed to resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return report, fmt.Errorf("failed to read root: %w", err)
	}
	if !info.IsDir() {
		return report, fmt.Errorf("root is not a directory: %s", opts.Root)
	}

	maxBytes := opts.MaxTotalBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxTotalBytes
	}
	exts := extensionSet(opts.Extensions)
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !exts[ext] {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		fi, err := d.Info()
		if err != nil {
			return err
		}
		if report.Bytes+fi.Size() > maxBytes {
			logger.Warn("skipping file over ingest limit", "path", rel, "size", fi.Size(), "limit", maxBytes)
			report.SkippedSize = append(report.SkippedSize, rel)
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		if len(strings.TrimSpace(string(data))) == 0 || !utf8.Valid(data) {
			report.SkippedType = append(report.SkippedType, rel)
			return nil
		}

		// Every attempted write counts, buffered ones included.
		report.Bytes += int64(len(data))

		res, err := s.Store(ctx, knowledge.StoreRequest{
			Topic:   rel,
			Content: string(data),
			Kind:    knowledge.KindSemantic,
			Tags:    []string{TagIngest, "ext:" + strings.TrimPrefix(ext, ".")},
			Metadata: knowledge.Metadata{
				FilePath: rel,
				RepoPath: opts.RepoPath,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("failed to store file", "path", rel, "error", err)
			if report.Failed == nil {
				report.Failed = make(map[string]string)
			}
			report.Failed[rel] = err.Error()
			if knowledge.IsGatewayError(err) {
				report.Retryable = append(report.Retryable, rel)
			}
			return nil
		}

		if res.IsDuplicate() {
			report.Duplicates++
		} else {
			report.Stored++
		}
		logger.Debug("ingested file", "path", rel, "id", res.ID, "status", res.Status)
		return nil
	})
	if err != nil {
		return report, err
	}

	if len(report.SkippedSize) > 0 {
		return report, fmt.Errorf("%w: %d file(s) skipped, limit %d bytes", ErrSizeLimit, len(report.SkippedSize), maxBytes)
	}
	return report, nil
}

func extensionSet(exts []string) map[string]bool {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}
