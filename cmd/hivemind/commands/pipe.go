package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dyluth/hivemind/pkg/knowledge"
	"github.com/spf13/cobra"
)

// pipeRecord is one input line. Lines with "event" set are logged as events;
// all others are stored as entries.
type pipeRecord struct {
	Topic            string          `json:"topic"`
	Content          string          `json:"content"`
	Kind             knowledge.Kind  `json:"kind"`
	Tags             []string        `json:"tags"`
	Metadata         json.RawMessage `json:"metadata"`
	MetadataIdentity bool            `json:"metadata_identity"`

	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// pipeSummary is printed when the input ends.
type pipeSummary struct {
	Stored     int                   `json:"stored"`
	Duplicates int                   `json:"duplicates"`
	Events     int                   `json:"events"`
	Rejected   int                   `json:"rejected"`
	Buffered   int                   `json:"buffered"` // failed stores held for retry
	Dropped    int                   `json:"dropped"`  // failed stores lost to a full retry buffer
	Retry      knowledge.RetryReport `json:"retry"`
	Overflow   int                   `json:"overflow"`
}

const maxPipeLine = 16 << 20

var pipeCmd = &cobra.Command{
	Use:   "pipe",
	Short: "Store JSON lines read from stdin",
	Long: `Read one JSON object per line from stdin and write it to the knowledge store.

  {"topic":"...","content":"...","kind":"semantic","tags":["..."],"metadata":{...}}
  {"event":"task_started","data":{...}}

Writes that fail while the service is unavailable are buffered and replayed in
the background (retry.interval, with backoff), and once more when stdin
closes. Invalid lines are reported and skipped.

Example:
  my-worker | hivemind pipe -w coder`,
	Args: cobra.NoArgs,
	RunE: runPipe,
}

func init() {
	rootCmd.AddCommand(pipeCmd)
}

func runPipe(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)

	client, err := newClient(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	loopCtx, stopLoop := context.WithCancel(cmd.Context())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := client.RunRetryLoop(loopCtx, cfg.Retry.Interval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("retry loop stopped", "error", err)
		}
	}()

	var sum pipeSummary
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), maxPipeLine)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := pipeLine(cmd.Context(), client, text, &sum); err != nil {
			if knowledge.IsValidationError(err) || isDecodeError(err) {
				sum.Rejected++
				p.Warning("line %d rejected: %v\n", line, err)
				continue
			}
			if knowledge.IsGatewayError(err) {
				// Failed stores were buffered or dropped by pipeLine; failed
				// events sit in the overflow list.
				continue
			}
			stopLoop()
			<-loopDone
			return p.Error("pipe failed", err.Error(), nil)
		}
	}

	stopLoop()
	<-loopDone

	if err := scanner.Err(); err != nil {
		return p.Error("failed to read stdin", err.Error(), nil)
	}

	sum.Retry = client.RetryAll(cmd.Context())
	sum.Overflow = len(client.Overflow())

	data, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)

	if sum.Retry.Remaining > 0 || sum.Overflow > 0 || sum.Dropped > 0 {
		return p.Error(
			"some writes were not stored",
			fmt.Sprintf("%d buffered write(s), %d dropped write(s) and %d event(s) could not be delivered",
				sum.Retry.Remaining, sum.Dropped, sum.Overflow),
			[]string{"Check the service with 'hivemind health'"},
		)
	}
	return nil
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "invalid JSON: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func isDecodeError(err error) bool {
	var de *decodeError
	return errors.As(err, &de)
}

func pipeLine(ctx context.Context, client *knowledge.Client, text string, sum *pipeSummary) error {
	var rec pipeRecord
	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return &decodeError{err: err}
	}

	md, err := knowledge.DecodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	if rec.Event != "" {
		var data any
		if len(rec.Data) > 0 {
			data = rec.Data
		}
		if err := client.LogEvent(ctx, rec.Event, data, &md); err != nil {
			return err
		}
		sum.Events++
		return nil
	}

	if rec.Kind == "" {
		rec.Kind = knowledge.KindSemantic
	}
	dropped := client.DroppedWrites()
	res, err := client.Store(ctx, knowledge.StoreRequest{
		Topic:            rec.Topic,
		Content:          rec.Content,
		Kind:             rec.Kind,
		Tags:             rec.Tags,
		Metadata:         md,
		MetadataIdentity: rec.MetadataIdentity,
	})
	if err != nil {
		if knowledge.IsGatewayError(err) && ctx.Err() == nil {
			if client.DroppedWrites() > dropped {
				sum.Dropped++
			} else {
				sum.Buffered++
			}
		}
		return err
	}
	if res.IsDuplicate() {
		sum.Duplicates++
	} else {
		sum.Stored++
	}
	return nil
}
