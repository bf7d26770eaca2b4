package commands

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dyluth/hivemind/internal/printer"
	"github.com/dyluth/hivemind/internal/render"
	"github.com/dyluth/hivemind/pkg/knowledge"
	"github.com/spf13/cobra"
)

func newPrinter(cmd *cobra.Command) *printer.Printer {
	return printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
}

func newRenderer(cmd *cobra.Command) (*render.Renderer, error) {
	format, err := render.ParseFormat(outputFlag)
	if err != nil {
		return nil, newPrinter(cmd).Error(
			"invalid output format",
			err.Error(),
			[]string{"Valid formats: table, jsonl, yaml"},
		)
	}
	return render.New(cmd.OutOrStdout(), format), nil
}

func newGateway() *knowledge.HTTPGateway {
	return knowledge.NewHTTPGateway(cfg.Gateway.URL, &http.Client{Timeout: cfg.Gateway.Timeout}, logger)
}

// newClient builds a knowledge client for the configured worker.
func newClient(ctx context.Context, cmd *cobra.Command) (*knowledge.Client, error) {
	if strings.TrimSpace(cfg.Worker.Type) == "" {
		return nil, newPrinter(cmd).Error(
			"worker type not set",
			"Every write and scoped read is attributed to a worker type.",
			[]string{
				"Pass --worker-type, e.g. --worker-type coder",
				"Set worker.type in hivemind.yml or HIVEMIND_WORKER_TYPE",
			},
		)
	}

	return knowledge.New(ctx, newGateway(), knowledge.Options{
		WorkerType:       cfg.Worker.Type,
		InstanceID:       cfg.Worker.InstanceID,
		RetryCapacity:    cfg.Retry.Capacity,
		MaxAttempts:      cfg.Retry.MaxAttempts,
		OverflowCapacity: cfg.Events.OverflowCapacity,
	}, logger)
}

// gatewayError prints a failed remote call with the gateway URL.
func gatewayError(cmd *cobra.Command, title string, err error) error {
	return newPrinter(cmd).ErrorWithContext(
		title,
		err.Error(),
		map[string]string{"Gateway": cfg.Gateway.URL},
		[]string{"Check the service with 'hivemind health'"},
	)
}

// parseAttrs parses repeated key=value flags.
func parseAttrs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	attrs := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid attribute %q (expected key=value)", p)
		}
		attrs[k] = strings.TrimSpace(v)
	}
	return attrs, nil
}

func parseKind(s string) (knowledge.Kind, error) {
	if s == "" {
		return "", nil
	}
	k := knowledge.Kind(strings.ToLower(s))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

func parsePriority(s string) (knowledge.Priority, error) {
	if s == "" {
		return "", nil
	}
	p := knowledge.Priority(strings.ToLower(s))
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

// describeResult prints the outcome of a write.
func describeResult(cmd *cobra.Command, what string, res knowledge.Result) {
	p := newPrinter(cmd)
	if res.IsDuplicate() {
		p.Info("%s already stored as %s (duplicate)\n", what, res.ID)
		return
	}
	p.Success("%s stored as %s\n", what, res.ID)
}
