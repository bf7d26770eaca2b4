package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Gateway is the transport boundary to the remote knowledge store.
// Implementations never retry; retry policy belongs to the Client.
type Gateway interface {
	// Put stores an entry. A known identity hash yields StatusDuplicate.
	Put(ctx context.Context, e Entry) (Result, error)

	// Query returns entries in the order the remote store ranks them.
	Query(ctx context.Context, f Filter) ([]Entry, error)

	// Health verifies the remote store is reachable.
	Health(ctx context.Context) error

	// Stats returns store-wide counters.
	Stats(ctx context.Context) (Stats, error)
}

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// DefaultTimeout is applied when NewHTTPGateway builds its own http.Client.
const DefaultTimeout = 10 * time.Second

// HTTPGateway speaks the JSON wire protocol over a shared http.Client.
// It is stateless and safe for concurrent use; all callers share the
// client's connection pool.
type HTTPGateway struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewHTTPGateway creates a gateway for the service at baseURL.
// A nil httpClient gets a default client with DefaultTimeout.
func NewHTTPGateway(baseURL string, httpClient *http.Client, logger *slog.Logger) *HTTPGateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  orDiscard(logger),
	}
}

// Put implements Gateway.
func (g *HTTPGateway) Put(ctx context.Context, e Entry) (Result, error) {
	req, err := NewAddRequest(e)
	if err != nil {
		return Result{}, &GatewayError{Op: "add", Err: err}
	}

	var res AddResponse
	if err := g.do(ctx, "add", http.MethodPost, PathAdd, req, &res); err != nil {
		return Result{}, err
	}
	if err := res.Status.Validate(); err != nil {
		return Result{}, &GatewayError{Op: "add", StatusCode: http.StatusOK, Err: err}
	}
	if res.ID == "" {
		return Result{}, &GatewayError{Op: "add", StatusCode: http.StatusOK, Err: fmt.Errorf("response missing id")}
	}
	return res, nil
}

// Query implements Gateway. Raw entries that fail strict decoding are dropped
// and logged rather than failing the whole query.
func (g *HTTPGateway) Query(ctx context.Context, f Filter) ([]Entry, error) {
	req := QueryRequest{
		Query:      f.Query,
		Limit:      f.Limit,
		MemoryType: f.Kind,
		Tags:       f.Tags,
	}

	var res QueryResponse
	if err := g.do(ctx, "search", http.MethodPost, PathSearch, req, &res); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(res.Results))
	for _, raw := range res.Results {
		e, err := raw.Entry()
		if err != nil {
			g.logger.Debug("dropping malformed entry", "id", raw.ID, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Health implements Gateway.
func (g *HTTPGateway) Health(ctx context.Context) error {
	var res HealthResponse
	return g.do(ctx, "health", http.MethodGet, PathHealth, nil, &res)
}

// Stats implements Gateway.
func (g *HTTPGateway) Stats(ctx context.Context) (Stats, error) {
	var res Stats
	if err := g.do(ctx, "stats", http.MethodGet, PathStats, nil, &res); err != nil {
		return Stats{}, err
	}
	return res, nil
}

// do issues one request and decodes a 200 response into out.
// Every failure is returned as a *GatewayError.
func (g *HTTPGateway) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &GatewayError{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return &GatewayError{Op: op, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", errorBody(data))}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// errorBody extracts a readable message from an error response.
func errorBody(data []byte) string {
	var er ErrorResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Error != "" {
		return er.Error
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return "empty response body"
	}
	if len(msg) > 200 {
		msg = msg[:197] + "..."
	}
	return msg
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}
