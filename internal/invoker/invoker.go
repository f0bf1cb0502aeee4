// Package invoker executes command cells. The Webhook invoker posts the
// cell and variable context to an external executor endpoint; the Local
// invoker substitutes variables and echoes the content, useful for
// development and tests.
package invoker

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ashita-ai/renga/internal/model"
)

// Substitute replaces {{key}} placeholders in content with values from
// vars. Non-string values are rendered with %v. Unknown keys are left
// untouched so the executor can see what was missing.
func Substitute(content string, vars map[string]any) string {
	if len(vars) == 0 || !strings.Contains(content, "{{") {
		return content
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		var rendered string
		switch val := v.(type) {
		case string:
			rendered = val
		default:
			rendered = fmt.Sprintf("%v", val)
		}
		pairs = append(pairs, "{{"+k+"}}", rendered)
	}
	return strings.NewReplacer(pairs...).Replace(content)
}

// Webhook posts command cells to an external executor over HTTP.
type Webhook struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewWebhook creates a webhook invoker targeting endpoint.
func NewWebhook(endpoint string, timeout time.Duration, logger *slog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Webhook{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// webhookRequest is the body posted to the executor endpoint.
type webhookRequest struct {
	CellID    string         `json:"cell_id"`
	CellType  string         `json:"cell_type"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Invoke posts the cell (with {{key}} placeholders substituted) and the
// variable context to the executor and returns the decoded response body.
func (w *Webhook) Invoke(ctx context.Context, cell model.Cell, vars map[string]any) (any, error) {
	body, err := json.Marshal(webhookRequest{
		CellID:    cell.ID.String(),
		CellType:  string(cell.CellType),
		Title:     cell.Title,
		Content:   Substitute(cell.Content, vars),
		Variables: vars,
	})
	if err != nil {
		return nil, fmt.Errorf("invoker: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("invoker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	started := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoker: call executor: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("invoker: read response: %w", err)
	}

	w.logger.Debug("executor call finished",
		"cell_id", cell.ID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(started).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("invoker: executor returned %d: %s", resp.StatusCode, snippet(payload))
	}

	if len(payload) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(payload, &out); err != nil {
		// Not JSON; surface the raw body as the output.
		return string(payload), nil
	}
	return out, nil
}

func snippet(b []byte) string {
	const max = 256
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// Local substitutes variables into the cell content and returns it as the
// output without calling anything.
type Local struct{}

// Invoke returns the substituted cell content.
func (Local) Invoke(ctx context.Context, cell model.Cell, vars map[string]any) (any, error) {
	return Substitute(cell.Content, vars), nil
}
