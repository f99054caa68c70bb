package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/dexarb/internal/crypto"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

// DryRunAdapter executes nothing. It logs the approval and reports success
// with the expected net profit, which keeps the gate's counters moving in
// scan-only deployments.
type DryRunAdapter struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewDryRunAdapter creates a DryRunAdapter.
func NewDryRunAdapter(logger *slog.Logger) *DryRunAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunAdapter{logger: logger.With(slog.String("component", "dry_run_adapter")), now: time.Now}
}

// Name implements Adapter.
func (d *DryRunAdapter) Name() string { return "dry_run" }

// Execute implements Adapter.
func (d *DryRunAdapter) Execute(ctx context.Context, a domain.Approval) (domain.Outcome, error) {
	o := a.Opportunity
	attrs := []any{
		slog.String("chain", o.Chain),
		slog.String("opportunity_id", o.ID),
		slog.String("kind", string(o.Kind)),
		slog.Float64("input_amount", o.InputAmount),
		slog.String("input_token", o.InputToken.Symbol),
		slog.Float64("net_profit", o.NetProfit),
		slog.Bool("private", a.SubmitPrivately),
	}
	for i, leg := range a.Instructions {
		attrs = append(attrs, slog.Group(fmt.Sprintf("leg%d", i),
			slog.String("exchange", leg.Exchange),
			slog.String("from", leg.FromToken.Symbol),
			slog.String("to", leg.ToToken.Symbol),
			slog.String("amount_in", leg.AmountIn.String()),
			slog.String("min_out", leg.MinOut.String()),
		))
	}
	d.logger.InfoContext(ctx, "dry run execution", attrs...)

	return domain.Outcome{
		OpportunityID:  o.ID,
		Chain:          o.Chain,
		Success:        true,
		RealizedProfit: o.NetProfitNative,
		ReportedAt:     d.now(),
	}, nil
}

// WebhookAdapter POSTs each approval as JSON to an external executor. A 200
// response carries the outcome; a 202 means the executor will call back
// later; anything else is a failed execution.
type WebhookAdapter struct {
	url    string
	client *http.Client
	auth   *crypto.HMACAuth
}

// NewWebhookAdapter creates a WebhookAdapter. Per-call deadlines come from
// the caller's context; timeout is the client-wide ceiling.
func NewWebhookAdapter(url string, timeout time.Duration) *WebhookAdapter {
	return &WebhookAdapter{url: url, client: &http.Client{Timeout: timeout}}
}

// WithSigner signs every request body with auth.
func (w *WebhookAdapter) WithSigner(auth *crypto.HMACAuth) *WebhookAdapter {
	w.auth = auth
	return w
}

// Name implements Adapter.
func (w *WebhookAdapter) Name() string { return "webhook" }

// Execute implements Adapter.
func (w *WebhookAdapter) Execute(ctx context.Context, a domain.Approval) (domain.Outcome, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("webhook: marshal approval: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Opportunity-ID", a.Opportunity.ID)
	if w.auth != nil {
		for k, v := range w.auth.Headers(req.Method, req.URL.Path, body) {
			req.Header.Set(k, v)
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out domain.Outcome
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
			return domain.Outcome{}, fmt.Errorf("webhook: decode outcome: %w", err)
		}
		return out, nil
	case http.StatusAccepted:
		return domain.Outcome{}, ErrOutcomePending
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Outcome{}, fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(msg))
	}
}
