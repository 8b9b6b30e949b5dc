package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"troffee-auction-engine/internal/adapters/metrics"
	"troffee-auction-engine/internal/domain/shared"
	"troffee-auction-engine/internal/ports/outbound"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type createHoldRequest struct {
	CustomerRef string          `json:"customer_ref"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

type holdResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// HTTPGateway talks to the payment processor's hold API
type HTTPGateway struct {
	baseURL  string
	apiKey   string
	currency string
	http     *http.Client
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

type HTTPGatewayParams struct {
	BaseURL    string
	APIKey     string
	Currency   string
	HTTPClient *http.Client
	Metrics    *metrics.Collector
	Logger     zerolog.Logger
}

var _ outbound.PaymentGateway = (*HTTPGateway)(nil)

func NewHTTPGateway(params HTTPGatewayParams) *HTTPGateway {
	client := params.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	return &HTTPGateway{
		baseURL:  params.BaseURL,
		apiKey:   params.APIKey,
		currency: params.Currency,
		http:     client,
		metrics:  params.Metrics,
		logger:   params.Logger.With().Str("component", "payment_gateway").Logger(),
	}
}

// CreateHold authorizes amount against the customer and returns the hold reference
func (g *HTTPGateway) CreateHold(ctx context.Context, bidderRef string, amount decimal.Decimal) (string, error) {
	defer g.metrics.ObserveGateway("hold", time.Now())

	var out holdResponse
	err := g.do(ctx, http.MethodPost, "/holds", "", createHoldRequest{
		CustomerRef: bidderRef,
		Amount:      amount,
		Currency:    g.currency,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: hold response without id", shared.ErrGatewayDeclined)
	}

	g.logger.Info().Str("bidder_id", bidderRef).Str("hold_ref", out.ID).Str("amount", amount.String()).Msg("Payment hold created")
	return out.ID, nil
}

// Capture charges a previously authorized hold. Repeated captures of the same
// hold share an idempotency key, so the processor charges it at most once.
func (g *HTTPGateway) Capture(ctx context.Context, holdRef string) error {
	defer g.metrics.ObserveGateway("capture", time.Now())

	if err := g.do(ctx, http.MethodPost, "/holds/"+url.PathEscape(holdRef)+"/capture", "capture-"+holdRef, nil, nil); err != nil {
		return err
	}

	g.logger.Info().Str("hold_ref", holdRef).Msg("Payment hold captured")
	return nil
}

// Cancel releases a hold without charging it
func (g *HTTPGateway) Cancel(ctx context.Context, holdRef string) error {
	defer g.metrics.ObserveGateway("cancel", time.Now())

	if err := g.do(ctx, http.MethodPost, "/holds/"+url.PathEscape(holdRef)+"/cancel", "cancel-"+holdRef, nil, nil); err != nil {
		return err
	}

	g.logger.Info().Str("hold_ref", holdRef).Msg("Payment hold cancelled")
	return nil
}

// do sends a JSON request. Network failures, timeouts and 5xx responses are
// transient; other non-2xx responses are declines.
func (g *HTTPGateway) do(ctx context.Context, method, path, idempotencyKey string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal gateway request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	res, err := g.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %v", shared.ErrGatewayUnavailable, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s returned %d", shared.ErrGatewayUnavailable, method, path, res.StatusCode)
	case res.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%w: %s %s returned %d: %s", shared.ErrGatewayDeclined, method, path, res.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}
