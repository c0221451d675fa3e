// Package rest charges through the processor's REST API. A charge is a
// single POST /v1/charges carrying the idempotency key; replays of the same
// key land on the processor's dedupe, so the call is safe to repeat after
// an ambiguous outcome.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/recurhq/recur/internal/gateway/domain"
	obsmetrics "github.com/recurhq/recur/internal/observability/metrics"
)

const maxResponseBytes = 1 << 20

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "rest"
}

func (f *Factory) New(cfg domain.Config) (domain.Gateway, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &Gateway{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		secret:  strings.TrimSpace(cfg.WebhookSecret),
		client:  &http.Client{Timeout: domain.ChargeTimeout},
	}, nil
}

type Gateway struct {
	baseURL string
	apiKey  string
	secret  string
	client  *http.Client
}

func (g *Gateway) Provider() string {
	return "rest"
}

type chargeBody struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Source   string `json:"source"`
}

type chargeResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

func (g *Gateway) Attempt(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	key := strings.TrimSpace(req.IdempotencyKey)
	if req.Amount <= 0 || currency == "" || key == "" {
		return nil, domain.ErrInvalidCharge
	}

	body, err := json.Marshal(chargeBody{
		Amount:   req.Amount,
		Currency: currency,
		Source:   strings.TrimSpace(req.Token),
	})
	if err != nil {
		return nil, domain.ErrInvalidCharge
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return nil, domain.ErrInvalidCharge
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", key)
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	obsmetrics.Engine().ObserveGatewayLatency("rest", "charge", time.Since(start))
	if err != nil {
		// Timeouts and transport failures leave the outcome unknown; the
		// charge may have landed.
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, domain.ErrGatewayUnavailable
	}
	if resp.StatusCode >= http.StatusBadRequest {
		// The processor rejected the request outright; no charge happened.
		return nil, domain.ErrInvalidCharge
	}

	var verdict chargeResponse
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return nil, fmt.Errorf("%w: unreadable verdict", domain.ErrGatewayUnavailable)
	}

	switch domain.Status(strings.ToLower(strings.TrimSpace(verdict.Status))) {
	case domain.StatusSucceeded:
		return &domain.ChargeResult{Status: domain.StatusSucceeded, TxnID: verdict.ID}, nil
	case domain.StatusFailed:
		reason := strings.TrimSpace(verdict.FailureReason)
		if reason == "" {
			reason = "declined"
		}
		return &domain.ChargeResult{Status: domain.StatusFailed, TxnID: verdict.ID, FailureReason: reason}, nil
	case domain.StatusPending:
		return &domain.ChargeResult{Status: domain.StatusPending, TxnID: verdict.ID}, nil
	default:
		return nil, fmt.Errorf("%w: unreadable verdict", domain.ErrGatewayUnavailable)
	}
}

func (g *Gateway) VerifyCallback(ctx context.Context, payload []byte, headers http.Header) error {
	if g.secret == "" {
		return domain.ErrInvalidConfig
	}
	return domain.VerifySignature(g.secret, payload, headers.Get(domain.SignatureHeader))
}

func (g *Gateway) ParseCallback(ctx context.Context, payload []byte) (*domain.CallbackEvent, error) {
	return domain.ParseCallbackPayload(g.Provider(), payload)
}
