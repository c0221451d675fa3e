// Package sandbox processes charges in memory with verdicts keyed by magic
// tokens, the way processor sandboxes reserve magic card numbers. A key is
// charged exactly once; replays return the recorded verdict.
package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/recurhq/recur/internal/gateway/domain"
)

// Magic tokens. Anything else is approved.
const (
	TokenDeclined    = "tok_sandbox_declined"
	TokenPending     = "tok_sandbox_pending"
	TokenUnavailable = "tok_sandbox_unavailable"
)

const defaultSecret = "sandbox_secret"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "sandbox"
}

func (f *Factory) New(cfg domain.Config) (domain.Gateway, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		secret = defaultSecret
	}
	return &Gateway{
		secret:  secret,
		results: map[string]*domain.ChargeResult{},
	}, nil
}

type Gateway struct {
	secret string

	mu      sync.Mutex
	seq     int64
	results map[string]*domain.ChargeResult
	charges []domain.ChargeRequest
}

func (g *Gateway) Provider() string {
	return "sandbox"
}

func (g *Gateway) Attempt(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	key := strings.TrimSpace(req.IdempotencyKey)
	if req.Amount <= 0 || currency == "" || key == "" {
		return nil, domain.ErrInvalidCharge
	}
	if req.Token == TokenUnavailable {
		return nil, domain.ErrGatewayUnavailable
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if recorded, ok := g.results[key]; ok {
		result := *recorded
		return &result, nil
	}

	g.seq++
	txn := fmt.Sprintf("sandbox_txn_%06d", g.seq)

	verdict := &domain.ChargeResult{Status: domain.StatusSucceeded, TxnID: txn}
	switch req.Token {
	case TokenDeclined:
		verdict = &domain.ChargeResult{Status: domain.StatusFailed, TxnID: txn, FailureReason: "card_declined"}
	case TokenPending:
		verdict = &domain.ChargeResult{Status: domain.StatusPending, TxnID: txn}
	}

	g.results[key] = verdict
	g.charges = append(g.charges, req)

	result := *verdict
	return &result, nil
}

// Charges returns the charges the sandbox has accepted, one per distinct
// idempotency key.
func (g *Gateway) Charges() []domain.ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.ChargeRequest, len(g.charges))
	copy(out, g.charges)
	return out
}

func (g *Gateway) VerifyCallback(ctx context.Context, payload []byte, headers http.Header) error {
	return domain.VerifySignature(g.secret, payload, headers.Get(domain.SignatureHeader))
}

func (g *Gateway) ParseCallback(ctx context.Context, payload []byte) (*domain.CallbackEvent, error) {
	return domain.ParseCallbackPayload(g.Provider(), payload)
}

// SignCallback produces a signature header the sandbox's own VerifyCallback
// accepts, for driving the callback route end to end.
func (g *Gateway) SignCallback(payload []byte, at time.Time) string {
	return domain.BuildSignature(g.secret, payload, at)
}
