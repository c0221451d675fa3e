// Package domain defines the contract between the billing engine and the
// external payment processor. Attempts are synchronous with a bounded round
// trip; anything ambiguous (timeout, 5xx, unreadable verdict) leaves the
// charge outcome unknown and the payment pending until the processor's
// signed callback resolves it.
package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ChargeTimeout bounds a single processor round trip. An attempt that
// exceeds it has an unknown outcome, not a failed one.
const ChargeTimeout = 30 * time.Second

// Status is the processor's verdict on a charge attempt.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusPending   Status = "pending"
)

// Callback event types the processor posts back. Anything else is ignored.
const (
	CallbackPaymentSucceeded = "payment_intent.succeeded"
	CallbackPaymentFailed    = "payment_intent.failed"
)

type ChargeRequest struct {
	Amount         int64
	Currency       string
	Token          string
	IdempotencyKey string
}

type ChargeResult struct {
	Status        Status
	TxnID         string
	FailureReason string
}

// CallbackEvent is the canonical event parsed from a processor callback.
// PaymentID comes from the charge metadata and ties the event back to the
// server-created payment row; TxnID is the processor's own reference.
type CallbackEvent struct {
	Provider      string
	EventID       string
	Type          string
	TxnID         string
	PaymentID     snowflake.ID
	Amount        int64
	Currency      string
	FailureReason string
	OccurredAt    time.Time
	RawPayload    []byte
}

type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
}

// Gateway fronts the external payment processor. Attempt must run outside
// any database transaction: two calls with the same idempotency key produce
// at most one charge, so a retry after an ambiguous outcome is safe.
type Gateway interface {
	Provider() string
	Attempt(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	VerifyCallback(ctx context.Context, payload []byte, headers http.Header) error
	ParseCallback(ctx context.Context, payload []byte) (*CallbackEvent, error)
}

type Factory interface {
	Provider() string
	New(cfg Config) (Gateway, error)
}

var (
	ErrProviderNotFound   = errors.New("gateway_provider_not_found")
	ErrInvalidConfig      = errors.New("invalid_gateway_config")
	ErrInvalidCharge      = errors.New("invalid_charge_request")
	ErrGatewayUnavailable = errors.New("gateway_unavailable")
	ErrInvalidSignature   = errors.New("invalid_callback_signature")
	ErrInvalidPayload     = errors.New("invalid_callback_payload")
	ErrInvalidEvent       = errors.New("invalid_callback_event")
	ErrEventIgnored       = errors.New("callback_event_ignored")
)
