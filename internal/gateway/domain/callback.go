package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type callbackEnvelope struct {
	ID      string       `json:"id"`
	Type    string       `json:"type"`
	Created int64        `json:"created"`
	Data    callbackData `json:"data"`
}

type callbackData struct {
	Object json.RawMessage `json:"object"`
}

type callbackObject struct {
	ID            string         `json:"id"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	FailureReason string         `json:"failure_reason"`
	Created       int64          `json:"created"`
	Metadata      map[string]any `json:"metadata"`
}

// ParseCallbackPayload decodes a processor callback into the canonical
// event. The envelope mirrors the processor's webhook format: an event id
// and type wrapping the charge object, whose metadata.payment_id names the
// payment the server created when it attempted the charge.
func ParseCallbackPayload(provider string, payload []byte) (*CallbackEvent, error) {
	var envelope callbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(envelope.ID) == "" {
		return nil, ErrInvalidEvent
	}

	eventType := strings.TrimSpace(envelope.Type)
	switch eventType {
	case CallbackPaymentSucceeded, CallbackPaymentFailed:
	default:
		return nil, ErrEventIgnored
	}

	var object callbackObject
	if err := json.Unmarshal(envelope.Data.Object, &object); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(object.ID) == "" {
		return nil, ErrInvalidEvent
	}

	paymentRaw := metadataString(object.Metadata, "payment_id")
	if paymentRaw == "" {
		return nil, ErrInvalidEvent
	}
	paymentID, err := snowflake.ParseString(paymentRaw)
	if err != nil {
		return nil, ErrInvalidEvent
	}

	return &CallbackEvent{
		Provider:      provider,
		EventID:       envelope.ID,
		Type:          eventType,
		TxnID:         object.ID,
		PaymentID:     paymentID,
		Amount:        object.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(object.Currency)),
		FailureReason: strings.TrimSpace(object.FailureReason),
		OccurredAt:    callbackTimestamp(object.Created, envelope.Created),
		RawPayload:    payload,
	}, nil
}

func callbackTimestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func metadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	case int64:
		return strconv.FormatInt(cast, 10)
	case int:
		return strconv.Itoa(cast)
	}
	return ""
}
