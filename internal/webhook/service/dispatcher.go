package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/recurhq/recur/internal/clock"
	obsmetrics "github.com/recurhq/recur/internal/observability/metrics"
	"github.com/recurhq/recur/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	deliveryTimeout = 30 * time.Second
	maxAttempts     = 5
)

// retryBackoff holds the delay before each redelivery, indexed by
// retry_count-1 and capped at the last step.
var retryBackoff = [...]time.Duration{
	3 * time.Minute,
	6 * time.Minute,
	12 * time.Minute,
	24 * time.Minute,
	48 * time.Minute,
}

type deliveryEnvelope struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Created string         `json:"created"`
	Data    map[string]any `json:"data"`
}

type DispatcherParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

// Dispatcher drains the webhook outbox: claims due rows, POSTs them to their
// endpoint, and records the outcome. Delivery is at-least-once; consumers
// dedupe on the event id.
type Dispatcher struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	repo   domain.Repository
	client *http.Client
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		db:     p.DB,
		log:    p.Log.Named("webhook.dispatcher"),
		clock:  p.Clock,
		repo:   p.Repo,
		client: &http.Client{Timeout: deliveryTimeout},
	}
}

// DispatchDue processes one bounded batch of due events and returns how many
// deliveries it attempted. The claim runs in a short transaction; the HTTP
// calls happen after commit so no row lock is held across network I/O.
func (d *Dispatcher) DispatchDue(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	var claimed []domain.Event
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		claimed, err = d.repo.ClaimDueEvents(ctx, tx, d.clock.Now(), batchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	for i := range claimed {
		d.deliver(ctx, &claimed[i])
	}

	if pending, err := d.repo.CountPendingEvents(ctx, d.db); err == nil {
		obsmetrics.Engine().SetWebhookBacklog(pending)
	}
	return len(claimed), nil
}

func (d *Dispatcher) deliver(ctx context.Context, event *domain.Event) {
	deliveryErr := d.post(ctx, event)
	if deliveryErr == nil {
		if err := d.repo.MarkDelivered(ctx, d.db, event.ID, d.clock.Now()); err != nil {
			d.log.Error("failed to record webhook delivery",
				zap.String("event_id", event.ID.String()),
				zap.Error(err),
			)
			return
		}
		obsmetrics.Engine().RecordWebhookDelivery("delivered")
		return
	}

	event.RetryCount++
	message := deliveryErr.Error()
	if len(message) > 512 {
		message = message[:512]
	}
	event.LastError = &message

	if event.RetryCount >= maxAttempts {
		event.Status = domain.EventStatusFailed
		event.NextRetryAt = nil
		obsmetrics.Engine().RecordWebhookDelivery("failed")
		d.log.Warn("webhook delivery abandoned",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", event.EventType),
			zap.Int32("attempts", event.RetryCount),
			zap.String("last_error", message),
		)
	} else {
		step := int(event.RetryCount) - 1
		if step >= len(retryBackoff) {
			step = len(retryBackoff) - 1
		}
		next := d.clock.Now().Add(retryBackoff[step])
		event.Status = domain.EventStatusPending
		event.NextRetryAt = &next
		obsmetrics.Engine().RecordWebhookDelivery("retried")
	}

	if err := d.repo.MarkAttemptFailed(ctx, d.db, event); err != nil {
		d.log.Error("failed to record webhook attempt",
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) post(ctx context.Context, event *domain.Event) error {
	body, err := json.Marshal(deliveryEnvelope{
		ID:      event.EnvelopeID,
		Type:    event.EventType,
		Created: event.CreatedAt.UTC().Format(time.RFC3339),
		Data:    event.Payload,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, event.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}
