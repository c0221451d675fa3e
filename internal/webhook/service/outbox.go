package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OutboxParams struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

// Outbox writes webhook events into the outbox table, one row per matching
// endpoint. Matching happens at write time, on the caller's transaction, so
// an endpoint registered after the event never receives it.
type Outbox struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewOutbox(p OutboxParams) domain.Emitter {
	return &Outbox{
		log:   p.Log.Named("webhook.outbox"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (o *Outbox) Emit(ctx context.Context, tx *gorm.DB, eventType string, payload datatypes.JSONMap) error {
	endpoints, err := o.repo.ListActiveEndpoints(ctx, tx)
	if err != nil {
		return err
	}

	now := o.clock.Now()
	var events []domain.Event
	for _, endpoint := range endpoints {
		if !endpoint.Matches(eventType) {
			continue
		}
		events = append(events, domain.Event{
			ID:          o.genID.Generate(),
			EnvelopeID:  uuid.NewString(),
			EndpointID:  endpoint.ID,
			EndpointURL: endpoint.URL,
			EventType:   eventType,
			Payload:     payload,
			Status:      domain.EventStatusPending,
			CreatedAt:   now,
		})
	}
	if len(events) == 0 {
		return nil
	}

	if err := o.repo.InsertEvents(ctx, tx, events); err != nil {
		return err
	}
	o.log.Debug("webhook event queued",
		zap.String("event_type", eventType),
		zap.Int("endpoints", len(events)),
	)
	return nil
}
