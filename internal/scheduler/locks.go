package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/recurhq/recur/internal/invoice/domain"
	obsmetrics "github.com/recurhq/recur/internal/observability/metrics"
	subscriptiondomain "github.com/recurhq/recur/internal/subscription/domain"
	"gorm.io/gorm"
)

// claimTimeout bounds how long a claim transaction may sit on row locks.
const claimTimeout = 2 * time.Second

// WorkSubscription is the claimed snapshot a job iterates over. The claim
// transaction commits before the per-row work starts, so each mutation
// re-locks its row and revalidates against this snapshot.
type WorkSubscription struct {
	ID                 snowflake.ID
	AccountID          snowflake.ID
	PlanID             snowflake.ID
	Status             subscriptiondomain.Status
	Quantity           int32
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	TrialEnd           *time.Time
	PausedAt           *time.Time
	PauseResumesAt     *time.Time
	PendingPlanID      *snowflake.ID
}

func (s *Scheduler) claimSubscriptionsDue(ctx context.Context, now time.Time, limit int) ([]WorkSubscription, error) {
	return s.claimSubscriptions(ctx, obsmetrics.LockResourceSubscriptionsDue,
		`SELECT id, account_id, plan_id, status, quantity,
		        current_period_start, current_period_end, cancel_at_period_end,
		        trial_end, paused_at, pause_resumes_at, pending_plan_id
		 FROM subscriptions
		 WHERE status IN (?, ?)
		   AND current_period_end <= ?
		 ORDER BY current_period_end ASC, id ASC
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`,
		subscriptiondomain.StatusActive,
		subscriptiondomain.StatusPastDue,
		now,
		limit,
	)
}

func (s *Scheduler) claimTrialsEnded(ctx context.Context, now time.Time, limit int) ([]WorkSubscription, error) {
	return s.claimSubscriptions(ctx, obsmetrics.LockResourceTrialSubscriptions,
		`SELECT id, account_id, plan_id, status, quantity,
		        current_period_start, current_period_end, cancel_at_period_end,
		        trial_end, paused_at, pause_resumes_at, pending_plan_id
		 FROM subscriptions
		 WHERE status = ?
		   AND trial_end IS NOT NULL
		   AND trial_end <= ?
		 ORDER BY trial_end ASC, id ASC
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`,
		subscriptiondomain.StatusTrialing,
		now,
		limit,
	)
}

// claimPendingPlanChanges picks up rows whose billing cycle invoiced the
// closed period but crashed before the plan swap and roll-forward. The EXISTS
// on the cycle invoice keeps a pending change from applying ahead of billing.
func (s *Scheduler) claimPendingPlanChanges(ctx context.Context, now time.Time, limit int) ([]WorkSubscription, error) {
	return s.claimSubscriptions(ctx, obsmetrics.LockResourcePendingPlanChanges,
		`SELECT s.id, s.account_id, s.plan_id, s.status, s.quantity,
		        s.current_period_start, s.current_period_end, s.cancel_at_period_end,
		        s.trial_end, s.paused_at, s.pause_resumes_at, s.pending_plan_id
		 FROM subscriptions s
		 WHERE s.pending_plan_id IS NOT NULL
		   AND s.cancel_at_period_end = ?
		   AND s.status IN (?, ?)
		   AND s.current_period_end <= ?
		   AND EXISTS (
		       SELECT 1 FROM invoices i
		       WHERE i.subscription_id = s.id
		         AND i.period_start = s.current_period_start
		         AND i.origin = ?
		   )
		 ORDER BY s.current_period_end ASC, s.id ASC
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`,
		false,
		subscriptiondomain.StatusActive,
		subscriptiondomain.StatusPastDue,
		now,
		invoicedomain.OriginCycle,
		limit,
	)
}

func (s *Scheduler) claimPausedDue(ctx context.Context, now time.Time, autoCancelCutoff time.Time, limit int) ([]WorkSubscription, error) {
	return s.claimSubscriptions(ctx, obsmetrics.LockResourcePausedSubscriptions,
		`SELECT id, account_id, plan_id, status, quantity,
		        current_period_start, current_period_end, cancel_at_period_end,
		        trial_end, paused_at, pause_resumes_at, pending_plan_id
		 FROM subscriptions
		 WHERE status = ?
		   AND (
		       (pause_resumes_at IS NOT NULL AND pause_resumes_at <= ?)
		    OR (paused_at IS NOT NULL AND paused_at <= ?)
		   )
		 ORDER BY id ASC
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`,
		subscriptiondomain.StatusPaused,
		now,
		autoCancelCutoff,
		limit,
	)
}

func (s *Scheduler) claimSubscriptions(ctx context.Context, resource string, query string, args ...any) ([]WorkSubscription, error) {
	claimCtx, cancel := context.WithTimeout(ctx, claimTimeout)
	defer cancel()

	var subscriptions []WorkSubscription
	lockStart := time.Now()
	err := s.db.WithContext(claimCtx).Transaction(func(tx *gorm.DB) error {
		return tx.Raw(query, args...).Scan(&subscriptions).Error
	})
	obsmetrics.Scheduler().ObserveDBLockWait(resource, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

// advancePeriod rolls the billing window forward once the closed period has
// been invoiced. The expected start makes the roll idempotent: a replay whose
// snapshot is stale updates zero rows and walks away.
func (s *Scheduler) advancePeriod(ctx context.Context, id snowflake.ID, expectedStart time.Time, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.subRepo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if subscription == nil {
			return nil
		}
		if subscription.Status != subscriptiondomain.StatusActive && subscription.Status != subscriptiondomain.StatusPastDue {
			return nil
		}
		if !subscription.CurrentPeriodStart.Equal(expectedStart) {
			return nil
		}

		plan, err := s.planRepo.FindByID(ctx, tx, subscription.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return subscriptiondomain.ErrInvalidPlan
		}

		newStart := subscription.CurrentPeriodEnd
		newEnd := newStart.Add(plan.Interval.PeriodDuration())
		affected, err := s.subRepo.AdvancePeriod(ctx, tx, id, expectedStart, newStart, newEnd, now)
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}

		oldValue := formatPeriod(expectedStart, subscription.CurrentPeriodEnd)
		return s.subRepo.InsertHistory(ctx, tx, &subscriptiondomain.SubscriptionHistory{
			ID:             s.genID.Generate(),
			SubscriptionID: id,
			EventType:      subscriptiondomain.HistoryPeriodAdvanced,
			OldValue:       &oldValue,
			NewValue:       formatPeriod(newStart, newEnd),
			CreatedAt:      now,
		})
	})
}

func formatPeriod(start, end time.Time) string {
	return start.UTC().Format(time.RFC3339) + ".." + end.UTC().Format(time.RFC3339)
}
