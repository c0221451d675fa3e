package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	analyticsdomain "github.com/recurhq/recur/internal/analytics/domain"
	auditdomain "github.com/recurhq/recur/internal/audit/domain"
	"github.com/recurhq/recur/internal/authorization"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/internal/config"
	dunningdomain "github.com/recurhq/recur/internal/dunning/domain"
	invoicedomain "github.com/recurhq/recur/internal/invoice/domain"
	obsmetrics "github.com/recurhq/recur/internal/observability/metrics"
	paymentdomain "github.com/recurhq/recur/internal/payment/domain"
	plandomain "github.com/recurhq/recur/internal/plan/domain"
	"github.com/recurhq/recur/internal/scheduler/guard"
	subscriptiondomain "github.com/recurhq/recur/internal/subscription/domain"
	webhookservice "github.com/recurhq/recur/internal/webhook/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Job names, also the keys for EnabledJobs and the per-job interval table.
const (
	JobBillingCycle    = "billing_cycle"
	JobTrialExpiry     = "trial_expiry"
	JobPlanChange      = "plan_change"
	JobPaymentRetry    = "payment_retry"
	JobDunningSweep    = "dunning_sweep"
	JobLateUsage       = "late_usage"
	JobPauseAuto       = "pause_auto"
	JobWebhookDispatch = "webhook_dispatch"
	JobMRRRollup       = "mrr_rollup"
	JobRetentionRollup = "retention_rollup"
)

var ErrInvalidParams = errors.New("scheduler_invalid_params")

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Billing *config.BillingConfigHolder

	SubRepo  subscriptiondomain.Repository
	PlanRepo plandomain.Repository

	InvoiceSvc      invoicedomain.Service
	SubscriptionSvc subscriptiondomain.Service
	PaymentSvc      paymentdomain.Service
	DunningSvc      dunningdomain.Service
	AnalyticsSvc    analyticsdomain.Service
	Dispatcher      *webhookservice.Dispatcher
	AuditSvc        auditdomain.Service
	AuthzSvc        authorization.Service

	Config Config `optional:"true"`
}

// Scheduler drives the periodic billing engine: it claims due work in
// bounded batches and hands each row to the owning service. Every mutation
// it triggers is idempotent, so a crashed run is resumed, not repaired.
type Scheduler struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	billing *config.BillingConfigHolder

	subRepo  subscriptiondomain.Repository
	planRepo plandomain.Repository

	invoiceSvc      invoicedomain.Service
	subscriptionSvc subscriptiondomain.Service
	paymentSvc      paymentdomain.Service
	dunningSvc      dunningdomain.Service
	analyticsSvc    analyticsdomain.Service
	dispatcher      *webhookservice.Dispatcher
	auditSvc        auditdomain.Service
	authzSvc        authorization.Service

	lastRun map[string]time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Billing == nil ||
		p.SubRepo == nil || p.PlanRepo == nil ||
		p.InvoiceSvc == nil || p.SubscriptionSvc == nil || p.PaymentSvc == nil ||
		p.DunningSvc == nil || p.AnalyticsSvc == nil || p.Dispatcher == nil ||
		p.AuditSvc == nil || p.AuthzSvc == nil {
		return nil, ErrInvalidParams
	}
	return &Scheduler{
		db:              p.DB,
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		genID:           p.GenID,
		clock:           p.Clock,
		billing:         p.Billing,
		subRepo:         p.SubRepo,
		planRepo:        p.PlanRepo,
		invoiceSvc:      p.InvoiceSvc,
		subscriptionSvc: p.SubscriptionSvc,
		paymentSvc:      p.PaymentSvc,
		dunningSvc:      p.DunningSvc,
		analyticsSvc:    p.AnalyticsSvc,
		dispatcher:      p.Dispatcher,
		auditSvc:        p.AuditSvc,
		authzSvc:        p.AuthzSvc,
		lastRun:         make(map[string]time.Time),
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(run)
	}
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(run)
	}
	if err == nil {
		return nil
	}

	// Deadline is a soft timeout: the batch resumes on the next tick.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

type jobSpec struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(context.Context) error
}

func (s *Scheduler) jobs() []jobSpec {
	return []jobSpec{
		{JobBillingCycle, s.cfg.BillingCycleInterval, 5 * time.Minute, s.BillingCycleJob},
		{JobTrialExpiry, s.cfg.TrialExpiryInterval, 30 * time.Second, s.TrialExpiryJob},
		{JobPlanChange, s.cfg.PlanChangeInterval, 30 * time.Second, s.PlanChangeJob},
		{JobPaymentRetry, s.cfg.PaymentRetryInterval, time.Minute, s.PaymentRetryJob},
		{JobDunningSweep, s.cfg.DunningSweepInterval, time.Minute, s.DunningSweepJob},
		{JobLateUsage, s.cfg.LateUsageInterval, time.Minute, s.LateUsageJob},
		{JobPauseAuto, s.cfg.PauseAutoInterval, 30 * time.Second, s.PauseAutoJob},
		{JobWebhookDispatch, s.cfg.WebhookDispatchInterval, time.Minute, s.WebhookDispatchJob},
		{JobMRRRollup, s.cfg.MRRRollupInterval, 5 * time.Minute, s.MRRRollupJob},
		{JobRetentionRollup, s.cfg.RetentionRollupInterval, 5 * time.Minute, s.RetentionRollupJob},
	}
}

// RunOnce runs every enabled job a single time, interval table ignored.
// The worker entrypoint and tests drive the engine through this.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, job := range s.jobs() {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, job.Timeout, job.Run))
	}
	return err
}

// runDue runs the enabled jobs whose own period has elapsed.
func (s *Scheduler) runDue(parent context.Context) error {
	now := s.clock.Now()
	var err error
	for _, job := range s.jobs() {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		if last, ok := s.lastRun[job.Name]; ok && now.Sub(last) < job.Interval {
			continue
		}
		s.lastRun[job.Name] = now
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, job.Timeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if lag := time.Since(nextRun); lag > 0 {
			schedMetrics.ObserveRunLoopLag(lag)
		}
		if err := s.runDue(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means every job runs (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// BillingCycleJob closes due billing periods: invoice the closed window,
// finalize scheduled cancellations, swap in pending plan changes, and roll
// the period forward. Replays resume at whichever step is left undone.
func (s *Scheduler) BillingCycleJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobBillingCycle, s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	if err := s.authorizeSystem(ctx, authorization.ObjectSubscription, authorization.ActionSubscriptionRenew); err != nil {
		s.logSchedulerError(run, "scheduler.authorize.failed", JobBillingCycle, err)
		return err
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectInvoice, authorization.ActionInvoiceGenerate); err != nil {
		s.logSchedulerError(run, "scheduler.authorize.failed", JobBillingCycle, err)
		return err
	}

	now := s.clock.Now()
	schedMetrics := obsmetrics.Scheduler()
	var jobErr error

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		subs, err := s.claimSubscriptionsDue(ctx, now, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(run, "scheduler.claim.failed", JobBillingCycle, err)
			return errors.Join(jobErr, err)
		}
		if len(subs) == 0 {
			schedMetrics.IncBatchDeferred(JobBillingCycle, obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty)
			break
		}

		processed := 0
		for _, sub := range subs {
			if ctx.Err() != nil {
				return errors.Join(jobErr, ctx.Err())
			}
			s.logSubscriptionClaimed(JobBillingCycle, sub)
			if err := s.renewSubscription(ctx, run, sub, now); err != nil {
				jobErr = errors.Join(jobErr, err)
				continue
			}
			processed++
		}
		run.AddProcessed(processed)
		schedMetrics.AddBatchProcessed(JobBillingCycle, obsmetrics.LockResourceSubscriptionsDue, processed)
		if processed == 0 {
			break
		}
	}

	return jobErr
}

func (s *Scheduler) renewSubscription(ctx context.Context, run *jobRun, sub WorkSubscription, now time.Time) error {
	if err := guard.EnsureRenewable(sub.Status, sub.CurrentPeriodEnd, now); err != nil {
		return nil
	}

	invoice, err := s.invoiceSvc.GenerateForSubscription(ctx, sub.ID)
	switch {
	case err == nil:
		s.log.Info("invoice.generated",
			zap.String("subscription_id", idString(sub.ID)),
			zap.String("invoice_id", idString(invoice.ID)),
			zap.String("number", invoice.Number),
		)
	case errors.Is(err, invoicedomain.ErrDuplicatePeriod):
		// Replay: the period is already invoiced, resume the roll-forward.
	case errors.Is(err, invoicedomain.ErrPeriodStillOpen), errors.Is(err, invoicedomain.ErrNotBillable):
		return nil
	default:
		obsmetrics.Scheduler().IncRenewalError(obsmetrics.RenewalStageInvoice, err)
		s.logSchedulerError(run, "invoice.generate.failed", JobBillingCycle, err,
			zap.String("subscription_id", idString(sub.ID)),
		)
		return err
	}

	if sub.CancelAtPeriodEnd {
		if _, err := s.subscriptionSvc.Transition(ctx, sub.ID, subscriptiondomain.StatusCancelled, subscriptiondomain.ReasonPeriodEnded); err != nil {
			if errors.Is(err, subscriptiondomain.ErrIllegalTransition) {
				return nil
			}
			obsmetrics.Scheduler().IncRenewalError(obsmetrics.RenewalStageRenew, err)
			s.logSchedulerError(run, "subscription.cancel.failed", JobBillingCycle, err,
				zap.String("subscription_id", idString(sub.ID)),
			)
			return err
		}
		s.emitAudit(ctx, "subscription.cancelled_at_period_end", sub.ID, map[string]any{
			"period_end": sub.CurrentPeriodEnd.Format(time.RFC3339),
		})
		return nil
	}

	if sub.PendingPlanID != nil {
		if _, err := s.subscriptionSvc.ApplyPendingPlanChange(ctx, sub.ID); err != nil {
			obsmetrics.Scheduler().IncRenewalError(obsmetrics.RenewalStageRenew, err)
			s.logSchedulerError(run, "subscription.plan_change.failed", JobBillingCycle, err,
				zap.String("subscription_id", idString(sub.ID)),
			)
			return err
		}
	}

	if err := s.advancePeriod(ctx, sub.ID, sub.CurrentPeriodStart, now); err != nil {
		obsmetrics.Scheduler().IncRenewalError(obsmetrics.RenewalStageRenew, err)
		s.logSchedulerError(run, "subscription.renew.failed", JobBillingCycle, err,
			zap.String("subscription_id", idString(sub.ID)),
		)
		return err
	}

	s.emitAudit(ctx, "subscription.renewed", sub.ID, map[string]any{
		"period_start": sub.CurrentPeriodStart.Format(time.RFC3339),
		"period_end":   sub.CurrentPeriodEnd.Format(time.RFC3339),
	})
	return nil
}

// TrialExpiryJob converts run-out trials to active. The first paid period
// opens at conversion; a cancel scheduled during the trial wins instead.
func (s *Scheduler) TrialExpiryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobTrialExpiry, s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	if err := s.authorizeSystem(ctx, authorization.ObjectSubscription, authorization.ActionSubscriptionRenew); err != nil {
		s.logSchedulerError(run, "scheduler.authorize.failed", JobTrialExpiry, err)
		return err
	}

	now := s.clock.Now()
	schedMetrics := obsmetrics.Scheduler()
	var jobErr error

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		subs, err := s.claimTrialsEnded(ctx, now, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(run, "scheduler.claim.failed", JobTrialExpiry, err)
			return errors.Join(jobErr, err)
		}
		if len(subs) == 0 {
			schedMetrics.IncBatchDeferred(JobTrialExpiry, obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty)
			break
		}

		processed := 0
		for _, sub := range subs {
			if err := guard.EnsureTrialEnded(sub.Status, sub.TrialEnd, now); err != nil {
				continue
			}

			target := subscriptiondomain.StatusActive
			reason := subscriptiondomain.ReasonTrialEnded
			action := "subscription.trial_converted"
			if sub.CancelAtPeriodEnd {
				target = subscriptiondomain.StatusCancelled
				reason = subscriptiondomain.ReasonPeriodEnded
				action = "subscription.cancelled_at_period_end"
			}
			if _, err := s.subscriptionSvc.Transition(ctx, sub.ID, target, reason); err != nil {
				if errors.Is(err, subscriptiondomain.ErrIllegalTransition) {
					continue
				}
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(run, "subscription.trial_expiry.failed", JobTrialExpiry, err,
					zap.String("subscription_id", idString(sub.ID)),
				)
				continue
			}
			processed++
			s.emitAudit(ctx, action, sub.ID, map[string]any{
				"trial_end": sub.TrialEnd.Format(time.RFC3339),
			})
		}
		run.AddProcessed(processed)
		schedMetrics.AddBatchProcessed(JobTrialExpiry, obsmetrics.LockResourceTrialSubscriptions, processed)
		if processed == 0 {
			break
		}
	}

	return jobErr
}

// PlanChangeJob is the catch-up sweep for pending plan changes whose billing
// cycle invoiced the closed period but died before the swap.
func (s *Scheduler) PlanChangeJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobPlanChange, s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	if err := s.authorizeSystem(ctx, authorization.ObjectSubscription, authorization.ActionSubscriptionChangePlan); err != nil {
		s.logSchedulerError(run, "scheduler.authorize.failed", JobPlanChange, err)
		return err
	}

	now := s.clock.Now()
	schedMetrics := obsmetrics.Scheduler()
	var jobErr error

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		subs, err := s.claimPendingPlanChanges(ctx, now, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(run, "scheduler.claim.failed", JobPlanChange, err)
			return errors.Join(jobErr, err)
		}
		if len(subs) == 0 {
			schedMetrics.IncBatchDeferred(JobPlanChange, obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty)
			break
		}

		processed := 0
		for _, sub := range subs {
			if _, err := s.subscriptionSvc.ApplyPendingPlanChange(ctx, sub.ID); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(run, "subscription.plan_change.failed", JobPlanChange, err,
					zap.String("subscription_id", idString(sub.ID)),
				)
				continue
			}
			if err := s.advancePeriod(ctx, sub.ID, sub.CurrentPeriodStart, now); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(run, "subscription.renew.failed", JobPlanChange, err,
					zap.String("subscription_id", idString(sub.ID)),
				)
				continue
			}
			processed++
			s.emitAudit(ctx, "subscription.plan_change_applied", sub.ID, map[string]any{
				"pending_plan_id": idString(*sub.PendingPlanID),
			})
		}
		run.AddProcessed(processed)
		schedMetrics.AddBatchProcessed(JobPlanChange, obsmetrics.LockResourcePendingPlanChanges, processed)
		if processed == 0 {
			break
		}
	}

	return jobErr
}

// PaymentRetryJob charges pending and due-for-retry payment attempts.
func (s *Scheduler) PaymentRetryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobPaymentRetry, s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	if err := s.authorizeSystem(ctx, authorization.ObjectPayment, authorization.ActionPaymentRetry); err != nil {
		s.logSchedulerError(run, "scheduler.authorize.failed", JobPaymentRetry, err)
		return err
	}

	processed, err := s.paymentSvc.RunDue(ctx, s.clock.Now(), s.cfg.BatchSize)
	run.AddProcessed(processed)
	obsmetrics.Scheduler().AddBatchProcessed(JobPaymentRetry, obsmetrics.LockResourcePaymentsDue, processed)
	if err != nil {
		s.logSchedulerError(run, "payment.run_due.failed", JobPaymentRetry, err)
		return err
	}
	return nil
}

// DunningSweepJob flips open invoices past due, then walks the overdue book
// through the reminder, warning and service_blocked ladder.
func (s *Scheduler) DunningSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobDunningSweep, s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	if err := s.authorizeSystem(ctx, authorization.ObjectAccount, authorization.ActionAccountBlock); err != nil {
		s.logSchedulerError(run, "scheduler.authorize.failed", JobDunningSweep, err)
		return err
	}

	var jobErr error
	flipped, err := s.invoiceSvc.SweepOverdue(ctx, s.cfg.BatchSize)
	run.AddProcessed(flipped)
	obsmetrics.Scheduler().AddBatchProcessed(JobDunningSweep, obsmetrics.LockResourceInvoicesOverdue, flipped)
	if err != nil {
		jobErr = errors.Join(jobErr, err)
		s.logSchedulerError(run, "invoice.sweep_overdue.failed", JobDunningSweep, err)
	}

	sent, err := s.dunningSvc.Sweep(ctx, s.clock.Now(), s.cfg.BatchSize)
	run.AddProcessed(sent)
	if err != nil {
		jobErr = errors.Join(jobErr, err)
		s.logSchedulerError(run, "dunning.sweep.failed", JobDunningSweep, err)
	}
	return jobErr
}

// LateUsageJob routes usage that arrived after its period closed.
func (s *Scheduler) LateUsageJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobLateUsage, s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	if err := s.authorizeSystem(ctx, authorization.ObjectInvoice, authorization.ActionInvoiceGenerate); err != nil {
		s.logSchedulerError(run, "scheduler.authorize.failed", JobLateUsage, err)
		return err
	}

	processed, err := s.invoiceSvc.ReconcileLateUsage(ctx, s.cfg.BatchSize)
	run.AddProcessed(processed)
	obsmetrics.Scheduler().AddBatchProcessed(JobLateUsage, obsmetrics.LockResourceLateUsage, processed)
	if err != nil {
		s.logSchedulerError(run, "usage.late_reconcile.failed", JobLateUsage, err)
		return err
	}
	return nil
}

// PauseAutoJob resumes paused subscriptions whose resume timestamp is due
// and cancels those paused past the auto-cancel window.
func (s *Scheduler) PauseAutoJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobPauseAuto, s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	if err := s.authorizeSystem(ctx, authorization.ObjectSubscription, authorization.ActionSubscriptionResume); err != nil {
		s.logSchedulerError(run, "scheduler.authorize.failed", JobPauseAuto, err)
		return err
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectSubscription, authorization.ActionSubscriptionCancel); err != nil {
		s.logSchedulerError(run, "scheduler.authorize.failed", JobPauseAuto, err)
		return err
	}

	now := s.clock.Now()
	autoCancelAfter := time.Duration(s.billing.Get().PauseAutoCancelDays) * 24 * time.Hour
	schedMetrics := obsmetrics.Scheduler()
	var jobErr error

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		subs, err := s.claimPausedDue(ctx, now, now.Add(-autoCancelAfter), s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(run, "scheduler.claim.failed", JobPauseAuto, err)
			return errors.Join(jobErr, err)
		}
		if len(subs) == 0 {
			schedMetrics.IncBatchDeferred(JobPauseAuto, obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty)
			break
		}

		processed := 0
		for _, sub := range subs {
			action, err := guard.PauseDisposition(sub.Status, sub.PausedAt, sub.PauseResumesAt, now, autoCancelAfter)
			if err != nil || action == guard.PauseHold {
				continue
			}

			switch action {
			case guard.PauseResume:
				if _, err := s.subscriptionSvc.Resume(ctx, subscriptiondomain.ResumeSubscriptionRequest{ID: sub.ID.String()}); err != nil {
					if errors.Is(err, subscriptiondomain.ErrIllegalTransition) {
						continue
					}
					jobErr = errors.Join(jobErr, err)
					s.logSchedulerError(run, "subscription.auto_resume.failed", JobPauseAuto, err,
						zap.String("subscription_id", idString(sub.ID)),
					)
					continue
				}
				s.emitAudit(ctx, "subscription.auto_resumed", sub.ID, map[string]any{
					"pause_resumes_at": sub.PauseResumesAt.Format(time.RFC3339),
				})
			case guard.PauseCancel:
				if _, err := s.subscriptionSvc.Transition(ctx, sub.ID, subscriptiondomain.StatusCancelled, subscriptiondomain.ReasonAutoCancel); err != nil {
					if errors.Is(err, subscriptiondomain.ErrIllegalTransition) {
						continue
					}
					jobErr = errors.Join(jobErr, err)
					s.logSchedulerError(run, "subscription.auto_cancel.failed", JobPauseAuto, err,
						zap.String("subscription_id", idString(sub.ID)),
					)
					continue
				}
				s.emitAudit(ctx, "subscription.auto_cancelled", sub.ID, map[string]any{
					"paused_at": sub.PausedAt.Format(time.RFC3339),
				})
			}
			processed++
		}
		run.AddProcessed(processed)
		schedMetrics.AddBatchProcessed(JobPauseAuto, obsmetrics.LockResourcePausedSubscriptions, processed)
		if processed == 0 {
			break
		}
	}

	return jobErr
}

// WebhookDispatchJob delivers one bounded batch of due outbox events.
func (s *Scheduler) WebhookDispatchJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobWebhookDispatch, s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	if err := s.authorizeSystem(ctx, authorization.ObjectWebhookEndpoint, authorization.ActionWebhookDispatch); err != nil {
		s.logSchedulerError(run, "scheduler.authorize.failed", JobWebhookDispatch, err)
		return err
	}

	processed, err := s.dispatcher.DispatchDue(ctx, s.cfg.BatchSize)
	run.AddProcessed(processed)
	obsmetrics.Scheduler().AddBatchProcessed(JobWebhookDispatch, obsmetrics.LockResourceWebhookDeliveries, processed)
	if err != nil {
		s.logSchedulerError(run, "webhook.dispatch.failed", JobWebhookDispatch, err)
		return err
	}
	return nil
}

// MRRRollupJob snapshots monthly recurring revenue per currency.
func (s *Scheduler) MRRRollupJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobMRRRollup, s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	if err := s.authorizeSystem(ctx, authorization.ObjectAnalytics, authorization.ActionAnalyticsRollup); err != nil {
		s.logSchedulerError(run, "scheduler.authorize.failed", JobMRRRollup, err)
		return err
	}

	written, err := s.analyticsSvc.RollupMRR(ctx, s.clock.Now())
	run.AddProcessed(written)
	if err != nil {
		s.logSchedulerError(run, "analytics.mrr_rollup.failed", JobMRRRollup, err)
		return err
	}
	return nil
}

// RetentionRollupJob snapshots churn and retention.
func (s *Scheduler) RetentionRollupJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobRetentionRollup, s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	if err := s.authorizeSystem(ctx, authorization.ObjectAnalytics, authorization.ActionAnalyticsRollup); err != nil {
		s.logSchedulerError(run, "scheduler.authorize.failed", JobRetentionRollup, err)
		return err
	}

	written, err := s.analyticsSvc.RollupRetention(ctx, s.clock.Now())
	run.AddProcessed(written)
	if err != nil {
		s.logSchedulerError(run, "analytics.retention_rollup.failed", JobRetentionRollup, err)
		return err
	}
	return nil
}

func (s *Scheduler) authorizeSystem(ctx context.Context, object string, action string) error {
	return s.authzSvc.Authorize(ctx, "system", object, action)
}

func (s *Scheduler) emitAudit(ctx context.Context, action string, subscriptionID snowflake.ID, metadata map[string]any) {
	targetID := subscriptionID.String()
	if err := s.auditSvc.AuditLog(ctx, "system", nil, action, "subscription", &targetID, metadata); err != nil {
		s.log.Warn("audit log write failed",
			zap.String("action", action),
			zap.String("subscription_id", targetID),
			zap.Error(err),
		)
	}
}
