package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/recurhq/recur/internal/account/domain"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/internal/config"
	creditdomain "github.com/recurhq/recur/internal/credit/domain"
	"github.com/recurhq/recur/internal/invoice/domain"
	ledgerdomain "github.com/recurhq/recur/internal/ledger/domain"
	obsmetrics "github.com/recurhq/recur/internal/observability/metrics"
	paymentdomain "github.com/recurhq/recur/internal/payment/domain"
	paymentmethoddomain "github.com/recurhq/recur/internal/paymentmethod/domain"
	plandomain "github.com/recurhq/recur/internal/plan/domain"
	"github.com/recurhq/recur/internal/pricing"
	subscriptiondomain "github.com/recurhq/recur/internal/subscription/domain"
	taxdomain "github.com/recurhq/recur/internal/tax/domain"
	usagedomain "github.com/recurhq/recur/internal/usage/domain"
	webhookdomain "github.com/recurhq/recur/internal/webhook/domain"
	"github.com/recurhq/recur/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Billing     *config.BillingConfigHolder
	Repo        domain.Repository
	SubRepo     subscriptiondomain.Repository
	AccountRepo accountdomain.Repository
	PlanRepo    plandomain.Repository
	UsageRepo   usagedomain.Repository
	MethodRepo  paymentmethoddomain.Repository
	PaymentRepo paymentdomain.Repository
	Tax         taxdomain.Resolver
	CreditSvc   creditdomain.Service
	LedgerSvc   ledgerdomain.Service
	Outbox      webhookdomain.Emitter
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	billing     *config.BillingConfigHolder
	repo        domain.Repository
	subRepo     subscriptiondomain.Repository
	accountRepo accountdomain.Repository
	planRepo    plandomain.Repository
	usageRepo   usagedomain.Repository
	methodRepo  paymentmethoddomain.Repository
	paymentRepo paymentdomain.Repository
	tax         taxdomain.Resolver
	creditSvc   creditdomain.Service
	ledgerSvc   ledgerdomain.Service
	outbox      webhookdomain.Emitter
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("invoice.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		billing:     p.Billing,
		repo:        p.Repo,
		subRepo:     p.SubRepo,
		accountRepo: p.AccountRepo,
		planRepo:    p.PlanRepo,
		usageRepo:   p.UsageRepo,
		methodRepo:  p.MethodRepo,
		paymentRepo: p.PaymentRepo,
		tax:         p.Tax,
		creditSvc:   p.CreditSvc,
		ledgerSvc:   p.LedgerSvc,
		outbox:      p.Outbox,
	}
}

func (s *Service) GenerateForSubscription(ctx context.Context, subscriptionID snowflake.ID) (*domain.Invoice, error) {
	now := s.clock.Now()
	cfg := s.billing.Get()

	var invoice *domain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.subRepo.FindByIDForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return domain.ErrSubscriptionNotFound
		}
		if subscription.Status != subscriptiondomain.StatusActive && subscription.Status != subscriptiondomain.StatusPastDue {
			return domain.ErrNotBillable
		}
		if subscription.CurrentPeriodEnd.After(now) {
			return domain.ErrPeriodStillOpen
		}
		existing, err := s.repo.FindCycleForPeriod(ctx, tx, subscription.ID, subscription.CurrentPeriodStart)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrDuplicatePeriod
		}

		account, plan, err := s.loadBillingParties(ctx, tx, subscription)
		if err != nil {
			return err
		}

		var usage []pricing.UsageTotal
		if plan.Metered() {
			totals, err := s.usageRepo.SumForPeriod(ctx, tx, subscription.ID, "", subscription.CurrentPeriodStart, subscription.CurrentPeriodEnd)
			if err != nil {
				return err
			}
			usage = usageTotals(totals)
		}

		lines := pricing.CycleLines(pricing.CycleInput{
			Plan:        *plan,
			Quantity:    int64(subscription.Quantity),
			PeriodStart: subscription.CurrentPeriodStart,
			PeriodEnd:   subscription.CurrentPeriodEnd,
			Usage:       usage,
		})
		subtotal := pricing.Subtotal(lines)
		assessment := s.tax.AssessInvoice(ctx, account, subtotal, account.Currency, lineHints(lines))

		seq, err := s.repo.NextNumber(ctx, tx)
		if err != nil {
			return err
		}
		invoice = &domain.Invoice{
			ID:             s.genID.Generate(),
			Number:         domain.FormatNumber(seq),
			AccountID:      account.ID,
			SubscriptionID: subscription.ID,
			Status:         domain.StatusOpen,
			Origin:         domain.OriginCycle,
			Currency:       account.Currency,
			Subtotal:       subtotal,
			Tax:            assessment.Amount,
			AmountDue:      subtotal + assessment.Amount,
			PeriodStart:    subscription.CurrentPeriodStart,
			PeriodEnd:      subscription.CurrentPeriodEnd,
			DueDate:        now.Add(time.Duration(cfg.InvoiceDueDays) * 24 * time.Hour),
			Metadata:       datatypes.JSONMap{},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.openInvoice(ctx, tx, invoice, lines, now); err != nil {
			return err
		}

		if plan.Metered() {
			if _, err := s.usageRepo.MarkBilledWindow(ctx, tx, subscription.ID, invoice.PeriodStart, invoice.PeriodEnd, invoice.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice generated",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("number", invoice.Number),
		zap.String("subscription_id", subscriptionID.String()),
		zap.Int64("amount_due", invoice.AmountDue),
	)
	return invoice, nil
}

func (s *Service) CreateProrationInvoice(ctx context.Context, tx *gorm.DB, input subscriptiondomain.ProrationInvoiceInput) (snowflake.ID, error) {
	subscription := input.Subscription
	if subscription == nil {
		return 0, domain.ErrSubscriptionNotFound
	}
	now := input.ChangeAt
	cfg := s.billing.Get()

	account, newPlan, err := s.loadBillingParties(ctx, tx, subscription)
	if err != nil {
		return 0, err
	}
	oldPlan, err := s.planRepo.FindByID(ctx, tx, input.OldPlanID)
	if err != nil {
		return 0, err
	}
	if oldPlan == nil {
		return 0, domain.ErrPlanNotFound
	}

	lines := pricing.Proration(pricing.ProrationInput{
		OldPlanName: oldPlan.Name,
		NewPlanName: newPlan.Name,
		OldAmount:   oldPlan.Amount * int64(input.OldQuantity),
		NewAmount:   newPlan.Amount * int64(subscription.Quantity),
		ChangeAt:    input.ChangeAt,
		PeriodStart: subscription.CurrentPeriodStart,
		PeriodEnd:   subscription.CurrentPeriodEnd,
	})
	if len(lines) == 0 {
		return 0, nil
	}

	subtotal := pricing.Subtotal(lines)
	var assessment taxdomain.Assessment
	if subtotal > 0 {
		assessment = s.tax.AssessInvoice(ctx, account, subtotal, account.Currency, lineHints(lines))
	}

	seq, err := s.repo.NextNumber(ctx, tx)
	if err != nil {
		return 0, err
	}
	invoice := &domain.Invoice{
		ID:             s.genID.Generate(),
		Number:         domain.FormatNumber(seq),
		AccountID:      account.ID,
		SubscriptionID: subscription.ID,
		Status:         domain.StatusOpen,
		Origin:         domain.OriginProration,
		Currency:       account.Currency,
		Subtotal:       subtotal,
		Tax:            assessment.Amount,
		AmountDue:      subtotal + assessment.Amount,
		PeriodStart:    input.ChangeAt,
		PeriodEnd:      subscription.CurrentPeriodEnd,
		DueDate:        now.Add(time.Duration(cfg.ProrationDueDays) * 24 * time.Hour),
		Metadata:       datatypes.JSONMap{domain.MetaProration: true},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// A downgrade can net below zero. The invoice then settles at zero and
	// the remainder is banked as an account credit.
	var surplus int64
	if invoice.AmountDue < 0 {
		surplus = -invoice.AmountDue
		invoice.AmountDue = 0
	}
	if err := s.openInvoice(ctx, tx, invoice, lines, now); err != nil {
		return 0, err
	}
	if surplus > 0 {
		if _, err := s.creditSvc.GrantForInvoice(ctx, tx, invoice, surplus, creditdomain.ReasonDowngradeSurplus); err != nil {
			return 0, err
		}
	}

	s.log.Info("proration invoice issued",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("number", invoice.Number),
		zap.String("subscription_id", subscription.ID.String()),
		zap.Int64("amount_due", invoice.AmountDue),
	)
	return invoice.ID, nil
}

func (s *Service) Void(ctx context.Context, req domain.VoidInvoiceRequest) (domain.Invoice, error) {
	id, err := parseID(req.ID, domain.ErrInvalidID)
	if err != nil {
		return domain.Invoice{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.Invoice{}, domain.ErrInvalidReason
	}

	now := s.clock.Now()
	var result domain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return domain.ErrNotFound
		}

		switch {
		case invoice.Status == domain.StatusVoid:
			return domain.ErrIllegalTransition
		case invoice.Status == domain.StatusPaid:
			if !req.AllowPaidReversal {
				return domain.ErrIllegalTransition
			}
			if invoice.AmountPaid > 0 {
				if _, err := s.creditSvc.GrantForInvoice(ctx, tx, invoice, invoice.AmountPaid, creditdomain.ReasonRefundFromVoid); err != nil {
					return err
				}
			}
		default:
			// Drafts were never posted, so there is nothing to write off.
			if invoice.Status != domain.StatusDraft && invoice.AmountDue > 0 {
				if err := s.ledgerSvc.CreateEntry(ctx, tx, ledgerdomain.CreateEntryInput{
					SourceType: ledgerdomain.SourceAdjustment,
					SourceID:   invoice.ID,
					Currency:   invoice.Currency,
					OccurredAt: now,
					Lines:      ledgerdomain.WriteOffPosting(invoice.AmountDue),
				}); err != nil {
					return err
				}
			}
		}

		if _, err := s.paymentRepo.CancelOpen(ctx, tx, invoice.ID, now); err != nil {
			return err
		}

		if invoice.Metadata == nil {
			invoice.Metadata = datatypes.JSONMap{}
		}
		invoice.Metadata[domain.MetaVoidReason] = reason
		invoice.Status = domain.StatusVoid
		voidedAt := now
		invoice.VoidedAt = &voidedAt
		invoice.UpdatedAt = now
		if err := s.repo.UpdateAmounts(ctx, tx, invoice); err != nil {
			return err
		}

		payload := invoicePayload(invoice)
		payload["reason"] = reason
		if err := s.outbox.Emit(ctx, tx, "invoice.voided", payload); err != nil {
			return err
		}
		result = *invoice
		return nil
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	s.log.Info("invoice voided",
		zap.String("invoice_id", result.ID.String()),
		zap.String("reason", reason),
	)
	return result, nil
}

func (s *Service) SweepOverdue(ctx context.Context, batchSize int) (int, error) {
	now := s.clock.Now()
	var swept int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoices, err := s.repo.ClaimOverdue(ctx, tx, now, batchSize)
		if err != nil {
			return err
		}
		for _, invoice := range invoices {
			invoice.Status = domain.StatusPastDue
			invoice.UpdatedAt = now
			if err := s.repo.UpdateAmounts(ctx, tx, invoice); err != nil {
				return err
			}
			if err := s.outbox.Emit(ctx, tx, "invoice.past_due", invoicePayload(invoice)); err != nil {
				return err
			}
		}
		swept = len(invoices)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		s.log.Info("overdue invoices swept", zap.Int("count", swept))
	}
	return swept, nil
}

func (s *Service) ReconcileLateUsage(ctx context.Context, batchSize int) (int, error) {
	now := s.clock.Now()
	cfg := s.billing.Get()
	grace := time.Duration(cfg.LateUsageGraceDays) * 24 * time.Hour

	var handled int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		arrivals, err := s.usageRepo.FindLateArrivals(ctx, tx, batchSize)
		if err != nil {
			return err
		}
		for _, group := range groupLateArrivals(arrivals) {
			if now.After(group.periodEnd.Add(grace)) {
				if _, err := s.usageRepo.MarkDropped(ctx, tx, group.recordIDs, now); err != nil {
					return err
				}
				s.log.Warn("late usage dropped past grace",
					zap.String("subscription_id", group.subscriptionID.String()),
					zap.Int("records", len(group.recordIDs)),
				)
				handled += len(group.recordIDs)
				continue
			}
			if err := s.reconcileGroup(ctx, tx, group, now, cfg); err != nil {
				return err
			}
			handled += len(group.recordIDs)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return handled, nil
}

func (s *Service) GetByID(ctx context.Context, req domain.GetInvoiceRequest) (domain.Invoice, error) {
	id, err := parseID(req.ID, domain.ErrInvalidID)
	if err != nil {
		return domain.Invoice{}, err
	}
	invoice, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if invoice == nil {
		return domain.Invoice{}, domain.ErrNotFound
	}
	items, err := s.repo.ListLineItems(ctx, s.db, invoice.ID)
	if err != nil {
		return domain.Invoice{}, err
	}
	invoice.LineItems = items
	return *invoice, nil
}

func (s *Service) List(ctx context.Context, req domain.ListInvoiceRequest) (domain.ListInvoiceResponse, error) {
	filter := domain.ListInvoiceFilter{}
	if strings.TrimSpace(req.AccountID) != "" {
		accountID, err := parseID(req.AccountID, domain.ErrInvalidID)
		if err != nil {
			return domain.ListInvoiceResponse{}, err
		}
		filter.AccountID = int64(accountID)
	}
	if strings.TrimSpace(req.SubscriptionID) != "" {
		subscriptionID, err := parseID(req.SubscriptionID, domain.ErrInvalidID)
		if err != nil {
			return domain.ListInvoiceResponse{}, err
		}
		filter.SubscriptionID = int64(subscriptionID)
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		parsed := domain.Status(strings.ToLower(status))
		if !parsed.Valid() {
			return domain.ListInvoiceResponse{}, domain.ErrInvalidStatus
		}
		filter.Status = &parsed
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListInvoiceResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(invoice *domain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        invoice.ID.String(),
			CreatedAt: invoice.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	invoices := make([]domain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}

	resp := domain.ListInvoiceResponse{Invoices: invoices}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// openInvoice persists a freshly priced invoice and runs the shared tail
// of the issuing pipeline: credit application, ledger posting, outbox
// events, and the initial payment enqueue. The invoice arrives open with
// AmountDue already set.
func (s *Service) openInvoice(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice, lines []pricing.Line, now time.Time) error {
	if err := s.repo.Insert(ctx, tx, invoice); err != nil {
		return err
	}
	items := s.buildLineItems(invoice.ID, lines, 0, now)
	if err := s.repo.InsertLineItems(ctx, tx, items); err != nil {
		return err
	}
	invoice.LineItems = items

	if _, err := s.creditSvc.ApplyToInvoice(ctx, tx, invoice); err != nil {
		return err
	}
	s.settleIfZero(invoice, now)
	invoice.UpdatedAt = now
	if err := s.repo.UpdateAmounts(ctx, tx, invoice); err != nil {
		return err
	}

	if total := invoice.Total(); total != 0 {
		flat, usage := postingSplit(lines)
		if err := s.ledgerSvc.CreateEntry(ctx, tx, ledgerdomain.CreateEntryInput{
			SourceType: ledgerdomain.SourceBillingCycle,
			SourceID:   invoice.ID,
			Currency:   invoice.Currency,
			OccurredAt: now,
			Lines:      ledgerdomain.InvoicePosting(total, flat, usage, invoice.Tax),
		}); err != nil {
			return err
		}
	}

	if err := s.outbox.Emit(ctx, tx, "invoice.created", invoicePayload(invoice)); err != nil {
		return err
	}
	if invoice.Status == domain.StatusPaid {
		if err := s.outbox.Emit(ctx, tx, "invoice.paid", invoicePayload(invoice)); err != nil {
			return err
		}
	}
	if invoice.Status == domain.StatusOpen && invoice.AmountDue > 0 {
		if err := s.enqueuePayment(ctx, tx, invoice, now); err != nil {
			return err
		}
	}

	obsmetrics.Engine().RecordInvoiceIssued(invoice.Origin, invoice.Currency, invoice.Total())
	return nil
}

// enqueuePayment inserts the pending attempt row the retry worker will
// pick up. No gateway I/O happens here; the row is due immediately.
func (s *Service) enqueuePayment(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice, now time.Time) error {
	method, err := s.methodRepo.FindDefault(ctx, tx, invoice.AccountID)
	if err != nil {
		return err
	}
	if method == nil || method.Expired(now) {
		return nil
	}
	payment := paymentdomain.Payment{
		ID:              s.genID.Generate(),
		InvoiceID:       invoice.ID,
		AccountID:       invoice.AccountID,
		Amount:          invoice.AmountDue,
		Currency:        invoice.Currency,
		Status:          paymentdomain.StatusPending,
		PaymentMethodID: &method.ID,
		IdempotencyKey:  paymentdomain.ServerKey(invoice.ID),
		NextRetryAt:     &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err = s.paymentRepo.Insert(ctx, tx, &payment)
	return err
}

type lateGroup struct {
	invoiceID      snowflake.ID
	subscriptionID snowflake.ID
	periodStart    time.Time
	periodEnd      time.Time
	recordIDs      []snowflake.ID
	quantities     map[string]int64
}

// groupLateArrivals buckets records by period invoice. A record can match
// two invoices when a voided period was regenerated; the first match wins
// so the record is billed exactly once.
func groupLateArrivals(arrivals []usagedomain.LateArrival) []*lateGroup {
	var groups []*lateGroup
	index := make(map[snowflake.ID]*lateGroup)
	seen := make(map[snowflake.ID]bool)
	for _, arrival := range arrivals {
		if seen[arrival.RecordID] {
			continue
		}
		seen[arrival.RecordID] = true
		group, ok := index[arrival.InvoiceID]
		if !ok {
			group = &lateGroup{
				invoiceID:      arrival.InvoiceID,
				subscriptionID: arrival.SubscriptionID,
				periodStart:    arrival.PeriodStart,
				periodEnd:      arrival.PeriodEnd,
				quantities:     make(map[string]int64),
			}
			index[arrival.InvoiceID] = group
			groups = append(groups, group)
		}
		group.recordIDs = append(group.recordIDs, arrival.RecordID)
		group.quantities[arrival.Metric] += arrival.Quantity
	}
	return groups
}

func (s *Service) reconcileGroup(ctx context.Context, tx *gorm.DB, group *lateGroup, now time.Time, cfg config.BillingConfig) error {
	invoice, err := s.repo.FindByIDForUpdate(ctx, tx, group.invoiceID)
	if err != nil {
		return err
	}
	subscription, err := s.subRepo.FindByID(ctx, tx, group.subscriptionID)
	if err != nil {
		return err
	}
	if invoice == nil || subscription == nil {
		_, err := s.usageRepo.MarkDropped(ctx, tx, group.recordIDs, now)
		return err
	}
	account, plan, err := s.loadBillingParties(ctx, tx, subscription)
	if err != nil {
		return err
	}

	billed, err := s.usageRepo.SumBilledForPeriod(ctx, tx, subscription.ID, group.periodStart, group.periodEnd)
	if err != nil {
		return err
	}
	baseline := make(map[string]int64, len(billed))
	for _, total := range billed {
		baseline[total.Metric] = total.Quantity
	}

	metrics := make([]string, 0, len(group.quantities))
	for metric := range group.quantities {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)
	lines := make([]pricing.Line, 0, len(metrics))
	for _, metric := range metrics {
		lines = append(lines, pricing.LateUsageLine(*plan, metric, baseline[metric], group.quantities[metric]))
	}
	delta := pricing.Subtotal(lines)

	if invoice.Status.Frozen() {
		return s.issueSupplemental(ctx, tx, invoice, account, group, lines, delta, now, cfg)
	}
	return s.extendInvoice(ctx, tx, invoice, account, group, lines, delta, now)
}

// extendInvoice folds late usage into the still-open period invoice. Tax
// is recomputed on the grown subtotal so the period nets what it would
// have had the usage arrived on time.
func (s *Service) extendInvoice(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice, account *accountdomain.Account, group *lateGroup, lines []pricing.Line, delta int64, now time.Time) error {
	existing, err := s.repo.ListLineItems(ctx, tx, invoice.ID)
	if err != nil {
		return err
	}
	items := s.buildLineItems(invoice.ID, lines, len(existing), now)
	if err := s.repo.InsertLineItems(ctx, tx, items); err != nil {
		return err
	}

	invoice.Subtotal += delta
	assessment := s.tax.AssessInvoice(ctx, account, invoice.Subtotal, invoice.Currency, itemHints(append(existing, items...)))
	taxDelta := assessment.Amount - invoice.Tax
	invoice.Tax = assessment.Amount
	invoice.AmountDue += delta + taxDelta
	if invoice.AmountDue < 0 {
		invoice.AmountDue = 0
	}
	s.settleIfZero(invoice, now)
	invoice.UpdatedAt = now
	if err := s.repo.UpdateAmounts(ctx, tx, invoice); err != nil {
		return err
	}

	if _, err := s.usageRepo.MarkBilled(ctx, tx, group.recordIDs, invoice.ID, now); err != nil {
		return err
	}

	if deltaTotal := delta + taxDelta; deltaTotal != 0 {
		if err := s.ledgerSvc.CreateEntry(ctx, tx, ledgerdomain.CreateEntryInput{
			SourceType: ledgerdomain.SourceAdjustment,
			SourceID:   group.recordIDs[0],
			Currency:   invoice.Currency,
			OccurredAt: now,
			Lines:      ledgerdomain.InvoicePosting(deltaTotal, 0, delta, taxDelta),
		}); err != nil {
			return err
		}
	}

	payload := invoicePayload(invoice)
	payload["late_usage"] = true
	if err := s.outbox.Emit(ctx, tx, "invoice.updated", payload); err != nil {
		return err
	}
	if invoice.Status == domain.StatusPaid {
		return s.outbox.Emit(ctx, tx, "invoice.paid", invoicePayload(invoice))
	}
	return nil
}

// issueSupplemental bills late usage that can no longer ride its frozen
// period invoice. A marginal charge of zero or less leaves nothing to
// collect, so those records are dropped instead.
func (s *Service) issueSupplemental(ctx context.Context, tx *gorm.DB, periodInvoice *domain.Invoice, account *accountdomain.Account, group *lateGroup, lines []pricing.Line, delta int64, now time.Time, cfg config.BillingConfig) error {
	if delta <= 0 {
		if _, err := s.usageRepo.MarkDropped(ctx, tx, group.recordIDs, now); err != nil {
			return err
		}
		if delta < 0 {
			s.log.Warn("late usage lowered a frozen period total",
				zap.String("invoice_id", periodInvoice.ID.String()),
				zap.Int64("delta", delta),
			)
		}
		return nil
	}

	assessment := s.tax.AssessInvoice(ctx, account, delta, periodInvoice.Currency, lineHints(lines))
	seq, err := s.repo.NextNumber(ctx, tx)
	if err != nil {
		return err
	}
	invoice := &domain.Invoice{
		ID:             s.genID.Generate(),
		Number:         domain.FormatNumber(seq),
		AccountID:      periodInvoice.AccountID,
		SubscriptionID: periodInvoice.SubscriptionID,
		Status:         domain.StatusOpen,
		Origin:         domain.OriginSupplemental,
		Currency:       periodInvoice.Currency,
		Subtotal:       delta,
		Tax:            assessment.Amount,
		AmountDue:      delta + assessment.Amount,
		PeriodStart:    group.periodStart,
		PeriodEnd:      group.periodEnd,
		DueDate:        now.Add(time.Duration(cfg.InvoiceDueDays) * 24 * time.Hour),
		Metadata:       datatypes.JSONMap{domain.MetaSupplemental: true},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.openInvoice(ctx, tx, invoice, lines, now); err != nil {
		return err
	}
	if _, err := s.usageRepo.MarkBilled(ctx, tx, group.recordIDs, invoice.ID, now); err != nil {
		return err
	}

	s.log.Info("supplemental invoice issued",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("period_invoice_id", periodInvoice.ID.String()),
		zap.Int64("amount_due", invoice.AmountDue),
	)
	return nil
}

func (s *Service) loadBillingParties(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription) (*accountdomain.Account, *plandomain.Plan, error) {
	account, err := s.accountRepo.FindByID(ctx, tx, subscription.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if account == nil {
		return nil, nil, domain.ErrAccountNotFound
	}
	plan, err := s.planRepo.FindByID(ctx, tx, subscription.PlanID)
	if err != nil {
		return nil, nil, err
	}
	if plan == nil {
		return nil, nil, domain.ErrPlanNotFound
	}
	if plan.Metered() {
		tiers, err := s.planRepo.FindTiers(ctx, tx, plan.ID)
		if err != nil {
			return nil, nil, err
		}
		plan.Tiers = tiers
	}
	return account, plan, nil
}

// settleIfZero marks an invoice paid the moment nothing is owed. Credits
// alone can settle an invoice without any payment.
func (s *Service) settleIfZero(invoice *domain.Invoice, now time.Time) {
	if invoice.AmountDue != 0 || !invoice.Status.Payable() {
		return
	}
	invoice.Status = domain.StatusPaid
	paidAt := now
	invoice.PaidAt = &paidAt
}

func (s *Service) buildLineItems(invoiceID snowflake.ID, lines []pricing.Line, startPosition int, now time.Time) []domain.LineItem {
	items := make([]domain.LineItem, 0, len(lines))
	for i, line := range lines {
		item := domain.LineItem{
			ID:          s.genID.Generate(),
			InvoiceID:   invoiceID,
			Position:    int32(startPosition + i),
			Type:        string(line.Type),
			Description: line.Description,
			Quantity:    line.Quantity,
			Amount:      line.Amount,
			CreatedAt:   now,
		}
		if line.Metric != "" {
			metric := line.Metric
			item.Metric = &metric
		}
		items = append(items, item)
	}
	return items
}

func postingSplit(lines []pricing.Line) (flat, usage int64) {
	for _, line := range lines {
		switch line.Type {
		case pricing.LineUsage, pricing.LineLateUsage:
			usage += line.Amount
		default:
			flat += line.Amount
		}
	}
	return flat, usage
}

func usageTotals(totals []usagedomain.MetricTotal) []pricing.UsageTotal {
	out := make([]pricing.UsageTotal, 0, len(totals))
	for _, total := range totals {
		out = append(out, pricing.UsageTotal{Metric: total.Metric, Quantity: total.Quantity})
	}
	return out
}

func lineHints(lines []pricing.Line) []taxdomain.LineHint {
	hints := make([]taxdomain.LineHint, 0, len(lines))
	for _, line := range lines {
		hints = append(hints, taxdomain.LineHint{Type: string(line.Type), Amount: line.Amount})
	}
	return hints
}

func itemHints(items []domain.LineItem) []taxdomain.LineHint {
	hints := make([]taxdomain.LineHint, 0, len(items))
	for _, item := range items {
		hints = append(hints, taxdomain.LineHint{Type: item.Type, Amount: item.Amount})
	}
	return hints
}

func invoicePayload(invoice *domain.Invoice) datatypes.JSONMap {
	return datatypes.JSONMap{
		"invoice_id":      invoice.ID.String(),
		"number":          invoice.Number,
		"account_id":      invoice.AccountID.String(),
		"subscription_id": invoice.SubscriptionID.String(),
		"status":          string(invoice.Status),
		"origin":          invoice.Origin,
		"currency":        invoice.Currency,
		"subtotal":        invoice.Subtotal,
		"tax":             invoice.Tax,
		"credit_applied":  invoice.CreditApplied,
		"amount_due":      invoice.AmountDue,
		"amount_paid":     invoice.AmountPaid,
		"due_date":        invoice.DueDate.UTC().Format(time.RFC3339),
	}
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
