package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/recurhq/recur/internal/account/domain"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/internal/config"
	gatewaydomain "github.com/recurhq/recur/internal/gateway/domain"
	invoicedomain "github.com/recurhq/recur/internal/invoice/domain"
	ledgerdomain "github.com/recurhq/recur/internal/ledger/domain"
	obsmetrics "github.com/recurhq/recur/internal/observability/metrics"
	"github.com/recurhq/recur/internal/payment/domain"
	paymentmethoddomain "github.com/recurhq/recur/internal/paymentmethod/domain"
	subscriptiondomain "github.com/recurhq/recur/internal/subscription/domain"
	webhookdomain "github.com/recurhq/recur/internal/webhook/domain"
	"github.com/recurhq/recur/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// claimLease is how long a claimed attempt stays off the due queue. A crash
// between claim and settle surfaces the row again once the lease runs out.
const claimLease = 10 * time.Minute

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Billing     *config.BillingConfigHolder
	Repo        domain.Repository
	InvoiceRepo invoicedomain.Repository
	MethodRepo  paymentmethoddomain.Repository
	SubRepo     subscriptiondomain.Repository
	AccountRepo accountdomain.Repository
	Gateway     gatewaydomain.Gateway
	SubSvc      subscriptiondomain.Service
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
	invoiceRepo invoicedomain.Repository
	methodRepo  paymentmethoddomain.Repository
	subRepo     subscriptiondomain.Repository
	accountRepo accountdomain.Repository
	gateway     gatewaydomain.Gateway
	subSvc      subscriptiondomain.Service
	ledgerSvc   ledgerdomain.Service
	outbox      webhookdomain.Emitter
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		billing:     p.Billing,
		repo:        p.Repo,
		invoiceRepo: p.InvoiceRepo,
		methodRepo:  p.MethodRepo,
		subRepo:     p.SubRepo,
		accountRepo: p.AccountRepo,
		gateway:     p.Gateway,
		subSvc:      p.SubSvc,
		ledgerSvc:   p.LedgerSvc,
		outbox:      p.Outbox,
	}
}

func (s *Service) Attempt(ctx context.Context, req domain.AttemptPaymentRequest) (*domain.Payment, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		if !domain.ValidKey(key) {
			return nil, domain.ErrInvalidKey
		}
		existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	invoiceID, err := parseID(req.InvoiceID, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var payment *domain.Payment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.invoiceRepo.FindByIDForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return domain.ErrInvoiceNotFound
		}
		if !invoice.Status.Payable() || invoice.AmountDue <= 0 {
			return domain.ErrInvoiceNotPayable
		}

		method, err := s.resolveMethod(ctx, tx, invoice.AccountID, req.PaymentMethodID, now)
		if err != nil {
			return err
		}

		pending, err := s.repo.FindPendingByInvoice(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		if pending != nil {
			return domain.ErrPaymentPending
		}

		if key == "" {
			key = domain.ServerKey(invoice.ID)
		}
		due := now
		payment = &domain.Payment{
			ID:              s.genID.Generate(),
			InvoiceID:       invoice.ID,
			AccountID:       invoice.AccountID,
			Amount:          invoice.AmountDue,
			Currency:        invoice.Currency,
			Status:          domain.StatusPending,
			PaymentMethodID: &method.ID,
			IdempotencyKey:  key,
			NextRetryAt:     &due,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		inserted, err := s.repo.Insert(ctx, tx, payment)
		if err != nil {
			return err
		}
		if !inserted {
			// Lost the key race to a concurrent request; that request owns
			// the charge.
			raced, err := s.repo.FindByIdempotencyKey(ctx, tx, key)
			if err != nil {
				return err
			}
			if raced == nil {
				return domain.ErrStateConflict
			}
			payment = raced
			return nil
		}

		s.log.Info("payment attempt accepted",
			zap.String("payment_id", payment.ID.String()),
			zap.String("invoice_id", invoice.ID.String()),
			zap.Int64("amount", payment.Amount),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.chargeOne(ctx, payment, now); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, s.db, payment.ID)
}

func (s *Service) RunDue(ctx context.Context, now time.Time, limit int) (int, error) {
	claimed, err := s.repo.ClaimDue(ctx, s.db, now, claimLease, limit)
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, payment := range claimed {
		if payment == nil {
			continue
		}
		if err := s.chargeOne(ctx, payment, now); err != nil {
			s.log.Error("payment attempt errored",
				zap.String("payment_id", payment.ID.String()),
				zap.Error(err),
			)
			continue
		}
		handled++
	}
	return handled, nil
}

// chargeOne runs a single gateway attempt for a claimed payment. The charge
// itself happens outside any transaction; the attempt-scoped gateway key
// makes a replay of the same attempt safe.
func (s *Service) chargeOne(ctx context.Context, payment *domain.Payment, now time.Time) error {
	invoice, err := s.invoiceRepo.FindByID(ctx, s.db, payment.InvoiceID)
	if err != nil {
		return err
	}
	if invoice == nil || !invoice.Status.Payable() || invoice.AmountDue <= 0 {
		// Settled by credits, voided, or already collected.
		return s.cancelAttempt(ctx, payment.ID, now)
	}

	// Late usage can grow an open balance after the row was enqueued;
	// charge what the invoice is owed now. The lease keeps the due sweep
	// from claiming the row while the charge is in flight.
	if payment.FirstAttemptAt == nil {
		payment.FirstAttemptAt = &now
	}
	payment.Amount = invoice.AmountDue
	lease := now.Add(claimLease)
	payment.NextRetryAt = &lease
	payment.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, payment); err != nil {
		return err
	}

	if payment.PaymentMethodID == nil {
		_, err := s.settleFailure(ctx, payment.ID, "payment_method_missing", now)
		return err
	}
	method, err := s.methodRepo.FindByID(ctx, s.db, *payment.PaymentMethodID)
	if err != nil {
		return err
	}
	if method == nil {
		_, err := s.settleFailure(ctx, payment.ID, "payment_method_missing", now)
		return err
	}
	if method.Expired(now) {
		_, err := s.settleFailure(ctx, payment.ID, "payment_method_expired", now)
		return err
	}

	chargeCtx, cancel := context.WithTimeout(ctx, gatewaydomain.ChargeTimeout)
	defer cancel()
	start := time.Now()
	result, err := s.gateway.Attempt(chargeCtx, gatewaydomain.ChargeRequest{
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		Token:          method.GatewayToken,
		IdempotencyKey: domain.GatewayKey(payment.IdempotencyKey, payment.RetryCount),
	})
	obsmetrics.Engine().ObserveGatewayLatency(s.gateway.Provider(), "charge", time.Since(start))
	if err != nil {
		// Outcome unknown: the row comes due again when the lease runs
		// out, and the reused gateway key dedupes the replay.
		s.log.Warn("charge outcome unknown",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
		obsmetrics.Engine().RecordPaymentEvent("unknown")
		return nil
	}

	switch result.Status {
	case gatewaydomain.StatusSucceeded:
		_, err := s.settleSuccess(ctx, payment.ID, result.TxnID, now)
		return err
	case gatewaydomain.StatusPending:
		return s.parkAwaitingCallback(ctx, payment.ID, result.TxnID, now)
	default:
		reason := strings.TrimSpace(result.FailureReason)
		if reason == "" {
			reason = "declined"
		}
		_, err := s.settleFailure(ctx, payment.ID, reason, now)
		return err
	}
}

// parkAwaitingCallback records the processor's reference and takes the row
// off the retry queue; only the signed callback (or manual resolution) can
// settle it now.
func (s *Service) parkAwaitingCallback(ctx context.Context, id snowflake.ID, txnID string, now time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if payment == nil || payment.Status != domain.StatusPending {
			return nil
		}
		payment.GatewayTxnID = &txnID
		payment.NextRetryAt = nil
		payment.UpdatedAt = now
		return s.repo.Update(ctx, tx, payment)
	})
	if err != nil {
		return err
	}
	s.log.Info("charge held at processor",
		zap.String("payment_id", id.String()),
		zap.String("gateway_txn_id", txnID),
	)
	obsmetrics.Engine().RecordPaymentEvent("processor_pending")
	return nil
}

func (s *Service) MarkSucceeded(ctx context.Context, id snowflake.ID, txnID string, at time.Time) (*domain.Payment, error) {
	return s.settleSuccess(ctx, id, txnID, at)
}

func (s *Service) MarkFailed(ctx context.Context, id snowflake.ID, reason string, at time.Time) (*domain.Payment, error) {
	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrNotFound
	}
	// A re-delivered decline for an attempt already recorded must not
	// consume another retry.
	if payment.Status == domain.StatusFailed {
		return payment, nil
	}
	if payment.Status.Terminal() {
		return nil, domain.ErrStateConflict
	}
	return s.settleFailure(ctx, id, reason, at)
}

func (s *Service) HandleCallback(ctx context.Context, event *gatewaydomain.CallbackEvent) error {
	if event == nil || event.PaymentID == 0 {
		return gatewaydomain.ErrInvalidEvent
	}
	now := s.clock.Now()
	switch event.Type {
	case gatewaydomain.CallbackPaymentSucceeded:
		_, err := s.MarkSucceeded(ctx, event.PaymentID, event.TxnID, now)
		return err
	case gatewaydomain.CallbackPaymentFailed:
		reason := strings.TrimSpace(event.FailureReason)
		if reason == "" {
			reason = "declined"
		}
		_, err := s.MarkFailed(ctx, event.PaymentID, reason, now)
		return err
	default:
		return gatewaydomain.ErrEventIgnored
	}
}

// settleSuccess marks the payment collected and applies it to the invoice.
// Replaying a settled payment is a no-op.
func (s *Service) settleSuccess(ctx context.Context, id snowflake.ID, txnID string, at time.Time) (*domain.Payment, error) {
	var settled *domain.Payment
	var settledNow, becamePaid bool
	var invoiceOrigin string
	var accountID, subscriptionID snowflake.ID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		probe, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if probe == nil {
			return domain.ErrNotFound
		}

		// The void path locks the invoice before touching its payments;
		// take the same order so the two paths cannot deadlock.
		invoice, err := s.invoiceRepo.FindByIDForUpdate(ctx, tx, probe.InvoiceID)
		if err != nil {
			return err
		}
		payment, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrNotFound
		}
		if payment.Status == domain.StatusSucceeded {
			settled = payment
			return nil
		}
		if payment.Status == domain.StatusCancelled {
			return domain.ErrStateConflict
		}
		settledNow = true

		payment.Status = domain.StatusSucceeded
		if trimmed := strings.TrimSpace(txnID); trimmed != "" {
			payment.GatewayTxnID = &trimmed
		}
		payment.FailureMessage = nil
		payment.NextRetryAt = nil
		if payment.FirstAttemptAt == nil {
			payment.FirstAttemptAt = &at
		}
		payment.UpdatedAt = at
		if err := s.repo.Update(ctx, tx, payment); err != nil {
			return err
		}

		switch {
		case invoice == nil:
			s.log.Error("settled payment references missing invoice",
				zap.String("payment_id", payment.ID.String()),
				zap.String("invoice_id", payment.InvoiceID.String()),
			)
		case !invoice.Status.Payable() || invoice.AmountDue <= 0:
			// The processor won a race against a void or a credit
			// settlement. Keep the cash on the payment row and flag it
			// for reconciliation.
			s.log.Error("charge succeeded for unpayable invoice",
				zap.String("payment_id", payment.ID.String()),
				zap.String("invoice_id", invoice.ID.String()),
				zap.String("invoice_status", string(invoice.Status)),
			)
		default:
			applied := payment.Amount
			if applied > invoice.AmountDue {
				applied = invoice.AmountDue
			}
			invoice.AmountPaid += applied
			invoice.AmountDue -= applied
			if invoice.AmountDue == 0 {
				invoice.Status = invoicedomain.StatusPaid
				invoice.PaidAt = &at
				becamePaid = true
			}
			invoice.UpdatedAt = at
			if err := s.invoiceRepo.UpdateAmounts(ctx, tx, invoice); err != nil {
				return err
			}
			if err := s.ledgerSvc.CreateEntry(ctx, tx, ledgerdomain.CreateEntryInput{
				SourceType: ledgerdomain.SourcePayment,
				SourceID:   payment.ID,
				Currency:   payment.Currency,
				OccurredAt: at,
				Lines:      ledgerdomain.PaymentPosting(applied),
			}); err != nil {
				return err
			}
			invoiceOrigin = invoice.Origin
			accountID = invoice.AccountID
			subscriptionID = invoice.SubscriptionID
			if becamePaid {
				if err := s.outbox.Emit(ctx, tx, "invoice.paid", settlementPayload(invoice)); err != nil {
					return err
				}
			}
		}

		if err := s.outbox.Emit(ctx, tx, "payment.succeeded", paymentPayload(payment)); err != nil {
			return err
		}
		settled = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !settledNow {
		return settled, nil
	}
	if becamePaid {
		s.log.Info("payment settled invoice",
			zap.String("payment_id", settled.ID.String()),
			zap.String("invoice_id", settled.InvoiceID.String()),
			zap.Int64("amount", settled.Amount),
		)
		s.recoverStanding(ctx, invoiceOrigin, accountID, subscriptionID, at)
	}
	obsmetrics.Engine().RecordPaymentEvent("succeeded")
	return settled, nil
}

// settleFailure records a definitive decline: bump the attempt count,
// schedule the next retry from the first attempt, and freeze the payment
// once the schedule is exhausted.
func (s *Service) settleFailure(ctx context.Context, id snowflake.ID, reason string, at time.Time) (*domain.Payment, error) {
	offsets := s.billing.Get().PaymentRetryOffsetDays

	var settled *domain.Payment
	var settledNow, terminal bool
	var invoiceOrigin string
	var subscriptionID snowflake.ID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		probe, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if probe == nil {
			return domain.ErrNotFound
		}

		invoice, err := s.invoiceRepo.FindByIDForUpdate(ctx, tx, probe.InvoiceID)
		if err != nil {
			return err
		}
		payment, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrNotFound
		}
		if payment.Status.Terminal() {
			settled = payment
			return nil
		}
		settledNow = true

		if payment.FirstAttemptAt == nil {
			payment.FirstAttemptAt = &at
		}
		payment.RetryCount++
		payment.Status = domain.StatusFailed
		message := strings.TrimSpace(reason)
		if message == "" {
			message = "declined"
		}
		payment.FailureMessage = &message
		payment.NextRetryAt = domain.NextRetryTime(*payment.FirstAttemptAt, payment.RetryCount, offsets)
		terminal = payment.NextRetryAt == nil
		payment.UpdatedAt = at
		if err := s.repo.Update(ctx, tx, payment); err != nil {
			return err
		}

		if invoice != nil {
			invoiceOrigin = invoice.Origin
			subscriptionID = invoice.SubscriptionID
			if terminal && invoice.Status == invoicedomain.StatusOpen {
				invoice.Status = invoicedomain.StatusPastDue
				invoice.UpdatedAt = at
				if err := s.invoiceRepo.UpdateAmounts(ctx, tx, invoice); err != nil {
					return err
				}
				if err := s.outbox.Emit(ctx, tx, "invoice.past_due", settlementPayload(invoice)); err != nil {
					return err
				}
			}
		}

		if err := s.outbox.Emit(ctx, tx, "payment.failed", paymentPayload(payment)); err != nil {
			return err
		}
		settled = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !settledNow {
		return settled, nil
	}

	s.log.Warn("payment attempt failed",
		zap.String("payment_id", settled.ID.String()),
		zap.String("invoice_id", settled.InvoiceID.String()),
		zap.Int32("retry_count", settled.RetryCount),
		zap.Bool("terminal", terminal),
		zap.String("reason", reason),
	)
	obsmetrics.Engine().RecordPaymentEvent("failed")

	if invoiceOrigin == invoicedomain.OriginCycle {
		s.flagSubscriptionPastDue(ctx, subscriptionID)
	}
	return settled, nil
}

// cancelAttempt freezes a claimed row whose invoice no longer needs money.
func (s *Service) cancelAttempt(ctx context.Context, id snowflake.ID, at time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if payment == nil || payment.Status.Terminal() || payment.AwaitingCallback() {
			return nil
		}
		payment.Status = domain.StatusCancelled
		payment.NextRetryAt = nil
		payment.UpdatedAt = at
		return s.repo.Update(ctx, tx, payment)
	})
	if err != nil {
		return err
	}
	s.log.Info("payment cancelled, invoice settled elsewhere", zap.String("payment_id", id.String()))
	obsmetrics.Engine().RecordPaymentEvent("cancelled")
	return nil
}

// recoverStanding reverses payment-driven penalties after a cycle invoice is
// collected: the subscription returns to active, and the account sheds its
// dunning status once nothing overdue remains.
func (s *Service) recoverStanding(ctx context.Context, invoiceOrigin string, accountID, subscriptionID snowflake.ID, at time.Time) {
	if invoiceOrigin == invoicedomain.OriginCycle && subscriptionID != 0 {
		subscription, err := s.subRepo.FindByID(ctx, s.db, subscriptionID)
		if err != nil {
			s.log.Warn("subscription lookup failed after settlement",
				zap.String("subscription_id", subscriptionID.String()),
				zap.Error(err),
			)
		} else if subscription != nil && subscription.Status == subscriptiondomain.StatusPastDue {
			if _, err := s.subSvc.Transition(ctx, subscription.ID, subscriptiondomain.StatusActive, subscriptiondomain.ReasonPaymentPaid); err != nil {
				s.log.Warn("subscription reactivation failed",
					zap.String("subscription_id", subscription.ID.String()),
					zap.Error(err),
				)
			}
		}
	}

	if accountID == 0 {
		return
	}
	overdue, err := s.invoiceRepo.HasOverdueForAccount(ctx, s.db, accountID, at)
	if err != nil {
		s.log.Warn("overdue check failed after settlement",
			zap.String("account_id", accountID.String()),
			zap.Error(err),
		)
		return
	}
	if overdue {
		return
	}
	for _, from := range []accountdomain.Status{accountdomain.StatusBlocked, accountdomain.StatusWarning} {
		affected, err := s.accountRepo.UpdateStatus(ctx, s.db, accountID, from, accountdomain.StatusActive, at)
		if err != nil {
			s.log.Warn("account recovery failed",
				zap.String("account_id", accountID.String()),
				zap.Error(err),
			)
			return
		}
		if affected > 0 {
			s.log.Info("account restored to active",
				zap.String("account_id", accountID.String()),
				zap.String("from", string(from)),
			)
			return
		}
	}
}

// flagSubscriptionPastDue moves an active subscription to past_due after a
// cycle invoice charge declines. Repeat declines land on the same state and
// no-op inside the transition.
func (s *Service) flagSubscriptionPastDue(ctx context.Context, subscriptionID snowflake.ID) {
	if subscriptionID == 0 {
		return
	}
	subscription, err := s.subRepo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		s.log.Warn("subscription lookup failed after decline",
			zap.String("subscription_id", subscriptionID.String()),
			zap.Error(err),
		)
		return
	}
	if subscription == nil || subscription.Status != subscriptiondomain.StatusActive {
		return
	}
	if _, err := s.subSvc.Transition(ctx, subscription.ID, subscriptiondomain.StatusPastDue, subscriptiondomain.ReasonPaymentFailed); err != nil {
		s.log.Warn("subscription past_due flag failed",
			zap.String("subscription_id", subscription.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) GetByID(ctx context.Context, req domain.GetPaymentRequest) (*domain.Payment, error) {
	id, err := parseID(req.ID, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrNotFound
	}
	return payment, nil
}

func (s *Service) List(ctx context.Context, req domain.ListPaymentRequest) (*domain.ListPaymentResponse, error) {
	filter := domain.ListPaymentFilter{}
	if strings.TrimSpace(req.InvoiceID) != "" {
		invoiceID, err := parseID(req.InvoiceID, domain.ErrInvalidID)
		if err != nil {
			return nil, err
		}
		filter.InvoiceID = invoiceID
	}
	if strings.TrimSpace(req.AccountID) != "" {
		accountID, err := parseID(req.AccountID, domain.ErrInvalidID)
		if err != nil {
			return nil, err
		}
		filter.AccountID = accountID
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		parsed := domain.Status(strings.ToLower(status))
		if !parsed.Valid() {
			return nil, domain.ErrInvalidStatus
		}
		filter.Status = string(parsed)
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
		return nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(payment *domain.Payment) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        payment.ID.String(),
			CreatedAt: payment.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	payments := make([]domain.Payment, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		payments = append(payments, *item)
	}

	resp := &domain.ListPaymentResponse{Payments: payments}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// resolveMethod picks the instrument for a charge: an explicit method that
// belongs to the account, or the account default.
func (s *Service) resolveMethod(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, methodID string, now time.Time) (*paymentmethoddomain.PaymentMethod, error) {
	if strings.TrimSpace(methodID) != "" {
		id, err := parseID(methodID, domain.ErrInvalidID)
		if err != nil {
			return nil, err
		}
		method, err := s.methodRepo.FindByID(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if method == nil || method.AccountID != accountID || method.Expired(now) {
			return nil, domain.ErrNoPaymentMethod
		}
		return method, nil
	}
	method, err := s.methodRepo.FindDefault(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if method == nil || method.Expired(now) {
		return nil, domain.ErrNoPaymentMethod
	}
	return method, nil
}

func paymentPayload(payment *domain.Payment) datatypes.JSONMap {
	payload := datatypes.JSONMap{
		"payment_id":  payment.ID.String(),
		"invoice_id":  payment.InvoiceID.String(),
		"account_id":  payment.AccountID.String(),
		"amount":      payment.Amount,
		"currency":    payment.Currency,
		"status":      string(payment.Status),
		"retry_count": payment.RetryCount,
	}
	if payment.GatewayTxnID != nil {
		payload["gateway_txn_id"] = *payment.GatewayTxnID
	}
	if payment.FailureMessage != nil {
		payload["failure_message"] = *payment.FailureMessage
	}
	if payment.NextRetryAt != nil {
		payload["next_retry_at"] = payment.NextRetryAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func settlementPayload(invoice *invoicedomain.Invoice) datatypes.JSONMap {
	return datatypes.JSONMap{
		"invoice_id":  invoice.ID.String(),
		"number":      invoice.Number,
		"account_id":  invoice.AccountID.String(),
		"status":      string(invoice.Status),
		"amount_due":  invoice.AmountDue,
		"amount_paid": invoice.AmountPaid,
	}
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
