package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/lib/pq"
	accountdomain "github.com/recurhq/recur/internal/account/domain"
	accountrepository "github.com/recurhq/recur/internal/account/repository"
	"github.com/recurhq/recur/internal/clock"
	plandomain "github.com/recurhq/recur/internal/plan/domain"
	planrepository "github.com/recurhq/recur/internal/plan/repository"
	"github.com/recurhq/recur/internal/subscription/domain"
	"github.com/recurhq/recur/internal/subscription/repository"
	webhookdomain "github.com/recurhq/recur/internal/webhook/domain"
	webhookrepository "github.com/recurhq/recur/internal/webhook/repository"
	webhookservice "github.com/recurhq/recur/internal/webhook/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type prorationStub struct {
	calls []domain.ProrationInvoiceInput
}

func (p *prorationStub) CreateProrationInvoice(_ context.Context, _ *gorm.DB, input domain.ProrationInvoiceInput) (snowflake.ID, error) {
	p.calls = append(p.calls, input)
	return snowflake.ID(int64(len(p.calls))), nil
}

type fixture struct {
	svc      domain.Service
	db       *gorm.DB
	clk      *clock.FakeClock
	node     *snowflake.Node
	prorator *prorationStub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	stripLockingClauses(db)
	require.NoError(t, db.AutoMigrate(
		&accountdomain.Account{},
		&plandomain.Plan{},
		&plandomain.PlanTier{},
		&domain.Subscription{},
		&domain.SubscriptionHistory{},
		&webhookdomain.Endpoint{},
		&webhookdomain.Event{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))
	prorator := &prorationStub{}

	svc := New(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Repo:        repository.Provide(),
		AccountRepo: accountrepository.Provide(),
		PlanRepo:    planrepository.Provide(),
		Outbox: webhookservice.NewOutbox(webhookservice.OutboxParams{
			Log:   zap.NewNop(),
			GenID: node,
			Clock: clk,
			Repo:  webhookrepository.Provide(),
		}),
		Prorator: prorator,
	})

	return &fixture{svc: svc, db: db, clk: clk, node: node, prorator: prorator}
}

// sqlite has no row locking; drop the clauses so claim queries parse.
func stripLockingClauses(db *gorm.DB) {
	strip := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(sql)
		}
	}
	db.Callback().Query().Before("gorm:query").Register("sqlite_strip_locking", strip)
	db.Callback().Row().Before("gorm:row").Register("sqlite_strip_locking_row", strip)
}

func (f *fixture) seedAccount(t *testing.T, status accountdomain.Status) *accountdomain.Account {
	t.Helper()
	id := f.node.Generate()
	account := &accountdomain.Account{
		ID:        id,
		Name:      "Acme",
		Email:     fmt.Sprintf("billing+%s@acme.test", id),
		Currency:  "USD",
		Timezone:  "UTC",
		Status:    status,
		CreatedAt: f.clk.Now(),
		UpdatedAt: f.clk.Now(),
	}
	require.NoError(t, f.db.Create(account).Error)
	return account
}

func (f *fixture) seedPlan(t *testing.T, mutate ...func(*plandomain.Plan)) *plandomain.Plan {
	t.Helper()
	id := f.node.Generate()
	plan := &plandomain.Plan{
		ID:        id,
		Code:      "plan-" + id.String(),
		Name:      "Pro",
		Interval:  plandomain.IntervalMonth,
		Amount:    2900,
		Currency:  "USD",
		Active:    true,
		Version:   1,
		CreatedAt: f.clk.Now(),
		UpdatedAt: f.clk.Now(),
	}
	for _, m := range mutate {
		m(plan)
	}
	require.NoError(t, f.db.Create(plan).Error)
	return plan
}

func (f *fixture) create(t *testing.T, account *accountdomain.Account, plan *plandomain.Plan) domain.Subscription {
	t.Helper()
	sub, err := f.svc.Create(context.Background(), domain.CreateSubscriptionRequest{
		AccountID: account.ID.String(),
		PlanID:    plan.ID.String(),
		Quantity:  1,
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) history(t *testing.T, id snowflake.ID) []domain.SubscriptionHistory {
	t.Helper()
	var rows []domain.SubscriptionHistory
	err := f.db.Where("subscription_id = ?", id).Order("created_at asc, id asc").Find(&rows).Error
	require.NoError(t, err)
	return rows
}

func historyTypes(rows []domain.SubscriptionHistory) []string {
	types := make([]string, 0, len(rows))
	for _, row := range rows {
		types = append(types, row.EventType)
	}
	return types
}

func TestCreateSubscription(t *testing.T) {
	f := newFixture(t)
	account := f.seedAccount(t, accountdomain.StatusActive)
	plan := f.seedPlan(t)

	sub := f.create(t, account, plan)

	assert.Equal(t, domain.StatusActive, sub.Status)
	assert.Equal(t, int32(1), sub.Quantity)
	assert.Nil(t, sub.TrialEnd)
	assert.WithinDuration(t, f.clk.Now(), sub.CurrentPeriodStart, time.Second)
	assert.WithinDuration(t, f.clk.Now().Add(30*24*time.Hour), sub.CurrentPeriodEnd, time.Second)

	rows := f.history(t, sub.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.HistoryCreated, rows[0].EventType)
	assert.Equal(t, string(domain.StatusActive), rows[0].NewValue)
}

func TestCreateSubscriptionTrial(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	day7 := now.Add(7 * 24 * time.Hour)
	day10 := now.Add(10 * 24 * time.Hour)
	day14 := now.Add(14 * 24 * time.Hour)
	day30 := now.Add(30 * 24 * time.Hour)

	tests := []struct {
		name         string
		trialDays    int
		trialEnd     *time.Time
		wantStatus   domain.Status
		wantTrialEnd *time.Time
	}{
		{"plan trial only", 14, nil, domain.StatusTrialing, &day14},
		{"caller extends plan trial", 14, &day30, domain.StatusTrialing, &day30},
		{"plan trial wins over shorter request", 14, &day7, domain.StatusTrialing, &day14},
		{"caller trial without plan trial", 0, &day10, domain.StatusTrialing, &day10},
		{"past trial end means no trial", 0, &past, domain.StatusActive, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			account := f.seedAccount(t, accountdomain.StatusActive)
			plan := f.seedPlan(t, func(p *plandomain.Plan) { p.TrialDays = tt.trialDays })

			sub, err := f.svc.Create(context.Background(), domain.CreateSubscriptionRequest{
				AccountID: account.ID.String(),
				PlanID:    plan.ID.String(),
				Quantity:  1,
				TrialEnd:  tt.trialEnd,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, sub.Status)
			if tt.wantTrialEnd == nil {
				assert.Nil(t, sub.TrialEnd)
			} else {
				require.NotNil(t, sub.TrialEnd)
				assert.WithinDuration(t, *tt.wantTrialEnd, *sub.TrialEnd, time.Second)
			}
			// The paid period is anchored at creation even while trialing.
			assert.WithinDuration(t, now.Add(30*24*time.Hour), sub.CurrentPeriodEnd, time.Second)
		})
	}
}

func TestCreateSubscriptionGates(t *testing.T) {
	f := newFixture(t)
	active := f.seedAccount(t, accountdomain.StatusActive)
	blocked := f.seedAccount(t, accountdomain.StatusBlocked)
	euro := f.seedAccount(t, accountdomain.StatusActive)
	require.NoError(t, f.db.Model(euro).Update("currency", "EUR").Error)
	plan := f.seedPlan(t)
	retired := f.seedPlan(t, func(p *plandomain.Plan) { p.Active = false })

	tests := []struct {
		name    string
		req     domain.CreateSubscriptionRequest
		wantErr error
	}{
		{
			"blocked account",
			domain.CreateSubscriptionRequest{AccountID: blocked.ID.String(), PlanID: plan.ID.String(), Quantity: 1},
			domain.ErrAccountBlocked,
		},
		{
			"inactive plan",
			domain.CreateSubscriptionRequest{AccountID: active.ID.String(), PlanID: retired.ID.String(), Quantity: 1},
			domain.ErrInvalidPlan,
		},
		{
			"currency mismatch",
			domain.CreateSubscriptionRequest{AccountID: euro.ID.String(), PlanID: plan.ID.String(), Quantity: 1},
			domain.ErrCurrencyMismatch,
		},
		{
			"zero quantity",
			domain.CreateSubscriptionRequest{AccountID: active.ID.String(), PlanID: plan.ID.String(), Quantity: 0},
			domain.ErrInvalidQuantity,
		},
		{
			"unknown account",
			domain.CreateSubscriptionRequest{AccountID: f.node.Generate().String(), PlanID: plan.ID.String(), Quantity: 1},
			domain.ErrAccountNotFound,
		},
		{
			"malformed account id",
			domain.CreateSubscriptionRequest{AccountID: "not-a-snowflake", PlanID: plan.ID.String(), Quantity: 1},
			domain.ErrInvalidAccountID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUpdateQuantity(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t, f.seedAccount(t, accountdomain.StatusActive), f.seedPlan(t))

	quantity := int32(5)
	updated, err := f.svc.Update(context.Background(), domain.UpdateSubscriptionRequest{
		ID:       sub.ID.String(),
		Quantity: &quantity,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(5), updated.Quantity)

	rows := f.history(t, sub.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.HistoryQuantityChanged, rows[1].EventType)
	require.NotNil(t, rows[1].OldValue)
	assert.Equal(t, "1", *rows[1].OldValue)
	assert.Equal(t, "5", rows[1].NewValue)
}

func TestUpdateCancelAtPeriodEndToggle(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t, f.seedAccount(t, accountdomain.StatusActive), f.seedPlan(t))

	on := true
	updated, err := f.svc.Update(context.Background(), domain.UpdateSubscriptionRequest{
		ID:                sub.ID.String(),
		CancelAtPeriodEnd: &on,
	})
	require.NoError(t, err)
	assert.True(t, updated.CancelAtPeriodEnd)
	require.NotNil(t, updated.CancelledAt)
	assert.WithinDuration(t, f.clk.Now(), *updated.CancelledAt, time.Second)
	assert.Equal(t, domain.StatusActive, updated.Status)

	off := false
	updated, err = f.svc.Update(context.Background(), domain.UpdateSubscriptionRequest{
		ID:                sub.ID.String(),
		CancelAtPeriodEnd: &off,
	})
	require.NoError(t, err)
	assert.False(t, updated.CancelAtPeriodEnd)
	assert.Nil(t, updated.CancelledAt)

	types := historyTypes(f.history(t, sub.ID))
	assert.Contains(t, types, domain.HistoryCancelScheduled)
	assert.Contains(t, types, domain.HistoryCancelUnscheduled)
}

func TestCancelImmediate(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t, f.seedAccount(t, accountdomain.StatusActive), f.seedPlan(t))

	cancelled, err := f.svc.Cancel(context.Background(), domain.CancelSubscriptionRequest{
		ID:        sub.ID.String(),
		Immediate: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.WithinDuration(t, f.clk.Now(), *cancelled.CancelledAt, time.Second)

	// Cancelling again is a no-op, not an error.
	again, err := f.svc.Cancel(context.Background(), domain.CancelSubscriptionRequest{
		ID:        sub.ID.String(),
		Immediate: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, again.Status)

	quantity := int32(3)
	_, err = f.svc.Update(context.Background(), domain.UpdateSubscriptionRequest{
		ID:       sub.ID.String(),
		Quantity: &quantity,
	})
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestCancelAtPeriodEnd(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t, f.seedAccount(t, accountdomain.StatusActive), f.seedPlan(t))

	reason := "too expensive"
	scheduled, err := f.svc.Cancel(context.Background(), domain.CancelSubscriptionRequest{
		ID:     sub.ID.String(),
		Reason: &reason,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, scheduled.Status)
	assert.True(t, scheduled.CancelAtPeriodEnd)
	require.NotNil(t, scheduled.CancelledAt)

	rows := f.history(t, sub.ID)
	last := rows[len(rows)-1]
	assert.Equal(t, domain.HistoryCancelScheduled, last.EventType)
	require.NotNil(t, last.Reason)
	assert.Equal(t, reason, *last.Reason)
}

func TestPauseResumeExtendsPeriod(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t, f.seedAccount(t, accountdomain.StatusActive), f.seedPlan(t))
	originalEnd := sub.CurrentPeriodEnd

	f.clk.Advance(5 * 24 * time.Hour)
	resumesAt := f.clk.Now().Add(10 * 24 * time.Hour)
	paused, err := f.svc.Pause(context.Background(), domain.PauseSubscriptionRequest{
		ID:        sub.ID.String(),
		ResumesAt: &resumesAt,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, paused.Status)
	require.NotNil(t, paused.PauseResumesAt)
	assert.WithinDuration(t, resumesAt, *paused.PauseResumesAt, time.Second)

	f.clk.Advance(3 * 24 * time.Hour)
	resumed, err := f.svc.Resume(context.Background(), domain.ResumeSubscriptionRequest{ID: sub.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, resumed.Status)
	assert.Nil(t, resumed.PauseResumesAt)
	// The paid-for time lost to the pause is given back.
	assert.WithinDuration(t, originalEnd.Add(3*24*time.Hour), resumed.CurrentPeriodEnd, time.Second)
}

func TestPauseResumeValidation(t *testing.T) {
	f := newFixture(t)
	account := f.seedAccount(t, accountdomain.StatusActive)
	plan := f.seedPlan(t)

	sub := f.create(t, account, plan)
	past := f.clk.Now().Add(-time.Hour)
	_, err := f.svc.Pause(context.Background(), domain.PauseSubscriptionRequest{
		ID:        sub.ID.String(),
		ResumesAt: &past,
	})
	require.ErrorIs(t, err, domain.ErrInvalidResumesAt)

	_, err = f.svc.Resume(context.Background(), domain.ResumeSubscriptionRequest{ID: sub.ID.String()})
	require.ErrorIs(t, err, domain.ErrIllegalTransition)

	_, err = f.svc.Pause(context.Background(), domain.PauseSubscriptionRequest{ID: sub.ID.String()})
	require.NoError(t, err)
	// A second pause is a no-op.
	again, err := f.svc.Pause(context.Background(), domain.PauseSubscriptionRequest{ID: sub.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, again.Status)

	cancelled := f.create(t, account, plan)
	_, err = f.svc.Cancel(context.Background(), domain.CancelSubscriptionRequest{ID: cancelled.ID.String(), Immediate: true})
	require.NoError(t, err)
	_, err = f.svc.Pause(context.Background(), domain.PauseSubscriptionRequest{ID: cancelled.ID.String()})
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestTransition(t *testing.T) {
	f := newFixture(t)
	account := f.seedAccount(t, accountdomain.StatusActive)
	sub := f.create(t, account, f.seedPlan(t))

	overdue, err := f.svc.Transition(context.Background(), sub.ID, domain.StatusPastDue, domain.ReasonPaymentFailed)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPastDue, overdue.Status)

	recovered, err := f.svc.Transition(context.Background(), sub.ID, domain.StatusActive, domain.ReasonPaymentPaid)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, recovered.Status)

	rows := f.history(t, sub.ID)
	last := rows[len(rows)-1]
	assert.Equal(t, domain.HistoryStatusChanged, last.EventType)
	require.NotNil(t, last.Reason)
	assert.Equal(t, string(domain.ReasonPaymentPaid), *last.Reason)

	trial := f.seedPlan(t, func(p *plandomain.Plan) { p.TrialDays = 14 })
	trialing := f.create(t, account, trial)
	_, err = f.svc.Transition(context.Background(), trialing.ID, domain.StatusPastDue, domain.ReasonPaymentFailed)
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestChangePlanImmediate(t *testing.T) {
	f := newFixture(t)
	account := f.seedAccount(t, accountdomain.StatusActive)
	oldPlan := f.seedPlan(t)
	newPlan := f.seedPlan(t, func(p *plandomain.Plan) { p.Name = "Scale"; p.Amount = 4900 })

	sub := f.create(t, account, oldPlan)
	f.clk.Advance(10 * 24 * time.Hour)

	quantity := int32(3)
	changed, err := f.svc.ChangePlan(context.Background(), domain.ChangePlanRequest{
		ID:          sub.ID.String(),
		NewPlanID:   newPlan.ID.String(),
		Timing:      domain.ChangeImmediate,
		NewQuantity: &quantity,
	})
	require.NoError(t, err)
	assert.Equal(t, newPlan.ID, changed.PlanID)
	assert.Equal(t, int32(3), changed.Quantity)
	assert.Nil(t, changed.PendingPlanID)

	require.Len(t, f.prorator.calls, 1)
	call := f.prorator.calls[0]
	assert.Equal(t, oldPlan.ID, call.OldPlanID)
	assert.Equal(t, int32(1), call.OldQuantity)
	assert.WithinDuration(t, f.clk.Now(), call.ChangeAt, time.Second)

	types := historyTypes(f.history(t, sub.ID))
	assert.Contains(t, types, domain.HistoryPlanChanged)
	assert.Contains(t, types, domain.HistoryQuantityChanged)
}

func TestChangePlanDuringTrialSkipsProration(t *testing.T) {
	f := newFixture(t)
	account := f.seedAccount(t, accountdomain.StatusActive)
	oldPlan := f.seedPlan(t, func(p *plandomain.Plan) { p.TrialDays = 14 })
	newPlan := f.seedPlan(t, func(p *plandomain.Plan) { p.Amount = 4900 })

	sub := f.create(t, account, oldPlan)
	require.Equal(t, domain.StatusTrialing, sub.Status)

	changed, err := f.svc.ChangePlan(context.Background(), domain.ChangePlanRequest{
		ID:        sub.ID.String(),
		NewPlanID: newPlan.ID.String(),
		Timing:    domain.ChangeImmediate,
	})
	require.NoError(t, err)
	assert.Equal(t, newPlan.ID, changed.PlanID)
	assert.Empty(t, f.prorator.calls)
}

func TestChangePlanAtPeriodEnd(t *testing.T) {
	f := newFixture(t)
	account := f.seedAccount(t, accountdomain.StatusActive)
	oldPlan := f.seedPlan(t)
	newPlan := f.seedPlan(t, func(p *plandomain.Plan) { p.Amount = 4900 })

	sub := f.create(t, account, oldPlan)
	scheduled, err := f.svc.ChangePlan(context.Background(), domain.ChangePlanRequest{
		ID:        sub.ID.String(),
		NewPlanID: newPlan.ID.String(),
		Timing:    domain.ChangeAtPeriodEnd,
	})
	require.NoError(t, err)
	assert.Equal(t, oldPlan.ID, scheduled.PlanID)
	require.NotNil(t, scheduled.PendingPlanID)
	assert.Equal(t, newPlan.ID, *scheduled.PendingPlanID)
	assert.Empty(t, f.prorator.calls)

	// Nothing happens while the period is still open.
	early, err := f.svc.ApplyPendingPlanChange(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, oldPlan.ID, early.PlanID)
	require.NotNil(t, early.PendingPlanID)

	f.clk.Advance(31 * 24 * time.Hour)
	applied, err := f.svc.ApplyPendingPlanChange(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, newPlan.ID, applied.PlanID)
	assert.Nil(t, applied.PendingPlanID)
	// The swap lands on a period boundary, so no proration invoice.
	assert.Empty(t, f.prorator.calls)
}

func TestChangePlanValidation(t *testing.T) {
	f := newFixture(t)
	account := f.seedAccount(t, accountdomain.StatusActive)
	plan := f.seedPlan(t)
	euro := f.seedPlan(t, func(p *plandomain.Plan) { p.Currency = "EUR" })
	retired := f.seedPlan(t, func(p *plandomain.Plan) { p.Active = false })

	sub := f.create(t, account, plan)

	_, err := f.svc.ChangePlan(context.Background(), domain.ChangePlanRequest{
		ID: sub.ID.String(), NewPlanID: plan.ID.String(), Timing: domain.ChangeImmediate,
	})
	require.ErrorIs(t, err, domain.ErrSamePlan)

	_, err = f.svc.ChangePlan(context.Background(), domain.ChangePlanRequest{
		ID: sub.ID.String(), NewPlanID: euro.ID.String(), Timing: domain.ChangeImmediate,
	})
	require.ErrorIs(t, err, domain.ErrCurrencyMismatch)

	_, err = f.svc.ChangePlan(context.Background(), domain.ChangePlanRequest{
		ID: sub.ID.String(), NewPlanID: retired.ID.String(), Timing: domain.ChangeImmediate,
	})
	require.ErrorIs(t, err, domain.ErrInvalidPlan)

	_, err = f.svc.ChangePlan(context.Background(), domain.ChangePlanRequest{
		ID: sub.ID.String(), NewPlanID: euro.ID.String(), Timing: "whenever",
	})
	require.ErrorIs(t, err, domain.ErrInvalidTiming)

	require.NoError(t, f.db.Model(&accountdomain.Account{}).Where("id = ?", account.ID).
		Update("status", accountdomain.StatusBlocked).Error)
	fresh := f.seedPlan(t, func(p *plandomain.Plan) { p.Amount = 9900 })
	_, err = f.svc.ChangePlan(context.Background(), domain.ChangePlanRequest{
		ID: sub.ID.String(), NewPlanID: fresh.ID.String(), Timing: domain.ChangeImmediate,
	})
	require.ErrorIs(t, err, domain.ErrAccountBlocked)
}

func TestCreateEmitsWebhookEvents(t *testing.T) {
	f := newFixture(t)
	endpoint := &webhookdomain.Endpoint{
		ID:        f.node.Generate(),
		URL:       "https://hooks.acme.test/billing",
		Events:    pq.StringArray{"subscription.*"},
		Active:    true,
		CreatedAt: f.clk.Now(),
		UpdatedAt: f.clk.Now(),
	}
	require.NoError(t, f.db.Create(endpoint).Error)

	sub := f.create(t, f.seedAccount(t, accountdomain.StatusActive), f.seedPlan(t))
	_, err := f.svc.Cancel(context.Background(), domain.CancelSubscriptionRequest{
		ID:        sub.ID.String(),
		Immediate: true,
	})
	require.NoError(t, err)

	var events []webhookdomain.Event
	require.NoError(t, f.db.Order("created_at asc, id asc").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, "subscription.created", events[0].EventType)
	assert.Equal(t, "subscription.cancelled", events[1].EventType)
	assert.Equal(t, endpoint.ID, events[0].EndpointID)
	assert.Equal(t, sub.ID.String(), events[0].Payload["subscription_id"])
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	accountA := f.seedAccount(t, accountdomain.StatusActive)
	accountB := f.seedAccount(t, accountdomain.StatusActive)
	plan := f.seedPlan(t)

	first := f.create(t, accountA, plan)
	f.create(t, accountA, plan)
	f.create(t, accountB, plan)
	_, err := f.svc.Cancel(context.Background(), domain.CancelSubscriptionRequest{
		ID:        first.ID.String(),
		Immediate: true,
	})
	require.NoError(t, err)

	resp, err := f.svc.List(context.Background(), domain.ListSubscriptionRequest{AccountID: accountA.ID.String()})
	require.NoError(t, err)
	assert.Len(t, resp.Subscriptions, 2)

	resp, err = f.svc.List(context.Background(), domain.ListSubscriptionRequest{
		AccountID: accountA.ID.String(),
		Status:    string(domain.StatusCancelled),
	})
	require.NoError(t, err)
	require.Len(t, resp.Subscriptions, 1)
	assert.Equal(t, first.ID, resp.Subscriptions[0].ID)

	_, err = f.svc.List(context.Background(), domain.ListSubscriptionRequest{Status: "limbo"})
	require.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestListHistory(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t, f.seedAccount(t, accountdomain.StatusActive), f.seedPlan(t))

	quantity := int32(2)
	_, err := f.svc.Update(context.Background(), domain.UpdateSubscriptionRequest{
		ID:       sub.ID.String(),
		Quantity: &quantity,
	})
	require.NoError(t, err)

	resp, err := f.svc.ListHistory(context.Background(), domain.ListHistoryRequest{SubscriptionID: sub.ID.String()})
	require.NoError(t, err)
	require.Len(t, resp.History, 2)
}
