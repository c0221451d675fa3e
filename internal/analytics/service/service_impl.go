package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/internal/analytics/domain"
	plandomain "github.com/recurhq/recur/internal/plan/domain"
	subscriptiondomain "github.com/recurhq/recur/internal/subscription/domain"
	"github.com/recurhq/recur/pkg/db/pagination"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// retentionWindow is the trailing window churn and lifetime value are
// computed over. Billing math treats a month as 30 days.
const retentionWindow = 30 * 24 * time.Hour

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("analytics.service"),
		genID: p.GenID,
	}
}

type mrrRow struct {
	AccountID snowflake.ID `gorm:"column:account_id"`
	Quantity  int64        `gorm:"column:quantity"`
	Amount    int64        `gorm:"column:amount"`
	Interval  string       `gorm:"column:billing_interval"`
	Currency  string       `gorm:"column:currency"`
}

type currencyRollup struct {
	total         decimal.Decimal
	subscriptions int64
	accounts      map[snowflake.ID]struct{}
}

func (s *Service) RollupMRR(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.loadMRRRows(ctx)
	if err != nil {
		return 0, err
	}

	period := domain.FormatPeriod(now)
	byCurrency := rollupByCurrency(rows)

	written := 0
	for _, currency := range sortedCurrencies(byCurrency) {
		agg := byCurrency[currency]
		metadata := datatypes.JSONMap{
			"currency":      currency,
			"subscriptions": agg.subscriptions,
			"accounts":      int64(len(agg.accounts)),
		}
		metric := domain.MoneyMetric(domain.MetricMRR, currency)
		if err := s.upsert(ctx, metric, period, agg.total.IntPart(), metadata, now); err != nil {
			return written, err
		}
		written++
	}

	if written > 0 {
		s.log.Info("mrr rollup complete",
			zap.String("period", period),
			zap.Int("currencies", written),
		)
	}
	return written, nil
}

func (s *Service) RollupRetention(ctx context.Context, now time.Time) (int, error) {
	windowStart := now.Add(-retentionWindow)

	activeAtStart, err := s.countAccountsActiveAt(ctx, windowStart)
	if err != nil {
		return 0, err
	}
	if activeAtStart == 0 {
		s.log.Debug("retention rollup skipped, empty churn base",
			zap.Time("window_start", windowStart),
		)
		return 0, nil
	}

	churned, err := s.countAccountsChurned(ctx, windowStart, now)
	if err != nil {
		return 0, err
	}

	churnBP := decimal.NewFromInt(churned).
		Mul(decimal.NewFromInt(10000)).
		Div(decimal.NewFromInt(activeAtStart)).
		Round(0).
		IntPart()

	period := domain.FormatPeriod(now)
	written := 0
	metadata := datatypes.JSONMap{
		"active_at_start": activeAtStart,
		"churned":         churned,
		"window_days":     int64(retentionWindow / (24 * time.Hour)),
	}
	if err := s.upsert(ctx, domain.MetricChurnRate, period, churnBP, metadata, now); err != nil {
		return written, err
	}
	written++

	if churnBP == 0 {
		// Zero churn makes lifetime value unbounded; leave LTV rows alone.
		s.log.Info("retention rollup complete",
			zap.String("period", period),
			zap.Int64("churn_basis_points", 0),
		)
		return written, nil
	}

	rows, err := s.loadMRRRows(ctx)
	if err != nil {
		return written, err
	}
	byCurrency := rollupByCurrency(rows)
	for _, currency := range sortedCurrencies(byCurrency) {
		agg := byCurrency[currency]
		payers := int64(len(agg.accounts))
		if payers == 0 {
			continue
		}
		arpu := agg.total.Div(decimal.NewFromInt(payers))
		ltv := arpu.Mul(decimal.NewFromInt(10000)).Div(decimal.NewFromInt(churnBP)).Round(0)
		metadata := datatypes.JSONMap{
			"currency":           currency,
			"paying_accounts":    payers,
			"arpu":               arpu.Round(0).IntPart(),
			"churn_basis_points": churnBP,
		}
		metric := domain.MoneyMetric(domain.MetricLTV, currency)
		if err := s.upsert(ctx, metric, period, ltv.IntPart(), metadata, now); err != nil {
			return written, err
		}
		written++
	}

	s.log.Info("retention rollup complete",
		zap.String("period", period),
		zap.Int64("churn_basis_points", churnBP),
		zap.Int("snapshots", written),
	)
	return written, nil
}

// loadMRRRows pulls every subscription that currently counts toward
// recurring revenue. Past-due subscriptions are still under contract
// and stay in until cancelled; trials and pauses are out.
func (s *Service) loadMRRRows(ctx context.Context) ([]mrrRow, error) {
	var rows []mrrRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT s.account_id, s.quantity, p.amount, p.billing_interval, p.currency
		 FROM subscriptions s
		 JOIN plans p ON p.id = s.plan_id
		 WHERE s.status IN ?`,
		[]string{
			string(subscriptiondomain.StatusActive),
			string(subscriptiondomain.StatusPastDue),
		},
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) countAccountsActiveAt(ctx context.Context, at time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(DISTINCT account_id)
		 FROM subscriptions
		 WHERE created_at <= ?
		   AND (cancelled_at IS NULL OR cancelled_at > ?)`,
		at, at,
	).Scan(&count).Error
	return count, err
}

func (s *Service) countAccountsChurned(ctx context.Context, start, end time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(DISTINCT account_id)
		 FROM subscriptions
		 WHERE cancelled_at IS NOT NULL
		   AND cancelled_at > ? AND cancelled_at <= ?`,
		start, end,
	).Scan(&count).Error
	return count, err
}

func (s *Service) upsert(ctx context.Context, metric, period string, value int64, metadata datatypes.JSONMap, now time.Time) error {
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO analytics_snapshots (id, metric_name, value, period, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (metric_name, period)
		 DO UPDATE SET value = EXCLUDED.value,
		               metadata = EXCLUDED.metadata,
		               updated_at = EXCLUDED.updated_at`,
		s.genID.Generate(), metric, value, period, metadata, now.UTC(), now.UTC(),
	).Error
}

// monthlyAmount normalises one subscription's plan price to a monthly
// cadence. Yearly amounts divide by 12 and round to the nearest minor
// unit per subscription, so the per-currency total is stable no matter
// how rows are grouped.
func monthlyAmount(row mrrRow) decimal.Decimal {
	total := decimal.NewFromInt(row.Amount).Mul(decimal.NewFromInt(row.Quantity))
	if plandomain.Interval(row.Interval) == plandomain.IntervalYear {
		return total.Div(decimal.NewFromInt(12)).Round(0)
	}
	return total
}

func rollupByCurrency(rows []mrrRow) map[string]*currencyRollup {
	out := make(map[string]*currencyRollup)
	for _, row := range rows {
		currency := strings.ToUpper(strings.TrimSpace(row.Currency))
		agg := out[currency]
		if agg == nil {
			agg = &currencyRollup{accounts: make(map[snowflake.ID]struct{})}
			out[currency] = agg
		}
		agg.total = agg.total.Add(monthlyAmount(row))
		agg.subscriptions++
		agg.accounts[row.AccountID] = struct{}{}
	}
	return out
}

func sortedCurrencies(byCurrency map[string]*currencyRollup) []string {
	currencies := make([]string, 0, len(byCurrency))
	for currency := range byCurrency {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)
	return currencies
}

func (s *Service) ListSnapshots(ctx context.Context, req domain.ListSnapshotRequest) (domain.ListSnapshotResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	query := s.db.WithContext(ctx).Model(&domain.Snapshot{})
	if name := strings.TrimSpace(req.MetricName); name != "" {
		query = query.Where("metric_name = ?", strings.ToLower(name))
	}
	if period := strings.TrimSpace(req.Period); period != "" {
		if _, err := time.Parse(domain.PeriodLayout, period); err != nil {
			return domain.ListSnapshotResponse{}, domain.ErrInvalidPeriod
		}
		query = query.Where("period = ?", period)
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListSnapshotResponse{}, domain.ErrInvalidPageToken
		}
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListSnapshotResponse{}, domain.ErrInvalidPageToken
		}
		query = query.Where("id < ?", int64(cursorID))
	}

	var rows []*domain.Snapshot
	if err := query.Order("id DESC").Limit(pageSize + 1).Find(&rows).Error; err != nil {
		return domain.ListSnapshotResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, pageSize, func(snap *domain.Snapshot) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        snap.ID.String(),
			CreatedAt: snap.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(rows) > pageSize {
		rows = rows[:pageSize]
	}

	snapshots := make([]domain.Snapshot, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		snapshots = append(snapshots, *row)
	}

	resp := domain.ListSnapshotResponse{Snapshots: snapshots}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}
