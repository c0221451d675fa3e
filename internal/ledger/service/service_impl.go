package service

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/recurhq/recur/internal/audit/domain"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/internal/ledger/domain"
	obsmetrics "github.com/recurhq/recur/internal/observability/metrics"
	"github.com/recurhq/recur/pkg/db/option"
	"github.com/recurhq/recur/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	auditSvc auditdomain.Service

	mu       sync.RWMutex
	accounts map[domain.AccountCode]snowflake.ID
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ledger.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		auditSvc: p.AuditSvc,
		accounts: make(map[domain.AccountCode]snowflake.ID),
	}
}

func (s *Service) EnsureAccounts(ctx context.Context) error {
	now := s.clock.Now().UTC()
	for _, account := range domain.ChartOfAccounts() {
		res := s.db.WithContext(ctx).Exec(
			`INSERT INTO ledger_accounts (id, code, name, created_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (code) DO NOTHING`,
			s.genID.Generate(),
			account.Code,
			account.Name,
			now,
		)
		if res.Error != nil {
			return res.Error
		}
	}
	return s.reloadAccounts(ctx)
}

func (s *Service) CreateEntry(ctx context.Context, tx *gorm.DB, input domain.CreateEntryInput) error {
	if !input.SourceType.Valid() {
		return domain.ErrInvalidSourceType
	}
	if input.SourceID == 0 {
		return domain.ErrInvalidSourceID
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		return domain.ErrInvalidCurrency
	}
	if input.OccurredAt.IsZero() {
		return domain.ErrInvalidOccurredAt
	}
	if len(input.Lines) < 2 {
		return domain.ErrInvalidLines
	}
	for _, line := range input.Lines {
		if line.Direction != domain.DirectionDebit && line.Direction != domain.DirectionCredit {
			return domain.ErrInvalidDirection
		}
		if line.Amount <= 0 {
			return domain.ErrInvalidAmount
		}
	}
	if err := domain.ValidateBalanced(input.Lines); err != nil {
		return err
	}

	accounts, err := s.resolveAccounts(ctx)
	if err != nil {
		return err
	}
	accountIDs := make([]snowflake.ID, len(input.Lines))
	for i, line := range input.Lines {
		accountID, ok := accounts[line.Code]
		if !ok {
			return domain.ErrUnknownAccount
		}
		accountIDs[i] = accountID
	}

	entryID := s.genID.Generate()
	now := s.clock.Now().UTC()
	res := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (id, source_type, source_id, currency, occurred_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source_type, source_id) DO NOTHING`,
		entryID,
		input.SourceType,
		input.SourceID,
		currency,
		input.OccurredAt.UTC(),
		now,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Already journaled; the first posting stands.
		return nil
	}

	for i, line := range input.Lines {
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO ledger_entry_lines (id, entry_id, account_id, direction, amount, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			s.genID.Generate(),
			entryID,
			accountIDs[i],
			line.Direction,
			line.Amount,
			now,
		).Error; err != nil {
			return err
		}
	}

	entryIDStr := entryID.String()
	if err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeSystem), nil, "ledger.entry_created", "ledger_entry", &entryIDStr, map[string]any{
		"source_type": string(input.SourceType),
		"source_id":   input.SourceID.String(),
		"currency":    currency,
	}); err != nil {
		s.log.Warn("ledger audit write failed", zap.Error(err))
	}

	obsmetrics.Engine().RecordLedgerEntry(string(input.SourceType))
	return nil
}

func (s *Service) List(ctx context.Context, req domain.ListEntryRequest) (domain.ListEntryResponse, error) {
	filter := domain.ListEntryFilter{SourceType: strings.TrimSpace(req.SourceType)}
	if strings.TrimSpace(req.SourceID) != "" {
		sourceID, err := parseID(req.SourceID, domain.ErrInvalidSourceID)
		if err != nil {
			return domain.ListEntryResponse{}, err
		}
		filter.SourceID = int64(sourceID)
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	var items []*domain.Entry
	stmt := s.db.WithContext(ctx).Model(&domain.Entry{})
	if filter.SourceType != "" {
		stmt = stmt.Where("source_type = ?", filter.SourceType)
	}
	if filter.SourceID != 0 {
		stmt = stmt.Where("source_id = ?", filter.SourceID)
	}
	stmt = option.ApplyPagination(pagination.Pagination{PageToken: req.PageToken, PageSize: pageSize}).Apply(stmt)
	if err := stmt.Order("created_at desc, id desc").Find(&items).Error; err != nil {
		return domain.ListEntryResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(entry *domain.Entry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        entry.ID.String(),
			CreatedAt: entry.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	entries := make([]domain.Entry, 0, len(items))
	ids := make([]snowflake.ID, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
		ids = append(ids, item.ID)
	}

	if len(ids) > 0 {
		var lines []domain.Line
		if err := s.db.WithContext(ctx).
			Where("entry_id IN ?", ids).
			Order("entry_id asc, id asc").
			Find(&lines).Error; err != nil {
			return domain.ListEntryResponse{}, err
		}
		byEntry := make(map[snowflake.ID][]domain.Line, len(ids))
		for _, line := range lines {
			byEntry[line.EntryID] = append(byEntry[line.EntryID], line)
		}
		for i := range entries {
			entries[i].Lines = byEntry[entries[i].ID]
		}
	}

	resp := domain.ListEntryResponse{Entries: entries}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Balances(ctx context.Context, currency string) ([]domain.Balance, error) {
	currency = strings.ToLower(strings.TrimSpace(currency))
	var balances []domain.Balance
	err := s.db.WithContext(ctx).Raw(
		`SELECT a.code AS code,
		        COALESCE(SUM(CASE WHEN l.direction = ? THEN l.amount ELSE -l.amount END), 0) AS net
		 FROM ledger_accounts a
		 LEFT JOIN (
		     SELECT el.account_id, el.direction, el.amount
		     FROM ledger_entry_lines el
		     JOIN ledger_entries e ON e.id = el.entry_id
		     WHERE (? = '' OR e.currency = ?)
		 ) l ON l.account_id = a.id
		 GROUP BY a.code
		 ORDER BY a.code ASC`,
		domain.DirectionDebit,
		currency,
		currency,
	).Scan(&balances).Error
	if err != nil {
		return nil, err
	}
	return balances, nil
}

func (s *Service) resolveAccounts(ctx context.Context) (map[domain.AccountCode]snowflake.ID, error) {
	s.mu.RLock()
	if len(s.accounts) > 0 {
		accounts := s.accounts
		s.mu.RUnlock()
		return accounts, nil
	}
	s.mu.RUnlock()

	if err := s.EnsureAccounts(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts, nil
}

func (s *Service) reloadAccounts(ctx context.Context) error {
	var rows []domain.Account
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return err
	}
	loaded := make(map[domain.AccountCode]snowflake.ID, len(rows))
	for _, row := range rows {
		loaded[row.Code] = row.ID
	}
	s.mu.Lock()
	s.accounts = loaded
	s.mu.Unlock()
	return nil
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, invalidErr
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || parsed <= 0 {
		return 0, invalidErr
	}
	return snowflake.ID(parsed), nil
}
