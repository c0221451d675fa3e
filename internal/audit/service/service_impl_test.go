package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/recurhq/recur/internal/audit/domain"
	"github.com/recurhq/recur/internal/audit/repository"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/pkg/db/pagination"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestService(t *testing.T, clk clock.Clock) auditdomain.Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc := newTestService(t, clock.NewFakeClock(time.Now().UTC()))
	err := svc.AuditLog(context.Background(), "admin", nil, "  ", "invoice", nil, nil)
	require.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestAuditLogAndList(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)
	svc := newTestService(t, clk)
	ctx := context.Background()

	actorID := "42"
	require.NoError(t, svc.AuditLog(ctx, "admin", &actorID, "invoice.void", "invoice", nil, map[string]any{"reason": "duplicate"}))
	clk.Advance(time.Minute)
	require.NoError(t, svc.AuditLog(ctx, "system", nil, "invoice.generate", "invoice", nil, nil))
	clk.Advance(time.Minute)
	require.NoError(t, svc.AuditLog(ctx, "system", nil, "payment.retry", "payment", nil, nil))

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{TargetType: "invoice"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 2)
	require.Equal(t, "invoice.generate", resp.AuditLogs[0].Action)
	require.Equal(t, "invoice.void", resp.AuditLogs[1].Action)

	resp, err = svc.List(ctx, auditdomain.ListAuditLogRequest{ActorType: "admin"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	require.Equal(t, "invoice.void", resp.AuditLogs[0].Action)
	require.Equal(t, "duplicate", resp.AuditLogs[0].Metadata["reason"])
}

func TestListPagination(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)
	svc := newTestService(t, clk)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.AuditLog(ctx, "system", nil, "subscription.renew", "subscription", nil, nil))
		clk.Advance(time.Second)
	}

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	require.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: first.NextPageToken, PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 2)
	require.True(t, second.AuditLogs[0].CreatedAt.Before(first.AuditLogs[1].CreatedAt))
}

func TestListRejectsInvalidRange(t *testing.T) {
	svc := newTestService(t, clock.NewFakeClock(time.Now().UTC()))

	endAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	startAt := endAt.Add(time.Hour)
	_, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{
		StartAt: &startAt,
		EndAt:   &endAt,
	})
	require.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
