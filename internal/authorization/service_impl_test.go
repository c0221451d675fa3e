package authorization

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestService(t *testing.T) Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	return NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Enforcer: enforcer,
	})
}

func TestAuthorizeSystemActor(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, "system", ObjectInvoice, ActionInvoiceGenerate))
	require.NoError(t, svc.Authorize(ctx, "system", ObjectPayment, ActionPaymentRetry))
	require.NoError(t, svc.Authorize(ctx, "system", ObjectSubscription, ActionSubscriptionRenew))
}

func TestAuthorizeAdminActor(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, "admin:1234567890", ObjectInvoice, ActionInvoiceVoid))
	require.NoError(t, svc.Authorize(ctx, "admin:1234567890", ObjectCredit, ActionCreditGrant))

	err := svc.Authorize(ctx, "admin:1234567890", ObjectInvoice, ActionInvoiceGenerate)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeReadonlyActor(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, "readonly:1234567890", ObjectInvoice, ActionInvoiceView))

	err := svc.Authorize(ctx, "readonly:1234567890", ObjectInvoice, ActionInvoiceVoid)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeInvalidInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.Authorize(ctx, "", ObjectInvoice, ActionInvoiceView), ErrInvalidActor)
	require.ErrorIs(t, svc.Authorize(ctx, "ghost:42", ObjectInvoice, ActionInvoiceView), ErrInvalidActor)
	require.ErrorIs(t, svc.Authorize(ctx, "admin:not-a-number", ObjectInvoice, ActionInvoiceView), ErrInvalidActor)
	require.ErrorIs(t, svc.Authorize(ctx, "system", "", ActionInvoiceView), ErrInvalidObject)
	require.ErrorIs(t, svc.Authorize(ctx, "system", ObjectInvoice, ""), ErrInvalidAction)
}
