package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/telemart/storefront-backend/pkg/enums"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS idempotency_records (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  external_event_id TEXT NOT NULL,
  outcome TEXT NOT NULL DEFAULT 'applied',
  processed_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_idempotency_provider_event
  ON idempotency_records (provider, external_event_id);`
	require.NoError(t, db.Exec(schema).Error)

	return db
}

func TestService_TryBeginProcessingAdmitsOnce(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)

	ctx := context.Background()

	admitted, err := svc.TryBeginProcessing(ctx, db, enums.PaymentProviderYooKassa, "payment.succeeded:pay-1")
	require.NoError(t, err)
	assert.True(t, admitted, "first delivery must be admitted")

	admitted, err = svc.TryBeginProcessing(ctx, db, enums.PaymentProviderYooKassa, "payment.succeeded:pay-1")
	require.NoError(t, err)
	assert.False(t, admitted, "duplicate delivery must not be admitted")

	// a different event for the same payment is independent
	admitted, err = svc.TryBeginProcessing(ctx, db, enums.PaymentProviderYooKassa, "payment.canceled:pay-1")
	require.NoError(t, err)
	assert.True(t, admitted)
}

func TestService_TryBeginProcessingValidation(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)

	_, err = svc.TryBeginProcessing(context.Background(), nil, enums.PaymentProviderYooKassa, "evt-1")
	assert.Error(t, err, "transaction is required")

	_, err = svc.TryBeginProcessing(context.Background(), db, enums.PaymentProvider("square"), "evt-1")
	assert.Error(t, err, "unknown provider rejected")

	_, err = svc.TryBeginProcessing(context.Background(), db, enums.PaymentProviderYooKassa, "  ")
	assert.Error(t, err, "blank event id rejected")
}

func TestService_AdmissionRollsBackWithTransaction(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)

	ctx := context.Background()

	err = db.Transaction(func(tx *gorm.DB) error {
		admitted, err := svc.TryBeginProcessing(ctx, tx, enums.PaymentProviderYooKassa, "payment.succeeded:pay-9")
		require.NoError(t, err)
		require.True(t, admitted)
		return assert.AnError
	})
	require.Error(t, err)

	// the rolled-back admission must not block a redelivery
	admitted, err := svc.TryBeginProcessing(ctx, db, enums.PaymentProviderYooKassa, "payment.succeeded:pay-9")
	require.NoError(t, err)
	assert.True(t, admitted)
}

func TestService_MarkOutcomeAndLookup(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)

	ctx := context.Background()

	admitted, err := svc.TryBeginProcessing(ctx, db, enums.PaymentProviderYooKassa, "payment.succeeded:pay-2")
	require.NoError(t, err)
	require.True(t, admitted)

	require.NoError(t, svc.MarkOutcome(ctx, db, enums.PaymentProviderYooKassa, "payment.succeeded:pay-2", enums.LedgerOutcomeRejected))

	record, err := svc.Lookup(ctx, enums.PaymentProviderYooKassa, "payment.succeeded:pay-2")
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerOutcomeRejected, record.Outcome)

	assert.Error(t, svc.MarkOutcome(ctx, db, enums.PaymentProviderYooKassa, "payment.succeeded:pay-2", enums.LedgerOutcome("bogus")))
}

func TestService_PruneBefore(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)

	ctx := context.Background()

	for _, id := range []string{"evt-old-1", "evt-old-2", "evt-new"} {
		admitted, err := svc.TryBeginProcessing(ctx, db, enums.PaymentProviderYooKassa, id)
		require.NoError(t, err)
		require.True(t, admitted)
	}

	stale := time.Now().UTC().Add(-31 * 24 * time.Hour)
	require.NoError(t, db.Exec(
		`UPDATE idempotency_records SET processed_at = ? WHERE external_event_id LIKE 'evt-old-%'`, stale,
	).Error)

	pruned, err := svc.PruneBefore(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	_, err = svc.Lookup(ctx, enums.PaymentProviderYooKassa, "evt-new")
	assert.NoError(t, err, "fresh record survives pruning")

	_, err = svc.PruneBefore(ctx, time.Time{})
	assert.Error(t, err)
}
