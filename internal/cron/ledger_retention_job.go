package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/telemart/storefront-backend/pkg/logger"
)

const defaultLedgerRetention = 30 * 24 * time.Hour

type ledgerPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type LedgerRetentionJobParams struct {
	Logger    *logger.Logger
	Ledger    ledgerPruner
	Retention time.Duration
	Now       func() time.Time
}

// NewLedgerRetentionJob prunes idempotency records older than the retention
// window. Providers stop redelivering long before the window closes, so the
// records are safe to drop.
func NewLedgerRetentionJob(params LedgerRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultLedgerRetention
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &ledgerRetentionJob{
		logg:      params.Logger,
		ledger:    params.Ledger,
		retention: retention,
		now:       now,
	}, nil
}

type ledgerRetentionJob struct {
	logg      *logger.Logger
	ledger    ledgerPruner
	retention time.Duration
	now       func() time.Time
}

func (j *ledgerRetentionJob) Name() string { return "ledger-retention" }

func (j *ledgerRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	pruned, err := j.ledger.PruneBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("ledger retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": pruned,
	})
	j.logg.Info(logCtx, "ledger retention cleanup complete")
	return nil
}
