package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/telemart/storefront-backend/pkg/logger"
)

func TestLedgerRetentionJobPrunesWithConfiguredCutoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	pruner := &fakeLedgerPruner{}
	jobIface, err := NewLedgerRetentionJob(LedgerRetentionJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		Ledger:    pruner,
		Retention: 720 * time.Hour,
		Now:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewLedgerRetentionJob: %v", err)
	}

	if err := jobIface.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	expected := now.Add(-720 * time.Hour)
	if !pruner.lastCutoff.Equal(expected) {
		t.Fatalf("expected cutoff %s, got %s", expected, pruner.lastCutoff)
	}
	if pruner.called != 1 {
		t.Fatalf("expected pruner called once, got %d", pruner.called)
	}
}

func TestLedgerRetentionJobPropagatesError(t *testing.T) {
	jobIface, err := NewLedgerRetentionJob(LedgerRetentionJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Ledger: &fakeLedgerPruner{err: errors.New("boom")},
	})
	if err != nil {
		t.Fatalf("NewLedgerRetentionJob: %v", err)
	}
	if err := jobIface.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestOutboxRetentionJobDeletesPublishedRows(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxRetention{}
	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Outbox: repo,
		Now:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}

	if err := jobIface.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	expected := now.Add(-defaultOutboxRetention)
	if !repo.lastCutoff.Equal(expected) {
		t.Fatalf("expected cutoff %s, got %s", expected, repo.lastCutoff)
	}
}

type fakeLedgerPruner struct {
	lastCutoff time.Time
	called     int
	err        error
}

func (f *fakeLedgerPruner) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

type fakeOutboxRetention struct {
	lastCutoff time.Time
	err        error
}

func (f *fakeOutboxRetention) DeleteOlderThan(cutoff time.Time) (int64, error) {
	f.lastCutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return 5, nil
}
