package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/telemart/storefront-backend/internal/notifications"
	"github.com/telemart/storefront-backend/pkg/config"
	"github.com/telemart/storefront-backend/pkg/db/models"
	"github.com/telemart/storefront-backend/pkg/enums"
	"github.com/telemart/storefront-backend/pkg/logger"
)

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }
func (fakeDB) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	events := f.events
	f.events = nil
	return events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeSink struct {
	results map[uuid.UUID]error
	seen    []uuid.UUID
}

func (f *fakeSink) Deliver(ctx context.Context, event models.OutboxEvent) error {
	f.seen = append(f.seen, event.ID)
	return f.results[event.ID]
}

func outboxEvent(attempts int) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{"version":1,"event_id":"x","data":{}}`),
		AttemptCount:  attempts,
	}
}

func newTestService(t *testing.T, repo *fakeRepo, dlq *fakeDLQRepo, deliverySink *fakeSink) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Config:        &config.Config{},
		Logger:        logger.New(logger.Options{ServiceName: "publisher-test"}),
		DB:            fakeDB{},
		Repository:    repo,
		DLQRepository: dlq,
		Sink:          deliverySink,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service
}

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	first := outboxEvent(0)
	second := outboxEvent(0)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	deliverySink := &fakeSink{results: map[uuid.UUID]error{
		first.ID: errors.New("transient"),
	}}
	service := newTestService(t, repo, &fakeDLQRepo{}, deliverySink)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 || repo.failed[0] != first.ID {
		t.Fatalf("expected first event marked failed, got %v", repo.failed)
	}
	if got := len(repo.published); got != 1 || repo.published[0] != second.ID {
		t.Fatalf("expected second event marked published, got %v", repo.published)
	}
	if len(repo.terminal) != 0 {
		t.Fatalf("no event should be terminal yet")
	}
}

func TestServiceProcessBatchSendsExhaustedEventsToDLQ(t *testing.T) {
	event := outboxEvent(defaultMaxAttempts - 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	deliverySink := &fakeSink{results: map[uuid.UUID]error{
		event.ID: errors.New("still failing"),
	}}
	service := newTestService(t, repo, dlq, deliverySink)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != event.ID {
		t.Fatalf("expected event marked terminal, got %v", repo.terminal)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected one dlq entry, got %d", len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq entry recorded wrong event id")
	}
	if entry.ErrorReason != enums.DLQReasonMaxAttempts {
		t.Fatalf("expected max attempts reason, got %s", entry.ErrorReason)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("terminal event must not also be marked failed")
	}
}

func TestServiceProcessBatchRoutesNonRetryableToDLQ(t *testing.T) {
	event := outboxEvent(0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	deliverySink := &fakeSink{results: map[uuid.UUID]error{
		event.ID: notifications.NewNonRetryableError(errors.New("malformed payload")),
	}}
	service := newTestService(t, repo, dlq, deliverySink)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(dlq.entries) != 1 || dlq.entries[0].ErrorReason != enums.DLQReasonBadPayload {
		t.Fatalf("expected bad payload dlq entry, got %+v", dlq.entries)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("non-retryable event must not be retried")
	}
}

func TestServiceProcessBatchEmptyQueue(t *testing.T) {
	repo := &fakeRepo{}
	service := newTestService(t, repo, &fakeDLQRepo{}, &fakeSink{})

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if processed {
		t.Fatalf("empty queue must not report processed")
	}
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	base := 500 * time.Millisecond
	backoff := nextBackoff(base, base, maxBackoff)
	if backoff != 2*base {
		t.Fatalf("expected doubled backoff, got %s", backoff)
	}
	for i := 0; i < 10; i++ {
		backoff = nextBackoff(backoff, base, maxBackoff)
	}
	if backoff != maxBackoff {
		t.Fatalf("expected backoff capped at %s, got %s", maxBackoff, backoff)
	}
}
