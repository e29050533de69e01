package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/telemart/storefront-backend/pkg/db/models"
	"github.com/telemart/storefront-backend/pkg/enums"
)

type fakeRepo struct {
	inserted []models.OutboxEvent
	exists   bool
}

func (f *fakeRepo) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	f.inserted = append(f.inserted, event)
	return nil
}

func (f *fakeRepo) ExistsTx(tx *gorm.DB, eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID) (bool, error) {
	return f.exists, nil
}

func testTx() *gorm.DB { return &gorm.DB{} }

func TestEmitWrapsEventInEnvelope(t *testing.T) {
	repo := &fakeRepo{}
	service, err := NewService(repo)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	orderID := uuid.New()
	event := DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Trigger:       TriggerRef{Source: "webhook", ExternalEventID: "payment.succeeded:pay-1"},
		Data:          map[string]string{"order_id": orderID.String()},
	}
	if err := service.Emit(context.Background(), testTx(), event); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected 1 inserted row, got %d", len(repo.inserted))
	}

	row := repo.inserted[0]
	if row.EventType != enums.EventOrderPaid || row.AggregateID != orderID {
		t.Fatalf("unexpected row: %+v", row)
	}

	var envelope PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		t.Fatalf("payload does not decode as envelope: %v", err)
	}
	if envelope.EventID != row.ID.String() {
		t.Fatalf("envelope event id %q does not match row id %q", envelope.EventID, row.ID)
	}
	if envelope.Version != 1 {
		t.Fatalf("expected default version 1, got %d", envelope.Version)
	}
	if envelope.Trigger == nil || envelope.Trigger.Source != "webhook" {
		t.Fatalf("trigger not carried: %+v", envelope.Trigger)
	}
	if envelope.OccurredAt.IsZero() {
		t.Fatal("occurred_at not defaulted")
	}

	var data map[string]string
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		t.Fatalf("envelope data does not decode: %v", err)
	}
	if data["order_id"] != orderID.String() {
		t.Fatalf("unexpected data: %v", data)
	}
}

func TestEmitOmitsEmptyTrigger(t *testing.T) {
	repo := &fakeRepo{}
	service, err := NewService(repo)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	event := DomainEvent{
		EventType:     enums.EventOrderCanceled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Data:          map[string]string{},
	}
	if err := service.Emit(context.Background(), testTx(), event); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	var envelope PayloadEnvelope
	if err := json.Unmarshal(repo.inserted[0].Payload, &envelope); err != nil {
		t.Fatalf("payload does not decode as envelope: %v", err)
	}
	if envelope.Trigger != nil {
		t.Fatalf("expected empty trigger to be omitted, got %+v", envelope.Trigger)
	}
}

func TestEmitRejectsInvalidEvents(t *testing.T) {
	repo := &fakeRepo{}
	service, _ := NewService(repo)
	ctx := context.Background()

	if err := service.Emit(ctx, nil, DomainEvent{}); err == nil {
		t.Fatal("expected error without transaction")
	}
	err := service.Emit(ctx, testTx(), DomainEvent{
		EventType:     "not_a_thing",
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
	})
	if err == nil {
		t.Fatal("expected error for invalid event type")
	}
	err = service.Emit(ctx, testTx(), DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
	})
	if err == nil {
		t.Fatal("expected error for missing aggregate id")
	}
	if len(repo.inserted) != 0 {
		t.Fatalf("invalid events must not be inserted, got %d", len(repo.inserted))
	}
}

func TestEmitIfNotExistsSkipsDuplicates(t *testing.T) {
	repo := &fakeRepo{exists: true}
	service, _ := NewService(repo)

	err := service.EmitIfNotExists(context.Background(), testTx(), DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
	})
	if err != nil {
		t.Fatalf("EmitIfNotExists failed: %v", err)
	}
	if len(repo.inserted) != 0 {
		t.Fatalf("duplicate event must not be inserted, got %d", len(repo.inserted))
	}
}
