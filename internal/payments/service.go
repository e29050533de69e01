package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/telemart/storefront-backend/pkg/db"
	"github.com/telemart/storefront-backend/pkg/db/models"
	"github.com/telemart/storefront-backend/pkg/enums"
	pkgerrors "github.com/telemart/storefront-backend/pkg/errors"
	"github.com/telemart/storefront-backend/pkg/logger"
	"github.com/telemart/storefront-backend/pkg/outbox"
)

// EventKind identifies a lifecycle event applied to a payment.
type EventKind string

const (
	EventAuthorizationSucceeded EventKind = "authorization_succeeded"
	EventAuthorizationFailed    EventKind = "authorization_failed"
	EventRefunded               EventKind = "refunded"
	EventManualCancel           EventKind = "manual_cancel"
)

// ApplyInput carries one lifecycle event. Amount and Currency are required
// for monetary events and are validated against the stored payment before any
// transition happens.
type ApplyInput struct {
	PaymentID  uuid.UUID
	Kind       EventKind
	Amount     decimal.Decimal
	Currency   enums.Currency
	Reason     string
	RawPayload json.RawMessage
	Trigger    outbox.TriggerRef
}

// Result reports the post-transition state.
type Result struct {
	Payment *models.Payment
	Order   *models.Order
}

type transitionSpec struct {
	paymentFrom    enums.PaymentStatus
	paymentTo      enums.PaymentStatus
	orderFrom      []enums.OrderStatus
	orderTo        enums.OrderStatus
	outboxEvent    enums.OutboxEventType
	validateAmount bool
}

// The strict transition table. Any (current status, event) pair absent here
// is an invalid transition and leaves state untouched.
var transitions = map[EventKind]transitionSpec{
	EventAuthorizationSucceeded: {
		paymentFrom:    enums.PaymentStatusPending,
		paymentTo:      enums.PaymentStatusSucceeded,
		orderFrom:      []enums.OrderStatus{enums.OrderStatusAwaitingPayment},
		orderTo:        enums.OrderStatusPaid,
		outboxEvent:    enums.EventOrderPaid,
		validateAmount: true,
	},
	EventAuthorizationFailed: {
		paymentFrom: enums.PaymentStatusPending,
		paymentTo:   enums.PaymentStatusFailed,
		orderFrom:   []enums.OrderStatus{enums.OrderStatusAwaitingPayment},
		orderTo:     enums.OrderStatusPaymentFailed,
		outboxEvent: enums.EventOrderPaymentFailed,
	},
	EventRefunded: {
		paymentFrom:    enums.PaymentStatusSucceeded,
		paymentTo:      enums.PaymentStatusRefunded,
		orderFrom:      []enums.OrderStatus{enums.OrderStatusPaid, enums.OrderStatusFulfilling},
		orderTo:        enums.OrderStatusRefunded,
		outboxEvent:    enums.EventOrderRefunded,
		validateAmount: true,
	},
	EventManualCancel: {
		paymentFrom: enums.PaymentStatusPending,
		paymentTo:   enums.PaymentStatusCanceled,
		orderFrom:   []enums.OrderStatus{enums.OrderStatusCreated, enums.OrderStatusAwaitingPayment},
		orderTo:     enums.OrderStatusCanceled,
		outboxEvent: enums.EventOrderCanceled,
	},
}

type orderStore interface {
	FindByIDTx(tx *gorm.DB, id uuid.UUID) (*models.Order, error)
	UpdateStatusGuardedTx(tx *gorm.DB, id uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus) (bool, error)
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Logger            *logger.Logger
	TransactionRunner txRunner
	PaymentRepo       Repository
	OrderStore        orderStore
	Outbox            outboxEmitter
}

// Service applies payment lifecycle events atomically: payment row, order row
// and outbox event commit or roll back together.
type Service struct {
	logg     *logger.Logger
	txRunner txRunner
	payments Repository
	orders   orderStore
	outbox   outboxEmitter
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.PaymentRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment repo required")
	}
	if params.OrderStore == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order store required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	return &Service{
		logg:     params.Logger,
		txRunner: params.TransactionRunner,
		payments: params.PaymentRepo,
		orders:   params.OrderStore,
		outbox:   params.Outbox,
	}, nil
}

// Apply runs the event in its own transaction.
func (s *Service) Apply(ctx context.Context, input ApplyInput) (*Result, error) {
	var result *Result
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		r, err := s.ApplyTx(ctx, tx, input)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyTx runs the event inside the caller's transaction, so callers can
// couple it with their own atomic work (the webhook gateway pairs it with
// ledger admission).
func (s *Service) ApplyTx(ctx context.Context, tx *gorm.DB, input ApplyInput) (*Result, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	spec, ok := transitions[input.Kind]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown payment event %q", input.Kind))
	}

	repo := s.payments.WithTx(tx)
	payment, err := repo.FindByID(ctx, input.PaymentID)
	if err != nil {
		if err == ErrNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, err
	}

	// monetary validation happens before any state change
	if spec.validateAmount {
		if !input.Amount.Equal(payment.Amount) || input.Currency != payment.Currency {
			ctx := s.logg.WithPaymentID(ctx, payment.ID.String())
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"event_amount":   input.Amount.StringFixed(2),
				"event_currency": input.Currency,
				"stored_amount":  payment.Amount.StringFixed(2),
			}), "payment event amount mismatch")
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment amount mismatch")
		}
	}

	if payment.Status != spec.paymentFrom {
		return nil, invalidTransition(payment.Status, input.Kind)
	}

	moved, err := repo.UpdateStatusGuarded(ctx, payment.ID, spec.paymentFrom, spec.paymentTo, input.RawPayload)
	if err != nil {
		return nil, err
	}
	if !moved {
		// a concurrent writer advanced the row between the read and the update
		current, readErr := repo.FindByID(ctx, payment.ID)
		if readErr != nil {
			return nil, readErr
		}
		return nil, invalidTransition(current.Status, input.Kind)
	}

	order, err := s.orders.FindByIDTx(tx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	moved, err = s.orders.UpdateStatusGuardedTx(tx, order.ID, spec.orderFrom, spec.orderTo)
	if err != nil {
		return nil, err
	}
	if !moved {
		// rolls back the payment update as well
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order %s not in a state accepting %s", order.ID, input.Kind))
	}

	data, err := json.Marshal(orderEventData{
		OrderID:        order.ID,
		PaymentID:      payment.ID,
		UserTelegramID: order.UserTelegramID,
		CustomerName:   order.CustomerName,
		Amount:         payment.Amount.StringFixed(2),
		Currency:       string(payment.Currency),
		Reason:         input.Reason,
	})
	if err != nil {
		return nil, err
	}
	err = s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     spec.outboxEvent,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Trigger:       input.Trigger,
		Data:          json.RawMessage(data),
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	payment.Status = spec.paymentTo
	if len(input.RawPayload) > 0 {
		payment.RawPayload = input.RawPayload
	}
	order.Status = spec.orderTo

	ctx = s.logg.WithPaymentID(s.logg.WithOrderID(ctx, order.ID.String()), payment.ID.String())
	s.logg.Info(s.logg.WithField(ctx, "event", string(input.Kind)), "payment transition applied")

	return &Result{Payment: payment, Order: order}, nil
}

// GetByProviderPaymentID resolves a payment from the provider's identifier.
func (s *Service) GetByProviderPaymentID(ctx context.Context, provider enums.PaymentProvider, providerPaymentID string) (*models.Payment, error) {
	return s.GetByProviderPaymentIDTx(ctx, nil, provider, providerPaymentID)
}

// GetByProviderPaymentIDTx resolves a payment inside an enclosing
// transaction, so the lookup sees rows the transaction wrote and holds the
// same snapshot as the transition it feeds.
func (s *Service) GetByProviderPaymentIDTx(ctx context.Context, tx *gorm.DB, provider enums.PaymentProvider, providerPaymentID string) (*models.Payment, error) {
	payment, err := s.payments.WithTx(tx).FindByProviderPaymentID(ctx, provider, providerPaymentID)
	if err != nil {
		if err == ErrNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, err
	}
	return payment, nil
}

// ListStalePending returns pending payments older than the threshold, for the
// reconciliation sweep.
func (s *Service) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.payments.FindStalePending(ctx, olderThan, limit)
}

// GetByOrderID returns the latest payment attempt for an order.
func (s *Service) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	payment, err := s.payments.FindLatestByOrderID(ctx, orderID)
	if err != nil {
		if err == ErrNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, err
	}
	return payment, nil
}

// CreatePending persists a new pending payment attempt, optionally inside an
// enclosing transaction.
func (s *Service) CreatePending(ctx context.Context, tx *gorm.DB, payment *models.Payment) error {
	if payment == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "payment required")
	}
	if payment.Status != enums.PaymentStatusPending {
		return pkgerrors.New(pkgerrors.CodeInternal, "new payment attempts start pending")
	}
	if !payment.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	return s.payments.WithTx(tx).Create(ctx, payment)
}

// AttachProviderRef stores the provider-side payment id after registration.
func (s *Service) AttachProviderRef(ctx context.Context, id uuid.UUID, providerPaymentID string, raw json.RawMessage) error {
	if strings.TrimSpace(providerPaymentID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider payment id is required")
	}
	if err := s.payments.AttachProviderRef(ctx, id, providerPaymentID, raw); err != nil {
		if db.IsUniqueViolation(err, "ux_payments_provider_payment_id") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "provider payment id already attached to another payment")
		}
		return err
	}
	return nil
}

func invalidTransition(current enums.PaymentStatus, kind EventKind) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict,
		fmt.Sprintf("payment in status %q does not accept %s", current, kind))
}

type orderEventData struct {
	OrderID        uuid.UUID `json:"order_id"`
	PaymentID      uuid.UUID `json:"payment_id"`
	UserTelegramID *int64    `json:"user_telegram_id,omitempty"`
	CustomerName   string    `json:"customer_name"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	Reason         string    `json:"reason,omitempty"`
}
