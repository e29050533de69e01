package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/telemart/storefront-backend/internal/delivery"
	"github.com/telemart/storefront-backend/internal/payments"
	"github.com/telemart/storefront-backend/pkg/db/models"
	"github.com/telemart/storefront-backend/pkg/enums"
	pkgerrors "github.com/telemart/storefront-backend/pkg/errors"
	"github.com/telemart/storefront-backend/pkg/logger"
	"github.com/telemart/storefront-backend/pkg/outbox"
	"github.com/telemart/storefront-backend/pkg/types"
	"github.com/telemart/storefront-backend/pkg/yookassa"
)

const maxOrderItems = 100

// CreateOrderItemInput is one line of an incoming order. Unit prices come
// from the caller's catalog lookup; totals are always recomputed server-side.
type CreateOrderItemInput struct {
	ProductID uuid.UUID
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
	WeightKG  float64
	Size      types.ItemSize
}

type CreateOrderInput struct {
	UserTelegramID  *int64
	CustomerName    string
	CustomerPhone   string
	Currency        enums.Currency
	DeliveryAddress types.Address
	PickupAddress   types.Address
	Items           []CreateOrderItemInput
}

// AttachQuoteInput binds a previously issued delivery quote to an order.
// RequestedClasses must echo the service classes the quote was requested
// with; they are part of the quote's fingerprint. Empty means the default
// class set.
type AttachQuoteInput struct {
	Quote            types.SelectedQuote
	RequestedClasses []enums.ServiceClass
}

// StartPaymentInput carries the checkout handoff parameters.
type StartPaymentInput struct {
	ReturnURL string
}

// PaymentHandoff is returned by StartPayment; the confirmation URL is where
// the customer completes payment on the provider's side.
type PaymentHandoff struct {
	Payment         *models.Payment
	ConfirmationURL string
}

type paymentStarter interface {
	Apply(ctx context.Context, input payments.ApplyInput) (*payments.Result, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	CreatePending(ctx context.Context, tx *gorm.DB, payment *models.Payment) error
	AttachProviderRef(ctx context.Context, id uuid.UUID, providerPaymentID string, raw json.RawMessage) error
}

type paymentProvider interface {
	CreatePayment(ctx context.Context, req yookassa.CreatePaymentRequest, idempotenceKey string) (*yookassa.Payment, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Logger            *logger.Logger
	TransactionRunner txRunner
	OrderRepo         Repository
	Payments          paymentStarter
	Provider          paymentProvider
	Outbox            outboxEmitter
}

// Service owns the order lifecycle up to and around payment: creation,
// quote attachment, payment handoff and cancellation.
type Service struct {
	logg     *logger.Logger
	txRunner txRunner
	orders   Repository
	payments paymentStarter
	provider paymentProvider
	outbox   outboxEmitter
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.OrderRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order repository required")
	}
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment service required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	return &Service{
		logg:     params.Logger,
		txRunner: params.TransactionRunner,
		orders:   params.OrderRepo,
		payments: params.Payments,
		provider: params.Provider,
		outbox:   params.Outbox,
	}, nil
}

// CreateOrder validates the submitted lines, recomputes all money amounts
// from unit prices and persists the order with snapshotted items. Totals
// submitted by the client are never trusted.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyRUB
	}

	subtotal := decimal.Zero
	items := make([]models.OrderItem, 0, len(input.Items))
	for _, line := range input.Items {
		lineTotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		subtotal = subtotal.Add(lineTotal)
		items = append(items, models.OrderItem{
			ID:            uuid.New(),
			ProductID:     line.ProductID,
			TitleSnapshot: strings.TrimSpace(line.Title),
			Quantity:      line.Quantity,
			UnitPrice:     line.UnitPrice,
			TotalPrice:    lineTotal,
			WeightKG:      line.WeightKG,
			LengthM:       line.Size.Length,
			WidthM:        line.Size.Width,
			HeightM:       line.Size.Height,
		})
	}

	order := &models.Order{
		ID:              uuid.New(),
		UserTelegramID:  input.UserTelegramID,
		CustomerName:    strings.TrimSpace(input.CustomerName),
		CustomerPhone:   strings.TrimSpace(input.CustomerPhone),
		Currency:        currency,
		SubtotalAmount:  subtotal,
		DeliveryFee:     decimal.Zero,
		TotalAmount:     subtotal,
		DeliveryAddress: input.DeliveryAddress,
		PickupAddress:   input.PickupAddress,
		Status:          enums.OrderStatusCreated,
		Items:           items,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "order created")
	return order, nil
}

// AttachQuote binds a delivery quote to the order and prices delivery into
// the total. The quote must still be valid and must have been computed for
// the order's current route and items; it is replaceable until payment
// starts.
func (s *Service) AttachQuote(ctx context.Context, orderID uuid.UUID, input AttachQuoteInput) (*models.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	quote := input.Quote
	if _, err := enums.ParseServiceClass(quote.ServiceClass); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "quote service class")
	}
	if !quote.Price.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quote price must be positive")
	}
	if strings.TrimSpace(quote.Fingerprint) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quote fingerprint is required")
	}
	if quote.Expired(time.Now().UTC()) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "delivery quote has expired")
	}
	if order.Status != enums.OrderStatusCreated {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order in status %q cannot change its delivery quote", order.Status))
	}

	// the fingerprint ties the quote to the route and manifest it was
	// priced for; recompute from current order state and compare
	expected := delivery.Fingerprint(s.quoteRequest(order, input.RequestedClasses))
	if quote.Fingerprint != expected {
		return nil, pkgerrors.New(pkgerrors.CodeConflict,
			"quote does not match the order's current route and items")
	}

	total := order.SubtotalAmount.Add(quote.Price)
	updated, err := s.orders.AttachQuoteGuarded(ctx, order.ID, quote, quote.Price, total,
		[]enums.OrderStatus{enums.OrderStatusCreated})
	if err != nil {
		return nil, fmt.Errorf("attach quote: %w", err)
	}
	if !updated {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			"order changed concurrently; re-fetch and retry")
	}

	s.logg.Info(s.logg.WithField(s.logg.WithOrderID(ctx, order.ID.String()),
		"service_class", quote.ServiceClass), "delivery quote attached")
	return s.getOrder(ctx, orderID)
}

// StartPayment freezes the order total, registers the payment with the
// provider and moves the order to awaiting_payment. The local payment row's
// id doubles as the provider idempotence key, so a retried registration for
// the same attempt cannot double-charge.
func (s *Service) StartPayment(ctx context.Context, orderID uuid.UUID, input StartPaymentInput) (*PaymentHandoff, error) {
	if s.provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment provider not configured")
	}

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case enums.OrderStatusCreated, enums.OrderStatusPaymentFailed:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order in status %q cannot start a payment", order.Status))
	}
	if !order.DeliveryAddress.IsZero() && order.SelectedQuote == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order requires a delivery quote before payment")
	}
	if order.SelectedQuote != nil && order.SelectedQuote.Expired(time.Now().UTC()) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "delivery quote has expired; request a new quote")
	}

	payment := &models.Payment{
		ID:       uuid.New(),
		OrderID:  order.ID,
		Provider: enums.PaymentProviderYooKassa,
		Amount:   order.TotalAmount,
		Currency: order.Currency,
		Status:   enums.PaymentStatusPending,
	}

	// the pending row and the order transition commit together; the
	// provider call happens after, keyed by the row id
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.orders.UpdateStatusGuardedTx(tx, order.ID,
			[]enums.OrderStatus{order.Status}, enums.OrderStatusAwaitingPayment)
		if err != nil {
			return err
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				"order changed concurrently; re-fetch and retry")
		}
		return s.payments.CreatePending(ctx, tx, payment)
	})
	if err != nil {
		return nil, err
	}

	providerPayment, err := s.provider.CreatePayment(ctx, yookassa.CreatePaymentRequest{
		Amount: yookassa.NewAmount(order.TotalAmount, string(order.Currency)),
		Confirmation: yookassa.Confirmation{
			Type:      "redirect",
			ReturnURL: input.ReturnURL,
		},
		Capture:     true,
		Description: fmt.Sprintf("Order %s", order.ID),
		Metadata:    map[string]string{"order_id": order.ID.String()},
	}, payment.ID.String())
	if err != nil {
		s.failHandoff(ctx, payment.ID, err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "register payment with provider")
	}

	raw, _ := json.Marshal(providerPayment)
	if err := s.payments.AttachProviderRef(ctx, payment.ID, providerPayment.ID, raw); err != nil {
		return nil, fmt.Errorf("store provider payment id: %w", err)
	}
	payment.ProviderPaymentID = &providerPayment.ID
	payment.RawPayload = raw

	ctx = s.logg.WithPaymentID(s.logg.WithOrderID(ctx, order.ID.String()), payment.ID.String())
	s.logg.Info(ctx, "payment registered with provider")

	handoff := &PaymentHandoff{Payment: payment}
	if providerPayment.Confirmation != nil {
		handoff.ConfirmationURL = providerPayment.Confirmation.ConfirmationURL
	}
	return handoff, nil
}

// CancelOrder cancels an order. Before payment starts this is a direct
// status update; once a pending payment exists it goes through the payment
// state machine so the payment row and outbox dispatch stay consistent.
func (s *Service) CancelOrder(ctx context.Context, orderID uuid.UUID, reason string) (*models.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case enums.OrderStatusCreated, enums.OrderStatusPaymentFailed:
		return s.cancelDirect(ctx, order, reason)
	case enums.OrderStatusAwaitingPayment:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order in status %q cannot be canceled", order.Status))
	}

	payment, err := s.payments.GetByOrderID(ctx, order.ID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return s.cancelDirect(ctx, order, reason)
		}
		return nil, err
	}

	result, err := s.payments.Apply(ctx, payments.ApplyInput{
		PaymentID: payment.ID,
		Kind:      payments.EventManualCancel,
		Reason:    reason,
		Trigger: outbox.TriggerRef{
			Source:          "api",
			ExternalEventID: fmt.Sprintf("cancel:%s:%s", order.ID, payment.ID),
		},
	})
	if err != nil {
		return nil, err
	}
	return result.Order, nil
}

// GetOrder returns the order with its item snapshot.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.getOrder(ctx, orderID)
}

// GetPayment returns the latest payment attempt for the order.
func (s *Service) GetPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	if _, err := s.getOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.payments.GetByOrderID(ctx, orderID)
}

func (s *Service) getOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if err == ErrNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, err
	}
	return order, nil
}

func (s *Service) cancelDirect(ctx context.Context, order *models.Order, reason string) (*models.Order, error) {
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.orders.UpdateStatusGuardedTx(tx, order.ID,
			[]enums.OrderStatus{order.Status}, enums.OrderStatusCanceled)
		if err != nil {
			return err
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				"order changed concurrently; re-fetch and retry")
		}
		data, err := json.Marshal(map[string]any{
			"order_id":         order.ID,
			"user_telegram_id": order.UserTelegramID,
			"customer_name":    order.CustomerName,
			"amount":           order.TotalAmount.StringFixed(2),
			"currency":         string(order.Currency),
			"reason":           reason,
		})
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCanceled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Trigger:       outbox.TriggerRef{Source: "api"},
			Data:          json.RawMessage(data),
			OccurredAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "order canceled")
	order.Status = enums.OrderStatusCanceled
	return order, nil
}

func (s *Service) quoteRequest(order *models.Order, classes []enums.ServiceClass) delivery.QuoteRequest {
	manifest := make([]types.ManifestItem, 0, len(order.Items))
	for _, item := range order.Items {
		manifest = append(manifest, types.ManifestItem{
			Quantity: item.Quantity,
			WeightKG: item.WeightKG,
			Size: types.ItemSize{
				Length: item.LengthM,
				Width:  item.WidthM,
				Height: item.HeightM,
			},
		})
	}
	return delivery.QuoteRequest{
		From:           order.PickupAddress,
		To:             order.DeliveryAddress,
		Manifest:       manifest,
		ServiceClasses: classes,
	}
}

// failHandoff records a provider registration failure through the state
// machine so the payment and order rows reflect reality. Best effort: the
// primary error is the provider failure already headed to the caller.
func (s *Service) failHandoff(ctx context.Context, paymentID uuid.UUID, cause error) {
	ctx = s.logg.WithField(ctx, "cause", cause.Error())
	_, err := s.payments.Apply(ctx, payments.ApplyInput{
		PaymentID: paymentID,
		Kind:      payments.EventAuthorizationFailed,
		Reason:    "provider registration failed",
		Trigger: outbox.TriggerRef{
			Source:          "api",
			ExternalEventID: fmt.Sprintf("handoff_failed:%s", paymentID),
		},
	})
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()),
			"could not record failed payment handoff")
	}
}

func validateCreateInput(input CreateOrderInput) error {
	if strings.TrimSpace(input.CustomerName) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer name is required")
	}
	if strings.TrimSpace(input.CustomerPhone) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer phone is required")
	}
	if input.Currency != "" && !input.Currency.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("unsupported currency %q", input.Currency))
	}
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}
	if len(input.Items) > maxOrderItems {
		return pkgerrors.New(pkgerrors.CodeValidation, "too many order items")
	}
	if !input.DeliveryAddress.IsZero() && !input.DeliveryAddress.HasCoordinates() {
		return pkgerrors.New(pkgerrors.CodeValidation, "delivery address requires coordinates")
	}
	for i, line := range input.Items {
		if line.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: product id is required", i))
		}
		if strings.TrimSpace(line.Title) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: title is required", i))
		}
		if line.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: quantity must be positive", i))
		}
		if !line.UnitPrice.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: unit price must be positive", i))
		}
		if line.WeightKG <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: weight must be positive", i))
		}
	}
	return nil
}
