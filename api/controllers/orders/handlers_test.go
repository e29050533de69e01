package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	internalorders "github.com/telemart/storefront-backend/internal/orders"
	"github.com/telemart/storefront-backend/pkg/db/models"
	"github.com/telemart/storefront-backend/pkg/enums"
	pkgerrors "github.com/telemart/storefront-backend/pkg/errors"
)

type stubOrderService struct {
	create       func(ctx context.Context, input internalorders.CreateOrderInput) (*models.Order, error)
	attachQuote  func(ctx context.Context, orderID uuid.UUID, input internalorders.AttachQuoteInput) (*models.Order, error)
	startPayment func(ctx context.Context, orderID uuid.UUID, input internalorders.StartPaymentInput) (*internalorders.PaymentHandoff, error)
	cancel       func(ctx context.Context, orderID uuid.UUID, reason string) (*models.Order, error)
	get          func(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	getPayment   func(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, input internalorders.CreateOrderInput) (*models.Order, error) {
	return s.create(ctx, input)
}

func (s *stubOrderService) AttachQuote(ctx context.Context, orderID uuid.UUID, input internalorders.AttachQuoteInput) (*models.Order, error) {
	return s.attachQuote(ctx, orderID, input)
}

func (s *stubOrderService) StartPayment(ctx context.Context, orderID uuid.UUID, input internalorders.StartPaymentInput) (*internalorders.PaymentHandoff, error) {
	return s.startPayment(ctx, orderID, input)
}

func (s *stubOrderService) CancelOrder(ctx context.Context, orderID uuid.UUID, reason string) (*models.Order, error) {
	return s.cancel(ctx, orderID, reason)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.get(ctx, orderID)
}

func (s *stubOrderService) GetPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return s.getPayment(ctx, orderID)
}

func sampleOrder() *models.Order {
	return &models.Order{
		ID:             uuid.New(),
		CustomerName:   "Ivan Petrov",
		CustomerPhone:  "+79001234567",
		Currency:       enums.CurrencyRUB,
		SubtotalAmount: decimal.RequireFromString("300.00"),
		TotalAmount:    decimal.RequireFromString("300.00"),
		Status:         enums.OrderStatusCreated,
		Items: []models.OrderItem{{
			ID:            uuid.New(),
			ProductID:     uuid.New(),
			TitleSnapshot: "Ceramic mug",
			Quantity:      2,
			UnitPrice:     decimal.RequireFromString("150.00"),
			TotalPrice:    decimal.RequireFromString("300.00"),
		}},
	}
}

func orderURLRequest(method, target, orderID string, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rc := chi.NewRouteContext()
	rc.URLParams.Add("orderId", orderID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func createBody() string {
	return fmt.Sprintf(`{
		"customer_name": "Ivan Petrov",
		"customer_phone": "+79001234567",
		"currency": "RUB",
		"delivery_address": {"fullname": "Moscow, Arbat 1", "coordinates": [37.59, 55.75]},
		"pickup_address": {"fullname": "Moscow, Tverskaya 7", "coordinates": [37.60, 55.76]},
		"items": [{
			"product_id": %q,
			"title": "Ceramic mug",
			"quantity": 2,
			"unit_price": "150.00",
			"weight": 0.4,
			"length": 0.1, "width": 0.1, "height": 0.12
		}]
	}`, uuid.NewString())
}

func TestCreateReturnsOrderSnapshot(t *testing.T) {
	var gotInput internalorders.CreateOrderInput
	svc := &stubOrderService{create: func(_ context.Context, input internalorders.CreateOrderInput) (*models.Order, error) {
		gotInput = input
		return sampleOrder(), nil
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(createBody()))
	w := httptest.NewRecorder()
	Create(svc, nil)(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 but got %d: %s", w.Code, w.Body.String())
	}
	if gotInput.CustomerName != "Ivan Petrov" {
		t.Fatalf("customer name not mapped, got %q", gotInput.CustomerName)
	}
	if len(gotInput.Items) != 1 || !gotInput.Items[0].UnitPrice.Equal(decimal.RequireFromString("150.00")) {
		t.Fatalf("items not mapped: %+v", gotInput.Items)
	}

	var body struct {
		Data orderResponse `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Data.Status != enums.OrderStatusCreated {
		t.Fatalf("unexpected status %s", body.Data.Status)
	}
	if len(body.Data.Items) != 1 || body.Data.Items[0].Title != "Ceramic mug" {
		t.Fatalf("items missing from response: %+v", body.Data.Items)
	}
}

func TestCreateRejectsUnknownCurrency(t *testing.T) {
	svc := &stubOrderService{create: func(context.Context, internalorders.CreateOrderInput) (*models.Order, error) {
		t.Fatalf("service must not be called")
		return nil, nil
	}}

	body := strings.Replace(createBody(), `"RUB"`, `"DOGE"`, 1)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	w := httptest.NewRecorder()
	Create(svc, nil)(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 but got %d", w.Code)
	}
}

func TestCreateRejectsMissingItems(t *testing.T) {
	svc := &stubOrderService{}
	body := `{
		"customer_name": "Ivan Petrov",
		"customer_phone": "+79001234567",
		"currency": "RUB",
		"delivery_address": {"fullname": "a", "coordinates": [1, 2]},
		"pickup_address": {"fullname": "b", "coordinates": [3, 4]},
		"items": []
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	w := httptest.NewRecorder()
	Create(svc, nil)(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 but got %d", w.Code)
	}
}

func TestAttachQuoteMapsRequestedClasses(t *testing.T) {
	order := sampleOrder()
	var gotInput internalorders.AttachQuoteInput
	svc := &stubOrderService{attachQuote: func(_ context.Context, orderID uuid.UUID, input internalorders.AttachQuoteInput) (*models.Order, error) {
		if orderID != order.ID {
			t.Fatalf("unexpected order id %s", orderID)
		}
		gotInput = input
		return order, nil
	}}

	body := `{
		"service_class": "courier",
		"price": "120.00",
		"currency": "RUB",
		"fingerprint": "abc123",
		"expires_at": "2026-08-31T12:00:00Z",
		"requested_classes": ["courier", "express"]
	}`
	req := orderURLRequest(http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/quote", order.ID.String(), body)
	w := httptest.NewRecorder()
	AttachQuote(svc, nil)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 but got %d: %s", w.Code, w.Body.String())
	}
	if gotInput.Quote.Fingerprint != "abc123" {
		t.Fatalf("fingerprint not mapped")
	}
	if !gotInput.Quote.Price.Equal(decimal.RequireFromString("120.00")) {
		t.Fatalf("price not mapped: %s", gotInput.Quote.Price)
	}
	if len(gotInput.RequestedClasses) != 2 || gotInput.RequestedClasses[1] != enums.ServiceClassExpress {
		t.Fatalf("requested classes not mapped: %v", gotInput.RequestedClasses)
	}
}

func TestStartPaymentReturnsConfirmationURL(t *testing.T) {
	order := sampleOrder()
	payment := &models.Payment{
		ID:       uuid.New(),
		OrderID:  order.ID,
		Provider: enums.PaymentProviderYooKassa,
		Amount:   decimal.RequireFromString("300.00"),
		Currency: enums.CurrencyRUB,
		Status:   enums.PaymentStatusPending,
	}
	svc := &stubOrderService{startPayment: func(_ context.Context, _ uuid.UUID, input internalorders.StartPaymentInput) (*internalorders.PaymentHandoff, error) {
		if input.ReturnURL != "https://t.me/telemart_bot" {
			t.Fatalf("return url not mapped: %q", input.ReturnURL)
		}
		return &internalorders.PaymentHandoff{
			Payment:         payment,
			ConfirmationURL: "https://yookassa.ru/confirm/xyz",
		}, nil
	}}

	req := orderURLRequest(http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/payment", order.ID.String(),
		`{"return_url": "https://t.me/telemart_bot"}`)
	w := httptest.NewRecorder()
	StartPayment(svc, nil)(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 but got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Data paymentHandoffResponse `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Data.ConfirmationURL != "https://yookassa.ru/confirm/xyz" {
		t.Fatalf("confirmation url missing: %+v", body.Data)
	}
	if body.Data.Payment.Status != enums.PaymentStatusPending {
		t.Fatalf("unexpected payment status %s", body.Data.Payment.Status)
	}
}

func TestStartPaymentStateConflictMapsTo422(t *testing.T) {
	order := sampleOrder()
	svc := &stubOrderService{startPayment: func(context.Context, uuid.UUID, internalorders.StartPaymentInput) (*internalorders.PaymentHandoff, error) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not payable")
	}}

	req := orderURLRequest(http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/payment", order.ID.String(),
		`{"return_url": "https://t.me/telemart_bot"}`)
	w := httptest.NewRecorder()
	StartPayment(svc, nil)(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 but got %d", w.Code)
	}
}

func TestCancelPassesReason(t *testing.T) {
	order := sampleOrder()
	order.Status = enums.OrderStatusCanceled
	svc := &stubOrderService{cancel: func(_ context.Context, _ uuid.UUID, reason string) (*models.Order, error) {
		if reason != "changed my mind" {
			t.Fatalf("reason not mapped: %q", reason)
		}
		return order, nil
	}}

	req := orderURLRequest(http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/cancel", order.ID.String(),
		`{"reason": "changed my mind"}`)
	w := httptest.NewRecorder()
	Cancel(svc, nil)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 but got %d: %s", w.Code, w.Body.String())
	}
}

func TestDetailRejectsMalformedID(t *testing.T) {
	svc := &stubOrderService{get: func(context.Context, uuid.UUID) (*models.Order, error) {
		t.Fatalf("service must not be called")
		return nil, nil
	}}

	req := orderURLRequest(http.MethodGet, "/api/v1/orders/not-a-uuid", "not-a-uuid", "")
	w := httptest.NewRecorder()
	Detail(svc, nil)(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 but got %d", w.Code)
	}
}

func TestPaymentStatusNotFound(t *testing.T) {
	order := sampleOrder()
	svc := &stubOrderService{getPayment: func(context.Context, uuid.UUID) (*models.Payment, error) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}}

	req := orderURLRequest(http.MethodGet, "/api/v1/orders/"+order.ID.String()+"/payment", order.ID.String(), "")
	w := httptest.NewRecorder()
	PaymentStatus(svc, nil)(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 but got %d", w.Code)
	}
}

var _ orderService = (*stubOrderService)(nil)
