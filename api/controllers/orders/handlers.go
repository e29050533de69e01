package orders

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/telemart/storefront-backend/api/responses"
	"github.com/telemart/storefront-backend/api/validators"
	internalorders "github.com/telemart/storefront-backend/internal/orders"
	"github.com/telemart/storefront-backend/pkg/db/models"
	pkgerrors "github.com/telemart/storefront-backend/pkg/errors"
	"github.com/telemart/storefront-backend/pkg/logger"
)

type orderService interface {
	CreateOrder(ctx context.Context, input internalorders.CreateOrderInput) (*models.Order, error)
	AttachQuote(ctx context.Context, orderID uuid.UUID, input internalorders.AttachQuoteInput) (*models.Order, error)
	StartPayment(ctx context.Context, orderID uuid.UUID, input internalorders.StartPaymentInput) (*internalorders.PaymentHandoff, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, reason string) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
}

// Create opens a new order in status created with item snapshots priced
// server-side.
func Create(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var dto createOrderDTO
		if err := validators.DecodeJSONBody(r, &dto); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input, err := dto.toInput()
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.CreateOrder(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, toOrderResponse(order))
	}
}

// Detail returns the order with its item snapshots and attached quote.
func Detail(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.GetOrder(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, toOrderResponse(order))
	}
}

// AttachQuote pins a delivery quote to the order and reprices its total.
func AttachQuote(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var dto attachQuoteDTO
		if err := validators.DecodeJSONBody(r, &dto); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input, err := dto.toInput()
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.AttachQuote(ctx, orderID, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, toOrderResponse(order))
	}
}

// StartPayment registers a pending payment with the provider and returns the
// confirmation URL the customer is redirected to.
func StartPayment(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var dto startPaymentDTO
		if err := validators.DecodeJSONBody(r, &dto); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		handoff, err := svc.StartPayment(ctx, orderID, internalorders.StartPaymentInput{ReturnURL: dto.ReturnURL})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, toHandoffResponse(handoff))
	}
}

// Cancel voids the order if its current state still allows it.
func Cancel(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var dto cancelOrderDTO
		if err := validators.DecodeJSONBody(r, &dto); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.CancelOrder(ctx, orderID, dto.Reason)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, toOrderResponse(order))
	}
}

// PaymentStatus returns the latest payment attempt for the order.
func PaymentStatus(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payment, err := svc.GetPayment(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if payment == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "no payment for order"))
			return
		}

		responses.WriteSuccess(w, toPaymentResponse(payment))
	}
}
