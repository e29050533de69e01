package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	internalorders "github.com/telemart/storefront-backend/internal/orders"
	"github.com/telemart/storefront-backend/pkg/db/models"
	"github.com/telemart/storefront-backend/pkg/enums"
	"github.com/telemart/storefront-backend/pkg/types"
)

type orderItemResponse struct {
	ID        uuid.UUID       `json:"id"`
	ProductID uuid.UUID       `json:"product_id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
}

type orderResponse struct {
	ID              uuid.UUID            `json:"id"`
	Status          enums.OrderStatus    `json:"status"`
	CustomerName    string               `json:"customer_name"`
	CustomerPhone   string               `json:"customer_phone"`
	Currency        enums.Currency       `json:"currency"`
	Subtotal        decimal.Decimal      `json:"subtotal"`
	DeliveryFee     decimal.Decimal      `json:"delivery_fee"`
	Total           decimal.Decimal      `json:"total"`
	DeliveryAddress types.Address        `json:"delivery_address"`
	PickupAddress   types.Address        `json:"pickup_address"`
	SelectedQuote   *types.SelectedQuote `json:"selected_quote,omitempty"`
	Items           []orderItemResponse  `json:"items"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

type paymentResponse struct {
	ID                uuid.UUID             `json:"id"`
	OrderID           uuid.UUID             `json:"order_id"`
	Provider          enums.PaymentProvider `json:"provider"`
	ProviderPaymentID *string               `json:"provider_payment_id,omitempty"`
	Amount            decimal.Decimal       `json:"amount"`
	Currency          enums.Currency        `json:"currency"`
	Status            enums.PaymentStatus   `json:"status"`
	CreatedAt         time.Time             `json:"created_at"`
}

type paymentHandoffResponse struct {
	Payment         paymentResponse `json:"payment"`
	ConfirmationURL string          `json:"confirmation_url,omitempty"`
}

func toOrderResponse(order *models.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			Title:     item.TitleSnapshot,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.TotalPrice,
		})
	}

	return orderResponse{
		ID:              order.ID,
		Status:          order.Status,
		CustomerName:    order.CustomerName,
		CustomerPhone:   order.CustomerPhone,
		Currency:        order.Currency,
		Subtotal:        order.SubtotalAmount,
		DeliveryFee:     order.DeliveryFee,
		Total:           order.TotalAmount,
		DeliveryAddress: order.DeliveryAddress,
		PickupAddress:   order.PickupAddress,
		SelectedQuote:   order.SelectedQuote,
		Items:           items,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

func toPaymentResponse(payment *models.Payment) paymentResponse {
	return paymentResponse{
		ID:                payment.ID,
		OrderID:           payment.OrderID,
		Provider:          payment.Provider,
		ProviderPaymentID: payment.ProviderPaymentID,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		Status:            payment.Status,
		CreatedAt:         payment.CreatedAt,
	}
}

func toHandoffResponse(handoff *internalorders.PaymentHandoff) paymentHandoffResponse {
	return paymentHandoffResponse{
		Payment:         toPaymentResponse(handoff.Payment),
		ConfirmationURL: handoff.ConfirmationURL,
	}
}
