package orders

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	internalorders "github.com/telemart/storefront-backend/internal/orders"
	"github.com/telemart/storefront-backend/pkg/enums"
	pkgerrors "github.com/telemart/storefront-backend/pkg/errors"
	"github.com/telemart/storefront-backend/pkg/types"
)

type addressDTO struct {
	Fullname    string    `json:"fullname" validate:"required"`
	Coordinates []float64 `json:"coordinates" validate:"required,len=2"`
	City        string    `json:"city"`
	Country     string    `json:"country"`
	Street      string    `json:"street"`
}

type orderItemDTO struct {
	ProductID string  `json:"product_id" validate:"required,uuid"`
	Title     string  `json:"title" validate:"required"`
	Quantity  int     `json:"quantity" validate:"required,gt=0"`
	UnitPrice string  `json:"unit_price" validate:"required"`
	WeightKG  float64 `json:"weight" validate:"required,gt=0"`
	Length    float64 `json:"length" validate:"required,gt=0"`
	Width     float64 `json:"width" validate:"required,gt=0"`
	Height    float64 `json:"height" validate:"required,gt=0"`
}

type createOrderDTO struct {
	UserTelegramID  *int64         `json:"user_telegram_id,omitempty"`
	CustomerName    string         `json:"customer_name" validate:"required"`
	CustomerPhone   string         `json:"customer_phone" validate:"required"`
	Currency        string         `json:"currency" validate:"required"`
	DeliveryAddress addressDTO     `json:"delivery_address" validate:"required"`
	PickupAddress   addressDTO     `json:"pickup_address" validate:"required"`
	Items           []orderItemDTO `json:"items" validate:"required,min=1,dive"`
}

type timeWindowDTO struct {
	From time.Time `json:"from" validate:"required"`
	To   time.Time `json:"to" validate:"required"`
}

type attachQuoteDTO struct {
	ServiceClass     string         `json:"service_class" validate:"required"`
	Price            string         `json:"price" validate:"required"`
	Currency         string         `json:"currency" validate:"required"`
	PickupInterval   *timeWindowDTO `json:"pickup_interval,omitempty"`
	DeliveryInterval *timeWindowDTO `json:"delivery_interval,omitempty"`
	Fingerprint      string         `json:"fingerprint" validate:"required"`
	ExpiresAt        time.Time      `json:"expires_at" validate:"required"`
	RequestedClasses []string       `json:"requested_classes,omitempty"`
}

type startPaymentDTO struct {
	ReturnURL string `json:"return_url" validate:"required,url"`
}

type cancelOrderDTO struct {
	Reason string `json:"reason"`
}

func (dto createOrderDTO) toInput() (internalorders.CreateOrderInput, error) {
	currency, err := enums.ParseCurrency(dto.Currency)
	if err != nil {
		return internalorders.CreateOrderInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
	}

	items := make([]internalorders.CreateOrderItemInput, 0, len(dto.Items))
	for _, item := range dto.Items {
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			return internalorders.CreateOrderInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id")
		}
		unitPrice, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			return internalorders.CreateOrderInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid unit price")
		}
		items = append(items, internalorders.CreateOrderItemInput{
			ProductID: productID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: unitPrice,
			WeightKG:  item.WeightKG,
			Size: types.ItemSize{
				Length: item.Length,
				Width:  item.Width,
				Height: item.Height,
			},
		})
	}

	return internalorders.CreateOrderInput{
		UserTelegramID:  dto.UserTelegramID,
		CustomerName:    dto.CustomerName,
		CustomerPhone:   dto.CustomerPhone,
		Currency:        currency,
		DeliveryAddress: toAddress(dto.DeliveryAddress),
		PickupAddress:   toAddress(dto.PickupAddress),
		Items:           items,
	}, nil
}

func (dto attachQuoteDTO) toInput() (internalorders.AttachQuoteInput, error) {
	price, err := decimal.NewFromString(dto.Price)
	if err != nil {
		return internalorders.AttachQuoteInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid quote price")
	}

	classes := make([]enums.ServiceClass, 0, len(dto.RequestedClasses))
	for _, raw := range dto.RequestedClasses {
		class, err := enums.ParseServiceClass(raw)
		if err != nil {
			return internalorders.AttachQuoteInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid service class")
		}
		classes = append(classes, class)
	}

	quote := types.SelectedQuote{
		ServiceClass: dto.ServiceClass,
		Price:        price,
		Currency:     dto.Currency,
		Fingerprint:  dto.Fingerprint,
		ExpiresAt:    dto.ExpiresAt,
	}
	if dto.PickupInterval != nil {
		quote.PickupInterval = &types.TimeWindow{From: dto.PickupInterval.From, To: dto.PickupInterval.To}
	}
	if dto.DeliveryInterval != nil {
		quote.DeliveryInterval = &types.TimeWindow{From: dto.DeliveryInterval.From, To: dto.DeliveryInterval.To}
	}

	return internalorders.AttachQuoteInput{
		Quote:            quote,
		RequestedClasses: classes,
	}, nil
}

func toAddress(dto addressDTO) types.Address {
	return types.Address{
		Fullname:    dto.Fullname,
		Coordinates: dto.Coordinates,
		City:        dto.City,
		Country:     dto.Country,
		Street:      dto.Street,
	}
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return orderID, nil
}
