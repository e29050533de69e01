package delivery

import (
	"context"
	"net/http"

	"github.com/telemart/storefront-backend/api/responses"
	"github.com/telemart/storefront-backend/api/validators"
	deliverysvc "github.com/telemart/storefront-backend/internal/delivery"
	"github.com/telemart/storefront-backend/pkg/enums"
	pkgerrors "github.com/telemart/storefront-backend/pkg/errors"
	"github.com/telemart/storefront-backend/pkg/logger"
	"github.com/telemart/storefront-backend/pkg/types"
)

type quoteService interface {
	GetQuotes(ctx context.Context, req deliverysvc.QuoteRequest) ([]deliverysvc.Quote, error)
}

type addressDTO struct {
	Fullname    string    `json:"fullname" validate:"required"`
	Coordinates []float64 `json:"coordinates" validate:"required,len=2"`
	City        string    `json:"city"`
	Country     string    `json:"country"`
	Street      string    `json:"street"`
}

type manifestItemDTO struct {
	Quantity int     `json:"quantity" validate:"required,gt=0"`
	WeightKG float64 `json:"weight" validate:"required,gt=0"`
	Length   float64 `json:"length" validate:"required,gt=0"`
	Width    float64 `json:"width" validate:"required,gt=0"`
	Height   float64 `json:"height" validate:"required,gt=0"`
}

type quoteRequestDTO struct {
	From           addressDTO        `json:"from" validate:"required"`
	To             addressDTO        `json:"to" validate:"required"`
	Items          []manifestItemDTO `json:"items" validate:"required,min=1,dive"`
	ServiceClasses []string          `json:"service_classes,omitempty"`
}

// Quotes prices a prospective delivery without touching any order.
func Quotes(svc quoteService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var dto quoteRequestDTO
		if err := validators.DecodeJSONBody(r, &dto); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		req, err := buildRequest(dto)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		quotes, err := svc.GetQuotes(ctx, req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"quotes": quotes})
	}
}

func buildRequest(dto quoteRequestDTO) (deliverysvc.QuoteRequest, error) {
	classes := make([]enums.ServiceClass, 0, len(dto.ServiceClasses))
	for _, raw := range dto.ServiceClasses {
		class, err := enums.ParseServiceClass(raw)
		if err != nil {
			return deliverysvc.QuoteRequest{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid service class")
		}
		classes = append(classes, class)
	}

	manifest := make([]types.ManifestItem, 0, len(dto.Items))
	for _, item := range dto.Items {
		manifest = append(manifest, types.ManifestItem{
			Quantity: item.Quantity,
			WeightKG: item.WeightKG,
			Size: types.ItemSize{
				Length: item.Length,
				Width:  item.Width,
				Height: item.Height,
			},
		})
	}

	return deliverysvc.QuoteRequest{
		From:           toAddress(dto.From),
		To:             toAddress(dto.To),
		Manifest:       manifest,
		ServiceClasses: classes,
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
