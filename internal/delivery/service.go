package delivery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/telemart/storefront-backend/pkg/enums"
	pkgerrors "github.com/telemart/storefront-backend/pkg/errors"
	"github.com/telemart/storefront-backend/pkg/logger"
	redispkg "github.com/telemart/storefront-backend/pkg/redis"
	"github.com/telemart/storefront-backend/pkg/types"
	"github.com/telemart/storefront-backend/pkg/yandexdelivery"
)

const (
	defaultQuoteTTL     = 5 * time.Minute
	defaultCallTimeout  = 10 * time.Second
	defaultMaxAttempts  = 3
	retryInitialBackoff = 500 * time.Millisecond
)

// QuoteRequest describes a delivery to be priced.
type QuoteRequest struct {
	From           types.Address
	To             types.Address
	Manifest       []types.ManifestItem
	ServiceClasses []enums.ServiceClass
}

// Quote is one priced carrier option. Quotes are immutable; repricing always
// produces a new quote with a fresh fingerprint and expiry.
type Quote struct {
	ServiceClass     enums.ServiceClass `json:"service_class"`
	Price            decimal.Decimal    `json:"price"`
	Currency         enums.Currency     `json:"currency"`
	PickupInterval   *types.TimeWindow  `json:"pickup_interval,omitempty"`
	DeliveryInterval *types.TimeWindow  `json:"delivery_interval,omitempty"`
	Fingerprint      string             `json:"fingerprint"`
	ExpiresAt        time.Time          `json:"expires_at"`
}

type carrierClient interface {
	CalculateOffers(ctx context.Context, req yandexdelivery.CalculateRequest) ([]yandexdelivery.Offer, error)
}

type ServiceParams struct {
	Logger      *logger.Logger
	Carrier     carrierClient
	Cache       redispkg.QuoteCache
	QuoteTTL    time.Duration
	CallTimeout time.Duration
	MaxAttempts int
}

// Service computes delivery quotes with caching, request coalescing and a
// bounded retry policy against the carrier.
type Service struct {
	logg        *logger.Logger
	carrier     carrierClient
	cache       redispkg.QuoteCache
	group       singleflight.Group
	quoteTTL    time.Duration
	callTimeout time.Duration
	maxAttempts int
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.Carrier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "carrier client required")
	}
	if params.Cache == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "quote cache required")
	}

	ttl := params.QuoteTTL
	if ttl <= 0 {
		ttl = defaultQuoteTTL
	}
	timeout := params.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	attempts := params.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	return &Service{
		logg:        params.Logger,
		carrier:     params.Carrier,
		cache:       params.Cache,
		quoteTTL:    ttl,
		callTimeout: timeout,
		maxAttempts: attempts,
	}, nil
}

// GetQuotes prices the delivery. Identical requests within the TTL return the
// cached result; concurrent identical requests share one carrier call.
func (s *Service) GetQuotes(ctx context.Context, req QuoteRequest) ([]Quote, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	fingerprint := Fingerprint(req)
	cacheKey := s.cache.QuoteCacheKey(fingerprint)

	if quotes, ok := s.cachedQuotes(ctx, cacheKey); ok {
		return quotes, nil
	}

	result, err, _ := s.group.Do(fingerprint, func() (any, error) {
		// a flight that queued behind the winner finds the cache warm
		if quotes, ok := s.cachedQuotes(ctx, cacheKey); ok {
			return quotes, nil
		}

		offers, err := s.callCarrier(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(offers) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no delivery quotes available for this route")
		}

		quotes := s.buildQuotes(ctx, offers, fingerprint)
		if len(quotes) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no delivery quotes available for this route")
		}

		if payload, err := json.Marshal(quotes); err == nil {
			if err := s.cache.Set(ctx, cacheKey, string(payload), s.quoteTTL); err != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "quote cache write failed")
			}
		}
		return quotes, nil
	})
	if err != nil {
		return nil, err
	}

	quotes, ok := result.([]Quote)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "unexpected quote result type")
	}
	return quotes, nil
}

func (s *Service) cachedQuotes(ctx context.Context, key string) ([]Quote, bool) {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if err != redispkg.Nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "quote cache read failed")
		}
		return nil, false
	}
	var quotes []Quote
	if err := json.Unmarshal([]byte(raw), &quotes); err != nil {
		return nil, false
	}
	return quotes, true
}

func (s *Service) callCarrier(ctx context.Context, req QuoteRequest) ([]yandexdelivery.Offer, error) {
	carrierReq := buildCarrierRequest(req)

	var offers []yandexdelivery.Offer
	backoff := retry.WithMaxRetries(uint64(s.maxAttempts-1), retry.NewFibonacci(retryInitialBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()

		result, err := s.carrier.CalculateOffers(attemptCtx, carrierReq)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				return err
			}
			return retry.RetryableError(err)
		}
		offers = result
		return nil
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delivery carrier unavailable")
	}
	return offers, nil
}

func (s *Service) buildQuotes(ctx context.Context, offers []yandexdelivery.Offer, fingerprint string) []Quote {
	expiresAt := time.Now().UTC().Add(s.quoteTTL)
	quotes := make([]Quote, 0, len(offers))
	for _, offer := range offers {
		class, err := enums.ParseServiceClass(offer.TaxiClass)
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "taxi_class", offer.TaxiClass), "skipping offer with unknown service class")
			continue
		}
		price, err := offerPrice(offer)
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "taxi_class", offer.TaxiClass), "skipping offer with unparsable price")
			continue
		}
		currency, err := enums.ParseCurrency(offer.Price.Currency)
		if err != nil {
			currency = enums.CurrencyRUB
		}
		quotes = append(quotes, Quote{
			ServiceClass:     class,
			Price:            price,
			Currency:         currency,
			PickupInterval:   toWindow(offer.PickupInterval),
			DeliveryInterval: toWindow(offer.DeliveryInterval),
			Fingerprint:      fingerprint,
			ExpiresAt:        expiresAt,
		})
	}
	sort.Slice(quotes, func(i, j int) bool {
		return quotes[i].Price.LessThan(quotes[j].Price)
	})
	return quotes
}

func offerPrice(offer yandexdelivery.Offer) (decimal.Decimal, error) {
	// the customer pays the VAT-inclusive price when the carrier quotes one
	if offer.Price.TotalPriceWithVAT != "" {
		return decimal.NewFromString(offer.Price.TotalPriceWithVAT)
	}
	return decimal.NewFromString(offer.Price.TotalPrice)
}

func toWindow(interval *yandexdelivery.Interval) *types.TimeWindow {
	if interval == nil {
		return nil
	}
	return &types.TimeWindow{From: interval.From, To: interval.To}
}

func buildCarrierRequest(req QuoteRequest) yandexdelivery.CalculateRequest {
	const (
		pickupPointID  = 1
		dropoffPointID = 2
	)

	items := make([]yandexdelivery.Item, 0, len(req.Manifest))
	for _, item := range req.Manifest {
		items = append(items, yandexdelivery.Item{
			Quantity:     item.Quantity,
			PickupPoint:  pickupPointID,
			DropoffPoint: dropoffPointID,
			Weight:       item.WeightKG,
			Size: &yandexdelivery.ItemSize{
				Length: item.Size.Length,
				Width:  item.Size.Width,
				Height: item.Size.Height,
			},
		})
	}

	classes := make([]string, 0, len(req.ServiceClasses))
	for _, class := range req.ServiceClasses {
		classes = append(classes, string(class))
	}

	return yandexdelivery.CalculateRequest{
		Items: items,
		RoutePoints: []yandexdelivery.RoutePoint{
			{
				ID:          pickupPointID,
				Fullname:    req.From.Fullname,
				Coordinates: req.From.Coordinates,
				City:        req.From.City,
				Country:     req.From.Country,
				Street:      req.From.Street,
			},
			{
				ID:          dropoffPointID,
				Fullname:    req.To.Fullname,
				Coordinates: req.To.Coordinates,
				City:        req.To.City,
				Country:     req.To.Country,
				Street:      req.To.Street,
			},
		},
		Requirements: yandexdelivery.Requirements{TaxiClasses: classes},
	}
}

func validateRequest(req QuoteRequest) error {
	if !req.From.HasCoordinates() {
		return pkgerrors.New(pkgerrors.CodeValidation, "pickup address coordinates are required")
	}
	if !req.To.HasCoordinates() {
		return pkgerrors.New(pkgerrors.CodeValidation, "delivery address coordinates are required")
	}
	if len(req.Manifest) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "delivery manifest is empty")
	}
	for i, item := range req.Manifest {
		if item.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("manifest item %d: quantity must be positive", i))
		}
		if item.WeightKG <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("manifest item %d: weight must be positive", i))
		}
		if item.Size.Degenerate() {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("manifest item %d: dimensions must be positive", i))
		}
	}
	for _, class := range req.ServiceClasses {
		if !class.IsValid() {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown service class %q", class))
		}
	}
	return nil
}

// Fingerprint derives the canonical identity of a quote request: same
// inputs, same fingerprint, regardless of service class ordering.
func Fingerprint(req QuoteRequest) string {
	classes := make([]string, 0, len(req.ServiceClasses))
	for _, class := range req.ServiceClasses {
		classes = append(classes, string(class))
	}
	sort.Strings(classes)
	if len(classes) == 0 {
		classes = []string{string(enums.ServiceClassCourier)}
	}

	canonical := struct {
		From     types.Address        `json:"from"`
		To       types.Address        `json:"to"`
		Manifest []types.ManifestItem `json:"manifest"`
		Classes  []string             `json:"classes"`
	}{
		From:     req.From,
		To:       req.To,
		Manifest: req.Manifest,
		Classes:  classes,
	}

	payload, _ := json.Marshal(canonical)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
