package yandexdelivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/telemart/storefront-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://b2b.taxi.yandex.net"
	calculatePath               = "/b2b/cargo/integration/v2/offers/calculate"
	acceptLanguage              = "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7"
	requestBodyReadLimit  int64 = 2048
	defaultRequestTimeout       = 30 * time.Second
)

var errTokenRequired = errors.New("yandex delivery token is required")

// Client wraps the Yandex Delivery B2B cargo API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the Yandex Delivery client given an OAuth token.
func NewClient(token string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errTokenRequired
	}

	client := &Client{
		token:      trimmed,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}

	return client, nil
}

// RoutePoint is one stop on the delivery route. Coordinates are [lon, lat].
type RoutePoint struct {
	ID          int       `json:"id"`
	Fullname    string    `json:"fullname"`
	Coordinates []float64 `json:"coordinates"`
	City        string    `json:"city,omitempty"`
	Country     string    `json:"country,omitempty"`
	Street      string    `json:"street,omitempty"`
}

// ItemSize is a parcel's dimensions in meters.
type ItemSize struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Item is one parcel line. Weight is in kilograms; pickup and dropoff
// reference route point ids.
type Item struct {
	Quantity     int       `json:"quantity"`
	PickupPoint  int       `json:"pickup_point"`
	DropoffPoint int       `json:"dropoff_point"`
	Weight       float64   `json:"weight"`
	Size         *ItemSize `json:"size,omitempty"`
}

// Requirements narrows which transport classes may serve the route.
type Requirements struct {
	TaxiClasses []string `json:"taxi_classes"`
}

// CalculateRequest is the payload for the offers/calculate endpoint.
type CalculateRequest struct {
	Items        []Item       `json:"items"`
	RoutePoints  []RoutePoint `json:"route_points"`
	Requirements Requirements `json:"requirements"`
}

// Price carries the carrier's dot-decimal price strings.
type Price struct {
	TotalPrice        string `json:"total_price"`
	TotalPriceWithVAT string `json:"total_price_with_vat"`
	Currency          string `json:"currency"`
}

// Interval is a pickup or delivery time window.
type Interval struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Offer is one transport-class quote returned by the carrier.
type Offer struct {
	TaxiClass        string    `json:"taxi_class"`
	Price            Price     `json:"price"`
	PickupInterval   *Interval `json:"pickup_interval,omitempty"`
	DeliveryInterval *Interval `json:"delivery_interval,omitempty"`
	Payload          string    `json:"payload,omitempty"`
}

// CalculateOffers requests delivery quotes for the route. An empty offer
// list is a valid carrier response; callers decide how to surface it.
func (c *Client) CalculateOffers(ctx context.Context, req CalculateRequest) ([]Offer, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "yandex delivery client not configured")
	}
	if len(req.RoutePoints) < 2 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least two route points are required")
	}
	if len(req.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	if len(req.Requirements.TaxiClasses) == 0 {
		req.Requirements.TaxiClasses = []string{"courier"}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal calculate request")
	}

	url := strings.TrimRight(c.baseURL, "/") + calculatePath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build calculate request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Accept-Language", acceptLanguage)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute calculate request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "calculate request failed")
	}

	var apiResp struct {
		Offers []Offer `json:"offers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode calculate response")
	}
	return apiResp.Offers, nil
}
