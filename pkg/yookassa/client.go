package yookassa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/telemart/storefront-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://api.yookassa.ru/v3"
	requestBodyReadLimit  int64 = 2048
	defaultRequestTimeout       = 30 * time.Second
)

var (
	errShopIDRequired    = errors.New("yookassa shop id is required")
	errSecretKeyRequired = errors.New("yookassa secret key is required")
)

// Client wraps the YooKassa payments API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authHeader string
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

// NewClient builds the YooKassa client. Authentication is HTTP Basic with
// shop_id as the username and the secret key as the password.
func NewClient(shopID, secretKey string, opts ...Option) (*Client, error) {
	shopID = strings.TrimSpace(shopID)
	if shopID == "" {
		return nil, errShopIDRequired
	}
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, errSecretKeyRequired
	}

	credentials := base64.StdEncoding.EncodeToString([]byte(shopID + ":" + secretKey))
	client := &Client{
		authHeader: "Basic " + credentials,
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

// Amount is a YooKassa monetary value: a dot-decimal string plus currency.
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// NewAmount formats a decimal the way the API expects ("350.00").
func NewAmount(value decimal.Decimal, currency string) Amount {
	return Amount{Value: value.StringFixed(2), Currency: currency}
}

// Decimal parses the amount value back into a decimal.
func (a Amount) Decimal() (decimal.Decimal, error) {
	return decimal.NewFromString(a.Value)
}

// Confirmation describes how the payer completes the payment.
type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

// CancellationDetails explains why a payment was canceled by the provider.
type CancellationDetails struct {
	Party  string `json:"party"`
	Reason string `json:"reason"`
}

// Payment is the payment object returned by the API.
type Payment struct {
	ID                  string               `json:"id"`
	Status              string               `json:"status"`
	Paid                bool                 `json:"paid"`
	PaymentID           string               `json:"payment_id,omitempty"` // refund objects: the refunded payment
	Amount              Amount               `json:"amount"`
	Confirmation        *Confirmation        `json:"confirmation,omitempty"`
	CancellationDetails *CancellationDetails `json:"cancellation_details,omitempty"`
	Metadata            map[string]string    `json:"metadata,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
}

// CreatePaymentRequest is the payload for POST /payments.
type CreatePaymentRequest struct {
	Amount       Amount            `json:"amount"`
	Confirmation Confirmation      `json:"confirmation"`
	Capture      bool              `json:"capture"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CreatePayment registers a payment with the provider. The idempotence key
// dedupes retried calls on the provider side and must be unique per attempt.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest, idempotenceKey string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "yookassa client not configured")
	}
	if strings.TrimSpace(idempotenceKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotence key is required")
	}
	if strings.TrimSpace(req.Amount.Value) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount is required")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal create payment request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("payments"), bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build create payment request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.authHeader)
	httpReq.Header.Set("Idempotence-Key", idempotenceKey)

	return c.doPayment(httpReq, "create payment")
}

// GetPayment fetches the current provider-side state of a payment. Used by
// reconciliation to resolve payments whose webhook never arrived.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "yookassa client not configured")
	}
	trimmed := strings.TrimSpace(paymentID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL("payments/"+url.PathEscape(trimmed)), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build get payment request")
	}
	httpReq.Header.Set("Authorization", c.authHeader)

	return c.doPayment(httpReq, "get payment")
}

func (c *Client) doPayment(req *http.Request, op string) (*Payment, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("execute %s request", op))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), fmt.Sprintf("%s request failed", op))
	}

	var payment Payment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode %s response", op))
	}
	if payment.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "yookassa response missing payment id")
	}
	return &payment, nil
}

func (c *Client) buildURL(path string) string {
	return strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}
