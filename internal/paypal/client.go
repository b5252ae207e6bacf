// Package paypal talks to the PayPal REST API: client-credentials token
// exchange, checkout order creation and capture, and webhook signature
// verification. It never touches local state.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"invoice-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrRequest wraps every transport failure and non-2xx answer from PayPal
var ErrRequest = errors.New("paypal request failed")

// errUnauthorized marks a 401, which for API calls means the bearer token was revoked
var errUnauthorized = errors.New("unauthorized")

const tokenCacheKey = "paypal"

// Event types that complete a payment
const (
	EventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	EventOrderApproved    = "CHECKOUT.ORDER.APPROVED"
)

// Config holds the PayPal credentials and endpoint
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
	Currency     string
	Timeout      time.Duration
}

// TokenCache keeps bearer tokens between calls
type TokenCache interface {
	GetToken(ctx context.Context, name string) (string, error)
	SetToken(ctx context.Context, name, token string, ttl time.Duration) error
	DeleteToken(ctx context.Context, name string) error
}

type Client struct {
	cfg    Config
	http   *http.Client
	cache  TokenCache
	logger *zap.Logger
}

// NewClient creates a PayPal client. cache may be nil, in which case a fresh
// token is exchanged for every operation.
func NewClient(cfg Config, cache TokenCache) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// WebhookID returns the configured webhook identity
func (c *Client) WebhookID() string {
	return c.cfg.WebhookID
}

// OrderRequest describes the checkout order for one invoice
type OrderRequest struct {
	ReferenceID string
	CustomID    string
	Amount      decimal.Decimal
	Description string
}

// Response is a parsed PayPal answer that keeps the raw body for callers
type Response struct {
	ID         string
	Status     string
	PayerEmail string
	Raw        json.RawMessage
}

// WebhookHeaders are the transmission headers PayPal signs webhooks with
type WebhookHeaders struct {
	AuthAlgo         string
	CertURL          string
	TransmissionID   string
	TransmissionSig  string
	TransmissionTime string
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Payer  struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
}

// AccessToken exchanges the client credentials for a bearer token
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if c.cache != nil {
		token, err := c.cache.GetToken(ctx, tokenCacheKey)
		if err != nil {
			c.logger.Warn("Token cache read failed", zap.Error(err))
		} else if token != "" {
			return token, nil
		}
	}
	return c.exchangeToken(ctx)
}

func (c *Client) exchangeToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req, "token")
	if err != nil {
		return "", err
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("%w: decode token: %v", ErrRequest, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrRequest)
	}

	if c.cache != nil && tok.ExpiresIn > 60 {
		ttl := time.Duration(tok.ExpiresIn-60) * time.Second
		if err := c.cache.SetToken(ctx, tokenCacheKey, tok.AccessToken, ttl); err != nil {
			c.logger.Warn("Token cache write failed", zap.Error(err))
		}
	}

	return tok.AccessToken, nil
}

// CreateOrder creates a CAPTURE-intent checkout order
func (c *Client) CreateOrder(ctx context.Context, order OrderRequest) (*Response, error) {
	ctx, span := util.StartSpan(ctx, "PayPal.CreateOrder")
	defer span.End()

	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"reference_id": order.ReferenceID,
				"custom_id":    order.CustomID,
				"amount": map[string]string{
					"currency_code": c.cfg.Currency,
					"value":         order.Amount.StringFixed(2),
				},
				"description": order.Description,
			},
		},
	}

	return c.postOrder(ctx, "create_order", "/v2/checkout/orders", payload)
}

// CaptureOrder captures a previously approved order
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Response, error) {
	ctx, span := util.StartSpan(ctx, "PayPal.CaptureOrder")
	defer span.End()

	return c.postOrder(ctx, "capture_order",
		"/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", nil)
}

// VerifyWebhookSignature asks PayPal whether event was signed for our webhook id
func (c *Client) VerifyWebhookSignature(ctx context.Context, headers WebhookHeaders, event json.RawMessage) (bool, error) {
	ctx, span := util.StartSpan(ctx, "PayPal.VerifyWebhookSignature")
	defer span.End()

	payload := map[string]interface{}{
		"auth_algo":         headers.AuthAlgo,
		"cert_url":          headers.CertURL,
		"transmission_id":   headers.TransmissionID,
		"transmission_sig":  headers.TransmissionSig,
		"transmission_time": headers.TransmissionTime,
		"webhook_id":        c.cfg.WebhookID,
		"webhook_event":     event,
	}

	body, err := c.authorizedPost(ctx, "verify_webhook", "/v1/notifications/verify-webhook-signature", payload)
	if err != nil {
		return false, err
	}

	var verification struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(body, &verification); err != nil {
		return false, fmt.Errorf("%w: decode verification: %v", ErrRequest, err)
	}

	return verification.VerificationStatus == "SUCCESS", nil
}

// authorizedPost posts payload with a bearer token. A 401 on a cached token
// drops it from the cache and retries once with a freshly exchanged one.
func (c *Client) authorizedPost(ctx context.Context, op, path string, payload interface{}) ([]byte, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := c.postJSON(ctx, op, path, token, payload)
	if err == nil || c.cache == nil || !errors.Is(err, errUnauthorized) {
		return body, err
	}

	c.logger.Warn("PayPal rejected the cached token, exchanging a new one", zap.String("operation", op))
	if err := c.cache.DeleteToken(ctx, tokenCacheKey); err != nil {
		c.logger.Warn("Token cache delete failed", zap.Error(err))
	}
	if token, err = c.exchangeToken(ctx); err != nil {
		return nil, err
	}
	return c.postJSON(ctx, op, path, token, payload)
}

func (c *Client) postOrder(ctx context.Context, op, path string, payload interface{}) (*Response, error) {
	body, err := c.authorizedPost(ctx, op, path, payload)
	if err != nil {
		return nil, err
	}

	var parsed orderResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrRequest, op, err)
	}

	return &Response{
		ID:         parsed.ID,
		Status:     parsed.Status,
		PayerEmail: parsed.Payer.EmailAddress,
		Raw:        json.RawMessage(body),
	}, nil
}

func (c *Client) postJSON(ctx context.Context, op, path, token string, payload interface{}) ([]byte, error) {
	var reader io.Reader = http.NoBody
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, op)
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	util.ProviderCallLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		util.ProviderCallsFailed.WithLabelValues(op).Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrRequest, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		util.ProviderCallsFailed.WithLabelValues(op).Inc()
		return nil, fmt.Errorf("%w: %s: read body: %v", ErrRequest, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		util.ProviderCallsFailed.WithLabelValues(op).Inc()
		c.logger.Warn("PayPal returned an error",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode))
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %w: %s", ErrRequest, errUnauthorized, op)
		}
		return nil, fmt.Errorf("%w: %s: status %d", ErrRequest, op, resp.StatusCode)
	}

	return body, nil
}
