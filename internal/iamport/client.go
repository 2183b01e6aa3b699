package iamport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/qaknc8/edupay-backend/pkg/logging"
)

// Client wraps the payment gateway's REST API. The gateway is the
// authoritative oracle for payment state: a payment initiated from the
// checkout page is looked up here by its imp_uid correlation id.
type Client struct {
	rest   *resty.Client
	apiKey string
	secret string
	logger logging.Logger

	mu           sync.Mutex
	token        string
	tokenExpires time.Time
}

// Config for creating a new gateway client
type Config struct {
	BaseURL string // IAMPORT_BASE_URL
	APIKey  string // IAMPORT_API_KEY
	Secret  string // IAMPORT_API_SECRET
	Timeout time.Duration
	Logger  logging.Logger
}

// Payment is the gateway-side view of a payment attempt
type Payment struct {
	ImpUID      string `json:"imp_uid"`
	MerchantUID string `json:"merchant_uid"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	PaidAt      int64  `json:"paid_at"`
}

type tokenResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Response struct {
		AccessToken string `json:"access_token"`
		ExpiredAt   int64  `json:"expired_at"`
	} `json:"response"`
}

type paymentResponse struct {
	Code     int     `json:"code"`
	Message  string  `json:"message"`
	Response Payment `json:"response"`
}

// NewClient creates a new gateway client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}

	rest := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout)

	return &Client{
		rest:   rest,
		apiKey: config.APIKey,
		secret: config.Secret,
		logger: config.Logger,
	}
}

// FetchPayment returns the authoritative status and amount for the payment
// identified by impUID. Any transport or gateway-side failure is returned to
// the caller; no retries happen here.
func (c *Client) FetchPayment(ctx context.Context, impUID string) (Payment, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return Payment{}, err
	}

	var result paymentResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetResult(&result).
		Get("/payments/" + impUID)
	if err != nil {
		return Payment{}, fmt.Errorf("gateway payment request failed: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return Payment{}, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Code != 0 {
		return Payment{}, fmt.Errorf("gateway error %d: %s", result.Code, result.Message)
	}

	c.logger.WithFields(logging.Fields{
		"imp_uid": impUID,
		"status":  result.Response.Status,
		"amount":  result.Response.Amount,
	}).Debug("Fetched gateway payment")

	return result.Response, nil
}

// accessToken returns a cached API token, refreshing it when absent or about
// to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.tokenExpires) > 30*time.Second {
		return c.token, nil
	}

	var result tokenResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"imp_key":    c.apiKey,
			"imp_secret": c.secret,
		}).
		SetResult(&result).
		Post("/users/getToken")
	if err != nil {
		return "", fmt.Errorf("gateway token request failed: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("gateway token request returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Code != 0 || result.Response.AccessToken == "" {
		return "", fmt.Errorf("gateway token error %d: %s", result.Code, result.Message)
	}

	c.token = result.Response.AccessToken
	c.tokenExpires = time.Unix(result.Response.ExpiredAt, 0)

	return c.token, nil
}
