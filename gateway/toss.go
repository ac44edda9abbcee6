package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/settlement-engine/models"
	"github.com/yeremiapane/settlement-engine/utils"
)

const ServiceName = "toss-payments"

// Confirmer verifies a card payment with the gateway before it is recorded.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResponse, error)
}

type Config struct {
	SecretKey string
	APIURL    string
	Timeout   time.Duration
}

type ConfirmRequest struct {
	PaymentKey string          `json:"paymentKey"`
	OrderID    string          `json:"orderId"`
	Amount     decimal.Decimal `json:"-"`
}

type ConfirmResponse struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Status     string `json:"status"`
	Method     string `json:"method"`
}

// APIError carries the gateway's own error code and message.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s - %s", e.StatusCode, e.Code, e.Message)
}

// Client calls the Toss Payments confirm API.
type Client struct {
	config     Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) ValidateConfig() error {
	if c.config.SecretKey == "" {
		return fmt.Errorf("TOSS_SECRET_KEY is not set")
	}
	if c.config.APIURL == "" {
		return fmt.Errorf("TOSS_API_URL is not set")
	}
	return nil
}

// Confirm returns a *models.ExternalCallFailure for every failure, whether it
// is a transport error or a non-2xx answer.
func (c *Client) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResponse, error) {
	resp, err := c.confirm(ctx, req)
	if err != nil {
		utils.ErrorLogger.WithFields(logrus.Fields{
			"order_id": req.OrderID,
			"amount":   req.Amount.String(),
		}).Errorf("Gateway confirmation failed: %v", err)
		return nil, &models.ExternalCallFailure{Service: ServiceName, Err: err}
	}
	return resp, nil
}

func (c *Client) confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResponse, error) {
	if err := c.ValidateConfig(); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"paymentKey": req.PaymentKey,
		"orderId":    req.OrderID,
		"amount":     json.Number(req.Amount.String()),
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	authString := "Basic " + base64.StdEncoding.EncodeToString([]byte(c.config.SecretKey+":"))
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", authString)
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "UNKNOWN"
			apiErr.Message = string(body)
		}
		return nil, apiErr
	}

	var confirmResp ConfirmResponse
	if err := json.Unmarshal(body, &confirmResp); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"order_id": confirmResp.OrderID,
		"status":   confirmResp.Status,
	}).Info("Gateway confirmed payment")
	return &confirmResp, nil
}
