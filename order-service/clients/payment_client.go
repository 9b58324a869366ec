package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type ChargeRequest struct {
	OrderID       int     `json:"order_id"`
	UserID        int     `json:"user_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	PaymentMethod string  `json:"payment_method"`
}

type PaymentCharger interface {
	Charge(ctx context.Context, req ChargeRequest) bool
}

type PaymentClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewPaymentClient(baseURL string, logger *zap.Logger) *PaymentClient {
	return &PaymentClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		logger:  logger,
	}
}

// Charge asks the payment service to charge an order. Any transport error,
// timeout or non-201 response counts as a failed charge; there is no retry
// and the failure is final for the request.
func (c *PaymentClient) Charge(ctx context.Context, charge ChargeRequest) bool {
	body, err := json.Marshal(charge)
	if err != nil {
		c.logger.Error("Failed to marshal charge request", zap.Int("order_id", charge.OrderID), zap.Error(err))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		c.logger.Error("Failed to build charge request", zap.Int("order_id", charge.OrderID), zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("Failed to process payment", zap.Int("order_id", charge.OrderID), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		c.logger.Warn("Payment service rejected charge",
			zap.Int("order_id", charge.OrderID),
			zap.Int("status", resp.StatusCode),
		)
		return false
	}

	return true
}
