package models

import (
	"errors"
	"time"
)

type PaymentStatus string

// remember to add new statuses to the validPaymentStatuses map
const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

var validPaymentStatuses = map[PaymentStatus]struct{}{
	PaymentStatusPending:    {},
	PaymentStatusProcessing: {},
	PaymentStatusCompleted:  {},
	PaymentStatusFailed:     {},
	PaymentStatusCancelled:  {},
	PaymentStatusRefunded:   {},
}

func ToPaymentStatus(s string) (PaymentStatus, error) {
	status := PaymentStatus(s)
	if _, ok := validPaymentStatuses[status]; ok {
		return status, nil
	}
	return "", errors.New("invalid payment status")
}

type Payment struct {
	ID            int           `json:"id"`
	OrderID       int           `json:"order_id"`
	UserID        int           `json:"user_id"`
	Amount        float64       `json:"amount"`
	Currency      string        `json:"currency"`
	PaymentMethod string        `json:"payment_method"`
	Status        PaymentStatus `json:"status"`
	TransactionID *string       `json:"transaction_id"`
	FailureReason *string       `json:"failure_reason"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     *time.Time    `json:"updated_at"`
}

type PaymentCreate struct {
	OrderID       int     `json:"order_id" binding:"required,gt=0"`
	UserID        int     `json:"user_id" binding:"required,gt=0"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency" binding:"max=3"`
	PaymentMethod string  `json:"payment_method" binding:"max=50"`
}

type PaymentEvent struct {
	PaymentID     int           `json:"payment_id"`
	OrderID       int           `json:"order_id"`
	UserID        int           `json:"user_id"`
	Amount        float64       `json:"amount"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transaction_id,omitempty"`
	EventType     string        `json:"event_type"` // payment_success, payment_failed, payment_refunded
}
