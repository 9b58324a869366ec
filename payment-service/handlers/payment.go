package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"minishop/payment-service/gateway"
	"minishop/payment-service/kafka"
	"minishop/payment-service/middleware"
	"minishop/payment-service/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	db       *sql.DB
	gateway  gateway.Gateway
	producer kafka.Producer
	topic    string
	logger   *zap.Logger
}

func NewPaymentHandler(
	db *sql.DB,
	gw gateway.Gateway,
	producer kafka.Producer,
	topic string,
	logger *zap.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		db:       db,
		gateway:  gw,
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// ProcessPayment creates a pending payment, runs the gateway decision exactly
// once, and finalizes the record to completed or failed before responding.
// The route is unauthenticated: the order service calls it server-to-server.
func (h *PaymentHandler) ProcessPayment(c *gin.Context) {
	ctx, span := otel.Tracer("payment-service").Start(c.Request.Context(), "ProcessPayment")
	defer span.End()

	var req models.PaymentCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Payment amount must be greater than zero"})
		return
	}

	if req.Currency == "" {
		req.Currency = "USD"
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = "credit_card"
	}

	span.SetAttributes(
		attribute.Int("order.id", req.OrderID),
		attribute.Int("user.id", req.UserID),
		attribute.Float64("amount", req.Amount),
	)

	payment := models.Payment{
		OrderID:       req.OrderID,
		UserID:        req.UserID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		Status:        models.PaymentStatusPending,
	}

	err := h.db.QueryRowContext(
		ctx,
		"INSERT INTO payments (order_id, user_id, amount, currency, payment_method, status) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at",
		payment.OrderID, payment.UserID, payment.Amount, payment.Currency, payment.PaymentMethod, payment.Status,
	).Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create payment record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	result := h.gateway.Authorize(ctx, payment.OrderID, payment.UserID, payment.Amount)
	span.SetAttributes(attribute.Bool("payment.approved", result.Approved))

	eventType := "payment_failed"
	if result.Approved {
		payment.Status = models.PaymentStatusCompleted
		transactionID := fmt.Sprintf("txn_%d_%d", payment.ID, time.Now().Unix())
		payment.TransactionID = &transactionID
		eventType = "payment_success"
		middleware.RecordPaymentProcessed("success")
		h.logger.Info("Payment processed successfully",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.Int("payment_id", payment.ID),
			zap.String("transaction_id", transactionID),
		)
	} else {
		payment.Status = models.PaymentStatusFailed
		reason := result.Reason
		payment.FailureReason = &reason
		middleware.RecordPaymentProcessed("failed")
		h.logger.Warn("Payment processing failed",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.Int("payment_id", payment.ID),
			zap.String("reason", reason),
		)
	}

	err = h.db.QueryRowContext(
		ctx,
		"UPDATE payments SET status = $1, transaction_id = $2, failure_reason = $3, updated_at = CURRENT_TIMESTAMP WHERE id = $4 RETURNING updated_at",
		payment.Status, payment.TransactionID, payment.FailureReason, payment.ID,
	).Scan(&payment.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to finalize payment", zap.Int("payment_id", payment.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.publishEvent(ctx, payment, eventType)

	c.JSON(http.StatusCreated, payment)
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	ctx, span := otel.Tracer("payment-service").Start(c.Request.Context(), "GetPayment")
	defer span.End()

	paymentID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment ID"})
		return
	}

	span.SetAttributes(attribute.Int("payment.id", paymentID))

	payment, err := h.fetchPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to get payment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	// Unlike the order path, a non-owner gets an explicit denial here.
	if callerID, authed := middleware.UserID(c); authed && callerID != payment.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) ListPayments(c *gin.Context) {
	ctx, span := otel.Tracer("payment-service").Start(c.Request.Context(), "ListPayments")
	defer span.End()

	userID, authed := middleware.UserID(c)
	if !authed {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	skip := intQuery(c, "skip", 0)
	limit := intQuery(c, "limit", 100)

	rows, err := h.db.QueryContext(
		ctx,
		"SELECT id, order_id, user_id, amount, currency, payment_method, status, transaction_id, failure_reason, created_at, updated_at FROM payments WHERE user_id = $1 ORDER BY id OFFSET $2 LIMIT $3",
		userID, skip, limit,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to list payments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	payments := []models.Payment{}
	for rows.Next() {
		var p models.Payment
		err := rows.Scan(&p.ID, &p.OrderID, &p.UserID, &p.Amount, &p.Currency, &p.PaymentMethod,
			&p.Status, &p.TransactionID, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan payment", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to read payments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, payments)
}

// RefundPayment is the only transition-guarded mutation: completed is the
// sole state a refund may leave from, so a second refund of the same payment
// fails.
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	ctx, span := otel.Tracer("payment-service").Start(c.Request.Context(), "RefundPayment")
	defer span.End()

	userID, authed := middleware.UserID(c)
	if !authed {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	paymentID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment ID"})
		return
	}

	span.SetAttributes(attribute.Int("payment.id", paymentID))

	payment, err := h.fetchPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to get payment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if payment.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	if payment.Status != models.PaymentStatusCompleted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only completed payments can be refunded"})
		return
	}

	// The status guard rides on the update so two concurrent refunds cannot
	// both succeed.
	res, err := h.db.ExecContext(
		ctx,
		"UPDATE payments SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND status = $3",
		models.PaymentStatusRefunded, paymentID, models.PaymentStatusCompleted,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to refund payment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	affected, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to read refund result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if affected == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only completed payments can be refunded"})
		return
	}

	middleware.RecordPaymentRefunded()
	payment.Status = models.PaymentStatusRefunded
	h.publishEvent(ctx, payment, "payment_refunded")

	h.logger.Info("Payment refunded",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("payment_id", paymentID),
	)
	c.JSON(http.StatusOK, gin.H{"message": "Payment refunded successfully"})
}

func (h *PaymentHandler) fetchPayment(ctx context.Context, paymentID int) (models.Payment, error) {
	var p models.Payment
	err := h.db.QueryRowContext(
		ctx,
		"SELECT id, order_id, user_id, amount, currency, payment_method, status, transaction_id, failure_reason, created_at, updated_at FROM payments WHERE id = $1",
		paymentID,
	).Scan(&p.ID, &p.OrderID, &p.UserID, &p.Amount, &p.Currency, &p.PaymentMethod,
		&p.Status, &p.TransactionID, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (h *PaymentHandler) publishEvent(ctx context.Context, payment models.Payment, eventType string) {
	if h.producer == nil {
		return
	}

	event := models.PaymentEvent{
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		UserID:    payment.UserID,
		Amount:    payment.Amount,
		Status:    payment.Status,
		EventType: eventType,
	}
	if payment.TransactionID != nil {
		event.TransactionID = *payment.TransactionID
	}

	if err := kafka.PublishEvent(ctx, h.producer, h.topic, event, h.logger); err != nil {
		h.logger.Error("Failed to publish payment event",
			zap.Int("payment_id", payment.ID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
