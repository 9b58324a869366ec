package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"minishop/order-service/clients"
	"minishop/order-service/kafka"
	"minishop/order-service/middleware"
	"minishop/order-service/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type OrderHandler struct {
	db       *sql.DB
	users    clients.UserVerifier
	payments clients.PaymentCharger
	producer kafka.Producer
	topic    string
	logger   *zap.Logger
}

func NewOrderHandler(
	db *sql.DB,
	users clients.UserVerifier,
	payments clients.PaymentCharger,
	producer kafka.Producer,
	topic string,
	logger *zap.Logger,
) *OrderHandler {
	return &OrderHandler{
		db:       db,
		users:    users,
		payments: payments,
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// CreateOrder runs the fulfillment sequence: verify the user, persist a
// pending order with its items, charge it, and finalize the status from the
// charge outcome. There is no compensation: a failed charge leaves the order
// in the store with status failed.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "CreateOrder")
	defer span.End()

	userID, _ := middleware.UserID(c)

	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Binding already enforces min=1; re-checked here because an order with
	// zero items must never reach the store.
	if len(req.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Order must contain at least one item"})
		return
	}

	span.SetAttributes(
		attribute.Int("user_id", userID),
		attribute.Int("item_count", len(req.Items)),
	)

	if h.users.VerifyUser(ctx, userID) != clients.UserFound {
		// Confirmed-absent and unreachable collapse to the same answer here:
		// a user the directory cannot vouch for does not get an order.
		c.JSON(http.StatusBadRequest, gin.H{"error": "User not found"})
		return
	}

	var totalAmount float64
	for _, item := range req.Items {
		totalAmount += item.Price * float64(item.Quantity)
	}

	order, err := h.insertOrder(ctx, userID, totalAmount, req.Items)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	span.SetAttributes(attribute.Int("order.id", order.ID))

	h.publishEvent(ctx, models.OrderEvent{
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		Status:      order.Status,
		EventType:   "order_created",
	})

	// The charge must run to completion even if the client disconnects: the
	// pending order already exists and needs a terminal status.
	chargeCtx := context.WithoutCancel(ctx)
	charged := h.payments.Charge(chargeCtx, clients.ChargeRequest{
		OrderID:       order.ID,
		UserID:        userID,
		Amount:        totalAmount,
		Currency:      "USD",
		PaymentMethod: "credit_card",
	})

	finalStatus := models.OrderStatusFailed
	eventType := "order_failed"
	if charged {
		finalStatus = models.OrderStatusConfirmed
		eventType = "order_confirmed"
	}

	err = h.db.QueryRowContext(
		chargeCtx,
		"UPDATE orders SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 RETURNING updated_at",
		finalStatus, order.ID,
	).Scan(&order.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to finalize order status", zap.Int("order_id", order.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	order.Status = finalStatus

	middleware.RecordOrderCreated(string(finalStatus))

	h.publishEvent(ctx, models.OrderEvent{
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		Status:      finalStatus,
		EventType:   eventType,
	})

	h.logger.Info("Order created",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("order_id", order.ID),
		zap.String("status", string(finalStatus)),
	)
	c.JSON(http.StatusCreated, order)
}

// insertOrder persists the pending order and its items in one transaction so
// a concurrent reader sees either nothing or the full item set.
func (h *OrderHandler) insertOrder(ctx context.Context, userID int, totalAmount float64, items []models.OrderItemRequest) (models.Order, error) {
	var order models.Order

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return order, err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(
		ctx,
		"INSERT INTO orders (user_id, total_amount, status) VALUES ($1, $2, $3) RETURNING id, user_id, total_amount, status, created_at",
		userID, totalAmount, models.OrderStatusPending,
	).Scan(&order.ID, &order.UserID, &order.TotalAmount, &order.Status, &order.CreatedAt)
	if err != nil {
		return order, err
	}

	order.Items = make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		row := models.OrderItem{
			OrderID:     order.ID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.Price,
		}
		err = tx.QueryRowContext(
			ctx,
			"INSERT INTO order_items (order_id, product_name, quantity, price) VALUES ($1, $2, $3, $4) RETURNING id, created_at",
			order.ID, item.ProductName, item.Quantity, item.Price,
		).Scan(&row.ID, &row.CreatedAt)
		if err != nil {
			return order, err
		}
		order.Items = append(order.Items, row)
	}

	if err := tx.Commit(); err != nil {
		return order, err
	}

	return order, nil
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "GetOrder")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	userID, _ := middleware.UserID(c)
	span.SetAttributes(attribute.Int("order.id", orderID))

	var order models.Order
	err = h.db.QueryRowContext(
		ctx,
		"SELECT id, user_id, total_amount, status, created_at, updated_at FROM orders WHERE id = $1 AND user_id = $2",
		orderID, userID,
	).Scan(&order.ID, &order.UserID, &order.TotalAmount, &order.Status, &order.CreatedAt, &order.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Another user's order and a missing order look the same on
			// purpose: no existence leak across users.
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to get order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	order.Items, err = h.loadItems(ctx, order.ID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to load order items", zap.Int("order_id", order.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "ListOrders")
	defer span.End()

	userID, _ := middleware.UserID(c)
	skip := intQuery(c, "skip", 0)
	limit := intQuery(c, "limit", 100)

	rows, err := h.db.QueryContext(
		ctx,
		"SELECT id, user_id, total_amount, status, created_at, updated_at FROM orders WHERE user_id = $1 ORDER BY id OFFSET $2 LIMIT $3",
		userID, skip, limit,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to list orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := rows.Scan(&order.ID, &order.UserID, &order.TotalAmount, &order.Status, &order.CreatedAt, &order.UpdatedAt); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan order", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to read orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	for i := range orders {
		orders[i].Items, err = h.loadItems(ctx, orders[i].ID)
		if err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to load order items", zap.Int("order_id", orders[i].ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}

	c.JSON(http.StatusOK, orders)
}

// UpdateOrderStatus overwrites the status after an ownership check. The value
// must belong to the closed status set but any transition between members is
// accepted.
func (h *OrderHandler) UpdateOrderStatus(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "UpdateOrderStatus")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	userID, _ := middleware.UserID(c)

	var req models.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := models.ToOrderStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order status"})
		return
	}

	span.SetAttributes(
		attribute.Int("order.id", orderID),
		attribute.String("order.status", string(status)),
	)

	res, err := h.db.ExecContext(
		ctx,
		"UPDATE orders SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND user_id = $3",
		status, orderID, userID,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to update order status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	affected, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to read update result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if affected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	h.logger.Info("Order status updated",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("order_id", orderID),
		zap.String("status", string(status)),
	)
	c.JSON(http.StatusOK, gin.H{"message": "Order status updated successfully"})
}

func (h *OrderHandler) loadItems(ctx context.Context, orderID int) ([]models.OrderItem, error) {
	rows, err := h.db.QueryContext(
		ctx,
		"SELECT id, order_id, product_name, quantity, price, created_at FROM order_items WHERE order_id = $1 ORDER BY id",
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.OrderItem{}
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductName, &item.Quantity, &item.Price, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (h *OrderHandler) publishEvent(ctx context.Context, event models.OrderEvent) {
	if h.producer == nil {
		return
	}
	if err := kafka.PublishEvent(ctx, h.producer, h.topic, event, h.logger); err != nil {
		h.logger.Error("Failed to publish order event",
			zap.Int("order_id", event.OrderID),
			zap.String("event_type", event.EventType),
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
