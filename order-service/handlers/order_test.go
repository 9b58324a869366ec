package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"minishop/order-service/clients"
	"minishop/order-service/middleware"
	"minishop/order-service/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type stubVerifier struct {
	result clients.VerifyResult
}

func (s stubVerifier) VerifyUser(ctx context.Context, userID int) clients.VerifyResult {
	return s.result
}

type stubCharger struct {
	ok   bool
	seen []clients.ChargeRequest
}

func (s *stubCharger) Charge(ctx context.Context, req clients.ChargeRequest) bool {
	s.seen = append(s.seen, req)
	return s.ok
}

func setupOrderTest(t *testing.T, verifier clients.UserVerifier, charger clients.PaymentCharger) (*OrderHandler, sqlmock.Sqlmock, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	handler := NewOrderHandler(db, verifier, charger, nil, "order_events", logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	// Stand in for the auth middleware: every request acts as user 1.
	router.Use(func(c *gin.Context) {
		middleware.SetUserID(c, 1)
	})
	router.POST("/orders", handler.CreateOrder)
	router.GET("/orders", handler.ListOrders)
	router.GET("/orders/:id", handler.GetOrder)
	router.PATCH("/orders/:id/status", handler.UpdateOrderStatus)

	return handler, mock, router
}

func postOrder(router *gin.Engine, payload string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

const twoItemOrder = `{"items":[{"product_name":"widget","quantity":2,"price":9.99},{"product_name":"gadget","quantity":1,"price":20.00}]}`

func expectInsertOrder(mock sqlmock.Sqlmock, itemCount int) {
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").
		WithArgs(1, sqlmock.AnyArg(), models.OrderStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "total_amount", "status", "created_at"}).
			AddRow(1, 1, 39.98, models.OrderStatusPending, time.Now()))
	for i := 0; i < itemCount; i++ {
		mock.ExpectQuery("INSERT INTO order_items").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(i+1, time.Now()))
	}
	mock.ExpectCommit()
}

func TestOrderHandler_CreateOrder_PaymentSucceeds(t *testing.T) {
	charger := &stubCharger{ok: true}
	handler, mock, router := setupOrderTest(t, stubVerifier{result: clients.UserFound}, charger)
	defer handler.db.Close()

	expectInsertOrder(mock, 2)
	mock.ExpectQuery("UPDATE orders SET status").
		WithArgs(models.OrderStatusConfirmed, 1).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))

	w := postOrder(router, twoItemOrder)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	var order models.Order
	if err := json.Unmarshal(w.Body.Bytes(), &order); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if order.Status != models.OrderStatusConfirmed {
		t.Errorf("Expected status confirmed, got %s", order.Status)
	}
	if math.Abs(order.TotalAmount-39.98) > 1e-9 {
		t.Errorf("Expected total_amount 39.98, got %v", order.TotalAmount)
	}
	if len(order.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(order.Items))
	}
	if order.Items[0].ProductName != "widget" || order.Items[0].Quantity != 2 {
		t.Errorf("Unexpected first item: %+v", order.Items[0])
	}

	if len(charger.seen) != 1 {
		t.Fatalf("Expected 1 charge call, got %d", len(charger.seen))
	}
	charge := charger.seen[0]
	if charge.OrderID != 1 || charge.UserID != 1 || math.Abs(charge.Amount-39.98) > 1e-9 {
		t.Errorf("Unexpected charge request: %+v", charge)
	}
	if charge.Currency != "USD" || charge.PaymentMethod != "credit_card" {
		t.Errorf("Unexpected charge defaults: %+v", charge)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestOrderHandler_CreateOrder_PaymentFails(t *testing.T) {
	handler, mock, router := setupOrderTest(t, stubVerifier{result: clients.UserFound}, &stubCharger{ok: false})
	defer handler.db.Close()

	expectInsertOrder(mock, 2)
	mock.ExpectQuery("UPDATE orders SET status").
		WithArgs(models.OrderStatusFailed, 1).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))

	w := postOrder(router, twoItemOrder)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	var order models.Order
	if err := json.Unmarshal(w.Body.Bytes(), &order); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	// The failed order stays in the store; it is not deleted and not pending.
	if order.Status != models.OrderStatusFailed {
		t.Errorf("Expected status failed, got %s", order.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestOrderHandler_CreateOrder_UserNotFound(t *testing.T) {
	charger := &stubCharger{ok: true}
	handler, mock, router := setupOrderTest(t, stubVerifier{result: clients.UserNotFound}, charger)
	defer handler.db.Close()

	w := postOrder(router, twoItemOrder)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if len(charger.seen) != 0 {
		t.Errorf("Expected no charge attempt, got %d", len(charger.seen))
	}
	// No order row may exist for an unverified user.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unexpected database calls were made: %v", err)
	}
}

func TestOrderHandler_CreateOrder_VerifierUnreachable(t *testing.T) {
	// An unreachable user service fails closed: same outcome as a missing user.
	handler, mock, router := setupOrderTest(t, stubVerifier{result: clients.UserUnreachable}, &stubCharger{ok: true})
	defer handler.db.Close()

	w := postOrder(router, twoItemOrder)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unexpected database calls were made: %v", err)
	}
}

func TestOrderHandler_CreateOrder_EmptyItems(t *testing.T) {
	handler, mock, router := setupOrderTest(t, stubVerifier{result: clients.UserFound}, &stubCharger{ok: true})
	defer handler.db.Close()

	w := postOrder(router, `{"items":[]}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unexpected database calls were made: %v", err)
	}
}

func TestOrderHandler_GetOrder_Success(t *testing.T) {
	handler, mock, router := setupOrderTest(t, stubVerifier{result: clients.UserFound}, &stubCharger{ok: true})
	defer handler.db.Close()

	mock.ExpectQuery("SELECT id, user_id, total_amount, status, created_at, updated_at FROM orders WHERE id = \\$1 AND user_id = \\$2").
		WithArgs(1, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "total_amount", "status", "created_at", "updated_at"}).
			AddRow(1, 1, 39.98, models.OrderStatusConfirmed, time.Now(), time.Now()))
	mock.ExpectQuery("SELECT id, order_id, product_name, quantity, price, created_at FROM order_items").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_name", "quantity", "price", "created_at"}).
			AddRow(1, 1, "widget", 2, 9.99, time.Now()).
			AddRow(2, 1, "gadget", 1, 20.00, time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/orders/1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var order models.Order
	if err := json.Unmarshal(w.Body.Bytes(), &order); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(order.Items) != 2 {
		t.Errorf("Expected 2 items, got %d", len(order.Items))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestOrderHandler_GetOrder_OtherUsersOrderIsNotFound(t *testing.T) {
	handler, mock, router := setupOrderTest(t, stubVerifier{result: clients.UserFound}, &stubCharger{ok: true})
	defer handler.db.Close()

	// Order 7 belongs to someone else; the ownership-scoped query comes back
	// empty and the caller cannot tell it exists.
	mock.ExpectQuery("SELECT id, user_id, total_amount, status, created_at, updated_at FROM orders WHERE id = \\$1 AND user_id = \\$2").
		WithArgs(7, 1).
		WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest(http.MethodGet, "/orders/7", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestOrderHandler_ListOrders(t *testing.T) {
	handler, mock, router := setupOrderTest(t, stubVerifier{result: clients.UserFound}, &stubCharger{ok: true})
	defer handler.db.Close()

	mock.ExpectQuery("SELECT id, user_id, total_amount, status, created_at, updated_at FROM orders WHERE user_id = \\$1 ORDER BY id").
		WithArgs(1, 0, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "total_amount", "status", "created_at", "updated_at"}).
			AddRow(1, 1, 39.98, models.OrderStatusConfirmed, time.Now(), time.Now()).
			AddRow(2, 1, 5.00, models.OrderStatusFailed, time.Now(), time.Now()))
	mock.ExpectQuery("SELECT id, order_id, product_name, quantity, price, created_at FROM order_items").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_name", "quantity", "price", "created_at"}).
			AddRow(1, 1, "widget", 2, 9.99, time.Now()))
	mock.ExpectQuery("SELECT id, order_id, product_name, quantity, price, created_at FROM order_items").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_name", "quantity", "price", "created_at"}).
			AddRow(2, 2, "sticker", 1, 5.00, time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var orders []models.Order
	if err := json.Unmarshal(w.Body.Bytes(), &orders); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(orders) != 2 {
		t.Errorf("Expected 2 orders, got %d", len(orders))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestOrderHandler_UpdateOrderStatus_Success(t *testing.T) {
	handler, mock, router := setupOrderTest(t, stubVerifier{result: clients.UserFound}, &stubCharger{ok: true})
	defer handler.db.Close()

	mock.ExpectExec("UPDATE orders SET status").
		WithArgs(models.OrderStatusShipped, 1, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodPatch, "/orders/1/status", bytes.NewBufferString(`{"status":"shipped"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestOrderHandler_UpdateOrderStatus_InvalidStatus(t *testing.T) {
	handler, mock, router := setupOrderTest(t, stubVerifier{result: clients.UserFound}, &stubCharger{ok: true})
	defer handler.db.Close()

	req := httptest.NewRequest(http.MethodPatch, "/orders/1/status", bytes.NewBufferString(`{"status":"teleported"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unexpected database calls were made: %v", err)
	}
}

func TestOrderHandler_UpdateOrderStatus_NotFound(t *testing.T) {
	handler, mock, router := setupOrderTest(t, stubVerifier{result: clients.UserFound}, &stubCharger{ok: true})
	defer handler.db.Close()

	mock.ExpectExec("UPDATE orders SET status").
		WithArgs(models.OrderStatusCancelled, 999, 1).
		WillReturnResult(sqlmock.NewResult(0, 0))

	req := httptest.NewRequest(http.MethodPatch, "/orders/999/status", bytes.NewBufferString(`{"status":"cancelled"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}
