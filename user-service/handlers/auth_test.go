package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"minishop/user-service/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

var testSecret = []byte("test-secret")

func setupAuthTest(t *testing.T) (*AuthHandler, sqlmock.Sqlmock, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	handler := NewAuthHandler(db, testSecret, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/users", handler.Register)
	router.POST("/users/login", handler.Login)

	return handler, mock, router
}

func TestAuthHandler_Register_Success(t *testing.T) {
	handler, mock, router := setupAuthTest(t)
	defer handler.db.Close()

	// Mock: Check if user exists (should return no rows)
	mock.ExpectQuery("SELECT id FROM users WHERE email = \\$1").
		WithArgs("test@example.com").
		WillReturnError(sql.ErrNoRows)

	// Mock: Insert user
	mock.ExpectQuery("INSERT INTO users").
		WithArgs("test@example.com", "testuser", "Test User", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "username", "full_name", "is_active", "created_at"}).
			AddRow(1, "test@example.com", "testuser", "Test User", true, time.Now()))

	reqBody := models.RegisterRequest{
		Email:    "test@example.com",
		Username: "testuser",
		FullName: "Test User",
		Password: "password123",
	}

	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/users", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status %d, got %d", http.StatusCreated, w.Code)
	}

	var user models.User
	if err := json.Unmarshal(w.Body.Bytes(), &user); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if user.ID != 1 || user.Email != "test@example.com" {
		t.Errorf("Unexpected user in response: %+v", user)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestAuthHandler_Register_UserExists(t *testing.T) {
	handler, mock, router := setupAuthTest(t)
	defer handler.db.Close()

	// Mock: User already exists
	mock.ExpectQuery("SELECT id FROM users WHERE email = \\$1").
		WithArgs("test@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	reqBody := models.RegisterRequest{
		Email:    "test@example.com",
		Username: "testuser",
		FullName: "Test User",
		Password: "password123",
	}

	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/users", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	expectedBody := `{"error":"Email already registered"}`
	if w.Body.String() != expectedBody {
		t.Errorf("Expected body %s, got %s", expectedBody, w.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestAuthHandler_Register_MissingUsername(t *testing.T) {
	handler, mock, router := setupAuthTest(t)
	defer handler.db.Close()

	// No database expectations - should return early before any DB calls
	reqBody := models.RegisterRequest{
		Email:    "test@example.com",
		FullName: "Test User",
		Password: "password123",
	}

	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/users", bytes.NewBuffer(body))
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

func TestAuthHandler_Register_ShortPassword(t *testing.T) {
	handler, mock, router := setupAuthTest(t)
	defer handler.db.Close()

	reqBody := models.RegisterRequest{
		Email:    "test@example.com",
		Username: "testuser",
		FullName: "Test User",
		Password: "short",
	}

	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/users", bytes.NewBuffer(body))
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

func TestAuthHandler_Login_Success(t *testing.T) {
	handler, mock, router := setupAuthTest(t)
	defer handler.db.Close()

	// Mock: Get user from database
	hashedPassword, _ := hashPassword("password123")
	mock.ExpectQuery("SELECT id, email, username, full_name, is_active, password_hash, created_at FROM users WHERE email = \\$1").
		WithArgs("test@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "username", "full_name", "is_active", "password_hash", "created_at"}).
			AddRow(42, "test@example.com", "testuser", "Test User", true, hashedPassword, time.Now()))

	reqBody := models.LoginRequest{
		Email:    "test@example.com",
		Password: "password123",
	}

	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/users/login", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp models.TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.TokenType != "bearer" {
		t.Errorf("Expected token type bearer, got %s", resp.TokenType)
	}

	// The token subject must carry the user ID downstream services act on.
	token, err := jwt.Parse(resp.AccessToken, func(t *jwt.Token) (interface{}, error) {
		return testSecret, nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("Issued token does not verify: %v", err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub != "42" {
		t.Errorf("Expected token subject 42, got %q (%v)", sub, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestAuthHandler_Login_UnknownEmail(t *testing.T) {
	handler, mock, router := setupAuthTest(t)
	defer handler.db.Close()

	// Mock: User not found
	mock.ExpectQuery("SELECT id, email, username, full_name, is_active, password_hash, created_at FROM users WHERE email = \\$1").
		WithArgs("test@example.com").
		WillReturnError(sql.ErrNoRows)

	reqBody := models.LoginRequest{
		Email:    "test@example.com",
		Password: "wrongpassword",
	}

	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/users/login", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}

	expectedBody := `{"error":"Incorrect email or password"}`
	if w.Body.String() != expectedBody {
		t.Errorf("Expected body %s, got %s", expectedBody, w.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestAuthHandler_Login_WrongPassword(t *testing.T) {
	handler, mock, router := setupAuthTest(t)
	defer handler.db.Close()

	hashedPassword, _ := hashPassword("password123")
	mock.ExpectQuery("SELECT id, email, username, full_name, is_active, password_hash, created_at FROM users WHERE email = \\$1").
		WithArgs("test@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "username", "full_name", "is_active", "password_hash", "created_at"}).
			AddRow(42, "test@example.com", "testuser", "Test User", true, hashedPassword, time.Now()))

	reqBody := models.LoginRequest{
		Email:    "test@example.com",
		Password: "wrongpassword",
	}

	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/users/login", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

// Helper function to hash password for testing
func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hashed), err
}
