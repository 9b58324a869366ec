package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"minishop/user-service/middleware"
	"minishop/user-service/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type AuthHandler struct {
	db        *sql.DB
	jwtSecret []byte
	logger    *zap.Logger
}

func NewAuthHandler(db *sql.DB, jwtSecret []byte, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		db:        db,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Check if user already exists
	var existingID int
	err := h.db.QueryRow("SELECT id FROM users WHERE email = $1", req.Email).Scan(&existingID)
	if err == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email already registered"})
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		traceID := middleware.GetTraceID(c.Request.Context())
		h.logger.Error("Database error", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	// Hash password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		traceID := middleware.GetTraceID(c.Request.Context())
		h.logger.Error("Failed to hash password", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	// Insert user
	var user models.User
	err = h.db.QueryRow(
		"INSERT INTO users (email, username, full_name, password_hash) VALUES ($1, $2, $3, $4) RETURNING id, email, username, full_name, is_active, created_at",
		req.Email, req.Username, req.FullName, string(hashedPassword),
	).Scan(&user.ID, &user.Email, &user.Username, &user.FullName, &user.IsActive, &user.CreatedAt)
	if err != nil {
		traceID := middleware.GetTraceID(c.Request.Context())
		h.logger.Error("Failed to create user", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	traceID := middleware.GetTraceID(c.Request.Context())
	h.logger.Info("User registered", zap.String("trace_id", traceID), zap.String("email", req.Email))
	c.JSON(http.StatusCreated, user)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Get user from database
	var user models.User
	err := h.db.QueryRow(
		"SELECT id, email, username, full_name, is_active, password_hash, created_at FROM users WHERE email = $1",
		req.Email,
	).Scan(&user.ID, &user.Email, &user.Username, &user.FullName, &user.IsActive, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Incorrect email or password"})
			return
		}
		traceID := middleware.GetTraceID(c.Request.Context())
		h.logger.Error("Database error", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Incorrect email or password"})
		return
	}

	// Generate JWT token; the subject is what downstream services trust
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": strconv.Itoa(user.ID),
		"exp": time.Now().Add(24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString(h.jwtSecret)
	if err != nil {
		traceID := middleware.GetTraceID(c.Request.Context())
		h.logger.Error("Failed to generate token", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	traceID := middleware.GetTraceID(c.Request.Context())
	h.logger.Info("User logged in", zap.String("trace_id", traceID), zap.String("email", req.Email))
	c.JSON(http.StatusOK, models.TokenResponse{
		AccessToken: tokenString,
		TokenType:   "bearer",
	})
}
