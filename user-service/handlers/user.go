package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"minishop/user-service/middleware"
	"minishop/user-service/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UserHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewUserHandler(db *sql.DB, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		db:     db,
		logger: logger,
	}
}

// GetUser is the public lookup the order service verifies identities against.
func (h *UserHandler) GetUser(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	user, err := h.fetchUser(c, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		h.logger.Error("Failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, user)
}

// Me returns the profile of the token subject.
func (h *UserHandler) Me(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	user, err := h.fetchUser(c, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
			return
		}
		h.logger.Error("Failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) ListUsers(c *gin.Context) {
	skip := intQuery(c, "skip", 0)
	limit := intQuery(c, "limit", 100)

	rows, err := h.db.QueryContext(
		c.Request.Context(),
		"SELECT id, email, username, full_name, is_active, created_at, updated_at FROM users ORDER BY id OFFSET $1 LIMIT $2",
		skip, limit,
	)
	if err != nil {
		h.logger.Error("Failed to list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Email, &user.Username, &user.FullName, &user.IsActive, &user.CreatedAt, &user.UpdatedAt); err != nil {
			h.logger.Error("Failed to scan user", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("Failed to read users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, users)
}

func (h *UserHandler) fetchUser(c *gin.Context, userID int) (models.User, error) {
	var user models.User
	err := h.db.QueryRowContext(
		c.Request.Context(),
		"SELECT id, email, username, full_name, is_active, created_at, updated_at FROM users WHERE id = $1",
		userID,
	).Scan(&user.ID, &user.Email, &user.Username, &user.FullName, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	return user, err
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
