package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"minishop/order-service/cache"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// VerifyResult distinguishes a user confirmed absent from a verification that
// never completed. Callers collapse both non-Found cases into "user not
// found": an unreachable user service must not let unverified orders through.
type VerifyResult int

const (
	UserFound VerifyResult = iota
	UserNotFound
	UserUnreachable
)

type UserVerifier interface {
	VerifyUser(ctx context.Context, userID int) VerifyResult
}

const verifiedTTL = 5 * time.Minute

type UserClient struct {
	baseURL string
	http    *http.Client
	cache   *redis.Client
	logger  *zap.Logger
}

// NewUserClient builds a verifier against the user service. The redis client
// is optional; when present, positive lookups are cached for a short TTL.
func NewUserClient(baseURL string, rdb *redis.Client, logger *zap.Logger) *UserClient {
	return &UserClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		cache:   rdb,
		logger:  logger,
	}
}

func (c *UserClient) VerifyUser(ctx context.Context, userID int) VerifyResult {
	if c.cache != nil && cache.IsUserVerified(ctx, c.cache, userID) {
		return UserFound
	}

	url := fmt.Sprintf("%s/users/%d", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Error("Failed to build user lookup request", zap.Int("user_id", userID), zap.Error(err))
		return UserUnreachable
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("Failed to verify user", zap.Int("user_id", userID), zap.Error(err))
		return UserUnreachable
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if c.cache != nil {
			if err := cache.MarkUserVerified(ctx, c.cache, userID, verifiedTTL); err != nil {
				c.logger.Warn("Failed to cache user verification", zap.Int("user_id", userID), zap.Error(err))
			}
		}
		return UserFound
	case http.StatusNotFound:
		return UserNotFound
	default:
		c.logger.Error("Unexpected status from user service",
			zap.Int("user_id", userID),
			zap.Int("status", resp.StatusCode),
		)
		return UserUnreachable
	}
}
