package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukepan/splitrooms/internal/contextkey"
)

// RateLimiter implements a token bucket rate limiting mechanism using Redis,
// keyed per authenticated user id rather than per connection, so it works
// the same whether a user hits the API from one client or several.
type RateLimiter struct {
	redisClient *redis.Client
	capacity    int64
	rate        float64
}

// NewRateLimiter builds a RateLimiter with the given bucket capacity and
// refill rate (tokens per second).
func NewRateLimiter(redisClient *redis.Client, capacity int64, rate float64) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		capacity:    capacity,
		rate:        rate,
	}
}

// Middleware applies rate limiting to HTTP requests. It must run after the
// auth middleware has populated the user id in context.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		userID, ok := req.Context().Value(contextkey.ContextKeyUserID).(string)
		if !ok || userID == "" {
			http.Error(w, "Unauthorized: user id not found in context", http.StatusUnauthorized)
			return
		}

		if !rl.Allow(req.Context(), userID) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, req)
	})
}

// Allow checks if a request is allowed for a given user ID.
func (rl *RateLimiter) Allow(ctx context.Context, userID string) bool {
	key := fmt.Sprintf("rate_limit:%s", userID)

	val, err := rl.redisClient.HMGet(ctx, key, "tokens", "last_refill").Result()
	if err != nil {
		// Redis unreachable: fail open rather than locking every caller out.
		fmt.Printf("error getting rate limit info from redis: %v\n", err)
		return true
	}

	currentTokens := rl.capacity
	lastRefillTime := time.Now()

	if val[0] != nil && val[1] != nil {
		if t, err := strconv.ParseFloat(val[0].(string), 64); err == nil {
			currentTokens = int64(t)
		}
		if t, err := time.Parse(time.RFC3339Nano, val[1].(string)); err == nil {
			lastRefillTime = t
		}
	}

	now := time.Now()
	diff := now.Sub(lastRefillTime).Seconds()
	tokensToAdd := int64(diff * rl.rate)
	currentTokens = int64(math.Min(float64(rl.capacity), float64(currentTokens+tokensToAdd)))
	lastRefillTime = now

	if currentTokens >= 1 {
		currentTokens--
		_, err = rl.redisClient.HMSet(ctx, key, "tokens", currentTokens, "last_refill", lastRefillTime.Format(time.RFC3339Nano)).Result()
		if err != nil {
			fmt.Printf("error setting rate limit info to redis: %v\n", err)
			return true
		}
		return true
	}

	return false
}
