// Package api exposes the gateway and playbook engine over HTTP.
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter provides redis-backed request limiting for the API. Expensive
// endpoints (command execution, remediation) carry cost multipliers.
type RateLimiter struct {
	redis  *redis.Client
	logger *zap.Logger
	config RateLimitConfig
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	DefaultRequestsPerMinute int                       `yaml:"default_requests_per_minute"`
	Endpoints                map[string]EndpointLimits `yaml:"endpoints"`
	IncludeHeaders           bool                      `yaml:"include_headers"`
}

// EndpointLimits defines rate limits for specific endpoints.
type EndpointLimits struct {
	Path              string `yaml:"path"`
	Method            string `yaml:"method"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	CostMultiplier    int    `yaml:"cost_multiplier"`
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// NewRateLimiter creates a rate limiter over an existing redis client.
func NewRateLimiter(redisClient *redis.Client, cfg RateLimitConfig, logger *zap.Logger) *RateLimiter {
	if cfg.DefaultRequestsPerMinute == 0 {
		cfg.DefaultRequestsPerMinute = 120
	}
	if cfg.Endpoints == nil {
		cfg.Endpoints = DefaultEndpointLimits()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{redis: redisClient, logger: logger, config: cfg}
}

// DefaultEndpointLimits returns per-endpoint limits: command execution and
// remediation cost more than reads.
func DefaultEndpointLimits() map[string]EndpointLimits {
	return map[string]EndpointLimits{
		"POST:/api/v1/aws/execute": {
			Path: "/api/v1/aws/execute", Method: "POST",
			RequestsPerMinute: 30, CostMultiplier: 2,
		},
		"POST:/api/v1/gcp/execute": {
			Path: "/api/v1/gcp/execute", Method: "POST",
			RequestsPerMinute: 30, CostMultiplier: 2,
		},
		"POST:/api/v1/azure/execute": {
			Path: "/api/v1/azure/execute", Method: "POST",
			RequestsPerMinute: 30, CostMultiplier: 2,
		},
		"POST:/api/v1/remediations": {
			Path: "/api/v1/remediations", Method: "POST",
			RequestsPerMinute: 10, CostMultiplier: 5,
		},
	}
}

// Check performs a rate limit check for one client on one endpoint.
func (rl *RateLimiter) Check(r *http.Request, clientID string) (*RateLimitResult, error) {
	limit := rl.config.DefaultRequestsPerMinute
	key := r.Method + ":" + r.URL.Path
	if ep, ok := rl.config.Endpoints[key]; ok {
		if ep.RequestsPerMinute > 0 && ep.RequestsPerMinute < limit {
			limit = ep.RequestsPerMinute
		}
		if ep.CostMultiplier > 1 {
			limit /= ep.CostMultiplier
		}
	}

	ctx := r.Context()
	redisKey := fmt.Sprintf("cloudgate:ratelimit:%s:%s:minute", clientID, r.URL.Path)

	script := redis.NewScript(`
		local current = redis.call('INCR', KEYS[1])
		if current == 1 then
			redis.call('PEXPIRE', KEYS[1], ARGV[1])
		end
		return current
	`)

	count, err := script.Run(ctx, rl.redis, []string{redisKey}, 60000).Int()
	if err != nil {
		rl.logger.Warn("Rate limit check failed, allowing request", zap.Error(err))
		return &RateLimitResult{Allowed: true}, nil
	}

	allowed := count <= limit
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	ttl, _ := rl.redis.TTL(ctx, redisKey).Result()
	result := &RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		Limit:     limit,
		ResetAt:   time.Now().Add(ttl),
	}
	if !allowed {
		result.RetryAfter = ttl
	}
	return result, nil
}

// Middleware returns an HTTP middleware enforcing the limits.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := rl.Check(r, clientIP(r))
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if rl.config.IncludeHeaders {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			}

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":"rate_limit_exceeded","retry_after":%d}`,
					int(result.RetryAfter.Seconds()))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
