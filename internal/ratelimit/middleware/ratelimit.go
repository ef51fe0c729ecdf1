package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	rlmetrics "bizportal/internal/ratelimit/metrics"
	"bizportal/internal/ratelimit/models"
	"bizportal/pkg/platform/httputil"
	"bizportal/pkg/requestcontext"
)

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

type Middleware struct {
	limiter  Limiter
	logger   *slog.Logger
	metrics  *rlmetrics.Metrics
	disabled bool
	now      func() time.Time
}

type Option func(*Middleware)

// WithDisabled turns every policy into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func WithMetrics(metrics *rlmetrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = metrics
	}
}

func New(limiter Limiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// Limit enforces policy per authenticated actor, falling back to the client
// IP. Limiter failures let the request through.
func (m *Middleware) Limit(policy models.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := limitKey(ctx, policy, r)
			result, err := m.limiter.Allow(ctx, key, policy.Limit, policy.Window)
			if err != nil {
				m.metrics.IncCheck(policy.Name, rlmetrics.OutcomeError)
				m.logger.ErrorContext(ctx, "rate limit check failed",
					"error", err,
					"policy", policy.Name,
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if !result.Allowed {
				m.metrics.IncCheck(policy.Name, rlmetrics.OutcomeLimited)
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"policy", policy.Name,
					"actor_id", requestcontext.ActorID(ctx),
					"request_id", requestcontext.RequestID(ctx),
				)
				writeRateLimitExceeded(w, policy, result.RetryAfter(m.now()))
				return
			}
			m.metrics.IncCheck(policy.Name, rlmetrics.OutcomeAllowed)
			next.ServeHTTP(w, r)
		})
	}
}

func limitKey(ctx context.Context, policy models.Policy, r *http.Request) string {
	if actor := requestcontext.ActorID(ctx); actor != "" {
		return policy.Name + ":user:" + actor
	}
	ip := requestcontext.ClientIP(ctx)
	if ip == "" {
		ip = r.RemoteAddr
	}
	return policy.Name + ":ip:" + ip
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, policy models.Policy, retryAfter int) {
	message := policy.Message
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		message = fmt.Sprintf("%s. Try again in %ds.", policy.Message, retryAfter)
	}
	httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.ErrorResponse{
		Error:            policy.Code,
		ErrorDescription: message,
	})
}
