// Package middleware composes rate-limit, cache, retry, timing, logging,
// and auth wrappers around any capability.Handler. Each capability's
// chain is built once at registration time and reused for every task,
// rather than rebuilt per request.
package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentup/agentup/internal/apperr"
	"github.com/agentup/agentup/internal/capability"
	"github.com/agentup/agentup/internal/telemetry"
)

// Handler is the task-taking function a capability resolves to after
// wrapping. It is the common signature middleware operates on.
type Handler func(tc capability.TaskContext) (capability.Result, error)

// Middleware wraps a Handler to produce a new Handler.
type Middleware func(Handler) Handler

// Chain composes mws around base, outermost first: the first Middleware
// in the slice sees the request before any other. It is built once per
// capability at registration time rather than per request.
func Chain(base Handler, mws ...Middleware) Handler {
	h := base
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Logging logs entry/exit and duration for every invocation through
// clue, attaching the standard taskId/contextId/capability fields.
func Logging(capabilityID string) Middleware {
	return func(next Handler) Handler {
		return func(tc capability.TaskContext) (capability.Result, error) {
			fields := telemetry.Fields{TaskID: tc.TaskID, ContextID: tc.ContextID, Capability: capabilityID}
			start := time.Now()
			telemetry.Debug(tc.Context, "capability invocation started", fields)
			res, err := next(tc)
			telemetry.Info(tc.Context, "capability invocation finished", fields, "duration_ms", time.Since(start).Milliseconds())
			if err != nil {
				telemetry.Error(tc.Context, "capability invocation failed", err, fields)
			}
			return res, err
		}
	}
}

// Timing opens a "capability.<id>" span via the shared Tracer and records
// the call's duration in the agentup.capability.duration histogram, which
// is shared by every capability (no per-capability attribute).
func Timing(capabilityID string, tracer *telemetry.Tracer) Middleware {
	return func(next Handler) Handler {
		return func(tc capability.TaskContext) (capability.Result, error) {
			ctx, end := tracer.StartSpan(tc.Context, "capability."+capabilityID)
			tc.Context = ctx
			start := time.Now()
			res, err := next(tc)
			tracer.RecordDuration(ctx, "agentup.capability.duration", time.Since(start))
			end(err)
			return res, err
		}
	}
}

// RateLimiter enforces a per-capability token bucket. It is safe for
// concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewRateLimiter constructs a RateLimiter that gives every capability it
// wraps its own token bucket, keyed per capability ID, each with the same
// (rps, burst) settings.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{limiters: map[string]*rate.Limiter{}, rps: rps, burst: burst}
}

func (r *RateLimiter) limiterFor(id string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.rps), r.burst)
		r.limiters[id] = l
	}
	return l
}

// RateLimit returns a Middleware enforcing r's budget for capabilityID.
func (r *RateLimiter) RateLimit(capabilityID string) Middleware {
	limiter := r.limiterFor(capabilityID)
	return func(next Handler) Handler {
		return func(tc capability.TaskContext) (capability.Result, error) {
			if err := limiter.Wait(tc.Context); err != nil {
				return capability.Result{}, apperr.Wrap(apperr.KindHandler, "rate limit wait canceled", err)
			}
			return next(tc)
		}
	}
}

// cacheEntry is one memoized result.
type cacheEntry struct {
	result  capability.Result
	err     error
	expires time.Time
}

// Cache memoizes non-streaming results by (capability, input text) for a
// configured TTL. It never caches streaming results.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

// NewCache constructs a Cache with the given per-entry TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{entries: map[string]cacheEntry{}, ttl: ttl}
}

// CacheResults returns a Middleware that memoizes capabilityID's result
// for a given task's text within the cache TTL.
func (c *Cache) CacheResults(capabilityID string) Middleware {
	return func(next Handler) Handler {
		return func(tc capability.TaskContext) (capability.Result, error) {
			key := capabilityID + "\x00" + tc.Text
			c.mu.Lock()
			entry, ok := c.entries[key]
			c.mu.Unlock()
			if ok && time.Now().Before(entry.expires) && entry.result.Stream == nil {
				return entry.result, entry.err
			}
			res, err := next(tc)
			if err == nil && res.Stream == nil {
				c.mu.Lock()
				c.entries[key] = cacheEntry{result: res, err: err, expires: time.Now().Add(c.ttl)}
				c.mu.Unlock()
			}
			return res, err
		}
	}
}

// Retry re-invokes the handler up to maxRetries additional times with
// bounded exponential backoff when the handler returns a HandlerError
// (capability failures are assumed transient; AuthError/RoutingError are
// never retried).
func Retry(maxRetries int) Middleware {
	return func(next Handler) Handler {
		return func(tc capability.TaskContext) (capability.Result, error) {
			var lastErr error
			backoff := 50 * time.Millisecond
			for attempt := 0; attempt <= maxRetries; attempt++ {
				res, err := next(tc)
				if err == nil {
					return res, nil
				}
				lastErr = err
				if !apperr.Is(err, apperr.KindHandler) {
					return res, err
				}
				if attempt == maxRetries {
					break
				}
				select {
				case <-tc.Context.Done():
					return res, tc.Context.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
			}
			return capability.Result{}, lastErr
		}
	}
}

// Auth checks tc's auth.Context (attached via auth.WithContext on
// tc.Context) against requiredScopes before invoking next. This
// middleware is the outermost in the default chain (spec.md §4.3: "auth-
// context injector ... outermost first").
func Auth(checkScopes func(ctx context.Context, required []string) error, requiredScopes []string) Middleware {
	return func(next Handler) Handler {
		return func(tc capability.TaskContext) (capability.Result, error) {
			if err := checkScopes(tc.Context, requiredScopes); err != nil {
				return capability.Result{}, err
			}
			return next(tc)
		}
	}
}
