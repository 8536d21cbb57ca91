package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/asrrelay/internal/api/response"
	"github.com/kiranshivaraju/asrrelay/internal/cache"
)

const (
	defaultPerKey = 60
	window        = time.Minute
)

// Limits are request budgets per one-minute window. Zero PerTenant or
// Submit disables that budget.
type Limits struct {
	PerKey    int // any authenticated request, per API key
	PerTenant int // any authenticated request, across all of a tenant's keys
	Submit    int // job submissions, per tenant
}

// RateLimit enforces Limits with fixed, minute-aligned windows counted in
// the cache.
type RateLimit struct {
	cache  cache.Cache
	limits Limits
	now    func() time.Time
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c cache.Cache, limits Limits) *RateLimit {
	if limits.PerKey <= 0 {
		limits.PerKey = defaultPerKey
	}
	return &RateLimit{cache: c, limits: limits, now: time.Now}
}

type bucket struct {
	name    string
	subject string
	limit   int
}

// Limit charges the request to the API key and to its tenant. The
// X-RateLimit headers describe the per-key budget.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		buckets := []bucket{{name: "key", subject: prefix, limit: rl.limits.PerKey}}
		if tenantID, ok := GetTenantID(r); ok && rl.limits.PerTenant > 0 {
			buckets = append(buckets, bucket{name: "tenant", subject: tenantID.String(), limit: rl.limits.PerTenant})
		}
		if rl.admit(w, r, buckets) {
			next.ServeHTTP(w, r)
		}
	})
}

// LimitSubmit charges the request to the tenant's submission budget.
func (rl *RateLimit) LimitSubmit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := GetTenantID(r)
		if !ok || rl.limits.Submit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if rl.admit(w, r, []bucket{{name: "submit", subject: tenantID.String(), limit: rl.limits.Submit}}) {
			next.ServeHTTP(w, r)
		}
	})
}

// admit counts the request against every bucket and answers 429 when any is
// exhausted. Cache errors fail open.
func (rl *RateLimit) admit(w http.ResponseWriter, r *http.Request, buckets []bucket) bool {
	now := rl.now()
	start := now.Truncate(window)
	reset := start.Add(window)

	for i, b := range buckets {
		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(b.name, b.subject, start.Unix()), window)
		if err != nil {
			slog.Warn("rate limit check failed", "bucket", b.name, "subject", b.subject, "error", err)
			continue
		}

		if i == 0 {
			remaining := max(b.limit-int(count), 0)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(b.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		}

		if count > int64(b.limit) {
			wait := int(reset.Sub(now).Seconds() + 0.999)
			w.Header().Set("Retry-After", strconv.Itoa(max(wait, 1)))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", map[string]string{"limit": b.name})
			return false
		}
	}
	return true
}
