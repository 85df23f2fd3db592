package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/metrics"
	"github.com/JonMunkholm/catalogimport/internal/ratelimit"
)

// RateLimit rejects clients that exhaust limiter's quota with 429.
//
// Clients are keyed by RemoteAddr, so TrustedRealIP must run first. When the
// limiter itself fails the request is let through and the failure logged.
func RateLimit(limiter ratelimit.Limiter, scope string, m *metrics.ImportMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r.RemoteAddr)

			decision, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logging.FromContext(r.Context()).Warn("rate limiter unavailable, allowing request",
					"scope", scope,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			if decision.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			}

			if !decision.Allowed {
				m.IncRateLimited(scope)
				logging.FromContext(r.Context()).Warn("rate limit exceeded",
					"scope", scope,
					"client", key,
					"retry_after", decision.RetryAfter,
				)

				retry := int(math.Ceil(decision.RetryAfter.Seconds()))
				if retry < 1 {
					retry = 1
				}
				msg := core.MapError(ratelimit.ErrLimited)
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error":   msg.Message,
					"message": msg.Message,
					"action":  msg.Action,
					"code":    msg.Code,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey strips the port from a host:port remote address.
func clientKey(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
