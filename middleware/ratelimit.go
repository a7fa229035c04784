package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/trustcore"
)

// RateLimitApplier is satisfied by *trustcore.RateLimiter.
type RateLimitApplier interface {
	ApplyRateLimit(ctx context.Context, rc trustcore.RequestContext) trustcore.RateLimitDecision
}

// RateLimitOption tunes RateLimit.
type RateLimitOption func(*rateLimitOptions)

type rateLimitOptions struct {
	clientIP func(*http.Request) string
}

// WithClientIP replaces the client address extraction. The default uses
// RemoteAddr only; use this behind a trusted proxy.
func WithClientIP(fn func(*http.Request) string) RateLimitOption {
	return func(o *rateLimitOptions) {
		o.clientIP = fn
	}
}

// ForwardedFor returns the first X-Forwarded-For address, falling back to
// RemoteAddr. Only use it when every request passes a proxy that sets the header.
func ForwardedFor(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return RemoteIP(r)
}

// RemoteIP returns the host part of RemoteAddr.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit applies the engine's rule table to every request. Denied requests
// get the prepared 429 response; admitted ones carry the X-RateLimit-* headers.
func RateLimit(limiter RateLimitApplier, opts ...RateLimitOption) func(http.Handler) http.Handler {
	o := rateLimitOptions{clientIP: RemoteIP}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.ApplyRateLimit(r.Context(), trustcore.RequestContext{
				IP:        o.clientIP(r),
				UserAgent: r.UserAgent(),
				Method:    r.Method,
				Path:      r.URL.Path,
			})
			if !d.Allowed {
				d.Response.Write(w)
				return
			}
			d.Result.SetHeaders(w.Header())
			next.ServeHTTP(w, r)
		})
	}
}
