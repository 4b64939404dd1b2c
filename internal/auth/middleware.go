package auth

import (
	"net/http"

	authlib "example.com/activityquery/internal/platform/auth"
)

// Middleware enforces bearer-token authentication on incoming requests.
type Middleware struct {
	inner authlib.Middleware
}

// NewMiddleware constructs Middleware. Health and metrics endpoints are public.
func NewMiddleware(cfg Config, onError authlib.ErrorWriter) Middleware {
	skipper := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics" || r.Method == http.MethodOptions
	}
	return Middleware{inner: authlib.NewMiddleware(cfg, skipper, onError)}
}

// Wrap attaches authentication handling to an http.Handler.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return m.inner.Wrap(next)
}
