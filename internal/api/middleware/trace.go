// Package middleware provides HTTP middleware for the API layer.
package middleware

import (
	"net/http"

	"github.com/tbickmore/relay-core/internal/api/shared"
)

// TraceID attaches a random trace ID to every request's context so that
// logs and error responses for one request can be correlated.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.SetTraceID(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
