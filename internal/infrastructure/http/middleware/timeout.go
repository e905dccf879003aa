package middleware

import (
	"context"
	"net/http"
	"time"
)

// IssueTimeout bounds the request context of routes that run the issuance workflow inline.
// A workflow stopped by the deadline keeps its persisted state and is picked up by the scheduler.
func IssueTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
