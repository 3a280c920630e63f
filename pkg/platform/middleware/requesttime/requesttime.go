// Package requesttime fixes "now" once per request, so an audit event, the
// report row it describes and the log line agree on the timestamp.
package requesttime

import (
	"net/http"
	"time"

	"pharmaudit/pkg/requestcontext"
)

// Middleware stores the request start time in the context. Postgres keeps
// microseconds, so the value is truncated to match what is read back.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithTime(r.Context(), now)))
	})
}
