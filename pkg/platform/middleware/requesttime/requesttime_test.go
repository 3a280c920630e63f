package requesttime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pharmaudit/pkg/requestcontext"
)

func TestMiddleware(t *testing.T) {
	var seen []time.Time
	h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = append(seen, requestcontext.Now(r.Context()), requestcontext.Now(r.Context()))
	}))

	before := time.Now().UTC().Add(-time.Second)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/audit/stats", nil))

	assert.Len(t, seen, 2)
	assert.Equal(t, seen[0], seen[1], "one instant per request")
	assert.Equal(t, time.UTC, seen[0].Location())
	assert.Zero(t, seen[0].Nanosecond()%1000)
	assert.True(t, seen[0].After(before))
}
