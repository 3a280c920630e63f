package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"pharmaudit/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain uses first hop", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.9"},
		{"real ip header", map[string]string{"X-Real-IP": " 198.51.100.4 "}, "10.0.0.2:1234", "198.51.100.4"},
		{"remote addr ipv4", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"remote addr ipv6", nil, "[::1]:5555", "::1"},
		{"remote addr without port", nil, "192.0.2.1", "192.0.2.1"},
		{"nothing available", nil, "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIPFromRequest(r))
		})
	}
}

func TestClientMetadata_PopulatesContext(t *testing.T) {
	var got requestcontext.RouteInfo
	var ua, ip string
	h := ClientMetadata(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = requestcontext.Route(r.Context())
		ua = requestcontext.UserAgent(r.Context())
		ip = requestcontext.ClientIP(r.Context())
	}))

	r := httptest.NewRequest(http.MethodPost, "/audit/events?source=pos", nil)
	r.RemoteAddr = "192.0.2.10:4000"
	r.Header.Set("User-Agent", "PharmacyPOS/2.1")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "192.0.2.10", ip)
	assert.Equal(t, "PharmacyPOS/2.1", ua)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/audit/events", got.Route)
	assert.Equal(t, "/audit/events?source=pos", got.URL)
}
