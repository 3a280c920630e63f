package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrincipal(t *testing.T) {
	_, ok := Principal(context.Background())
	assert.False(t, ok, "background context is anonymous")

	ctx := WithPrincipal(context.Background(), Caller{UserID: "42", Name: "Dana", Roles: []string{"pharmacist"}})
	c, ok := Principal(ctx)
	assert.True(t, ok)
	assert.Equal(t, "42", c.UserID)
	assert.True(t, c.HasRole("pharmacist"))
	assert.False(t, c.HasRole("admin"))
}

func TestNow(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, fixed, Now(WithTime(context.Background(), fixed)))
	assert.WithinDuration(t, time.Now(), Now(context.Background()), time.Second)
}

func TestClientMetadataAndRoute(t *testing.T) {
	ctx := WithClientMetadata(context.Background(), "10.0.0.1", "curl/8.0")
	ctx = WithRoute(ctx, RouteInfo{Route: "/audit/events", Method: "POST", URL: "/audit/events"})
	ctx = WithRequestID(ctx, "req-1")

	assert.Equal(t, "10.0.0.1", ClientIP(ctx))
	assert.Equal(t, "curl/8.0", UserAgent(ctx))
	assert.Equal(t, "POST", Route(ctx).Method)
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Empty(t, SessionID(ctx))
}
