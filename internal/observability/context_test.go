package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = WithRequestID(ctx, "req-42")
	assert.Equal(t, "req-42", RequestIDFromContext(ctx))
}

func TestUserIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, UserIDFromContext(ctx), "anonymous requests carry no user ID")

	ctx = WithUserID(ctx, "user-7")
	assert.Equal(t, "user-7", UserIDFromContext(ctx))
}

func TestSearchKeyRoundTrip(t *testing.T) {
	ctx := WithSearchKey(context.Background(), "search-abc")
	assert.Equal(t, "search-abc", SearchKeyFromContext(ctx))
}

func TestContextValuesAreIndependent(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req")
	ctx = WithUserID(ctx, "user")
	ctx = WithSearchKey(ctx, "key")

	assert.Equal(t, "req", RequestIDFromContext(ctx))
	assert.Equal(t, "user", UserIDFromContext(ctx))
	assert.Equal(t, "key", SearchKeyFromContext(ctx))
}
