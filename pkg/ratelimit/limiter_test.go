package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Burst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	policy := Policy{RPM: 60, Burst: 2}

	for i := 0; i < 2; i++ {
		ok, err := s.Allow(ctx, "a", policy, 1)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := s.Allow(ctx, "a", policy, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Allow(ctx, "b", policy, 1)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")
}

func TestMemoryStore_Refill(t *testing.T) {
	s := NewMemoryStore()
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }
	policy := Policy{RPM: 60, Burst: 1}

	ok, _ := s.Allow(context.Background(), "a", policy, 1)
	assert.True(t, ok)
	ok, _ = s.Allow(context.Background(), "a", policy, 1)
	assert.False(t, ok)

	now = now.Add(time.Second)
	ok, _ = s.Allow(context.Background(), "a", policy, 1)
	assert.True(t, ok)
}

func TestMemoryStore_Sweep(t *testing.T) {
	s := NewMemoryStore()
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	_, _ = s.Allow(context.Background(), "old", Policy{RPM: 60, Burst: 1}, 1)
	now = now.Add(10 * time.Minute)
	_, _ = s.Allow(context.Background(), "new", Policy{RPM: 60, Burst: 1}, 1)

	assert.Equal(t, 1, s.Sweep(3*time.Minute))
}

func TestCheck_NoStoreFailsClosed(t *testing.T) {
	ok, err := Check(context.Background(), nil, "a", Policy{})
	assert.ErrorIs(t, err, ErrNoStore)
	assert.False(t, ok)
}

func TestMiddleware(t *testing.T) {
	s := NewMemoryStore()
	deny := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }
	h := Middleware(s, Policy{RPM: 1, Burst: 1}, ByRemoteIP, deny, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }),
	)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	assert.Equal(t, "ip:10.0.0.1", ByRemoteIP(req))
}
