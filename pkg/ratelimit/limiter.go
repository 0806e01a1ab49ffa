// Package ratelimit throttles HTTP callers with token buckets held in memory
// or in Redis. It is request throttling only; the daily crank window lives in
// the lottery package.
package ratelimit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy configures one bucket: RPM refill per minute, Burst capacity.
type Policy struct {
	RPM   int
	Burst int
}

func (p Policy) perSecond() float64 {
	r := float64(p.RPM) / 60.0
	if r <= 0 {
		return 1
	}
	return r
}

func (p Policy) burst() int {
	if p.Burst <= 0 {
		return 1
	}
	return p.Burst
}

// LimiterStore decides whether key may spend cost tokens now.
type LimiterStore interface {
	Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error)
}

var ErrNoStore = errors.New("ratelimit: no limiter store configured")

// Check fails closed when no store is configured.
func Check(ctx context.Context, store LimiterStore, key string, policy Policy) (bool, error) {
	if store == nil {
		return false, ErrNoStore
	}
	return store.Allow(ctx, key, policy, 1)
}

// MemoryStore keeps one x/time/rate limiter per key. Suitable for a single instance.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket), now: time.Now}
}

func (s *MemoryStore) Allow(_ context.Context, key string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(policy.perSecond()), policy.burst())}
		s.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, cost), nil
}

// Sweep drops buckets idle for longer than maxIdle and returns how many were removed.
func (s *MemoryStore) Sweep(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-maxIdle)
	removed := 0
	for k, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, k)
			removed++
		}
	}
	return removed
}

// Run sweeps idle buckets every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(maxIdle)
		}
	}
}

// KeyFunc extracts the throttling key from a request.
type KeyFunc func(r *http.Request) string

// ByRemoteIP keys requests by the client IP of the connection.
func ByRemoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return "ip:" + ip
}

// Middleware throttles requests by key. deny writes the rejection; store
// errors are passed to onError and the request is rejected.
func Middleware(store LimiterStore, policy Policy, key KeyFunc, deny http.HandlerFunc, onError func(*http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := Check(r.Context(), store, key(r), policy)
			if err != nil {
				if onError != nil {
					onError(r, err)
				}
				deny(w, r)
				return
			}
			if !allowed {
				deny(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
