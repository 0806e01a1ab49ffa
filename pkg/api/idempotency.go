package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/likelottery/pkg/auth"
)

// IdempotencyHeader names the client-chosen replay key.
const IdempotencyHeader = "Idempotency-Key"

// CachedResponse is a stored response replayed for a repeated key.
type CachedResponse struct {
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body"`
	CachedAt   time.Time   `json:"cached_at"`
}

// IdempotencyStore holds responses keyed by caller and Idempotency-Key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*CachedResponse, bool, error)
	Set(ctx context.Context, key string, resp *CachedResponse) error
}

// MemoryIdempotencyStore is an in-process IdempotencyStore.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*CachedResponse
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]*CachedResponse), ttl: ttl, now: time.Now}
}

// Run evicts expired entries every interval until ctx is done.
func (s *MemoryIdempotencyStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep drops expired entries.
func (s *MemoryIdempotencyStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.entries {
		if now.Sub(v.CachedAt) >= s.ttl {
			delete(s.entries, k)
		}
	}
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (*CachedResponse, bool, error) {
	s.mu.RLock()
	cached, ok := s.entries[key]
	s.mu.RUnlock()
	if ok && s.now().Sub(cached.CachedAt) < s.ttl {
		return cached, true, nil
	}
	return nil, false, nil
}

func (s *MemoryIdempotencyStore) Set(_ context.Context, key string, resp *CachedResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if resp.CachedAt.IsZero() {
		resp.CachedAt = s.now()
	}
	s.entries[key] = resp
	return nil
}

// RedisIdempotencyStore shares replay entries between API instances.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl, prefix: "likelottery:idempotency:"}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*CachedResponse, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency get: %w", err)
	}
	var resp CachedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, fmt.Errorf("idempotency decode: %w", err)
	}
	return &resp, true, nil
}

func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, resp *CachedResponse) error {
	if resp.CachedAt.IsZero() {
		resp.CachedAt = time.Now()
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("idempotency encode: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency set: %w", err)
	}
	return nil
}

type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// maxIdempotentBody bounds the request body hashed into a replay key.
const maxIdempotentBody = 1 << 20

// IdempotencyMiddleware replays the first 2xx response for a repeated
// Idempotency-Key on POST and PUT. Keys are scoped to the authenticated caller,
// the route and a digest of the request body, so a reused key with a different
// body is processed afresh. Paths in exempt are never replayed; their handlers
// decide repeat semantics themselves. Store failures are logged and the request
// is processed normally.
func IdempotencyMiddleware(store IdempotencyStore, exempt ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(IdempotencyHeader)
			if key == "" || store == nil || skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			orig := r.Body
			body, err := io.ReadAll(io.LimitReader(orig, maxIdempotentBody+1))
			if err != nil {
				WriteBadRequest(w, r, "unreadable request body")
				return
			}
			r.Body = struct {
				io.Reader
				io.Closer
			}{io.MultiReader(bytes.NewReader(body), orig), orig}
			if len(body) > maxIdempotentBody {
				next.ServeHTTP(w, r)
				return
			}
			digest := sha256.Sum256(body)

			if p, err := auth.GetPrincipal(r.Context()); err == nil {
				key = p.Address.Hex() + ":" + key
			}
			key = r.Method + " " + r.URL.Path + ":" + hex.EncodeToString(digest[:]) + ":" + key

			cached, ok, err := store.Get(r.Context(), key)
			if err != nil {
				auth.Logger(r.Context()).WarnContext(r.Context(), "idempotency lookup failed", "error", err)
			}
			if ok {
				for k, vals := range cached.Headers {
					for _, v := range vals {
						w.Header().Add(k, v)
					}
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.statusCode >= 200 && capture.statusCode < 300 {
				hdr := http.Header{}
				if ct := w.Header().Get("Content-Type"); ct != "" {
					hdr.Set("Content-Type", ct)
				}
				err := store.Set(r.Context(), key, &CachedResponse{
					StatusCode: capture.statusCode,
					Headers:    hdr,
					Body:       bytes.Clone(capture.body.Bytes()),
				})
				if err != nil {
					auth.Logger(r.Context()).WarnContext(r.Context(), "idempotency store failed", "error", err)
				}
			}
		})
	}
}
