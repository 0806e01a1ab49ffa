package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/likelottery/pkg/auth"
	"github.com/Mindburn-Labs/likelottery/pkg/lottery"
	"github.com/Mindburn-Labs/likelottery/pkg/ratelimit"
)

const maxBodyBytes = 1 << 16

// Options configures the HTTP surface around an Engine.
type Options struct {
	// Validator authenticates callers. Nil rejects every non-public route.
	Validator *auth.JWTValidator
	// Limiter throttles callers when non-nil.
	Limiter ratelimit.LimiterStore
	Policy  ratelimit.Policy
	// Idempotency enables Idempotency-Key replay when non-nil.
	Idempotency IdempotencyStore
	CORSOrigins []string
	// Ready reports dependency health for /health. Nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
}

// Server exposes lottery operations over HTTP.
type Server struct {
	engine *lottery.Engine
	opts   Options
	logger *slog.Logger
}

func NewServer(engine *lottery.Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, opts: opts, logger: logger.With("component", "api")}
}

func isPublic(r *http.Request) bool {
	return r.URL.Path == "/health"
}

// Handler returns the routed handler wrapped in request id, CORS,
// authentication, throttling and idempotency middleware, outermost first.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /v1/crank", s.handleCrank)
	mux.HandleFunc("POST /v1/yank", s.handleYank)
	mux.HandleFunc("POST /v1/admin/yank", s.handleAdminYank)
	mux.HandleFunc("POST /v1/admin/snapshots", s.handleEmitSnapshot)
	mux.HandleFunc("PUT /v1/admin", s.handleSetAdmin)
	mux.HandleFunc("PUT /v1/owner", s.handleTransferOwnership)
	mux.HandleFunc("PUT /v1/yank-loop-count", s.handleSetYankLoopCount)

	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/nonces/{nonce}", s.handleNonce)
	mux.HandleFunc("GET /v1/cranks/{address}", s.handleCrankStatus)
	mux.HandleFunc("GET /v1/commitments", s.handleCommitments)
	mux.HandleFunc("GET /v1/commitments/{index}", s.handleCommitment)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/events/verify", s.handleVerifyEvents)

	var h http.Handler = mux
	if s.opts.Idempotency != nil {
		// Nonce yanks are one-time by construction; a repeat must report AlreadyUsed.
		h = IdempotencyMiddleware(s.opts.Idempotency, "/v1/yank")(h)
	}
	if s.opts.Limiter != nil {
		h = ratelimit.Middleware(s.opts.Limiter, s.opts.Policy, auth.ThrottleKey,
			func(w http.ResponseWriter, r *http.Request) { WriteTooManyRequests(w, r, 1, "") },
			func(r *http.Request, err error) {
				auth.Logger(r.Context()).ErrorContext(r.Context(), "rate limiter unavailable", "error", err)
			},
		)(h)
	}
	h = auth.NewMiddleware(s.opts.Validator, isPublic, WriteUnauthorized)(h)
	h = auth.CORSMiddleware(s.opts.CORSOrigins)(h)
	return auth.RequestIDMiddleware(h)
}
