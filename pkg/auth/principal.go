// Package auth identifies API callers. A caller is an Ethereum-style address
// carried as the subject of an HS256 JWT.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mindburn-Labs/likelottery/pkg/ratelimit"
)

var ErrNoPrincipal = errors.New("no principal in context")

// Principal is an authenticated caller.
type Principal struct {
	Address common.Address
	TokenID string
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// GetPrincipal returns the caller attached by the middleware.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok {
		return Principal{}, ErrNoPrincipal
	}
	return p, nil
}

// ThrottleKey keys throttling by caller address, falling back to the client IP
// for unauthenticated requests.
func ThrottleKey(r *http.Request) string {
	if p, err := GetPrincipal(r.Context()); err == nil {
		return "caller:" + p.Address.Hex()
	}
	return ratelimit.ByRemoteIP(r)
}
