package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest HS256 secret accepted.
const MinSecretLength = 32

// Claims are the JWT claims expected on API calls. The subject is the
// caller's 0x address.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTValidator checks HS256 tokens against a shared secret.
type JWTValidator struct {
	secret []byte
	issuer string
}

// NewJWTValidator returns a validator. issuer may be empty to skip the iss check.
func NewJWTValidator(secret []byte, issuer string) (*JWTValidator, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	}
	return &JWTValidator{secret: append([]byte(nil), secret...), issuer: issuer}, nil
}

// Validate parses tokenStr and returns the caller it names.
func (v *JWTValidator) Validate(tokenStr string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if !common.IsHexAddress(claims.Subject) {
		return Principal{}, fmt.Errorf("token subject %q is not an address", claims.Subject)
	}
	return Principal{Address: common.HexToAddress(claims.Subject), TokenID: claims.ID}, nil
}

// Issue signs a token for address valid for ttl.
func (v *JWTValidator) Issue(address common.Address, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   address.Hex(),
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// UnauthorizedFunc writes a 401 response with detail.
type UnauthorizedFunc func(w http.ResponseWriter, r *http.Request, detail string)

// NewMiddleware authenticates every request except those for which public
// returns true. A nil validator rejects all non-public requests.
func NewMiddleware(validator *JWTValidator, public func(*http.Request) bool, deny UnauthorizedFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public != nil && public(r) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				deny(w, r, "Missing Authorization header")
				return
			}
			scheme, tokenStr, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				deny(w, r, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			if validator == nil {
				deny(w, r, "Authentication not configured")
				return
			}

			p, err := validator.Validate(strings.TrimSpace(tokenStr))
			if err != nil {
				Logger(r.Context()).DebugContext(r.Context(), "token rejected", "error", err)
				deny(w, r, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
