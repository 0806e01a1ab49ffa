package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSecret = []byte("0123456789abcdef0123456789abcdef")
	alice      = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

func deny401(w http.ResponseWriter, _ *http.Request, detail string) {
	http.Error(w, detail, http.StatusUnauthorized)
}

func healthOnly(r *http.Request) bool { return r.URL.Path == "/health" }

func echoCaller(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := GetPrincipal(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(p.Address.Hex()))
	})
}

func TestNewJWTValidator_ShortSecret(t *testing.T) {
	_, err := NewJWTValidator([]byte("short"), "")
	require.Error(t, err)
}

func TestIssueAndValidate(t *testing.T) {
	v, err := NewJWTValidator(testSecret, "likelottery")
	require.NoError(t, err)

	tok, err := v.Issue(alice, time.Hour)
	require.NoError(t, err)

	p, err := v.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, alice, p.Address)
	assert.NotEmpty(t, p.TokenID)
}

func TestValidate_Rejections(t *testing.T) {
	v, err := NewJWTValidator(testSecret, "likelottery")
	require.NoError(t, err)

	expired, err := v.Issue(alice, -time.Minute)
	require.NoError(t, err)
	_, err = v.Validate(expired)
	assert.Error(t, err, "expired token")

	other, err := NewJWTValidator([]byte("ffffffffffffffffffffffffffffffff"), "likelottery")
	require.NoError(t, err)
	forged, err := other.Issue(alice, time.Hour)
	require.NoError(t, err)
	_, err = v.Validate(forged)
	assert.Error(t, err, "wrong secret")

	wrongIss, err := NewJWTValidator(testSecret, "someone-else")
	require.NoError(t, err)
	tok, err := wrongIss.Issue(alice, time.Hour)
	require.NoError(t, err)
	_, err = v.Validate(tok)
	assert.Error(t, err, "wrong issuer")

	badSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "not-an-address",
		Issuer:    "likelottery",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}).SignedString(testSecret)
	require.NoError(t, err)
	_, err = v.Validate(badSub)
	assert.Error(t, err, "non-address subject")

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: alice.Hex(),
		Issuer:  "likelottery",
	}}).SignedString(testSecret)
	require.NoError(t, err)
	_, err = v.Validate(noExp)
	assert.Error(t, err, "missing exp")

	_, err = v.Validate("garbage")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	v, err := NewJWTValidator(testSecret, "")
	require.NoError(t, err)
	tok, err := v.Issue(alice, time.Hour)
	require.NoError(t, err)

	handler := NewMiddleware(v, healthOnly, deny401)(echoCaller(t))

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"public path", "/health", "", http.StatusNoContent},
		{"missing header", "/v1/crank", "", http.StatusUnauthorized},
		{"wrong scheme", "/v1/crank", "Basic abc", http.StatusUnauthorized},
		{"bad token", "/v1/crank", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "/v1/crank", "Bearer " + tok, http.StatusOK},
		{"lowercase scheme", "/v1/crank", "bearer " + tok, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, alice.Hex(), rec.Body.String())
			}
		})
	}
}

func TestMiddleware_NilValidator(t *testing.T) {
	handler := NewMiddleware(nil, healthOnly, deny401)(echoCaller(t))
	req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "not configured")
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", 200))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Len(t, seen, 36)
}

func TestThrottleKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "ip:10.0.0.1", ThrottleKey(req))

	req = req.WithContext(WithPrincipal(context.Background(), Principal{Address: alice}))
	assert.Equal(t, "caller:"+alice.Hex(), ThrottleKey(req))
}

func TestGetPrincipal_Missing(t *testing.T) {
	_, err := GetPrincipal(context.Background())
	assert.ErrorIs(t, err, ErrNoPrincipal)
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	restricted := CORSMiddleware([]string{"https://like.co"})(next)
	req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	req.Header.Set("Origin", "https://like.co")
	rec := httptest.NewRecorder()
	restricted.ServeHTTP(rec, req)
	assert.Equal(t, "https://like.co", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	restricted.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	pre := httptest.NewRequest(http.MethodOptions, "/v1/yank", nil)
	rec = httptest.NewRecorder()
	CORSMiddleware(nil)(next).ServeHTTP(rec, pre)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
