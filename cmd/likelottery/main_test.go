package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/likelottery/pkg/auth"
	"github.com/Mindburn-Labs/likelottery/pkg/config"
)

const drawData = `{
  "lottery": {"id": "lot-1", "title": "Weekly LIKE", "status": "active"},
  "before_datetime": "2024-01-15T12:00:00.000Z",
  "participants": [
    {"participant": {"fid": 42, "username": "alice", "farcaster_approved": true, "addresses": ["0xabc"]}, "total_balance": 250},
    {"participant": {"fid": 7, "username": "bob", "farcaster_approved": false, "addresses": []}, "total_balance": 100}
  ],
  "summary": {"total_participants": 2, "total_balance": 350}
}`

// isolate points every config input at a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LOTTERY_CONFIG", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("OWNER_ADDRESS", "")
	t.Setenv("RANDOMNESS_SEED", "")
	t.Setenv("DATA_DIR", dir)
	t.Setenv("ADMIN_KEY_FILE", filepath.Join(dir, "admin.key"))
	t.Setenv("ARCHIVE_TYPE", "fs")
	t.Setenv("ARCHIVE_PATH", filepath.Join(dir, "archive"))
	return dir
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"likelottery"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Help(t *testing.T) {
	code, out, _ := run("help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "sign-nonce")
	assert.Contains(t, out, "verify-snapshot")
}

func TestRun_UnknownCommand(t *testing.T) {
	code, _, errOut := run("launch")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Unknown command: launch")
}

func TestRun_DefaultsToServe(t *testing.T) {
	var got [][]string
	orig := startServer
	startServer = func(args []string, _, _ io.Writer) int {
		got = append(got, args)
		return 0
	}
	t.Cleanup(func() { startServer = orig })

	code, _, _ := run()
	assert.Equal(t, 0, code)
	code, _, _ = run("-port", "9090")
	assert.Equal(t, 0, code)
	code, _, _ = run("serve", "-port", "9091")
	assert.Equal(t, 0, code)

	require.Len(t, got, 3)
	assert.Empty(t, got[0])
	assert.Equal(t, []string{"-port", "9090"}, got[1])
	assert.Equal(t, []string{"-port", "9091"}, got[2])
}

func TestSignAndVerifyNonce(t *testing.T) {
	isolate(t)
	nonceHex := "0x" + strings.Repeat("ab", 32)

	code, out, errOut := run("sign-nonce", "-nonce", nonceHex)
	require.Equal(t, 0, code, errOut)

	var signed signedNonce
	require.NoError(t, json.Unmarshal([]byte(out), &signed))
	assert.Equal(t, nonceHex, signed.Nonce.Hex())

	code, out, _ = run("verify-signature", "-nonce", nonceHex, "-signature", signed.Signature.Hex(), "-address", signed.Signer.Hex())
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "VALID")

	other := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	code, out, _ = run("verify-signature", "-nonce", nonceHex, "-signature", signed.Signature.Hex(), "-address", other.Hex())
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "INVALID")

	code, _, _ = run("verify-signature", "-nonce", nonceHex)
	assert.Equal(t, 2, code)
}

func TestSignNonce_ReusesKeyFile(t *testing.T) {
	isolate(t)
	code, first, _ := run("sign-nonce")
	require.Equal(t, 0, code)
	code, second, _ := run("sign-nonce")
	require.Equal(t, 0, code)

	var a, b signedNonce
	require.NoError(t, json.Unmarshal([]byte(first), &a))
	require.NoError(t, json.Unmarshal([]byte(second), &b))
	assert.Equal(t, a.Signer, b.Signer)
	assert.NotEqual(t, a.Nonce, b.Nonce)
}

func TestSignNonce_Deterministic(t *testing.T) {
	isolate(t)
	secret := strings.Repeat("5a", 16)

	code, first, _ := run("sign-nonce", "-secret", secret, "-counter", "3")
	require.Equal(t, 0, code)
	code, second, _ := run("sign-nonce", "-secret", secret, "-counter", "3")
	require.Equal(t, 0, code)
	code, fourth, _ := run("sign-nonce", "-secret", secret, "-counter", "4")
	require.Equal(t, 0, code)

	var a, b, c signedNonce
	require.NoError(t, json.Unmarshal([]byte(first), &a))
	require.NoError(t, json.Unmarshal([]byte(second), &b))
	require.NoError(t, json.Unmarshal([]byte(fourth), &c))
	assert.Equal(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Nonce, c.Nonce)
	require.NotNil(t, a.Counter)
	assert.Equal(t, uint64(3), *a.Counter)

	code, _, _ = run("sign-nonce", "-secret", secret, "-nonce", "0x"+strings.Repeat("00", 32))
	assert.Equal(t, 2, code)
}

func TestTokenCmd(t *testing.T) {
	isolate(t)
	secret := strings.Repeat("k", 32)
	t.Setenv("JWT_SECRET", secret)
	t.Setenv("JWT_ISSUER", "likelottery-test")
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	code, out, errOut := run("token", "-address", addr.Hex(), "-ttl", "10m")
	require.Equal(t, 0, code, errOut)

	v, err := auth.NewJWTValidator([]byte(secret), "likelottery-test")
	require.NoError(t, err)
	p, err := v.Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, addr, p.Address)

	code, _, _ = run("token", "-address", "nope")
	assert.Equal(t, 2, code)

	t.Setenv("JWT_SECRET", "short")
	code, _, _ = run("token", "-address", addr.Hex())
	assert.Equal(t, 2, code)
}

func TestSnapshotAndVerify(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-01-15T12:00:00.000Z", r.URL.Query().Get("beforeDateTime"))
		_, _ = w.Write([]byte(drawData))
	}))
	defer srv.Close()
	t.Setenv("LIKE_API_BASE", srv.URL)
	t.Setenv("LIKE_API_SECRET", "s3cret")

	code, out, errOut := run("snapshot", "-cutoff", "2024-01-15T12:00:00.000Z", "-giveaway", "2", "-emit")
	require.Equal(t, 0, code, errOut)

	var res snapshotResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotNil(t, res.Snapshot)
	require.NotNil(t, res.Commitment)
	assert.True(t, strings.HasPrefix(res.Manifest, "sha256:"))
	assert.Equal(t, 2, res.Snapshot.Count)
	assert.Equal(t, uint64(1705320000), res.Snapshot.Timestamp)
	assert.Equal(t, res.Snapshot.Hash, res.Commitment.SnapshotHash)
	assert.Equal(t, uint64(2), res.Commitment.GiveawayIndex)
	assert.Equal(t, uint64(0), res.Commitment.Index)

	code, out, errOut = run("verify-snapshot", "-manifest", res.Manifest, "-commitment", "0")
	require.Equal(t, 0, code, errOut)
	var vr verifyResult
	require.NoError(t, json.Unmarshal([]byte(out), &vr))
	assert.True(t, vr.Valid)

	code, _, _ = run("verify-snapshot", "-manifest", res.Manifest, "-commitment", "5")
	assert.Equal(t, 1, code)
}

func TestSnapshot_APIFailure(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"bad secret"}}`))
	}))
	defer srv.Close()
	t.Setenv("LIKE_API_BASE", srv.URL)
	t.Setenv("LIKE_API_SECRET", "wrong")

	code, _, errOut := run("snapshot", "-cutoff", "2024-01-15T12:00:00.000Z")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "403 - bad secret")
}

func TestSnapshot_Usage(t *testing.T) {
	isolate(t)
	t.Setenv("LIKE_API_SECRET", "s3cret")
	code, _, _ := run("snapshot", "-cutoff", "yesterday")
	assert.Equal(t, 2, code)

	t.Setenv("LIKE_API_SECRET", "")
	code, _, _ = run("snapshot")
	assert.Equal(t, 2, code)
}

func TestVerifySnapshot_Errors(t *testing.T) {
	isolate(t)
	code, _, _ := run("verify-snapshot")
	assert.Equal(t, 2, code)

	code, out, _ := run("verify-snapshot", "-manifest", "sha256:"+strings.Repeat("0", 64))
	assert.Equal(t, 1, code)
	assert.Contains(t, out, `"valid": false`)
}

func TestHealthCmd(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	sick := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer sick.Close()

	code, out, _ := run("health", "-url", healthy.URL+"/health")
	assert.Equal(t, 0, code)
	assert.Equal(t, "OK\n", out)

	code, _, errOut := run("health", "-url", sick.URL+"/health")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "status 503")
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&config.Config{LogLevel: "WARN"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
