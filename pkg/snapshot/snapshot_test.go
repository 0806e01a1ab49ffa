package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/likelottery/pkg/archive"
	"github.com/Mindburn-Labs/likelottery/pkg/commitment"
	"github.com/Mindburn-Labs/likelottery/pkg/util/resiliency"
)

const sampleResponse = `{
  "lottery": {"id": "lot-1", "title": "Weekly LIKE", "status": "active"},
  "before_datetime": "2024-01-15T12:00:00.000Z",
  "participants": [
    {"participant": {"fid": 42, "username": "café", "farcaster_approved": true, "addresses": ["0xabc"]}, "total_balance": 250},
    {"participant": {"fid": 7, "username": "bob", "display_name": null, "farcaster_approved": false, "addresses": []}, "total_balance": 100},
    {"participant": {"fid": 1000, "username": "whale", "neynar_score": 0.9, "farcaster_approved": true, "addresses": null}, "total_balance": 123456789012345678901234567890}
  ],
  "summary": {"total_participants": 3, "total_balance": 123456789012345678901234568240}
}`

var cutoff = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(url, "s3cret", resiliency.NewEnhancedClient(resiliency.Options{MaxRetries: 0}), 0)
	require.NoError(t, err)
	return c
}

func TestFetchDrawData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/like-lottery/lotteryDraw/create", r.URL.Path)
		assert.Equal(t, "2024-01-15T12:00:00.000Z", r.URL.Query().Get("beforeDateTime"))
		assert.Equal(t, "s3cret", r.URL.Query().Get("secret"))
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	fetched, err := newTestClient(t, srv.URL+"/").FetchDrawData(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []byte(sampleResponse), fetched.Raw)
	require.Len(t, fetched.Data.Participants, 3)
	assert.Equal(t, "Weekly LIKE", fetched.Data.Lottery.Title)
	assert.Empty(t, fetched.Data.Reconcile())

	bal, err := fetched.Data.Participants[2].Balance()
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	assert.Equal(t, 0, want.Cmp(bal))
}

func TestFetchDrawData_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"bad secret"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).FetchDrawData(context.Background(), cutoff)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "bad secret", apiErr.Message)
	assert.Contains(t, err.Error(), "403 - bad secret")
}

func TestFetchDrawData_UnknownErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).FetchDrawData(context.Background(), cutoff)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Unknown error", apiErr.Message)
}

func TestFetchDrawData_TransportErrorHidesSecret(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	for name, doer := range map[string]Doer{
		"resilient": resiliency.NewEnhancedClient(resiliency.Options{MaxRetries: 0}),
		"plain":     &http.Client{Timeout: time.Second},
	} {
		t.Run(name, func(t *testing.T) {
			c, err := NewClient(base, "TOPSECRET123", doer, time.Second)
			require.NoError(t, err)
			_, err = c.FetchDrawData(context.Background(), cutoff)
			require.Error(t, err)
			assert.NotContains(t, err.Error(), "TOPSECRET123")
			assert.Contains(t, err.Error(), "secret=REDACTED")
		})
	}
}

func TestDecode_KeepsLargeIntegersExact(t *testing.T) {
	data, err := Decode([]byte(`{"participants": [{"participant": {"fid": 18446744073709551615}, "total_balance": 340282366920938463463374607431768211456}]}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), data.Participants[0].Participant.FID)
	bal, err := data.Participants[0].Balance()
	require.NoError(t, err)
	assert.Equal(t, "340282366920938463463374607431768211456", bal.String())

	_, err = Decode([]byte(`{"participants": [{"participant": {"fid": 1}, "total_balance": 12345678901234567890.5}]}`))
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestNewClient_RequiresSecret(t *testing.T) {
	_, err := NewClient("https://example.com", "", nil, time.Second)
	assert.Error(t, err)
}

func TestDecode_Rejects(t *testing.T) {
	for name, body := range map[string]string{
		"not json":         `{`,
		"no participants":  `{"summary": {}}`,
		"negative balance": `{"participants": [{"participant": {"fid": 1}, "total_balance": -1}]}`,
		"fractional fid":   `{"participants": [{"participant": {"fid": 1.5}, "total_balance": 1}]}`,
		"missing balance":  `{"participants": [{"participant": {"fid": 1}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(body))
			assert.ErrorIs(t, err, ErrInvalidData)
		})
	}
}

func TestReconcile_ReportsMismatch(t *testing.T) {
	data, err := Decode([]byte(`{"participants": [{"participant": {"fid": 1}, "total_balance": 5}],
		"summary": {"total_participants": 2, "total_balance": 9}}`))
	require.NoError(t, err)
	assert.Len(t, data.Reconcile(), 2)
}

func TestBuild_MatchesCommitment(t *testing.T) {
	data, err := Decode([]byte(sampleResponse))
	require.NoError(t, err)

	snap, err := Build(data, cutoff.Add(999*time.Millisecond), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(cutoff.Unix()), snap.Timestamp, "floored to seconds")
	assert.Equal(t, 3, snap.Count)
	assert.Equal(t, uint64(7), snap.Participants[0].ID.Uint64())

	ps, err := data.HashInputs()
	require.NoError(t, err)
	want, err := commitment.SnapshotHash(ps, uint64(cutoff.Unix()))
	require.NoError(t, err)
	assert.Equal(t, want, snap.Hash)
}

func TestFilter(t *testing.T) {
	data, err := Decode([]byte(sampleResponse))
	require.NoError(t, err)

	tests := []struct {
		expr string
		fids []uint64
	}{
		{"", []uint64{42, 7, 1000}},
		{"participant.farcaster_approved", []uint64{42, 1000}},
		{"participant.balance >= 200", []uint64{42, 1000}},
		{`participant.username == "café"`, []uint64{42}},
		{"size(participant.addresses) > 0", []uint64{42}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := NewFilter(tt.expr)
			require.NoError(t, err)
			kept, err := f.Apply(data.Participants)
			require.NoError(t, err)
			var fids []uint64
			for _, r := range kept {
				fids = append(fids, r.Participant.FID)
			}
			assert.Equal(t, tt.fids, fids)
		})
	}

	_, err = NewFilter("participant.fid +")
	assert.Error(t, err)
	_, err = NewFilter("1 + 2")
	assert.Error(t, err, "non-bool expression")
}

func TestArchiver_RoundTrip(t *testing.T) {
	st, err := archive.NewFileStore(t.TempDir())
	require.NoError(t, err)
	a := NewArchiver(st)

	data, err := Decode([]byte(sampleResponse))
	require.NoError(t, err)
	filter, err := NewFilter("participant.farcaster_approved")
	require.NoError(t, err)
	snap, err := Build(data, cutoff, filter)
	require.NoError(t, err)

	fetched := &Fetched{Cutoff: cutoff, Raw: []byte(sampleResponse), Data: data}
	ref, m, err := a.Archive(context.Background(), fetched, snap, 3)
	require.NoError(t, err)
	assert.Equal(t, archive.Ref([]byte(sampleResponse)), m.DataRef)

	verified, err := a.Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, snap.Hash, verified.Hash)
	assert.Equal(t, uint64(3), verified.GiveawayIndex)
	assert.Equal(t, 2, verified.Count)
}

func TestArchiver_DetectsWrongHash(t *testing.T) {
	st, err := archive.NewFileStore(t.TempDir())
	require.NoError(t, err)
	a := NewArchiver(st)

	dataRef, err := st.Put(context.Background(), []byte(sampleResponse))
	require.NoError(t, err)
	raw, err := json.Marshal(Manifest{
		Snapshot: Snapshot{Cutoff: "2024-01-15T12:00:00.000Z", Timestamp: uint64(cutoff.Unix()), Hash: common.HexToHash("0x01")},
		DataRef:  dataRef,
	})
	require.NoError(t, err)
	ref, err := st.Put(context.Background(), raw)
	require.NoError(t, err)

	_, err = a.Verify(context.Background(), ref)
	assert.ErrorIs(t, err, ErrHashMismatch)
}
