package lottery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/likelottery/pkg/contracts"
	"github.com/Mindburn-Labs/likelottery/pkg/crypto"
	"github.com/Mindburn-Labs/likelottery/pkg/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingSource struct{}

func (failingSource) Draw(context.Context, DrawInput) (common.Hash, error) {
	return common.Hash{}, errors.New("entropy unavailable")
}

type fixture struct {
	engine *Engine
	store  store.Store
	clock  *fakeClock
	admin  *crypto.Secp256k1Signer
	owner  common.Address
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWithStore(t, store.NewMemoryStore(), opts...)
}

func newFixtureWithStore(t *testing.T, st store.Store, opts ...Option) *fixture {
	t.Helper()
	admin, err := crypto.GenerateSecp256k1Signer()
	require.NoError(t, err)

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	e := NewEngine(st, opts...)

	created, err := e.Init(context.Background(), admin.Address())
	require.NoError(t, err)
	require.True(t, created)

	return &fixture{engine: e, store: st, clock: clock, admin: admin, owner: admin.Address()}
}

func (f *fixture) sign(t *testing.T, n crypto.Nonce) []byte {
	t.Helper()
	sig, err := f.admin.SignNonce(n)
	require.NoError(t, err)
	return sig.Bytes()
}

func mustNonce(t *testing.T) crypto.Nonce {
	t.Helper()
	n, err := crypto.RandomMinter{}.Mint()
	require.NoError(t, err)
	return n
}

func (f *fixture) isUsed(t *testing.T, n crypto.Nonce) bool {
	t.Helper()
	used, err := f.engine.IsNonceUsed(context.Background(), n)
	require.NoError(t, err)
	return used
}

func (f *fixture) yankEvents(t *testing.T) []contracts.YankEvent {
	t.Helper()
	events, err := f.engine.Events(context.Background(), 0, 0)
	require.NoError(t, err)
	var out []contracts.YankEvent
	for _, ev := range events {
		if ev.Kind != contracts.EventYank {
			continue
		}
		y, err := contracts.DecodePayload[contracts.YankEvent](ev)
		require.NoError(t, err)
		out = append(out, y)
	}
	return out
}

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestInit_OnlyOnce(t *testing.T) {
	f := newFixture(t)
	created, err := f.engine.Init(context.Background(), alice)
	require.NoError(t, err)
	assert.False(t, created)

	s, err := f.engine.State(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Initialized)
	assert.Equal(t, f.owner, s.Owner)
	assert.Equal(t, f.admin.Address(), s.Admin)
	assert.Equal(t, 1, s.YankLoopCount)
	assert.Equal(t, int64(86400), s.CrankInterval)
}

func TestOperations_RequireInit(t *testing.T) {
	e := NewEngine(store.NewMemoryStore())
	ctx := context.Background()

	_, err := e.Yank(ctx, alice, crypto.Nonce{1}, make([]byte, 65))
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = e.AdminYank(ctx, alice, bob)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = e.EmitSnapshotHash(ctx, alice, common.Hash{}, 1, 1)
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = e.Init(ctx, common.Address{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestYank_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var n crypto.Nonce
	n[31] = 0x01
	sig := f.sign(t, n)

	res, err := f.engine.Yank(ctx, alice, n, sig)
	require.NoError(t, err)
	assert.Equal(t, alice, res.Yank.DrawnBy)
	assert.Equal(t, n.Hex(), res.Yank.Nonce)
	assert.Equal(t, uint64(1), res.Yank.Draw)
	assert.Equal(t, contracts.EventYank, res.Event.Kind)
	assert.True(t, f.isUsed(t, n))

	_, err = f.engine.Yank(ctx, alice, n, sig)
	assert.ErrorIs(t, err, ErrAlreadyUsed)

	yanks := f.yankEvents(t)
	require.Len(t, yanks, 1)
	assert.Equal(t, res.Yank, yanks[0])
}

func TestYank_ReplayFailsRegardlessOfSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := mustNonce(t)

	_, err := f.engine.Yank(ctx, bob, n, f.sign(t, n))
	require.NoError(t, err)

	other, err := crypto.GenerateSecp256k1Signer()
	require.NoError(t, err)
	foreign, err := other.SignNonce(n)
	require.NoError(t, err)

	for name, sig := range map[string][]byte{
		"valid":     f.sign(t, n),
		"foreign":   foreign.Bytes(),
		"malformed": {1, 2, 3},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.Yank(ctx, alice, n, sig)
			assert.ErrorIs(t, err, ErrAlreadyUsed)
		})
	}
}

func TestYank_SignaturesFromSameKeyBothVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := mustNonce(t)

	first := f.sign(t, n)
	second := f.sign(t, n)
	assert.True(t, crypto.Verify(n, first, f.admin.Address()))
	assert.True(t, crypto.Verify(n, second, f.admin.Address()))

	_, err := f.engine.Yank(ctx, alice, n, second)
	require.NoError(t, err)
	_, err = f.engine.Yank(ctx, alice, n, first)
	assert.ErrorIs(t, err, ErrAlreadyUsed)
}

func TestYank_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("malformed", func(t *testing.T) {
		n := mustNonce(t)
		_, err := f.engine.Yank(ctx, alice, n, make([]byte, 64))
		assert.ErrorIs(t, err, ErrMalformedSignature)
		assert.False(t, f.isUsed(t, n))
	})

	t.Run("wrong signer", func(t *testing.T) {
		n := mustNonce(t)
		other, err := crypto.GenerateSecp256k1Signer()
		require.NoError(t, err)
		sig, err := other.SignNonce(n)
		require.NoError(t, err)

		_, err = f.engine.Yank(ctx, alice, n, sig.Bytes())
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.False(t, f.isUsed(t, n))
	})

	t.Run("signature over another nonce", func(t *testing.T) {
		n := mustNonce(t)
		_, err := f.engine.Yank(ctx, alice, n, f.sign(t, mustNonce(t)))
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.False(t, f.isUsed(t, n))
	})

	assert.Empty(t, f.yankEvents(t))
}

func TestYank_RandomnessFailureRollsBackNonce(t *testing.T) {
	f := newFixture(t, WithRandomness(failingSource{}))
	ctx := context.Background()
	n := mustNonce(t)

	_, err := f.engine.Yank(ctx, alice, n, f.sign(t, n))
	require.Error(t, err)
	assert.False(t, f.isUsed(t, n))

	s, err := f.engine.State(ctx)
	require.NoError(t, err)
	assert.Zero(t, s.DrawSequence)
	assert.Empty(t, f.yankEvents(t))
}

func TestYank_ConcurrentSameNonce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := mustNonce(t)
	sig := f.sign(t, n)

	var wins, replays atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Yank(ctx, alice, n, sig)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrAlreadyUsed):
				replays.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(15), replays.Load())
}

func TestSetAdmin_ChangesFutureVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	next, err := crypto.GenerateSecp256k1Signer()
	require.NoError(t, err)

	err = f.engine.SetAdmin(ctx, alice, next.Address())
	assert.ErrorIs(t, err, ErrUnauthorized)
	err = f.engine.SetAdmin(ctx, f.owner, common.Address{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, f.engine.SetAdmin(ctx, f.owner, next.Address()))

	n := mustNonce(t)
	_, err = f.engine.Yank(ctx, alice, n, f.sign(t, n))
	assert.ErrorIs(t, err, ErrUnauthorized)

	sig, err := next.SignNonce(n)
	require.NoError(t, err)
	_, err = f.engine.Yank(ctx, alice, n, sig.Bytes())
	require.NoError(t, err)

	// The owner role is untouched by admin replacement.
	s, err := f.engine.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.owner, s.Owner)
	assert.Equal(t, next.Address(), s.Admin)
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.TransferOwnership(ctx, f.owner, alice))
	assert.ErrorIs(t, f.engine.SetAdmin(ctx, f.owner, bob), ErrUnauthorized)
	require.NoError(t, f.engine.SetAdmin(ctx, alice, bob))
}

func TestAdminYank(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.AdminYank(ctx, alice, bob)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, f.engine.SetYankLoopCount(ctx, f.owner, 3))
	results, err := f.engine.AdminYank(ctx, f.admin.Address(), bob)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, bob, r.Yank.DrawnBy)
		assert.Equal(t, f.admin.Address(), r.Yank.Operator)
		assert.True(t, r.Yank.ByAdmin)
		assert.Empty(t, r.Yank.Nonce)
		assert.Equal(t, uint64(i+1), r.Yank.Draw)
	}
	assert.NotEqual(t, results[0].Yank.Random, results[1].Yank.Random)
}

func TestSetYankLoopCount_Bounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.engine.SetYankLoopCount(ctx, f.owner, 0), ErrInvalidArgument)
	assert.ErrorIs(t, f.engine.SetYankLoopCount(ctx, f.owner, MaxYankLoopCount+1), ErrInvalidArgument)
	assert.ErrorIs(t, f.engine.SetYankLoopCount(ctx, alice, 2), ErrUnauthorized)
}

func TestYankPaths_AreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	adminAddr := f.admin.Address()

	// Admin yank neither needs nor consumes a nonce.
	n := mustNonce(t)
	_, err := f.engine.AdminYank(ctx, adminAddr, alice)
	require.NoError(t, err)
	assert.False(t, f.isUsed(t, n))

	// The nonce path still works afterwards.
	_, err = f.engine.Yank(ctx, bob, n, f.sign(t, n))
	require.NoError(t, err)

	// A consumed nonce does not block the admin path.
	_, err = f.engine.AdminYank(ctx, adminAddr, alice)
	require.NoError(t, err)

	// A valid admin signature does not grant the admin path to other callers.
	_, err = f.engine.AdminYank(ctx, bob, alice)
	assert.ErrorIs(t, err, ErrUnauthorized)

	yanks := f.yankEvents(t)
	require.Len(t, yanks, 3)
	assert.True(t, yanks[0].ByAdmin)
	assert.False(t, yanks[1].ByAdmin)
	assert.True(t, yanks[2].ByAdmin)
	for i, y := range yanks {
		assert.Equal(t, uint64(i+1), y.Draw)
	}
}

func TestEmitSnapshotHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := common.HexToHash("0x1234")

	_, err := f.engine.EmitSnapshotHash(ctx, alice, h, 1700000000, 1)
	assert.ErrorIs(t, err, ErrUnauthorized)

	first, err := f.engine.EmitSnapshotHash(ctx, f.admin.Address(), h, 1700000000, 1)
	require.NoError(t, err)
	second, err := f.engine.EmitSnapshotHash(ctx, f.admin.Address(), h, 1700000000, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first.Index)
	assert.Equal(t, uint64(1), second.Index)

	got, err := f.engine.Commitment(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, h, got.SnapshotHash)
	assert.Equal(t, uint64(1700000000), got.Timestamp)

	_, err = f.engine.Commitment(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.EmitSnapshotHash(ctx, f.admin.Address(), h, 1<<63, 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	events, err := f.engine.Events(ctx, 0, 0)
	require.NoError(t, err)
	var giveaways []contracts.GiveawayDataEvent
	for _, ev := range events {
		if ev.Kind == contracts.EventGiveawayData {
			g, err := contracts.DecodePayload[contracts.GiveawayDataEvent](ev)
			require.NoError(t, err)
			giveaways = append(giveaways, g)
		}
	}
	require.Len(t, giveaways, 2)
	assert.Equal(t, h, giveaways[1].SnapshotHash)
	assert.Equal(t, uint64(1), giveaways[1].GiveawayIndex)
}

func TestEventChain_VerifiesAfterMixedOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n := mustNonce(t)
	_, err := f.engine.Yank(ctx, alice, n, f.sign(t, n))
	require.NoError(t, err)
	_, err = f.engine.Crank(ctx, bob)
	require.NoError(t, err)
	_, err = f.engine.EmitSnapshotHash(ctx, f.admin.Address(), common.HexToHash("0x01"), 1, 2)
	require.NoError(t, err)

	count, err := f.engine.VerifyEventChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestEngine_SQLiteBackend(t *testing.T) {
	st, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := newFixtureWithStore(t, st)
	ctx := context.Background()

	n := mustNonce(t)
	sig := f.sign(t, n)
	_, err = f.engine.Yank(ctx, alice, n, sig)
	require.NoError(t, err)
	_, err = f.engine.Yank(ctx, alice, n, sig)
	assert.ErrorIs(t, err, ErrAlreadyUsed)

	_, err = f.engine.Crank(ctx, alice)
	require.NoError(t, err)
	_, err = f.engine.Crank(ctx, alice)
	assert.ErrorIs(t, err, ErrTooSoon)

	count, err := f.engine.VerifyEventChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
