// Package lottery implements the draw authorization state machine, the daily
// crank limiter, the snapshot commitment emitter and owner governance on top
// of a transactional store.
package lottery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mindburn-Labs/likelottery/pkg/contracts"
	"github.com/Mindburn-Labs/likelottery/pkg/crypto"
	"github.com/Mindburn-Labs/likelottery/pkg/observability"
	"github.com/Mindburn-Labs/likelottery/pkg/store"
)

// MaxYankLoopCount bounds how many draws one admin yank may produce.
const MaxYankLoopCount = 64

// ErrNotFound is returned by lookups of missing records.
var ErrNotFound = &Error{"not_found", "not found"}

// Engine runs lottery operations. All mutations of one call happen in a single
// store transaction, so a failing call leaves no trace.
type Engine struct {
	store    store.Store
	verifier crypto.Verifier
	random   RandomnessSource
	clock    func() time.Time
	interval time.Duration
	logger   *slog.Logger
	obs      *observability.Provider
}

// Option configures an Engine.
type Option func(*Engine)

func WithVerifier(v crypto.Verifier) Option { return func(e *Engine) { e.verifier = v } }

func WithRandomness(r RandomnessSource) Option { return func(e *Engine) { e.random = r } }

func WithClock(clock func() time.Time) Option { return func(e *Engine) { e.clock = clock } }

func WithCrankInterval(d time.Duration) Option { return func(e *Engine) { e.interval = d } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithObservability(p *observability.Provider) Option { return func(e *Engine) { e.obs = p } }

// NewEngine creates an engine over st.
func NewEngine(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		verifier: crypto.PersonalVerifier{},
		random:   BeaconSource{},
		clock:    time.Now,
		interval: DefaultCrankInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "lottery")
	return e
}

// CrankInterval returns the configured crank window.
func (e *Engine) CrankInterval() time.Duration { return e.interval }

// now returns the current time in whole seconds.
func (e *Engine) now() time.Time {
	return e.clock().UTC().Truncate(time.Second)
}

func initialized(tx store.Reader) (store.Settings, error) {
	st, err := tx.Settings()
	if err != nil {
		return st, err
	}
	if !st.Initialized {
		return st, ErrNotInitialized
	}
	return st, nil
}

// Init makes deployer both owner and admin. It reports false when the
// lottery was already initialized, in which case nothing changes.
func (e *Engine) Init(ctx context.Context, deployer common.Address) (bool, error) {
	if deployer == (common.Address{}) {
		return false, invalidArgument("deployer must not be the zero address")
	}
	var created bool
	err := e.store.Update(ctx, func(tx store.Tx) error {
		st, err := tx.Settings()
		if err != nil {
			return err
		}
		if st.Initialized {
			return nil
		}
		st = store.Settings{Initialized: true, Owner: deployer, Admin: deployer, YankLoopCount: 1}
		if err := tx.PutSettings(st); err != nil {
			return err
		}
		if _, err := tx.AppendEvent(contracts.EventInitialized, contracts.InitializedEvent{Owner: deployer, Admin: deployer}, e.now()); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if created {
		e.logger.InfoContext(ctx, "lottery initialized", "owner", deployer.Hex())
	}
	return created, nil
}

// YankResult is one recorded draw.
type YankResult struct {
	Yank  contracts.YankEvent
	Event contracts.Event
}

// Yank authorizes a draw with an admin-signed one-time nonce. Any caller may
// submit it; the draw is credited to the caller.
//
// Rejections, in order: ErrAlreadyUsed for a consumed nonce regardless of the
// signature, ErrMalformedSignature, then ErrUnauthorized when the signer is
// not the current admin. A randomness failure rolls the nonce back.
func (e *Engine) Yank(ctx context.Context, caller common.Address, nonce crypto.Nonce, signature []byte) (YankResult, error) {
	ctx, finish := e.obs.TrackOperation(ctx, "lottery.yank",
		observability.AttrCaller.String(caller.Hex()),
		observability.AttrNonce.String(nonce.Hex()),
	)
	now := e.now()

	var res YankResult
	err := e.store.Update(ctx, func(tx store.Tx) error {
		st, err := initialized(tx)
		if err != nil {
			return err
		}
		used, err := tx.NonceUsed(nonce)
		if err != nil {
			return err
		}
		if used {
			return ErrAlreadyUsed
		}
		sig, err := crypto.ParseSignature(signature)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
		}
		if !e.verifier.Verify(nonce, sig.Bytes(), st.Admin) {
			return ErrUnauthorized
		}

		if err := tx.MarkNonceUsed(nonce, now); err != nil {
			if errors.Is(err, store.ErrNonceUsed) {
				return ErrAlreadyUsed
			}
			return err
		}
		res, err = e.draw(ctx, tx, &st, caller, caller, &nonce, now)
		if err != nil {
			return err
		}
		return tx.PutSettings(st)
	})
	finish(err)
	if err != nil {
		e.logger.WarnContext(ctx, "yank rejected", "caller", caller.Hex(), "nonce", nonce.Hex(), "error", err)
		return YankResult{}, err
	}
	e.logger.InfoContext(ctx, "yank authorized",
		"caller", caller.Hex(), "nonce", nonce.Hex(), "draw", res.Yank.Draw, "random", res.Yank.Random.Hex())
	return res, nil
}

// AdminYank lets the admin record draws for target without a nonce. It emits
// one Yank event per configured loop iteration. This path is independent of
// Yank: it neither reads nor consumes nonces.
func (e *Engine) AdminYank(ctx context.Context, caller, target common.Address) ([]YankResult, error) {
	ctx, finish := e.obs.TrackOperation(ctx, "lottery.admin_yank",
		observability.AttrCaller.String(caller.Hex()),
		observability.AttrTarget.String(target.Hex()),
	)
	now := e.now()

	var results []YankResult
	err := e.store.Update(ctx, func(tx store.Tx) error {
		st, err := initialized(tx)
		if err != nil {
			return err
		}
		if caller != st.Admin {
			return ErrUnauthorized
		}
		for i := 0; i < st.YankLoopCount; i++ {
			res, err := e.draw(ctx, tx, &st, caller, target, nil, now)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return tx.PutSettings(st)
	})
	finish(err)
	if err != nil {
		e.logger.WarnContext(ctx, "admin yank rejected", "caller", caller.Hex(), "target", target.Hex(), "error", err)
		return nil, err
	}
	e.logger.InfoContext(ctx, "admin yank recorded", "target", target.Hex(), "draws", len(results))
	return results, nil
}

func (e *Engine) draw(ctx context.Context, tx store.Tx, st *store.Settings, operator, drawnBy common.Address, nonce *crypto.Nonce, now time.Time) (YankResult, error) {
	head, err := tx.Head()
	if err != nil {
		return YankResult{}, err
	}
	st.DrawSequence++
	random, err := e.random.Draw(ctx, DrawInput{
		PrevEventHash: head.Hash,
		DrawnBy:       drawnBy,
		Sequence:      st.DrawSequence,
		Timestamp:     now.Unix(),
		Nonce:         nonce,
	})
	if err != nil {
		return YankResult{}, fmt.Errorf("draw randomness: %w", err)
	}
	y := contracts.YankEvent{
		DrawnBy:  drawnBy,
		Random:   random,
		Draw:     st.DrawSequence,
		ByAdmin:  nonce == nil,
		Operator: operator,
	}
	if nonce != nil {
		y.Nonce = nonce.Hex()
	}
	ev, err := tx.AppendEvent(contracts.EventYank, y, now)
	if err != nil {
		return YankResult{}, err
	}
	return YankResult{Yank: y, Event: ev}, nil
}

// Crank records a once-per-interval action for caller. It fails with a
// *TooSoonError (errors.Is ErrTooSoon) inside the window and then changes nothing.
func (e *Engine) Crank(ctx context.Context, caller common.Address) (contracts.Event, error) {
	ctx, finish := e.obs.TrackOperation(ctx, "lottery.crank", observability.AttrCaller.String(caller.Hex()))
	now := e.now()

	var ev contracts.Event
	err := e.store.Update(ctx, func(tx store.Tx) error {
		last, seen, err := tx.LastCrank(caller)
		if err != nil {
			return err
		}
		if err := CheckCrank(caller, last, seen, now, e.interval); err != nil {
			return err
		}
		if err := tx.SetLastCrank(caller, now); err != nil {
			return err
		}
		ev, err = tx.AppendEvent(contracts.EventCrank, contracts.CrankEvent{Caller: caller}, now)
		return err
	})
	finish(err)
	if err != nil {
		e.logger.DebugContext(ctx, "crank rejected", "caller", caller.Hex(), "error", err)
		return contracts.Event{}, err
	}
	e.logger.InfoContext(ctx, "crank", "caller", caller.Hex())
	return ev, nil
}

// EmitSnapshotHash records a snapshot commitment. Admin only. The hash is
// stored as given and never recomputed.
func (e *Engine) EmitSnapshotHash(ctx context.Context, caller common.Address, hash common.Hash, timestamp, giveawayIndex uint64) (contracts.SnapshotCommitment, error) {
	ctx, finish := e.obs.TrackOperation(ctx, "lottery.emit_snapshot_hash",
		observability.AttrCaller.String(caller.Hex()),
		observability.AttrGiveawayIndex.Int64(int64(giveawayIndex)),
	)
	now := e.now()

	var c contracts.SnapshotCommitment
	err := e.store.Update(ctx, func(tx store.Tx) error {
		st, err := initialized(tx)
		if err != nil {
			return err
		}
		if caller != st.Admin {
			return ErrUnauthorized
		}
		if timestamp > math.MaxInt64 || giveawayIndex > math.MaxInt64 {
			return invalidArgument("timestamp and giveaway index must be below 2^63")
		}
		c, err = tx.AppendCommitment(contracts.SnapshotCommitment{
			SnapshotHash:  hash,
			Timestamp:     timestamp,
			GiveawayIndex: giveawayIndex,
			EmittedBy:     caller,
			RecordedAt:    now,
		})
		if err != nil {
			return err
		}
		_, err = tx.AppendEvent(contracts.EventGiveawayData, contracts.GiveawayDataEvent{
			Index:         c.Index,
			SnapshotHash:  hash,
			Timestamp:     timestamp,
			GiveawayIndex: giveawayIndex,
		}, now)
		return err
	})
	finish(err)
	if err != nil {
		e.logger.WarnContext(ctx, "snapshot hash rejected", "caller", caller.Hex(), "error", err)
		return contracts.SnapshotCommitment{}, err
	}
	e.logger.InfoContext(ctx, "snapshot hash committed",
		"index", c.Index, "hash", hash.Hex(), "timestamp", timestamp, "giveaway_index", giveawayIndex)
	return c, nil
}
