package lottery

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mindburn-Labs/likelottery/pkg/contracts"
	"github.com/Mindburn-Labs/likelottery/pkg/crypto"
	"github.com/Mindburn-Labs/likelottery/pkg/store"
)

// IsNonceUsed reports whether n has been consumed.
func (e *Engine) IsNonceUsed(ctx context.Context, n crypto.Nonce) (bool, error) {
	var used bool
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		used, err = r.NonceUsed(n)
		return err
	})
	return used, err
}

// CrankStatus returns identity's last crank and when it may crank next.
func (e *Engine) CrankStatus(ctx context.Context, identity common.Address) (contracts.CrankStatus, error) {
	status := contracts.CrankStatus{Identity: identity}
	err := e.store.View(ctx, func(r store.Reader) error {
		last, seen, err := r.LastCrank(identity)
		if err != nil {
			return err
		}
		status.HasCranked = seen
		if seen {
			status.LastCrank = last
			status.NextCrank = last.Add(e.interval)
		} else {
			status.NextCrank = e.now()
		}
		return nil
	})
	return status, err
}

// State returns governance settings and counters.
func (e *Engine) State(ctx context.Context) (contracts.LotteryState, error) {
	var s contracts.LotteryState
	err := e.store.View(ctx, func(r store.Reader) error {
		st, err := r.Settings()
		if err != nil {
			return err
		}
		commitments, err := r.CommitmentCount()
		if err != nil {
			return err
		}
		head, err := r.Head()
		if err != nil {
			return err
		}
		s = contracts.LotteryState{
			Initialized:   st.Initialized,
			Owner:         st.Owner,
			Admin:         st.Admin,
			YankLoopCount: st.YankLoopCount,
			DrawSequence:  st.DrawSequence,
			CrankInterval: int64(e.interval.Seconds()),
			Commitments:   commitments,
			Events:        head.Sequence,
		}
		return nil
	})
	return s, err
}

// Commitments lists every snapshot commitment in index order.
func (e *Engine) Commitments(ctx context.Context) ([]contracts.SnapshotCommitment, error) {
	var out []contracts.SnapshotCommitment
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		out, err = r.Commitments()
		return err
	})
	return out, err
}

// Commitment returns the commitment at index.
func (e *Engine) Commitment(ctx context.Context, index uint64) (contracts.SnapshotCommitment, error) {
	var c contracts.SnapshotCommitment
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		c, err = r.Commitment(index)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return c, fmt.Errorf("%w: commitment %d", ErrNotFound, index)
	}
	return c, err
}

// Events pages through the event log. limit <= 0 returns everything after after.
func (e *Engine) Events(ctx context.Context, after uint64, limit int) ([]contracts.Event, error) {
	var out []contracts.Event
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		out, err = r.Events(after, limit)
		return err
	})
	return out, err
}

// VerifyEventChain recomputes every event hash and returns the number of
// events checked.
func (e *Engine) VerifyEventChain(ctx context.Context) (int, error) {
	events, err := e.Events(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	return len(events), store.VerifyChain(events)
}
