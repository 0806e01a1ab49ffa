package lottery

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mindburn-Labs/likelottery/pkg/contracts"
	"github.com/Mindburn-Labs/likelottery/pkg/store"
)

// governance runs an owner-only settings change and appends the resulting event.
func (e *Engine) governance(ctx context.Context, op string, caller common.Address, apply func(*store.Settings) (contracts.EventKind, any, error)) error {
	ctx, finish := e.obs.TrackOperation(ctx, op)
	err := e.store.Update(ctx, func(tx store.Tx) error {
		st, err := initialized(tx)
		if err != nil {
			return err
		}
		if caller != st.Owner {
			return ErrUnauthorized
		}
		kind, payload, err := apply(&st)
		if err != nil {
			return err
		}
		if err := tx.PutSettings(st); err != nil {
			return err
		}
		_, err = tx.AppendEvent(kind, payload, e.now())
		return err
	})
	finish(err)
	if err != nil {
		e.logger.WarnContext(ctx, "governance change rejected", "op", op, "caller", caller.Hex(), "error", err)
	}
	return err
}

// SetAdmin replaces the admin identity. Owner only. Only future verifications
// are affected; nonces already consumed stay consumed.
func (e *Engine) SetAdmin(ctx context.Context, caller, admin common.Address) error {
	if admin == (common.Address{}) {
		return invalidArgument("admin must not be the zero address")
	}
	err := e.governance(ctx, "lottery.set_admin", caller, func(st *store.Settings) (contracts.EventKind, any, error) {
		ev := contracts.AddressChangedEvent{Previous: st.Admin, Current: admin}
		st.Admin = admin
		return contracts.EventAdminChanged, ev, nil
	})
	if err == nil {
		e.logger.InfoContext(ctx, "admin replaced", "admin", admin.Hex())
	}
	return err
}

// TransferOwnership hands the owner role to owner. Owner only.
func (e *Engine) TransferOwnership(ctx context.Context, caller, owner common.Address) error {
	if owner == (common.Address{}) {
		return invalidArgument("owner must not be the zero address")
	}
	err := e.governance(ctx, "lottery.transfer_ownership", caller, func(st *store.Settings) (contracts.EventKind, any, error) {
		ev := contracts.AddressChangedEvent{Previous: st.Owner, Current: owner}
		st.Owner = owner
		return contracts.EventOwnershipTransferred, ev, nil
	})
	if err == nil {
		e.logger.InfoContext(ctx, "ownership transferred", "owner", owner.Hex())
	}
	return err
}

// SetYankLoopCount sets how many draws AdminYank records. Owner only, 1..MaxYankLoopCount.
func (e *Engine) SetYankLoopCount(ctx context.Context, caller common.Address, n int) error {
	if n < 1 || n > MaxYankLoopCount {
		return invalidArgument("yank loop count must be between 1 and %d, got %d", MaxYankLoopCount, n)
	}
	return e.governance(ctx, "lottery.set_yank_loop_count", caller, func(st *store.Settings) (contracts.EventKind, any, error) {
		ev := contracts.YankLoopCountChangedEvent{Previous: st.YankLoopCount, Current: n}
		st.YankLoopCount = n
		return contracts.EventYankLoopCountChanged, ev, nil
	})
}
