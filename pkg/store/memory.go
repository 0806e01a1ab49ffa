package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mindburn-Labs/likelottery/pkg/contracts"
	"github.com/Mindburn-Labs/likelottery/pkg/crypto"
)

// MemoryStore keeps all state in process memory. Updates are serialized and
// staged in an overlay that is merged only when the callback succeeds.
type MemoryStore struct {
	mu          sync.RWMutex
	nonces      map[crypto.Nonce]time.Time
	cranks      map[common.Address]time.Time
	settings    Settings
	commitments []contracts.SnapshotCommitment
	events      []contracts.Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nonces: make(map[crypto.Nonce]time.Time),
		cranks: make(map[common.Address]time.Time),
	}
}

func (m *MemoryStore) View(ctx context.Context, fn func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{base: m})
}

func (m *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		base:   m,
		nonces: make(map[crypto.Nonce]time.Time),
		cranks: make(map[common.Address]time.Time),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *MemoryStore) Close() error { return nil }

type memTx struct {
	base        *MemoryStore
	nonces      map[crypto.Nonce]time.Time
	cranks      map[common.Address]time.Time
	settings    *Settings
	commitments []contracts.SnapshotCommitment
	events      []contracts.Event
}

func (t *memTx) commit() {
	m := t.base
	for n, at := range t.nonces {
		m.nonces[n] = at
	}
	for id, at := range t.cranks {
		m.cranks[id] = at
	}
	if t.settings != nil {
		m.settings = *t.settings
	}
	m.commitments = append(m.commitments, t.commitments...)
	m.events = append(m.events, t.events...)
}

func (t *memTx) NonceUsed(n crypto.Nonce) (bool, error) {
	if _, ok := t.nonces[n]; ok {
		return true, nil
	}
	_, ok := t.base.nonces[n]
	return ok, nil
}

func (t *memTx) LastCrank(identity common.Address) (time.Time, bool, error) {
	if at, ok := t.cranks[identity]; ok {
		return at, true, nil
	}
	at, ok := t.base.cranks[identity]
	return at, ok, nil
}

func (t *memTx) Settings() (Settings, error) {
	if t.settings != nil {
		return *t.settings, nil
	}
	return t.base.settings, nil
}

func (t *memTx) Commitment(index uint64) (contracts.SnapshotCommitment, error) {
	base := uint64(len(t.base.commitments))
	switch {
	case index < base:
		return t.base.commitments[index], nil
	case index-base < uint64(len(t.commitments)):
		return t.commitments[index-base], nil
	}
	return contracts.SnapshotCommitment{}, fmt.Errorf("commitment %d: %w", index, ErrNotFound)
}

func (t *memTx) Commitments() ([]contracts.SnapshotCommitment, error) {
	out := make([]contracts.SnapshotCommitment, 0, len(t.base.commitments)+len(t.commitments))
	out = append(out, t.base.commitments...)
	return append(out, t.commitments...), nil
}

func (t *memTx) CommitmentCount() (uint64, error) {
	return uint64(len(t.base.commitments) + len(t.commitments)), nil
}

func (t *memTx) Events(after uint64, limit int) ([]contracts.Event, error) {
	var out []contracts.Event
	for _, list := range [][]contracts.Event{t.base.events, t.events} {
		for _, e := range list {
			if e.Sequence <= after {
				continue
			}
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) Head() (EventHead, error) {
	var last *contracts.Event
	switch {
	case len(t.events) > 0:
		last = &t.events[len(t.events)-1]
	case len(t.base.events) > 0:
		last = &t.base.events[len(t.base.events)-1]
	default:
		return EventHead{}, nil
	}
	return EventHead{Sequence: last.Sequence, Hash: last.Hash}, nil
}

func (t *memTx) MarkNonceUsed(n crypto.Nonce, at time.Time) error {
	if t.nonces == nil {
		return errReadOnly
	}
	used, _ := t.NonceUsed(n)
	if used {
		return ErrNonceUsed
	}
	t.nonces[n] = normalizeTime(at)
	return nil
}

func (t *memTx) SetLastCrank(identity common.Address, at time.Time) error {
	if t.cranks == nil {
		return errReadOnly
	}
	t.cranks[identity] = normalizeTime(at)
	return nil
}

func (t *memTx) PutSettings(s Settings) error {
	if t.nonces == nil {
		return errReadOnly
	}
	t.settings = &s
	return nil
}

func (t *memTx) AppendCommitment(c contracts.SnapshotCommitment) (contracts.SnapshotCommitment, error) {
	if t.nonces == nil {
		return c, errReadOnly
	}
	c.Index = uint64(len(t.base.commitments) + len(t.commitments))
	c.RecordedAt = normalizeTime(c.RecordedAt)
	t.commitments = append(t.commitments, c)
	return c, nil
}

func (t *memTx) AppendEvent(kind contracts.EventKind, payload any, at time.Time) (contracts.Event, error) {
	if t.nonces == nil {
		return contracts.Event{}, errReadOnly
	}
	head, _ := t.Head()
	e, err := newEvent(head, kind, payload, at)
	if err != nil {
		return contracts.Event{}, err
	}
	t.events = append(t.events, e)
	return e, nil
}
