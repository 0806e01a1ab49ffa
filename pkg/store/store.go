// Package store persists lottery state: consumed nonces, crank times,
// governance settings, snapshot commitments and the hash-chained event log.
//
// All mutation happens inside Update. If the callback returns an error nothing
// it wrote becomes visible.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mindburn-Labs/likelottery/pkg/contracts"
	"github.com/Mindburn-Labs/likelottery/pkg/crypto"
)

var (
	ErrNonceUsed   = errors.New("nonce already used")
	ErrNotFound    = errors.New("not found")
	ErrChainBroken = errors.New("event hash chain is broken")

	errReadOnly = errors.New("store: write in read-only transaction")
)

// Settings is the governance and counter state.
type Settings struct {
	Initialized   bool
	Owner         common.Address
	Admin         common.Address
	YankLoopCount int
	DrawSequence  uint64
}

// EventHead identifies the latest event in the log. Sequence 0 means empty.
type EventHead struct {
	Sequence uint64
	Hash     string
}

// Reader is the read side of a transaction.
type Reader interface {
	NonceUsed(n crypto.Nonce) (bool, error)
	LastCrank(identity common.Address) (time.Time, bool, error)
	Settings() (Settings, error)
	Commitment(index uint64) (contracts.SnapshotCommitment, error)
	Commitments() ([]contracts.SnapshotCommitment, error)
	CommitmentCount() (uint64, error)
	// Events returns events with sequence greater than after, at most limit of
	// them. A limit <= 0 means no limit.
	Events(after uint64, limit int) ([]contracts.Event, error)
	Head() (EventHead, error)
}

// Tx is a read-write transaction.
type Tx interface {
	Reader
	// MarkNonceUsed records n as consumed. A second call for the same nonce
	// returns ErrNonceUsed.
	MarkNonceUsed(n crypto.Nonce, at time.Time) error
	SetLastCrank(identity common.Address, at time.Time) error
	PutSettings(s Settings) error
	// AppendCommitment stores c under the next free index and returns it.
	AppendCommitment(c contracts.SnapshotCommitment) (contracts.SnapshotCommitment, error)
	// AppendEvent canonicalizes payload and links it to the current head.
	AppendEvent(kind contracts.EventKind, payload any, at time.Time) (contracts.Event, error)
}

// Store is a transactional state store.
type Store interface {
	View(ctx context.Context, fn func(Reader) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}
