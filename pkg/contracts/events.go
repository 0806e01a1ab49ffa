package contracts

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names an entry in the append-only event log.
type EventKind string

const (
	EventInitialized          EventKind = "Initialized"
	EventYank                 EventKind = "Yank"
	EventCrank                EventKind = "Crank"
	EventGiveawayData         EventKind = "GiveawayData"
	EventAdminChanged         EventKind = "AdminChanged"
	EventOwnershipTransferred EventKind = "OwnershipTransferred"
	EventYankLoopCountChanged EventKind = "YankLoopCountChanged"
)

// Event is one hash-chained log entry. Payload holds the kind-specific record.
type Event struct {
	Sequence  uint64          `json:"sequence"`
	Kind      EventKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// DecodePayload unmarshals the payload of e into T.
func DecodePayload[T any](e Event) (T, error) {
	var out T
	if err := json.Unmarshal(e.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return out, nil
}

// YankEvent is emitted once per successful yank, and yankLoopCount times per admin yank.
type YankEvent struct {
	DrawnBy  common.Address `json:"drawn_by"`
	Random   common.Hash    `json:"random"`
	Draw     uint64         `json:"draw"`
	Nonce    string         `json:"nonce,omitempty"`
	ByAdmin  bool           `json:"by_admin,omitempty"`
	Operator common.Address `json:"operator"`
}

// RandomInt returns the randomness output as a uint256 integer.
func (y YankEvent) RandomInt() *big.Int {
	return new(big.Int).SetBytes(y.Random[:])
}

// CrankEvent records a successful crank. The event timestamp is the crank time.
type CrankEvent struct {
	Caller common.Address `json:"caller"`
}

// GiveawayDataEvent announces a new snapshot commitment.
type GiveawayDataEvent struct {
	Index         uint64      `json:"index"`
	SnapshotHash  common.Hash `json:"snapshot_hash"`
	Timestamp     uint64      `json:"timestamp"`
	GiveawayIndex uint64      `json:"giveaway_index"`
}

// AddressChangedEvent covers admin replacement and ownership transfer.
type AddressChangedEvent struct {
	Previous common.Address `json:"previous"`
	Current  common.Address `json:"current"`
}

// YankLoopCountChangedEvent records a change of the admin-yank repetition count.
type YankLoopCountChangedEvent struct {
	Previous int `json:"previous"`
	Current  int `json:"current"`
}

// InitializedEvent records the deployer taking both governance roles.
type InitializedEvent struct {
	Owner common.Address `json:"owner"`
	Admin common.Address `json:"admin"`
}
