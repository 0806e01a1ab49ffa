package contracts

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SnapshotCommitment is an append-only record binding a participant snapshot
// hash to a cutoff timestamp and giveaway index.
type SnapshotCommitment struct {
	Index         uint64         `json:"index"`
	SnapshotHash  common.Hash    `json:"snapshot_hash"`
	Timestamp     uint64         `json:"timestamp"`
	GiveawayIndex uint64         `json:"giveaway_index"`
	EmittedBy     common.Address `json:"emitted_by"`
	RecordedAt    time.Time      `json:"recorded_at"`
}

// LotteryState is the governance and counter state of the lottery.
type LotteryState struct {
	Initialized   bool           `json:"initialized"`
	Owner         common.Address `json:"owner"`
	Admin         common.Address `json:"admin"`
	YankLoopCount int            `json:"yank_loop_count"`
	DrawSequence  uint64         `json:"draw_sequence"`
	CrankInterval int64          `json:"crank_interval_seconds"`
	Commitments   uint64         `json:"commitments"`
	Events        uint64         `json:"events"`
}

// CrankStatus describes one identity's crank history.
type CrankStatus struct {
	Identity   common.Address `json:"identity"`
	HasCranked bool           `json:"has_cranked"`
	LastCrank  time.Time      `json:"last_crank,omitempty"`
	NextCrank  time.Time      `json:"next_crank"`
}
