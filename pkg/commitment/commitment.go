// Package commitment computes the off-chain snapshot hash that a draw commits
// to: participants sorted by id, each packed as two 32-byte words, followed by
// the cutoff timestamp word, hashed with Keccak-256.
package commitment

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// WordSize is the width of every packed value.
const WordSize = 32

var (
	ErrDuplicateParticipant = errors.New("duplicate participant id")
	ErrOutOfRange           = errors.New("value out of uint256 range")
)

// Participant is one entry of a draw snapshot.
type Participant struct {
	ID      *big.Int
	Balance *big.Int
}

// NewParticipant is a convenience constructor for small values.
func NewParticipant(id uint64, balance *big.Int) Participant {
	return Participant{ID: new(big.Int).SetUint64(id), Balance: balance}
}

// Sorted returns a copy of ps ordered by ascending id. Duplicate ids are rejected.
func Sorted(ps []Participant) ([]Participant, error) {
	out := make([]Participant, len(ps))
	copy(out, ps)
	for i, p := range out {
		if err := checkWord(p.ID); err != nil {
			return nil, fmt.Errorf("participant %d id: %w", i, err)
		}
		if err := checkWord(p.Balance); err != nil {
			return nil, fmt.Errorf("participant %d balance: %w", i, err)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID.Cmp(out[j].ID) < 0 })
	for i := 1; i < len(out); i++ {
		if out[i].ID.Cmp(out[i-1].ID) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateParticipant, out[i].ID)
		}
	}
	return out, nil
}

// Pack returns the preimage of the snapshot hash:
//
//	pad32(id_0) || pad32(balance_0) || ... || pad32(timestamp)
//
// with participants in ascending id order.
func Pack(ps []Participant, timestamp uint64) ([]byte, error) {
	sorted, err := Sorted(ps)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, (2*len(sorted)+1)*WordSize)
	for _, p := range sorted {
		out = append(out, word(p.ID)...)
		out = append(out, word(p.Balance)...)
	}
	out = append(out, word(new(big.Int).SetUint64(timestamp))...)
	return out, nil
}

// SnapshotHash is keccak256(Pack(ps, timestamp)).
func SnapshotHash(ps []Participant, timestamp uint64) (common.Hash, error) {
	packed, err := Pack(ps, timestamp)
	if err != nil {
		return common.Hash{}, err
	}
	return ethcrypto.Keccak256Hash(packed), nil
}

func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), WordSize)
}

func checkWord(v *big.Int) error {
	if v == nil || v.Sign() < 0 || v.BitLen() > 256 {
		return ErrOutOfRange
	}
	return nil
}

// CutoffLayout is the millisecond UTC form the participant service expects.
const CutoffLayout = "2006-01-02T15:04:05.000Z"

// ParseCutoff parses a cutoff in CutoffLayout. RFC 3339 inputs are accepted too.
func ParseCutoff(s string) (time.Time, error) {
	t, err := time.Parse(CutoffLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cutoff %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

// CutoffTimestamp parses a cutoff and floors it to whole unix seconds, the
// value committed alongside the snapshot hash.
func CutoffTimestamp(s string) (uint64, error) {
	t, err := ParseCutoff(s)
	if err != nil {
		return 0, err
	}
	if t.Unix() < 0 {
		return 0, fmt.Errorf("cutoff %q is before the unix epoch", s)
	}
	return uint64(t.Unix()), nil
}

// FormatCutoff renders t in CutoffLayout.
func FormatCutoff(t time.Time) string {
	return t.UTC().Format(CutoffLayout)
}
