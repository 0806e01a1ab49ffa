package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/likelottery/pkg/canonicalize"
	"github.com/Mindburn-Labs/likelottery/pkg/contracts"
)

// GenesisHash is the previous hash of the first event.
const GenesisHash = "genesis"

// newEvent builds the next chained event after head.
func newEvent(head EventHead, kind contracts.EventKind, payload any, at time.Time) (contracts.Event, error) {
	body, err := canonicalize.JCS(payload)
	if err != nil {
		return contracts.Event{}, fmt.Errorf("canonicalize %s payload: %w", kind, err)
	}
	prev := head.Hash
	if head.Sequence == 0 {
		prev = GenesisHash
	}
	e := contracts.Event{
		Sequence:  head.Sequence + 1,
		Kind:      kind,
		Payload:   json.RawMessage(body),
		Timestamp: normalizeTime(at),
		PrevHash:  prev,
	}
	e.Hash, err = EventHash(e)
	if err != nil {
		return contracts.Event{}, err
	}
	return e, nil
}

// EventHash computes the chain hash of e. The Hash field itself is ignored.
func EventHash(e contracts.Event) (string, error) {
	hashable := struct {
		Sequence  uint64              `json:"sequence"`
		Kind      contracts.EventKind `json:"kind"`
		Payload   json.RawMessage     `json:"payload"`
		Timestamp int64               `json:"timestamp"`
		PrevHash  string              `json:"prev_hash"`
	}{e.Sequence, e.Kind, e.Payload, e.Timestamp.UnixNano(), e.PrevHash}

	h, err := canonicalize.CanonicalHash(hashable)
	if err != nil {
		return "", fmt.Errorf("hash event %d: %w", e.Sequence, err)
	}
	return "sha256:" + h, nil
}

// VerifyChain checks sequence continuity, prev links and every hash.
func VerifyChain(events []contracts.Event) error {
	prev := GenesisHash
	for i, e := range events {
		if e.Sequence != uint64(i)+1 {
			return fmt.Errorf("%w: expected sequence %d, got %d", ErrChainBroken, i+1, e.Sequence)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("%w: event %d does not link to its predecessor", ErrChainBroken, e.Sequence)
		}
		h, err := EventHash(e)
		if err != nil {
			return err
		}
		if h != e.Hash {
			return fmt.Errorf("%w: event %d hash mismatch", ErrChainBroken, e.Sequence)
		}
		prev = e.Hash
	}
	return nil
}

// normalizeTime drops monotonic readings and location so timestamps compare
// equal after a round trip through any backend.
func normalizeTime(t time.Time) time.Time {
	return time.Unix(0, t.UnixNano()).UTC()
}
