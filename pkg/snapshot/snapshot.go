package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mindburn-Labs/likelottery/pkg/archive"
	"github.com/Mindburn-Labs/likelottery/pkg/commitment"
)

// Snapshot is the commitment derived from one draw data response.
type Snapshot struct {
	Cutoff       string                   `json:"cutoff"`
	Timestamp    uint64                   `json:"timestamp"`
	Hash         common.Hash              `json:"snapshot_hash"`
	Participants []commitment.Participant `json:"-"`
	Count        int                      `json:"participants"`
	Filter       string                   `json:"filter,omitempty"`
}

// Build filters data and computes the snapshot hash at the cutoff, floored to seconds.
func Build(data *DrawData, cutoff time.Time, filter *Filter) (*Snapshot, error) {
	ts, err := commitment.CutoffTimestamp(commitment.FormatCutoff(cutoff))
	if err != nil {
		return nil, err
	}
	records := data.Participants
	expr := ""
	if filter != nil {
		if records, err = filter.Apply(records); err != nil {
			return nil, err
		}
		expr = filter.Expression()
	}
	ps, err := participants(records)
	if err != nil {
		return nil, err
	}
	sorted, err := commitment.Sorted(ps)
	if err != nil {
		return nil, err
	}
	hash, err := commitment.SnapshotHash(sorted, ts)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Cutoff:       commitment.FormatCutoff(cutoff),
		Timestamp:    ts,
		Hash:         hash,
		Participants: sorted,
		Count:        len(sorted),
		Filter:       expr,
	}, nil
}

// Manifest ties an archived draw data response to the commitment derived from it.
type Manifest struct {
	Snapshot
	GiveawayIndex uint64    `json:"giveaway_index"`
	DataRef       string    `json:"data_ref"`
	ArchivedAt    time.Time `json:"archived_at"`
}

// Archiver stores raw responses and their manifests.
type Archiver struct {
	store archive.Store
}

func NewArchiver(store archive.Store) *Archiver {
	return &Archiver{store: store}
}

// Archive stores the raw response and a manifest, returning the manifest reference.
func (a *Archiver) Archive(ctx context.Context, fetched *Fetched, snap *Snapshot, giveawayIndex uint64) (string, *Manifest, error) {
	dataRef, err := a.store.Put(ctx, fetched.Raw)
	if err != nil {
		return "", nil, fmt.Errorf("archive draw data: %w", err)
	}
	m := &Manifest{
		Snapshot:      *snap,
		GiveawayIndex: giveawayIndex,
		DataRef:       dataRef,
		ArchivedAt:    time.Now().UTC(),
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", nil, fmt.Errorf("encode manifest: %w", err)
	}
	ref, err := a.store.Put(ctx, raw)
	if err != nil {
		return "", nil, fmt.Errorf("archive manifest: %w", err)
	}
	return ref, m, nil
}

var ErrHashMismatch = errors.New("snapshot: recomputed hash does not match manifest")

// Verify reloads a manifest and its draw data and recomputes the snapshot hash.
func (a *Archiver) Verify(ctx context.Context, manifestRef string) (*Manifest, error) {
	raw, err := a.store.Get(ctx, manifestRef)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	dataRaw, err := a.store.Get(ctx, m.DataRef)
	if err != nil {
		return nil, err
	}
	data, err := Decode(dataRaw)
	if err != nil {
		return nil, err
	}
	cutoff, err := commitment.ParseCutoff(m.Cutoff)
	if err != nil {
		return nil, err
	}
	filter, err := NewFilter(m.Filter)
	if err != nil {
		return nil, err
	}
	snap, err := Build(data, cutoff, filter)
	if err != nil {
		return nil, err
	}
	if snap.Hash != m.Hash || snap.Timestamp != m.Timestamp {
		return &m, fmt.Errorf("%w: manifest %s, recomputed %s", ErrHashMismatch, m.Hash.Hex(), snap.Hash.Hex())
	}
	return &m, nil
}
