package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mindburn-Labs/likelottery/pkg/archive"
	"github.com/Mindburn-Labs/likelottery/pkg/commitment"
	"github.com/Mindburn-Labs/likelottery/pkg/config"
	"github.com/Mindburn-Labs/likelottery/pkg/contracts"
	"github.com/Mindburn-Labs/likelottery/pkg/crypto"
	"github.com/Mindburn-Labs/likelottery/pkg/lottery"
	"github.com/Mindburn-Labs/likelottery/pkg/snapshot"
)

type snapshotResult struct {
	Manifest    string                        `json:"manifest"`
	Snapshot    *snapshot.Manifest            `json:"snapshot"`
	Commitment  *contracts.SnapshotCommitment `json:"commitment,omitempty"`
	Participant int                           `json:"fetched_participants"`
}

// runSnapshotCmd fetches draw data, computes the snapshot hash, archives both
// and optionally records the commitment with the admin key.
//
// Exit codes: 0 done, 1 fetch/archive/emit failure, 2 usage or config error.
func runSnapshotCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		cutoffStr string
		giveaway  uint64
		emit      bool
		keyFile   string
	)
	cmd.StringVar(&cutoffStr, "cutoff", "", "Cutoff as ISO-8601 UTC with milliseconds (default now)")
	cmd.Uint64Var(&giveaway, "giveaway", 0, "Giveaway index")
	cmd.BoolVar(&emit, "emit", false, "Record the commitment in the lottery store")
	cmd.StringVar(&keyFile, "key", "", "Admin key file used with -emit (default ADMIN_KEY_FILE)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	logger := setupLogger(cfg, stderr)

	cutoff := time.Now().UTC()
	if cutoffStr != "" {
		if cutoff, err = commitment.ParseCutoff(cutoffStr); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: -cutoff: %v\n", err)
			return 2
		}
	}
	filter, err := snapshot.NewFilter(cfg.Snapshot.Filter)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: SNAPSHOT_FILTER: %v\n", err)
		return 2
	}
	client, err := snapshot.NewClient(cfg.Snapshot.BaseURL, cfg.Snapshot.Secret, nil, cfg.Snapshot.Timeout)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetched, err := client.FetchDrawData(ctx, cutoff)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	snap, err := snapshot.Build(fetched.Data, cutoff, filter)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	blobs, err := archive.Open(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ref, manifest, err := snapshot.NewArchiver(blobs).Archive(ctx, fetched, snap, giveaway)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	logger.Info("snapshot archived", "manifest", ref, "hash", snap.Hash.Hex(), "participants", snap.Count)

	out := snapshotResult{Manifest: ref, Snapshot: manifest, Participant: len(fetched.Data.Participants)}
	if emit {
		c, err := emitCommitment(ctx, cfg, logger, keyFile, snap, giveaway)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: emit: %v\n", err)
			return 1
		}
		out.Commitment = &c
	}
	return writeJSON(stdout, stderr, out)
}

func emitCommitment(ctx context.Context, cfg *config.Config, logger *slog.Logger, keyFile string, snap *snapshot.Snapshot, giveaway uint64) (contracts.SnapshotCommitment, error) {
	if keyFile == "" {
		keyFile = cfg.AdminKeyFile
	}
	signer, err := crypto.LoadOrGenerateKey(keyFile, cfg.Production)
	if err != nil {
		return contracts.SnapshotCommitment{}, err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return contracts.SnapshotCommitment{}, err
	}
	defer func() { _ = st.Close() }()

	opts, err := engineOptions(cfg, nil, logger)
	if err != nil {
		return contracts.SnapshotCommitment{}, err
	}
	engine := lottery.NewEngine(st, opts...)
	owner := signer.Address()
	if cfg.Owner != "" {
		owner = common.HexToAddress(cfg.Owner)
	}
	if _, err := engine.Init(ctx, owner); err != nil {
		return contracts.SnapshotCommitment{}, err
	}
	return engine.EmitSnapshotHash(ctx, signer.Address(), snap.Hash, snap.Timestamp, giveaway)
}

type verifyResult struct {
	Valid      bool               `json:"valid"`
	Manifest   *snapshot.Manifest `json:"snapshot,omitempty"`
	Commitment *uint64            `json:"commitment,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// runVerifySnapshotCmd recomputes an archived snapshot and optionally checks
// it against a recorded commitment.
//
// Exit codes: 0 match, 1 mismatch or unreadable archive, 2 usage error.
func runVerifySnapshotCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-snapshot", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	ref := cmd.String("manifest", "", "Manifest reference sha256:<hex> (REQUIRED)")
	index := cmd.Int64("commitment", -1, "Commitment index to compare against")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *ref == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -manifest is required")
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	logger := setupLogger(cfg, stderr)

	ctx := context.Background()
	blobs, err := archive.Open(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	manifest, err := snapshot.NewArchiver(blobs).Verify(ctx, *ref)
	if err != nil {
		_ = writeJSON(stdout, stderr, verifyResult{Error: err.Error()})
		return 1
	}
	out := verifyResult{Valid: true, Manifest: manifest}

	if *index >= 0 {
		idx := uint64(*index)
		out.Commitment = &idx
		c, err := lookupCommitment(ctx, cfg, logger, idx)
		switch {
		case err != nil:
			out.Valid, out.Error = false, err.Error()
		case c.SnapshotHash != manifest.Hash || c.Timestamp != manifest.Timestamp:
			out.Valid = false
			out.Error = fmt.Sprintf("commitment %d records %s at %d", idx, c.SnapshotHash.Hex(), c.Timestamp)
		}
	}
	if code := writeJSON(stdout, stderr, out); code != 0 {
		return code
	}
	if !out.Valid {
		return 1
	}
	return 0
}

func lookupCommitment(ctx context.Context, cfg *config.Config, logger *slog.Logger, index uint64) (contracts.SnapshotCommitment, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return contracts.SnapshotCommitment{}, err
	}
	defer func() { _ = st.Close() }()
	return lottery.NewEngine(st, lottery.WithLogger(logger)).Commitment(ctx, index)
}
