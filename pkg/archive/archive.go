// Package archive is a content-addressed blob store for raw participant
// snapshots, so a published commitment can be recomputed later.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const refPrefix = "sha256:"

var (
	ErrNotFound   = errors.New("archive: blob not found")
	ErrInvalidRef = errors.New("archive: invalid reference")
)

// Store persists blobs under their SHA-256 digest.
type Store interface {
	// Put stores data and returns its reference. Storing the same bytes twice is a no-op.
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Exists(ctx context.Context, ref string) (bool, error)
}

// Ref returns the reference for data.
func Ref(data []byte) string {
	sum := sha256.Sum256(data)
	return refPrefix + hex.EncodeToString(sum[:])
}

// parseRef validates ref and returns its lowercase hex digest.
func parseRef(ref string) (string, error) {
	digest, ok := strings.CutPrefix(ref, refPrefix)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) != sha256.Size {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return hex.EncodeToString(raw), nil
}

func objectKey(prefix, digest string) string {
	return prefix + digest + ".blob"
}

// verify checks that data read back matches ref.
func verify(ref string, data []byte) error {
	if Ref(data) != ref {
		return fmt.Errorf("archive: content of %s does not match its digest", ref)
	}
	return nil
}
