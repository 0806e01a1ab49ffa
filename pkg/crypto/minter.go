package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// Minter produces fresh nonces for the admin to sign.
type Minter interface {
	Mint() (Nonce, error)
}

// RandomMinter draws nonces from crypto/rand.
type RandomMinter struct{}

func (RandomMinter) Mint() (Nonce, error) {
	var n Nonce
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return n, fmt.Errorf("mint nonce: %w", err)
	}
	return n, nil
}

// HKDFMinter derives nonces deterministically from an operator secret and a
// counter with HKDF-SHA256. The same secret and counter always yield the same nonce,
// so an operator can re-derive a nonce that was signed offline.
type HKDFMinter struct {
	mu      sync.Mutex
	secret  []byte
	salt    []byte
	counter uint64
}

// NewHKDFMinter creates a minter starting at counter start.
func NewHKDFMinter(secret, salt []byte, start uint64) (*HKDFMinter, error) {
	if len(secret) < 16 {
		return nil, errors.New("hkdf minter: secret must be at least 16 bytes")
	}
	return &HKDFMinter{
		secret:  append([]byte(nil), secret...),
		salt:    append([]byte(nil), salt...),
		counter: start,
	}, nil
}

// Mint returns the nonce for the current counter and advances it.
func (m *HKDFMinter) Mint() (Nonce, error) {
	m.mu.Lock()
	c := m.counter
	m.counter++
	m.mu.Unlock()
	return m.Derive(c)
}

// Derive returns the nonce for counter c without changing state.
func (m *HKDFMinter) Derive(c uint64) (Nonce, error) {
	var info [len("likelottery/nonce/") + 8]byte
	copy(info[:], "likelottery/nonce/")
	binary.BigEndian.PutUint64(info[len("likelottery/nonce/"):], c)

	var n Nonce
	r := hkdf.New(sha256.New, m.secret, m.salt, info[:])
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return n, fmt.Errorf("hkdf derive: %w", err)
	}
	return n, nil
}
