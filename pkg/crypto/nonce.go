package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// NonceLength is the fixed size of an authorization nonce.
const NonceLength = 32

// ErrMalformedNonce is returned when a nonce is not exactly 32 bytes of hex.
var ErrMalformedNonce = errors.New("malformed nonce")

// Nonce is a one-time value signed by the admin key to authorize a yank.
type Nonce [NonceLength]byte

// ParseNonce decodes a 32-byte nonce from hex. The 0x prefix is optional.
func ParseNonce(s string) (Nonce, error) {
	var n Nonce
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != NonceLength*2 {
		return n, fmt.Errorf("%w: expected %d hex chars, got %d", ErrMalformedNonce, NonceLength*2, len(raw))
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrMalformedNonce, err)
	}
	copy(n[:], b)
	return n, nil
}

// NonceFromBytes copies b into a Nonce, rejecting any other length.
func NonceFromBytes(b []byte) (Nonce, error) {
	var n Nonce
	if len(b) != NonceLength {
		return n, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedNonce, NonceLength, len(b))
	}
	copy(n[:], b)
	return n, nil
}

// Bytes returns a copy of the nonce bytes.
func (n Nonce) Bytes() []byte {
	out := make([]byte, NonceLength)
	copy(out, n[:])
	return out
}

// Hex returns the 0x-prefixed lowercase hex form.
func (n Nonce) Hex() string {
	return hexutil.Encode(n[:])
}

func (n Nonce) String() string {
	return n.Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (n Nonce) MarshalText() ([]byte, error) {
	return []byte(n.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Nonce) UnmarshalText(text []byte) error {
	parsed, err := ParseNonce(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
