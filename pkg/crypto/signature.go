package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an r||s||v secp256k1 signature.
const SignatureLength = 65

// ErrMalformedSignature is returned for signatures that cannot be decomposed
// into valid r, s and v components. Recovery is never attempted on them.
var ErrMalformedSignature = errors.New("malformed signature")

// Signature is the typed decomposition of a 65-byte recoverable signature.
// V is stored normalized to 27 or 28.
type Signature struct {
	R [32]byte
	S [32]byte
	V byte
}

// ParseSignature splits a 65-byte signature at fixed offsets and validates
// each component. Both the 0/1 and the 27/28 recovery id conventions are accepted.
func ParseSignature(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != SignatureLength {
		return sig, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, SignatureLength, len(b))
	}
	copy(sig.R[:], b[0:32])
	copy(sig.S[:], b[32:64])

	v := b[64]
	switch v {
	case 0, 1:
		v += 27
	case 27, 28:
	default:
		return Signature{}, fmt.Errorf("%w: invalid recovery id %d", ErrMalformedSignature, b[64])
	}
	sig.V = v

	r := new(big.Int).SetBytes(sig.R[:])
	s := new(big.Int).SetBytes(sig.S[:])
	if !ethcrypto.ValidateSignatureValues(sig.V-27, r, s, false) {
		return Signature{}, fmt.Errorf("%w: r or s out of range", ErrMalformedSignature)
	}
	return sig, nil
}

// ParseSignatureHex decodes a hex signature (0x prefix optional) and parses it.
func ParseSignatureHex(s string) (Signature, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return ParseSignature(b)
}

// Bytes returns the wallet-style r||s||v encoding with v in {27, 28}.
func (s Signature) Bytes() []byte {
	out := make([]byte, SignatureLength)
	copy(out[0:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// recoveryBytes returns r||s||v with v in {0, 1}, the form go-ethereum recovers from.
func (s Signature) recoveryBytes() []byte {
	out := s.Bytes()
	out[64] -= 27
	return out
}

// Hex returns the 0x-prefixed hex of Bytes.
func (s Signature) Hex() string {
	return hexutil.Encode(s.Bytes())
}

func (s Signature) String() string {
	return s.Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signature) UnmarshalText(text []byte) error {
	parsed, err := ParseSignatureHex(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
