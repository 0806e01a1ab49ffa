package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer produces personal-message signatures over nonces.
type Signer interface {
	Address() common.Address
	SignNonce(nonce Nonce) (Signature, error)
}

// Secp256k1Signer signs with an in-memory secp256k1 private key.
type Secp256k1Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSecp256k1Signer wraps an existing private key.
func NewSecp256k1Signer(key *ecdsa.PrivateKey) *Secp256k1Signer {
	return &Secp256k1Signer{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
	}
}

// NewSecp256k1SignerFromHex parses a hex private key (0x prefix optional).
func NewSecp256k1SignerFromHex(keyHex string) (*Secp256k1Signer, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewSecp256k1Signer(key), nil
}

// GenerateSecp256k1Signer creates a signer with a fresh random key.
func GenerateSecp256k1Signer() (*Secp256k1Signer, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return NewSecp256k1Signer(key), nil
}

func (s *Secp256k1Signer) Address() common.Address {
	return s.address
}

// SignNonce signs the personal-message digest of nonce. V is returned as 27 or 28.
func (s *Secp256k1Signer) SignNonce(nonce Nonce) (Signature, error) {
	digest := PersonalMessageHash(nonce)
	raw, err := ethcrypto.Sign(digest[:], s.key)
	if err != nil {
		return Signature{}, fmt.Errorf("sign nonce: %w", err)
	}
	return ParseSignature(raw)
}

// PrivateKeyHex returns the hex-encoded private key without 0x prefix.
func (s *Secp256k1Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", ethcrypto.FromECDSA(s.key))
}
