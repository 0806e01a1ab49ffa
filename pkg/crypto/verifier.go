package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// personalMessagePrefix is the EIP-191 version 0x45 tag for a 32-byte payload.
const personalMessagePrefix = "\x19Ethereum Signed Message:\n32"

// Verifier checks that a nonce was signed by an expected identity.
type Verifier interface {
	Verify(nonce Nonce, signature []byte, expected common.Address) bool
}

// PersonalMessageHash returns keccak256(prefix || nonce), the digest a wallet
// signs when asked to sign the raw 32 nonce bytes as a personal message.
func PersonalMessageHash(nonce Nonce) common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256([]byte(personalMessagePrefix), nonce[:]))
}

// Recover returns the address that produced sig over the personal-message digest of nonce.
func Recover(nonce Nonce, sig Signature) (common.Address, error) {
	digest := PersonalMessageHash(nonce)
	pub, err := ethcrypto.SigToPub(digest[:], sig.recoveryBytes())
	if err != nil {
		return common.Address{}, fmt.Errorf("signature recovery failed: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether signature is a valid personal-message signature over
// nonce by expected. Malformed signatures and recovery failures yield false.
func Verify(nonce Nonce, signature []byte, expected common.Address) bool {
	sig, err := ParseSignature(signature)
	if err != nil {
		return false
	}
	signer, err := Recover(nonce, sig)
	if err != nil {
		return false
	}
	return signer == expected
}

// VerifyHex is Verify over hex-encoded inputs. Invalid hex yields false.
func VerifyHex(nonceHex, signatureHex string, expected common.Address) bool {
	nonce, err := ParseNonce(nonceHex)
	if err != nil {
		return false
	}
	sig, err := ParseSignatureHex(signatureHex)
	if err != nil {
		return false
	}
	signer, err := Recover(nonce, sig)
	if err != nil {
		return false
	}
	return signer == expected
}

// PersonalVerifier is the default Verifier.
type PersonalVerifier struct{}

// Verify implements Verifier.
func (PersonalVerifier) Verify(nonce Nonce, signature []byte, expected common.Address) bool {
	return Verify(nonce, signature, expected)
}
