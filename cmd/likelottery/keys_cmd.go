package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mindburn-Labs/likelottery/pkg/auth"
	"github.com/Mindburn-Labs/likelottery/pkg/config"
	"github.com/Mindburn-Labs/likelottery/pkg/crypto"
)

type signedNonce struct {
	Nonce     crypto.Nonce     `json:"nonce"`
	Signature crypto.Signature `json:"signature"`
	Signer    common.Address   `json:"signer"`
	Counter   *uint64          `json:"counter,omitempty"`
}

// runSignNonceCmd signs a nonce with the admin key. The nonce is given with
// -nonce, derived with -secret/-counter, or drawn at random.
//
// Exit codes: 0 signed, 2 usage or key error.
func runSignNonceCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sign-nonce", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		keyFile string
		nonceHx string
		secret  string
		counter uint64
	)
	cmd.StringVar(&keyFile, "key", "", "Admin key file (default ADMIN_KEY_FILE)")
	cmd.StringVar(&nonceHx, "nonce", "", "32-byte hex nonce to sign")
	cmd.StringVar(&secret, "secret", "", "Hex operator secret for deterministic nonces")
	cmd.Uint64Var(&counter, "counter", 0, "Counter for the deterministic nonce")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if keyFile == "" {
		keyFile = cfg.AdminKeyFile
	}
	signer, err := crypto.LoadOrGenerateKey(keyFile, cfg.Production)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	out := signedNonce{Signer: signer.Address()}
	switch {
	case nonceHx != "" && secret != "":
		_, _ = fmt.Fprintln(stderr, "Error: use either -nonce or -secret, not both")
		return 2
	case nonceHx != "":
		if out.Nonce, err = crypto.ParseNonce(nonceHx); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	case secret != "":
		raw, err := hex.DecodeString(secret)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: secret: %v\n", err)
			return 2
		}
		minter, err := crypto.NewHKDFMinter(raw, nil, counter)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if out.Nonce, err = minter.Derive(counter); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		out.Counter = &counter
	default:
		if out.Nonce, err = (crypto.RandomMinter{}).Mint(); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	if out.Signature, err = signer.SignNonce(out.Nonce); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return writeJSON(stdout, stderr, out)
}

// runVerifySignatureCmd checks a nonce signature offline.
//
// Exit codes: 0 valid, 1 invalid, 2 usage error.
func runVerifySignatureCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-signature", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	nonceHx := cmd.String("nonce", "", "32-byte hex nonce (REQUIRED)")
	sigHx := cmd.String("signature", "", "65-byte hex signature (REQUIRED)")
	address := cmd.String("address", "", "Expected signer address (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *nonceHx == "" || *sigHx == "" || !common.IsHexAddress(*address) {
		_, _ = fmt.Fprintln(stderr, "Error: -nonce, -signature and a valid -address are required")
		return 2
	}

	expected := common.HexToAddress(*address)
	if !crypto.VerifyHex(*nonceHx, *sigHx, expected) {
		_, _ = fmt.Fprintf(stdout, "INVALID: signature does not recover to %s\n", expected.Hex())
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "VALID: signed by %s\n", expected.Hex())
	return 0
}

// runTokenCmd issues an API bearer token signed with JWT_SECRET.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	address := cmd.String("address", "", "Caller address (REQUIRED)")
	ttl := cmd.Duration("ttl", time.Hour, "Token lifetime")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if !common.IsHexAddress(*address) {
		_, _ = fmt.Fprintln(stderr, "Error: -address must be a 0x address")
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	validator, err := auth.NewJWTValidator([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: JWT_SECRET: %v\n", err)
		return 2
	}
	tok, err := validator.Issue(common.HexToAddress(*address), *ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(stdout, tok)
	return 0
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}
