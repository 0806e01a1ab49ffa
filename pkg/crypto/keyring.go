package crypto

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrKeyFileMissing is returned in production mode when no key file exists.
var ErrKeyFileMissing = errors.New("key file missing")

// LoadOrGenerateKey loads a hex secp256k1 key from path. When the file does not
// exist a new key is generated and written with mode 0600, unless production
// is set, in which case ErrKeyFileMissing is returned.
func LoadOrGenerateKey(path string, production bool) (*Secp256k1Signer, error) {
	keyHex, err := os.ReadFile(path)
	if err == nil {
		signer, err := NewSecp256k1SignerFromHex(string(keyHex))
		if err != nil {
			return nil, fmt.Errorf("invalid key file %s: %w", path, err)
		}
		slog.Info("crypto: loaded persistent key", "path", path, "address", signer.Address().Hex())
		return signer, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	if production {
		return nil, fmt.Errorf("%w: production mode requires %s to exist", ErrKeyFileMissing, path)
	}

	signer, err := GenerateSecp256k1Signer()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create key dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(signer.PrivateKeyHex()), 0o600); err != nil {
		return nil, fmt.Errorf("save key file: %w", err)
	}
	slog.Warn("crypto: generated new persistent key", "path", path, "address", signer.Address().Hex())
	return signer, nil
}
