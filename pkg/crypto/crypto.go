// Package crypto provides player key fingerprints, SSH host keys and
// export token handling.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	gossh "golang.org/x/crypto/ssh"
)

// GenerateToken generates a random token string (32 bytes, hex-like).
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("crypto: generate token: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}

// HashToken hashes a raw token string with SHA-256.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h[:])
}

// TokenMatches reports whether presented hashes to wantHash. The
// comparison takes the same time for every input of a given length.
func TokenMatches(presented, wantHash string) bool {
	got := HashToken(presented)
	return subtle.ConstantTimeCompare([]byte(got), []byte(wantHash)) == 1
}

// Fingerprint returns the OpenSSH SHA256 fingerprint of key, which serves
// as the player's stable identifier.
func Fingerprint(key gossh.PublicKey) string {
	return gossh.FingerprintSHA256(key)
}

// LoadOrGenerateHostKey reads an SSH private key from path. If the file
// does not exist a new ed25519 key is written there with mode 0600.
func LoadOrGenerateHostKey(path string) (gossh.Signer, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from server config
	if err == nil {
		signer, err := gossh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("crypto: parse host key %s: %w", path, err)
		}
		slog.Info("loaded SSH host key", "path", path, "fingerprint", Fingerprint(signer.PublicKey()))
		return signer, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("crypto: read host key: %w", err)
	}

	slog.Info("generating SSH host key", "path", path)
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate host key: %w", err)
	}
	block, err := gossh.MarshalPrivateKey(priv, "gobans host key")
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal host key: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("crypto: write host key: %w", err)
	}
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("crypto: host key signer: %w", err)
	}
	return signer, nil
}
