package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gossh "golang.org/x/crypto/ssh"
)

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	b, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if len(a) != 64 {
		t.Errorf("token length = %d, want 64", len(a))
	}
	if a == b {
		t.Errorf("two generated tokens are equal")
	}
}

func TestTokenMatches(t *testing.T) {
	hash := HashToken("secret")
	if !TokenMatches("secret", hash) {
		t.Errorf("TokenMatches(secret) = false")
	}
	for _, bad := range []string{"", "Secret", "secret ", hash} {
		if TokenMatches(bad, hash) {
			t.Errorf("TokenMatches(%q) = true", bad)
		}
	}
}

func TestFingerprint(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	key, err := gossh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("NewPublicKey: %v", err)
	}
	fp := Fingerprint(key)
	if !strings.HasPrefix(fp, "SHA256:") || len(fp) != len("SHA256:")+43 {
		t.Errorf("Fingerprint() = %q", fp)
	}
	if Fingerprint(key) != fp {
		t.Errorf("Fingerprint() is not stable")
	}
}

func TestLoadOrGenerateHostKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.key")

	first, err := LoadOrGenerateHostKey(path)
	if err != nil {
		t.Fatalf("LoadOrGenerateHostKey (generate): %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("host key not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("host key mode = %o, want 600", perm)
	}

	second, err := LoadOrGenerateHostKey(path)
	if err != nil {
		t.Fatalf("LoadOrGenerateHostKey (load): %v", err)
	}
	if Fingerprint(first.PublicKey()) != Fingerprint(second.PublicKey()) {
		t.Errorf("reloaded host key differs from generated one")
	}
}

func TestLoadOrGenerateHostKeyCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.key")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadOrGenerateHostKey(path); err == nil {
		t.Errorf("LoadOrGenerateHostKey(corrupt): expected error")
	}
}
