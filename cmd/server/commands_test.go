package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/NicolasHaas/gobans/pkg/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--format", "json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var got version.Info
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got != version.Get() {
		t.Errorf("version = %+v, want %+v", got, version.Get())
	}

	if _, err := execute(t, "version", "--format", "xml"); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestTokenCommand(t *testing.T) {
	a, err := execute(t, "token")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	b, _ := execute(t, "token")
	if strings.TrimSpace(a) == "" || a == b {
		t.Errorf("tokens %q and %q must be non-empty and distinct", a, b)
	}
}

func TestImportExportSweep(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "bans.db")
	common := []string{"--env-file", filepath.Join(dir, "absent.env"), "--db-driver", "sqlite", "--db-path", db, "--log-level", "error"}

	future := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	past := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)
	created := time.Now().Add(-72 * time.Hour).UTC().Format(time.RFC3339)
	doc := "bans:\n" +
		"  - id: 10\n    subject_id: \"76561198000000003\"\n    subject_name: Griefer\n    reason: griefing\n" +
		"    created_at: " + created + "\n    expires_at: " + future + "\n    issuer_id: \"1\"\n" +
		"  - id: 11\n    subject_id: \"76561198000000004\"\n    reason: old\n" +
		"    created_at: " + created + "\n    expires_at: " + past + "\n    issuer_id: \"1\"\n"
	file := filepath.Join(dir, "bans.yaml")
	if err := os.WriteFile(file, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, append([]string{"import", file}, common...)...)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if out != "imported 1 bans\n" {
		t.Errorf("import output = %q", out)
	}

	out, err = execute(t, append([]string{"export"}, common...)...)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(out, "76561198000000003:") || !strings.Contains(out, "// [Griefer] Ban ID: 1 | Reason: griefing | Duration: 2D") {
		t.Errorf("text export = %q", out)
	}

	out, err = execute(t, append([]string{"export", "--format", "yaml"}, common...)...)
	if err != nil {
		t.Fatalf("export yaml: %v", err)
	}
	if !strings.Contains(out, "subject_id: \"76561198000000003\"") {
		t.Errorf("yaml export = %q", out)
	}

	out, err = execute(t, append([]string{"sweep"}, common...)...)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if out != "removed 0 expired bans\n" {
		t.Errorf("sweep output = %q", out)
	}

	if _, err := execute(t, append([]string{"export", "--format", "csv"}, common...)...); err == nil {
		t.Error("unknown export format accepted")
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "sweep", "--env-file", filepath.Join(dir, "absent.env"), "--db-driver", "mysql")
	if err == nil || !strings.Contains(err.Error(), "db.driver") {
		t.Errorf("sweep with bad driver: err = %v", err)
	}
}
