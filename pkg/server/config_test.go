package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/gobans/pkg/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(LoadOptions{Environ: map[string]string{}})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadConfigLayers(t *testing.T) {
	file := writeFile(t, "gobans.yaml", `
command_prefix: "!kick"
admin_channel: ""
admins: ["1", "2"]
kick_delay: 5s
sweep_interval: 10m
export:
  enabled: true
  path: /banlist
db:
  driver: postgres
  url: postgres://file
log:
  level: warn
`)
	dotenv := writeFile(t, ".env", `
GOBANS_DB_URL=postgres://dotenv
GOBANS_LOG_FORMAT=json
GOBANS_NAME_RATIO_BOUND=2.5
`)

	cfg, err := LoadConfig(LoadOptions{
		File:   file,
		DotEnv: dotenv,
		Environ: map[string]string{
			"GOBANS_LOG_FORMAT":   "text",
			"GOBANS_MODERATORS":   "7,8",
			"GOBANS_EXPORT_TOKEN": "s3cret",
			"GOBANS_ROLES":        "SHA256:abc=mod,42=admin",
			"UNRELATED":           "x",
		},
	})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := DefaultConfig()
	want.CommandPrefix = "!kick"
	want.AdminChannel = ""
	want.Admins = []string{"1", "2"}
	want.Moderators = []string{"7", "8"}
	want.Roles = map[string]string{"SHA256:abc": "mod", "42": "admin"}
	want.KickDelay = 5 * time.Second
	want.SweepInterval = 10 * time.Minute
	want.NameRatioBound = 2.5
	want.Export = ExportConfig{Enabled: true, Path: "/banlist", Token: "s3cret"}
	want.DB = DBConfig{Driver: DriverPostgres, Path: "gobans.db", URL: "postgres://dotenv"}
	want.Log = LogConfig{Level: "warn", Format: "text"}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigMissingDotEnv(t *testing.T) {
	_, err := LoadConfig(LoadOptions{
		DotEnv:  filepath.Join(t.TempDir(), "absent.env"),
		Environ: map[string]string{},
	})
	if err != nil {
		t.Errorf("missing .env must be skipped, got %v", err)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := map[string]LoadOptions{
		"missing file": {File: filepath.Join(t.TempDir(), "nope.yaml"), Environ: map[string]string{}},
		"bad yaml":     {File: writeFile(t, "bad.yaml", "admins: [unterminated"), Environ: map[string]string{}},
		"bad duration": {Environ: map[string]string{"GOBANS_KICK_DELAY": "soon"}},
		"bad number":   {Environ: map[string]string{"GOBANS_EVENT_QUEUE_SIZE": "many"}},
	}
	for name, opts := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default", func(*Config) {}, ""},
		{"memory driver", func(c *Config) { c.DB.Driver = DriverMemory }, ""},
		{"any channel", func(c *Config) { c.AdminChannel = "" }, ""},
		{"empty prefix", func(c *Config) { c.CommandPrefix = "" }, "command_prefix"},
		{"prefix with space", func(c *Config) { c.CommandPrefix = "!ban add" }, "command_prefix"},
		{"negative kick delay", func(c *Config) { c.KickDelay = -time.Second }, "kick_delay"},
		{"negative sweep", func(c *Config) { c.SweepInterval = -time.Second }, "sweep_interval"},
		{"zero ratio", func(c *Config) { c.NameRatioBound = 0 }, "name_ratio_bound"},
		{"bad pattern", func(c *Config) { c.IDPattern = "([" }, "id_pattern"},
		{"unknown role", func(c *Config) { c.Roles = map[string]string{"7": "owner"} }, "roles[7]"},
		{"empty queue", func(c *Config) { c.EventQueueSize = 0 }, "event_queue_size"},
		{"relative export path", func(c *Config) { c.Export.Enabled = true; c.Export.Path = "bans" }, "export.path"},
		{"reserved export path", func(c *Config) { c.Export.Enabled = true; c.Export.Path = "/metrics" }, "reserved"},
		{"sqlite without path", func(c *Config) { c.DB.Path = "" }, "db.path"},
		{"postgres without url", func(c *Config) { c.DB.Driver = DriverPostgres }, "db.url"},
		{"unknown driver", func(c *Config) { c.DB.Driver = "mysql" }, "db.driver"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "loud"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultAdminChannel(t *testing.T) {
	if got := DefaultConfig().AdminChannel; got != model.ChannelAdmin {
		t.Errorf("AdminChannel = %q, want %q", got, model.ChannelAdmin)
	}
}
