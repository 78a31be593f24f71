package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gobans/pkg/bans"
	"github.com/NicolasHaas/gobans/pkg/command"
	"github.com/NicolasHaas/gobans/pkg/logging"
	"github.com/NicolasHaas/gobans/pkg/model"
	"github.com/NicolasHaas/gobans/pkg/resolver"
)

// EnvPrefix prefixes every environment variable read into Config.
const EnvPrefix = "GOBANS_"

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds server configuration.
type Config struct {
	CommandPrefix      string            `yaml:"command_prefix" env:"COMMAND_PREFIX"`
	BanMessageFormat   string            `yaml:"ban_message_format" env:"BAN_MESSAGE_FORMAT"`
	AdminChannel       string            `yaml:"admin_channel" env:"ADMIN_CHANNEL"` // empty accepts commands on any channel
	Admins             []string          `yaml:"admins" env:"ADMINS" envSeparator:","`
	Moderators         []string          `yaml:"moderators" env:"MODERATORS" envSeparator:","`
	Roles              map[string]string `yaml:"roles" env:"ROLES" envSeparator:"," envKeyValSeparator:"="` // id -> role name, wins over the lists
	KickDelay          time.Duration     `yaml:"kick_delay" env:"KICK_DELAY"`
	NameRatioBound     float64           `yaml:"name_ratio_bound" env:"NAME_RATIO_BOUND"`
	IDPattern          string            `yaml:"id_pattern" env:"ID_PATTERN"`
	SweepInterval      time.Duration     `yaml:"sweep_interval" env:"SWEEP_INTERVAL"` // 0 sweeps only at startup
	HTTPAddr           string            `yaml:"http_addr" env:"HTTP_ADDR"`           // empty disables HTTP
	MetricsLogInterval time.Duration     `yaml:"metrics_log_interval" env:"METRICS_LOG_INTERVAL"`
	EventQueueSize     int               `yaml:"event_queue_size" env:"EVENT_QUEUE_SIZE"`

	Export ExportConfig `yaml:"export" envPrefix:"EXPORT_"`
	DB     DBConfig     `yaml:"db" envPrefix:"DB_"`
	SSH    SSHConfig    `yaml:"ssh" envPrefix:"SSH_"`
	Log    LogConfig    `yaml:"log" envPrefix:"LOG_"`
}

// ExportConfig controls the HTTP ban-list export.
type ExportConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
	Token   string `yaml:"token" env:"TOKEN"` // empty serves the list without auth
}

// DBConfig selects the ban store.
type DBConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	Path   string `yaml:"path" env:"PATH"` // SQLite file
	URL    string `yaml:"url" env:"URL"`   // PostgreSQL connection string
}

// SSHConfig configures the reference SSH host.
type SSHConfig struct {
	Addr    string `yaml:"addr" env:"ADDR"`
	HostKey string `yaml:"host_key" env:"HOST_KEY"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CommandPrefix:      command.DefaultPrefix,
		BanMessageFormat:   bans.DefaultMessageFormat,
		AdminChannel:       model.ChannelAdmin,
		KickDelay:          bans.DefaultKickDelay,
		NameRatioBound:     resolver.DefaultRatioBound,
		IDPattern:          resolver.DefaultIDPattern,
		HTTPAddr:           ":9602",
		MetricsLogInterval: 60 * time.Second,
		EventQueueSize:     256,
		Export: ExportConfig{
			Path: "/bans",
		},
		DB: DBConfig{
			Driver: DriverSQLite,
			Path:   "gobans.db",
		},
		SSH: SSHConfig{
			Addr:    ":2222",
			HostKey: "host.key",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadOptions names the sources LoadConfig reads, in increasing priority.
type LoadOptions struct {
	File    string            // YAML file, skipped when empty
	DotEnv  string            // .env file, skipped when missing
	Environ map[string]string // process environment; nil reads os.Environ
}

// LoadConfig layers DefaultConfig, the YAML file, the .env file and the
// environment. Variables from the environment win over the .env file.
func LoadConfig(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()

	if opts.File != "" {
		data, err := os.ReadFile(opts.File) //nolint:gosec // path from user-provided CLI config
		if err != nil {
			return cfg, fmt.Errorf("server: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("server: parse config %s: %w", opts.File, err)
		}
	}

	vars := map[string]string{}
	if opts.DotEnv != "" {
		dot, err := godotenv.Read(opts.DotEnv)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("server: read %s: %w", opts.DotEnv, err)
		}
		for k, v := range dot {
			vars[k] = v
		}
	}
	environ := opts.Environ
	if environ == nil {
		environ = make(map[string]string)
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				environ[k] = v
			}
		}
	}
	for k, v := range environ {
		vars[k] = v
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: vars}); err != nil {
		return cfg, fmt.Errorf("server: parse env: %w", err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.CommandPrefix == "" || strings.ContainsAny(c.CommandPrefix, " \t\r\n") {
		return fmt.Errorf("server: config: command_prefix must be one non-empty word, got %q", c.CommandPrefix)
	}
	if c.KickDelay < 0 {
		return fmt.Errorf("server: config: kick_delay must not be negative")
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("server: config: sweep_interval must not be negative")
	}
	if c.NameRatioBound <= 0 {
		return fmt.Errorf("server: config: name_ratio_bound must be positive, got %v", c.NameRatioBound)
	}
	if c.IDPattern != "" {
		if _, err := regexp.Compile(c.IDPattern); err != nil {
			return fmt.Errorf("server: config: id_pattern: %w", err)
		}
	}
	for id, name := range c.Roles {
		if _, err := model.ParseRole(name); err != nil {
			return fmt.Errorf("server: config: roles[%s]: %w", id, err)
		}
	}
	if c.EventQueueSize < 1 {
		return fmt.Errorf("server: config: event_queue_size must be at least 1")
	}
	if c.Export.Enabled {
		if !strings.HasPrefix(c.Export.Path, "/") {
			return fmt.Errorf("server: config: export.path must start with /, got %q", c.Export.Path)
		}
		if c.Export.Path == "/metrics" || c.Export.Path == "/healthz" {
			return fmt.Errorf("server: config: export.path %q is reserved", c.Export.Path)
		}
	}
	switch c.DB.Driver {
	case DriverSQLite:
		if c.DB.Path == "" {
			return fmt.Errorf("server: config: db.path is required for sqlite")
		}
	case DriverPostgres:
		if c.DB.URL == "" {
			return fmt.Errorf("server: config: db.url is required for postgres")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("server: config: unknown db.driver %q (valid: sqlite, postgres, memory)", c.DB.Driver)
	}
	if err := logging.Validate(c.Log.Level); err != nil {
		return fmt.Errorf("server: config: %w", err)
	}
	if err := logging.ValidateFormat(c.Log.Format); err != nil {
		return fmt.Errorf("server: config: %w", err)
	}
	return nil
}
