package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gobans/pkg/crypto"
	"github.com/NicolasHaas/gobans/pkg/datastore"
	"github.com/NicolasHaas/gobans/pkg/export"
	"github.com/NicolasHaas/gobans/pkg/logging"
	"github.com/NicolasHaas/gobans/pkg/model"
	"github.com/NicolasHaas/gobans/pkg/server"
	"github.com/NicolasHaas/gobans/pkg/version"
)

type rootFlags struct {
	configFile string
	envFile    string
	logLevel   string
	logFormat  string
	dbDriver   string
	dbPath     string
	dbURL      string

	httpAddr      string
	sshAddr       string
	hostKey       string
	sweepInterval time.Duration
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "gobans",
		Short:         "Ban manager for game servers",
		Long:          "GoBans issues, enforces and expires player bans from in-game admin chat.",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			return server.Run(cmd.Context(), cfg)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configFile, "config", "", "YAML config file")
	pf.StringVar(&f.envFile, "env-file", ".env", "dotenv file with GOBANS_* variables (skipped if missing)")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: "+logging.LevelNames())
	pf.StringVar(&f.logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&f.dbDriver, "db-driver", "", "ban store: sqlite, postgres or memory")
	pf.StringVar(&f.dbPath, "db-path", "", "SQLite database file")
	pf.StringVar(&f.dbURL, "db-url", "", "PostgreSQL connection string")

	fl := root.Flags()
	fl.StringVar(&f.httpAddr, "http-addr", "", "HTTP bind address for health, metrics and export (empty to disable)")
	fl.StringVar(&f.sshAddr, "ssh-addr", "", "SSH host bind address")
	fl.StringVar(&f.hostKey, "host-key", "", "SSH host private key (generated if missing)")
	fl.DurationVar(&f.sweepInterval, "sweep-interval", 0, "interval between expired-ban sweeps (0 sweeps only at startup)")

	root.AddCommand(
		newExportCmd(f),
		newImportCmd(f),
		newSweepCmd(f),
		newTokenCmd(),
		newVersionCmd(),
	)
	return root
}

// load reads the layered config, applies flags that were set and installs
// the logger.
func (f *rootFlags) load(cmd *cobra.Command) (server.Config, error) {
	cfg, err := server.LoadConfig(server.LoadOptions{File: f.configFile, DotEnv: f.envFile})
	if err != nil {
		return cfg, err
	}

	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("log-level", &cfg.Log.Level, f.logLevel)
	set("log-format", &cfg.Log.Format, f.logFormat)
	set("db-driver", &cfg.DB.Driver, f.dbDriver)
	set("db-path", &cfg.DB.Path, f.dbPath)
	set("db-url", &cfg.DB.URL, f.dbURL)
	set("http-addr", &cfg.HTTPAddr, f.httpAddr)
	set("ssh-addr", &cfg.SSH.Addr, f.sshAddr)
	set("host-key", &cfg.SSH.HostKey, f.hostKey)
	if cmd.Flags().Changed("sweep-interval") {
		cfg.SweepInterval = f.sweepInterval
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if err := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	}); err != nil {
		return cfg, fmt.Errorf("invalid logging config: %w", err)
	}
	return cfg, nil
}

// withStore opens the configured store for a one-shot command.
func withStore(cmd *cobra.Command, f *rootFlags, fn func(ctx context.Context, cfg server.Config, st datastore.BanStore) error) error {
	cfg, err := f.load(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := server.OpenStore(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("close store", "err", err)
		}
	}()
	return fn(ctx, cfg, st)
}

func newExportCmd(f *rootFlags) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the ban list as text lines or YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, f, func(ctx context.Context, cfg server.Config, st datastore.BanStore) error {
				list, err := st.ListBans(ctx)
				if err != nil {
					return err
				}

				var data []byte
				switch format {
				case "text":
					text := export.Text(list, cfg.BanMessageFormat, time.Now())
					if text != "" {
						text += "\n"
					}
					data = []byte(text)
				case "yaml":
					if data, err = export.YAML(list); err != nil {
						return err
					}
				default:
					return fmt.Errorf("unknown export format %q (valid: text, yaml)", format)
				}

				var w io.Writer = cmd.OutOrStdout()
				if output != "" && output != "-" {
					file, err := os.Create(output) //nolint:gosec // path from CLI flag
					if err != nil {
						return fmt.Errorf("create %s: %w", output, err)
					}
					defer func() { _ = file.Close() }()
					w = file
				}
				_, err = w.Write(data)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file (- for stdout)")
	return cmd
}

func newImportCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Load bans from a YAML export, skipping expired entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0]) //nolint:gosec // path from CLI argument
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			return withStore(cmd, f, func(ctx context.Context, _ server.Config, st datastore.BanStore) error {
				n, err := export.ImportYAML(ctx, data, st, time.Now())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %d bans\n", n)
				return nil
			})
		},
	}
}

func newSweepCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired bans and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, f, func(ctx context.Context, _ server.Config, st datastore.BanStore) error {
				n, err := st.DeleteBans(ctx, model.MatchExpired(time.Now()))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired bans\n", n)
				return nil
			})
		},
	}
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Generate a random bearer token for the ban-list export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := crypto.GenerateToken()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			w := cmd.OutOrStdout()
			switch format {
			case "text":
				_, _ = fmt.Fprintf(w, "gobans %s (commit %s, built %s)\n", info.Version, info.Commit, info.Date)
				return nil
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			case "yaml":
				enc := yaml.NewEncoder(w)
				if err := enc.Encode(info); err != nil {
					return err
				}
				return enc.Close()
			default:
				return fmt.Errorf("unknown version format %q (valid: text, json, yaml)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json or yaml")
	return cmd
}
