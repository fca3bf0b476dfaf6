package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"matrixbot/internal/config"
	"matrixbot/internal/cursor"
	"matrixbot/internal/matrix"
	"matrixbot/internal/store"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "matrixbot",
		Short:   "matrixbot: a command bot for Matrix rooms",
		Long:    "matrixbot long-polls a Matrix homeserver, answers prefixed commands and joins rooms it is invited to.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.matrixbot/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(wizardCmd())
	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(cursorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// setupLogger replaces the bootstrap logger with one honouring the logging
// section. The returned func releases the log file, if any.
func setupLogger(cfg config.LoggingConfig) (func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}

	var out io.Writer = os.Stderr
	closeLog := func() {}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closeLog = func() { f.Close() }
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closeLog, nil
}

func loadConfig() (*config.Config, string, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config: %w", err)
	}
	return cfg, cfgPath, nil
}

func newMatrixClient(cfg *config.Config) (*matrix.Client, error) {
	return matrix.NewClient(matrix.ClientConfig{
		HomeserverURL: cfg.Matrix.HomeserverURL,
		UserID:        cfg.Matrix.UserID,
		AccessToken:   cfg.Matrix.AccessToken,
		Logger:        logger,
	})
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "database", cfg.Storage.DatabasePath)
			fmt.Println("Edit the matrix section (or export MATRIXBOT_ACCESS_TOKEN), then run 'matrixbot run'.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config, cursor and homeserver status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true, "user", cfg.Matrix.UserID)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if token, err := readCursor(ctx, cfg); err != nil {
				logger.Info("cursor", "database", cfg.Storage.DatabasePath, "err", err)
			} else {
				logger.Info("cursor", "database", cfg.Storage.DatabasePath, "token", displayToken(token))
			}

			client, err := newMatrixClient(cfg)
			if err != nil {
				return err
			}
			if versions, err := client.ServerVersions(ctx); err != nil {
				logger.Info("homeserver", "url", cfg.Matrix.HomeserverURL, "reachable", false, "err", err)
			} else {
				logger.Info("homeserver", "url", cfg.Matrix.HomeserverURL, "reachable", true, "versions", len(versions.Versions))
			}
			return nil
		},
	}
}

func readCursor(ctx context.Context, cfg *config.Config) (string, error) {
	kv, err := store.NewSQLiteStore(cfg.Storage.DatabasePath, logger)
	if err != nil {
		return "", err
	}
	defer kv.Close()
	return cursor.NewStore(kv, logger).Load(ctx)
}

func displayToken(token string) string {
	if token == "" {
		return "(none, next run performs an initial sync)"
	}
	return token
}

func cursorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or reset the persisted sync cursor",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the persisted sync token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := readCursor(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Println(displayToken(token))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget the sync token so the next run starts with an initial sync",
		Long: `Clears the persisted cursor. On the next start the bot performs an
initial sync and handles the events it returns again. Stop the bot first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			kv, err := store.NewSQLiteStore(cfg.Storage.DatabasePath, logger)
			if err != nil {
				return err
			}
			defer kv.Close()
			if err := cursor.NewStore(kv, logger).Reset(cmd.Context()); err != nil {
				return err
			}
			logger.Info("cursor reset", "database", cfg.Storage.DatabasePath)
			return nil
		},
	})

	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. bot.commandPrefix)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			return printYAML(val)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. sync.maxBackoff 30s)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if err := setConfigValue(cfgPath, args[0], args[1]); err != nil {
				return err
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			return printYAML(config.ListPaths(config.Sanitize(cfg)))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

// setConfigValue edits one value in the file as written, so ${VAR}
// references and ~/ paths elsewhere survive the rewrite. The result must
// still validate once resolved.
func setConfigValue(cfgPath, path, value string) error {
	raw, err := config.LoadRaw(cfgPath)
	if err != nil {
		return err
	}
	if err := config.SetByPath(raw, path, value); err != nil {
		return fmt.Errorf("set value: %w", err)
	}
	if _, err := config.Resolve(raw); err != nil {
		return err
	}
	if err := config.Save(cfgPath, raw); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

func printYAML(v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}
