package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for matrixbot. It is loaded once at
// startup and treated as read-only afterwards.
type Config struct {
	Matrix  MatrixConfig  `yaml:"matrix"`
	Bot     BotConfig     `yaml:"bot"`
	Sync    SyncConfig    `yaml:"sync"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// MatrixConfig holds homeserver connection parameters. The bot uses a
// pre-issued access token; it never performs an interactive login.
type MatrixConfig struct {
	HomeserverURL string `yaml:"homeserverUrl"`
	UserID        string `yaml:"userId"`
	AccessToken   string `yaml:"accessToken"`
}

type BotConfig struct {
	CommandPrefix string `yaml:"commandPrefix"`
	AgentID       string `yaml:"agentId"` // automated peer invited/kicked by commands
	KickReason    string `yaml:"kickReason"`
	Farewell      string `yaml:"farewell"`

	// Outbound action pacing. Either value at 0 disables it.
	SendBurst         int     `yaml:"sendBurst"`
	SendRatePerMinute float64 `yaml:"sendRatePerMinute"`
}

type SyncConfig struct {
	Timeout        time.Duration `yaml:"timeout"`        // long-poll wait
	InitialBackoff time.Duration `yaml:"initialBackoff"` // first retry delay after a failed sync
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
	InviteAttempts int           `yaml:"inviteAttempts"`
}

type StorageConfig struct {
	DatabasePath string `yaml:"databasePath"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
	File  string `yaml:"file"`  // optional log file path
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// DefaultConfigDir returns the default config directory (~/.matrixbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".matrixbot"
	}
	return filepath.Join(home, ".matrixbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	cfg, err := parse(data, true)
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadRaw reads the file as written: ${VAR} references and ~/ paths are
// kept and nothing is validated. Use it for configs that will be saved back.
func LoadRaw(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	cfg, err := parse(data, false)
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve returns the config raw describes once environment variables and
// ~/ paths are expanded, validated as Load would. raw is not modified.
func Resolve(raw *Config) (*Config, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal config: %w", err)
	}
	cfg, err := parse(data, true)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// parse decodes data over the defaults. With expand set it substitutes
// ${VAR} and ${VAR:-default} and resolves ~/ in path fields.
func parse(data []byte, expand bool) (*Config, error) {
	if expand {
		data = []byte(ExpandEnvVars(string(data)))
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if expand {
		cfg.Storage.DatabasePath = ExpandPath(cfg.Storage.DatabasePath)
		cfg.Logging.File = ExpandPath(cfg.Logging.File)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// The file holds the access token.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Matrix.HomeserverURL == "" {
		errs = append(errs, "matrix.homeserverUrl is required")
	} else if u, err := url.Parse(cfg.Matrix.HomeserverURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("matrix.homeserverUrl is not an absolute URL: %q", cfg.Matrix.HomeserverURL))
	}
	if !isUserID(cfg.Matrix.UserID) {
		errs = append(errs, fmt.Sprintf("matrix.userId must look like @user:server, got %q", cfg.Matrix.UserID))
	}

	if cfg.Bot.CommandPrefix == "" {
		errs = append(errs, "bot.commandPrefix must not be empty")
	}
	if cfg.Bot.AgentID != "" && !isUserID(cfg.Bot.AgentID) {
		errs = append(errs, fmt.Sprintf("bot.agentId must look like @user:server, got %q", cfg.Bot.AgentID))
	}

	if cfg.Bot.SendBurst < 0 || cfg.Bot.SendRatePerMinute < 0 {
		errs = append(errs, "bot.sendBurst and bot.sendRatePerMinute must be >= 0")
	}

	if cfg.Sync.Timeout < time.Second || cfg.Sync.Timeout > 5*time.Minute {
		errs = append(errs, "sync.timeout must be between 1s and 5m")
	}
	if cfg.Sync.InitialBackoff <= 0 {
		errs = append(errs, "sync.initialBackoff must be > 0")
	}
	if cfg.Sync.MaxBackoff < cfg.Sync.InitialBackoff {
		errs = append(errs, "sync.maxBackoff must be >= sync.initialBackoff")
	}
	if cfg.Sync.InviteAttempts < 1 || cfg.Sync.InviteAttempts > 10 {
		errs = append(errs, "sync.inviteAttempts must be between 1 and 10")
	}

	if cfg.Storage.DatabasePath == "" {
		errs = append(errs, "storage.databasePath is required")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			errs = append(errs, "metrics.listen is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, "metrics.path must start with /")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isUserID reports whether s has the shape of a Matrix user ID.
func isUserID(s string) bool {
	if !strings.HasPrefix(s, "@") {
		return false
	}
	local, server, ok := strings.Cut(s[1:], ":")
	return ok && local != "" && server != ""
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
