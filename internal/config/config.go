// ABOUTME: Configuration loading and parsing for the codex-monitor-web launcher
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by the config layer.
const (
	EnvConfig      = "CODEX_MONITOR_WEB_CONFIG"
	EnvToken       = "CODEX_MONITOR_WEB_TOKEN"
	EnvDaemonToken = "CODEX_MONITOR_DAEMON_TOKEN"
	EnvCacheDir    = "CODEX_MONITOR_WEB_CACHE_DIR"
	EnvSkip        = "CODEX_MONITOR_WEB_SKIP_DOWNLOAD"
	EnvReleaseBase = "CODEX_MONITOR_WEB_RELEASE_BASE"
)

const (
	DefaultListen       = "127.0.0.1:4732"
	DefaultFrontendHost = "127.0.0.1"
	DefaultFrontendPort = 4173
	appDir              = "codex-monitor-web"
)

// Config represents the complete launcher configuration
type Config struct {
	Backend    BackendConfig    `yaml:"backend" toml:"backend"`
	Frontend   FrontendConfig   `yaml:"frontend" toml:"frontend"`
	Download   DownloadConfig   `yaml:"download" toml:"download"`
	Supervisor SupervisorConfig `yaml:"supervisor" toml:"supervisor"`
	Client     ClientConfig     `yaml:"client" toml:"client"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// BackendConfig holds how the backend daemon is located and started
type BackendConfig struct {
	Listen  string `yaml:"listen" toml:"listen"`
	DataDir string `yaml:"data_dir" toml:"data_dir"`
	Token   string `yaml:"token" toml:"token"`
	NoToken bool   `yaml:"no_token" toml:"no_token"`
	// Bin is an explicit backend executable; it skips every other source
	Bin string `yaml:"bin" toml:"bin"`
	// SourceDir is a source checkout used when no binary can be found
	SourceDir string   `yaml:"source_dir" toml:"source_dir"`
	Args      []string `yaml:"args" toml:"args"`
}

// FrontendConfig holds the frontend asset server command
type FrontendConfig struct {
	Command string   `yaml:"command" toml:"command"`
	Args    []string `yaml:"args" toml:"args"`
	Dir     string   `yaml:"dir" toml:"dir"`
	Host    string   `yaml:"host" toml:"host"`
	Port    int      `yaml:"port" toml:"port"`
}

// DownloadConfig holds release download settings
type DownloadConfig struct {
	Skip        bool   `yaml:"skip" toml:"skip"`
	CacheDir    string `yaml:"cache_dir" toml:"cache_dir"`
	ReleaseBase string `yaml:"release_base" toml:"release_base"`
}

// SupervisorConfig holds readiness and shutdown timing
type SupervisorConfig struct {
	ReadyTimeout  time.Duration `yaml:"-" toml:"-"`
	ProbeInterval time.Duration `yaml:"-" toml:"-"`
	GracePeriod   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ReadyTimeoutRaw  string `yaml:"ready_timeout" toml:"ready_timeout"`
	ProbeIntervalRaw string `yaml:"probe_interval" toml:"probe_interval"`
	GracePeriodRaw   string `yaml:"grace_period" toml:"grace_period"`
}

// ClientConfig holds settings for one-shot RPC calls against a running backend
type ClientConfig struct {
	URL            string        `yaml:"url" toml:"url"`
	CallTimeout    time.Duration `yaml:"-" toml:"-"`
	ReconnectDelay time.Duration `yaml:"-" toml:"-"`

	CallTimeoutRaw    string `yaml:"call_timeout" toml:"call_timeout"`
	ReconnectDelayRaw string `yaml:"reconnect_delay" toml:"reconnect_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Listen:  DefaultListen,
			DataDir: DefaultDataDir(os.Getenv),
		},
		Frontend: FrontendConfig{
			Host: DefaultFrontendHost,
			Port: DefaultFrontendPort,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultDataDir is $XDG_DATA_HOME/codex-monitor-web, falling back to
// ~/.local/share/codex-monitor-web.
func DefaultDataDir(getenv func(string) string) string {
	if dir := getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appDir)
	}
	return filepath.Join(home, ".local", "share", appDir)
}

// DefaultPath returns the config file to load when --config is absent,
// and whether it was named explicitly through EnvConfig.
func DefaultPath(getenv func(string) string) (path string, explicit bool) {
	if p := getenv(EnvConfig); p != "" {
		return p, true
	}
	dir := getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false
		}
		dir = filepath.Join(home, ".config")
	}
	base := filepath.Join(dir, appDir)
	for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
		candidate := filepath.Join(base, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, false
		}
	}
	return filepath.Join(base, "config.yaml"), false
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Values missing from the file keep their defaults. Environment variables in the
// format ${VAR_NAME} are expanded. The format follows the file extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, returning Default() when the file does not
// exist and was not named explicitly.
func LoadOrDefault(path string, explicit bool) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// ApplyEnv overrides file values with the environment. Flags are applied
// by the caller afterwards.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if tok := getenv(EnvToken); tok != "" {
		c.Backend.Token = tok
	} else if tok := getenv(EnvDaemonToken); tok != "" {
		c.Backend.Token = tok
	}
	if dir := getenv(EnvCacheDir); dir != "" {
		c.Download.CacheDir = dir
	}
	if base := getenv(EnvReleaseBase); base != "" {
		c.Download.ReleaseBase = base
	}
	switch getenv(EnvSkip) {
	case "1", "true", "yes", "on":
		c.Download.Skip = true
	}
}

// EffectiveToken is the token the backend is started with, or "" when
// tokens are disabled.
func (c *Config) EffectiveToken() string {
	if c.Backend.NoToken {
		return ""
	}
	return c.Backend.Token
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that configuration values are usable.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Backend.Listen); err != nil {
		return fmt.Errorf("backend.listen must be host:port: %w", err)
	}
	if c.Backend.DataDir == "" {
		return fmt.Errorf("backend.data_dir is required")
	}
	if c.Frontend.Port < 0 || c.Frontend.Port > 65535 {
		return fmt.Errorf("frontend.port %d is out of range", c.Frontend.Port)
	}
	if c.Frontend.Command == "" && len(c.Frontend.Args) > 0 {
		return fmt.Errorf("frontend.args requires frontend.command")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json; got %q", c.Logging.Format)
	}

	for name, d := range map[string]time.Duration{
		"supervisor.ready_timeout":  c.Supervisor.ReadyTimeout,
		"supervisor.probe_interval": c.Supervisor.ProbeInterval,
		"supervisor.grace_period":   c.Supervisor.GracePeriod,
		"client.call_timeout":       c.Client.CallTimeout,
		"client.reconnect_delay":    c.Client.ReconnectDelay,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"ready_timeout", cfg.Supervisor.ReadyTimeoutRaw, &cfg.Supervisor.ReadyTimeout},
		{"probe_interval", cfg.Supervisor.ProbeIntervalRaw, &cfg.Supervisor.ProbeInterval},
		{"grace_period", cfg.Supervisor.GracePeriodRaw, &cfg.Supervisor.GracePeriod},
		{"call_timeout", cfg.Client.CallTimeoutRaw, &cfg.Client.CallTimeout},
		{"reconnect_delay", cfg.Client.ReconnectDelayRaw, &cfg.Client.ReconnectDelay},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
