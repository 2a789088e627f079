package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/rs/zerolog"

	"github.com/SairamVarma07/Vytara-AI-Frontend/apiclient"
	"github.com/SairamVarma07/Vytara-AI-Frontend/tokenstore"
)

// Store backends for the durable tier.
const (
	backendFile  = "file"
	backendRedis = "redis"
)

// Config holds the CLI settings. Priority: flag > env > .env > default.
type Config struct {
	ServerURL               string        `env:"API_BASE_URL" envDefault:"http://localhost:3000/api"`
	Timeout                 time.Duration `env:"API_TIMEOUT" envDefault:"10s"`
	UploadTimeoutMultiplier int           `env:"UPLOAD_TIMEOUT_MULTIPLIER" envDefault:"3"`
	MaxRetries              int           `env:"HTTP_MAX_RETRIES" envDefault:"0"`

	Profile      string `env:"PROFILE" envDefault:"default"`
	StoreBackend string `env:"STORE_BACKEND" envDefault:"file"`
	TokenFile    string `env:"TOKEN_FILE"`
	// SessionFile backs the ephemeral tier. It defaults to a file in the temp
	// dir keyed by the parent shell, so it lasts for one terminal session.
	SessionFile string `env:"SESSION_FILE"`

	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisTTL      time.Duration `env:"REDIS_TTL" envDefault:"720h"`

	AccessTokenKey  string `env:"AUTH_TOKEN_KEY"`
	RefreshTokenKey string `env:"REFRESH_TOKEN_KEY"`
	UserDataKey     string `env:"USER_DATA_KEY"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"warn"`
	// LogFile receives logs while the TUI owns the terminal.
	LogFile     string `env:"LOG_FILE"`
	MetricsFile string `env:"METRICS_FILE"`
}

// loadConfig reads the environment described by opts, then applies the global
// flags in args. It returns the remaining arguments (the sub-command).
func loadConfig(args []string, opts env.Options, stderr io.Writer) (*Config, []string, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, nil, fmt.Errorf("invalid environment: %w", err)
	}

	fs := flag.NewFlagSet("vytara", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr, fs) }
	fs.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "API base URL (or API_BASE_URL env)")
	fs.StringVar(&cfg.TokenFile, "token-file", cfg.TokenFile, "durable token file (default: ~/.vytara/tokens.json or TOKEN_FILE env)")
	fs.StringVar(&cfg.Profile, "profile", cfg.Profile, "credential profile name (or PROFILE env)")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-request timeout (or API_TIMEOUT env)")
	fs.StringVar(&cfg.StoreBackend, "store", cfg.StoreBackend, "durable store backend: file or redis (or STORE_BACKEND env)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (or LOG_LEVEL env)")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	if cfg.TokenFile == "" {
		cfg.TokenFile = defaultTokenFile()
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = filepath.Join(os.TempDir(), fmt.Sprintf("vytara-session-%d.json", os.Getppid()))
	}

	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}
	return &cfg, fs.Args(), nil
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vytara-tokens.json"
	}
	return filepath.Join(home, ".vytara", "tokens.json")
}

func (c *Config) validate() error {
	if err := apiclient.ValidateBaseURL(c.ServerURL); err != nil {
		return fmt.Errorf("invalid API_BASE_URL: %w", err)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got: %s", c.Timeout)
	}
	if c.UploadTimeoutMultiplier < 1 {
		return fmt.Errorf("UPLOAD_TIMEOUT_MULTIPLIER must be at least 1, got: %d", c.UploadTimeoutMultiplier)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("HTTP_MAX_RETRIES cannot be negative, got: %d", c.MaxRetries)
	}
	switch c.StoreBackend {
	case backendFile, backendRedis:
	default:
		return fmt.Errorf("unknown store backend %q (want %s or %s)", c.StoreBackend, backendFile, backendRedis)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return nil
}

// isPlaintext reports whether tokens would travel unencrypted.
func (c *Config) isPlaintext() bool {
	return strings.HasPrefix(strings.ToLower(c.ServerURL), "http://")
}

func (c *Config) storeKeys() tokenstore.Keys {
	return tokenstore.Keys{
		AccessToken:  c.AccessTokenKey,
		RefreshToken: c.RefreshTokenKey,
		User:         c.UserDataKey,
	}
}

func (c *Config) clientOptions(log zerolog.Logger) []apiclient.Option {
	return []apiclient.Option{
		apiclient.WithBaseURL(c.ServerURL),
		apiclient.WithTimeout(c.Timeout),
		apiclient.WithUploadTimeoutMultiplier(c.UploadTimeoutMultiplier),
		apiclient.WithMaxRetries(c.MaxRetries),
		apiclient.WithLogger(log),
	}
}

// newLogger writes human-readable logs to w.
func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: vytara [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-16s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}
