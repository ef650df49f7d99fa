// Package config assembles the client configuration from defaults, an
// optional TOML file, an optional .env file and STRANGER_* environment
// variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment variable the client reads.
const EnvPrefix = "STRANGER_"

// Config holds every tunable of the client.
type Config struct {
	ServiceURL   string        `toml:"service_url" env:"SERVICE_URL"`
	DialTimeout  time.Duration `toml:"dial_timeout" env:"DIAL_TIMEOUT"`
	WriteTimeout time.Duration `toml:"write_timeout" env:"WRITE_TIMEOUT"`

	TypingWindow time.Duration `toml:"typing_window" env:"TYPING_WINDOW"`
	TypingDecay  time.Duration `toml:"typing_decay" env:"TYPING_DECAY"`

	PresenceInterval time.Duration `toml:"presence_interval" env:"PRESENCE_INTERVAL"`
	HTTPTimeout      time.Duration `toml:"http_timeout" env:"HTTP_TIMEOUT"`

	LogFile  string `toml:"log_file" env:"LOG_FILE"`
	LogLevel string `toml:"log_level" env:"LOG_LEVEL"`

	// Profile names the stored identity; RedisAddr selects the Redis store
	// instead of the in-memory one.
	Profile   string `toml:"profile" env:"PROFILE"`
	RedisAddr string `toml:"redis_addr" env:"REDIS_ADDR"`

	NATSURL     string `toml:"nats_url" env:"NATS_URL"`
	MetricsAddr string `toml:"metrics_addr" env:"METRICS_ADDR"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		ServiceURL:       "http://localhost:8000",
		DialTimeout:      10 * time.Second,
		WriteTimeout:     5 * time.Second,
		TypingWindow:     700 * time.Millisecond,
		TypingDecay:      2500 * time.Millisecond,
		PresenceInterval: 3 * time.Second,
		HTTPTimeout:      5 * time.Second,
		LogFile:          "strangerchat.log",
		LogLevel:         "info",
		Profile:          "default",
	}
}

// Load builds the configuration. path and envFile are optional; a missing
// envFile is not an error, a missing path is.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	environ, err := environment(envFile)
	if err != nil {
		return Config{}, err
	}
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	}); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// environment merges envFile under the process environment, so that a real
// variable always wins over the file.
func environment(envFile string) (map[string]string, error) {
	vars := make(map[string]string)
	if envFile != "" {
		fileVars, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			for k, v := range fileVars {
				vars[k] = v
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("config: read %s: %w", envFile, err)
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return vars, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	u, err := url.Parse(c.ServiceURL)
	if err != nil {
		return fmt.Errorf("config: service_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: service_url: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("config: service_url: missing host")
	}

	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"dial_timeout", c.DialTimeout},
		{"write_timeout", c.WriteTimeout},
		{"typing_window", c.TypingWindow},
		{"typing_decay", c.TypingDecay},
		{"presence_interval", c.PresenceInterval},
		{"http_timeout", c.HTTPTimeout},
	} {
		if f.d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", f.name, f.d)
		}
	}

	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	if c.Profile == "" {
		return errors.New("config: profile must not be empty")
	}
	if c.NATSURL != "" {
		if _, err := url.Parse(c.NATSURL); err != nil {
			return fmt.Errorf("config: nats_url: %w", err)
		}
	}
	return nil
}
