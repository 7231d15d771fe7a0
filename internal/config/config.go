package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all runtime configuration. Values come from defaults, then an
// optional TOML file named by LOOPER_CONFIG, then environment variables.
type Config struct {
	// Server
	Port int `toml:"port"`

	// Clip storage
	ClipDir      string        `toml:"clip_dir"`
	FetchTimeout time.Duration `toml:"-"`
	// FetchTimeoutSeconds bounds downloads of clips referenced by URL.
	FetchTimeoutSeconds int `toml:"fetch_timeout"`

	// Effect
	DistortionAmount float64 `toml:"distortion_amount"`
	Oversample       int     `toml:"oversample"` // 1, 2 or 4

	// Playback
	DecodeWorkers int `toml:"decode_workers"`

	// Speaker plays the mix on the host sound device.
	Speaker bool `toml:"speaker"`
	Debug   bool `toml:"debug"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:                8080,
		ClipDir:             "./clips",
		FetchTimeoutSeconds: 30,
		DistortionAmount:    100,
		Oversample:          4,
		DecodeWorkers:       4,
	}
}

// Load builds the configuration and validates it.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("LOOPER_CONFIG"); path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Port = envInt("LOOPER_PORT", cfg.Port)
	cfg.ClipDir = envStr("LOOPER_CLIP_DIR", cfg.ClipDir)
	cfg.DistortionAmount = envFloat("LOOPER_DISTORTION_AMOUNT", cfg.DistortionAmount)
	cfg.Oversample = envInt("LOOPER_OVERSAMPLE", cfg.Oversample)
	cfg.DecodeWorkers = envInt("LOOPER_DECODE_WORKERS", cfg.DecodeWorkers)
	cfg.FetchTimeoutSeconds = envInt("LOOPER_FETCH_TIMEOUT", cfg.FetchTimeoutSeconds)
	cfg.Speaker = envBool("LOOPER_SPEAKER", cfg.Speaker)
	cfg.Debug = envBool("LOOPER_DEBUG", cfg.Debug)
	cfg.FetchTimeout = time.Duration(cfg.FetchTimeoutSeconds) * time.Second

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.ClipDir == "" {
		errs = append(errs, errors.New("clip_dir is required"))
	}
	if c.Oversample != 1 && c.Oversample != 2 && c.Oversample != 4 {
		errs = append(errs, fmt.Errorf("oversample must be 1, 2 or 4, got %d", c.Oversample))
	}
	if c.DistortionAmount < 0 {
		errs = append(errs, fmt.Errorf("distortion_amount must not be negative, got %g", c.DistortionAmount))
	}
	if c.DecodeWorkers < 1 {
		errs = append(errs, fmt.Errorf("decode_workers must be positive, got %d", c.DecodeWorkers))
	}
	if c.FetchTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("fetch_timeout must be positive, got %d", c.FetchTimeoutSeconds))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
