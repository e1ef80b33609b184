// Package config loads guide-lite configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Backend
	APIBaseURL string `env:"GUIDE_API_BASE_URL" envDefault:"http://localhost:8000/api"`
	GuideWSURL string `env:"GUIDE_WS_URL" envDefault:"ws://localhost:8000/ws"`
	UserEmail  string `env:"GUIDE_USER_EMAIL"`

	// Durable client storage
	StoragePath string `env:"GUIDE_STORAGE_PATH" envDefault:".guide/guide.db"`

	// Session
	TotalRequiredFields int `env:"GUIDE_TOTAL_REQUIRED_FIELDS" envDefault:"12"`

	// Validation debounce window. Tunable, not load-bearing.
	DebounceMS int `env:"GUIDE_DEBOUNCE_MS" envDefault:"500"`

	// Channel reconnection
	ReconnectBaseMS      int `env:"GUIDE_RECONNECT_BASE_MS" envDefault:"1000"`
	ReconnectCapMS       int `env:"GUIDE_RECONNECT_CAP_MS" envDefault:"10000"`
	ReconnectMaxAttempts int `env:"GUIDE_RECONNECT_MAX_ATTEMPTS" envDefault:"5"`

	// Audio capture/batching
	CaptureSampleRate  int `env:"GUIDE_CAPTURE_SAMPLE_RATE" envDefault:"16000"`
	PlaybackSampleRate int `env:"GUIDE_PLAYBACK_SAMPLE_RATE" envDefault:"24000"`
	ChunkMS            int `env:"GUIDE_CHUNK_MS" envDefault:"100"`
	BatchFlushChunks   int `env:"GUIDE_BATCH_FLUSH_CHUNKS" envDefault:"10"`
	BatchFlushMS       int `env:"GUIDE_BATCH_FLUSH_MS" envDefault:"1000"`

	// Observability
	MetricsAddr string `env:"GUIDE_METRICS_ADDR"`
}

// Load reads .env (best effort) and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DebounceMS <= 0 {
		return fmt.Errorf("GUIDE_DEBOUNCE_MS must be positive")
	}
	if c.ReconnectBaseMS <= 0 || c.ReconnectCapMS < c.ReconnectBaseMS {
		return fmt.Errorf("reconnect delays must satisfy 0 < base <= cap")
	}
	if c.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("GUIDE_RECONNECT_MAX_ATTEMPTS must be positive")
	}
	if c.TotalRequiredFields <= 0 {
		return fmt.Errorf("GUIDE_TOTAL_REQUIRED_FIELDS must be positive")
	}
	return nil
}

// DebounceWindow returns the validation debounce window.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// ReconnectBase returns the first reconnect delay.
func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.ReconnectBaseMS) * time.Millisecond
}

// ReconnectCap returns the maximum reconnect delay.
func (c *Config) ReconnectCap() time.Duration {
	return time.Duration(c.ReconnectCapMS) * time.Millisecond
}
