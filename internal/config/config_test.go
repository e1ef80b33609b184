package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DebounceWindow() != 500*time.Millisecond {
		t.Errorf("DebounceWindow = %v, want 500ms", cfg.DebounceWindow())
	}
	if cfg.ReconnectBase() != time.Second {
		t.Errorf("ReconnectBase = %v, want 1s", cfg.ReconnectBase())
	}
	if cfg.ReconnectCap() != 10*time.Second {
		t.Errorf("ReconnectCap = %v, want 10s", cfg.ReconnectCap())
	}
	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("ReconnectMaxAttempts = %d, want 5", cfg.ReconnectMaxAttempts)
	}
	if cfg.BatchFlushChunks != 10 || cfg.BatchFlushMS != 1000 {
		t.Errorf("batch thresholds = %d chunks / %dms", cfg.BatchFlushChunks, cfg.BatchFlushMS)
	}
	if cfg.CaptureSampleRate != 16000 {
		t.Errorf("CaptureSampleRate = %d, want 16000", cfg.CaptureSampleRate)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GUIDE_DEBOUNCE_MS", "250")
	t.Setenv("GUIDE_RECONNECT_MAX_ATTEMPTS", "3")
	t.Setenv("GUIDE_API_BASE_URL", "https://intake.example.com/api")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DebounceWindow() != 250*time.Millisecond {
		t.Errorf("DebounceWindow = %v, want 250ms", cfg.DebounceWindow())
	}
	if cfg.ReconnectMaxAttempts != 3 {
		t.Errorf("ReconnectMaxAttempts = %d, want 3", cfg.ReconnectMaxAttempts)
	}
	if cfg.APIBaseURL != "https://intake.example.com/api" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct{ key, value string }{
		{"GUIDE_DEBOUNCE_MS", "0"},
		{"GUIDE_RECONNECT_BASE_MS", "-1"},
		{"GUIDE_RECONNECT_CAP_MS", "1"}, // below base
		{"GUIDE_RECONNECT_MAX_ATTEMPTS", "0"},
		{"GUIDE_TOTAL_REQUIRED_FIELDS", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error with %s=%s", tt.key, tt.value)
			}
		})
	}
}
