package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envVars = []string{
	"LOOPER_CONFIG", "LOOPER_PORT", "LOOPER_CLIP_DIR", "LOOPER_DISTORTION_AMOUNT",
	"LOOPER_OVERSAMPLE", "LOOPER_DECODE_WORKERS", "LOOPER_FETCH_TIMEOUT",
	"LOOPER_SPEAKER", "LOOPER_DEBUG",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envVars {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.ClipDir != "./clips" {
		t.Errorf("ClipDir = %q, want ./clips", cfg.ClipDir)
	}
	if cfg.DistortionAmount != 100 {
		t.Errorf("DistortionAmount = %f, want 100", cfg.DistortionAmount)
	}
	if cfg.Oversample != 4 {
		t.Errorf("Oversample = %d, want 4", cfg.Oversample)
	}
	if cfg.DecodeWorkers != 4 {
		t.Errorf("DecodeWorkers = %d, want 4", cfg.DecodeWorkers)
	}
	if cfg.FetchTimeout != 30*time.Second {
		t.Errorf("FetchTimeout = %v, want 30s", cfg.FetchTimeout)
	}
	if cfg.Speaker || cfg.Debug {
		t.Errorf("Speaker, Debug = %v, %v, want false", cfg.Speaker, cfg.Debug)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOOPER_PORT", "3000")
	t.Setenv("LOOPER_CLIP_DIR", "/tmp/takes")
	t.Setenv("LOOPER_DISTORTION_AMOUNT", "250.5")
	t.Setenv("LOOPER_OVERSAMPLE", "2")
	t.Setenv("LOOPER_DECODE_WORKERS", "8")
	t.Setenv("LOOPER_FETCH_TIMEOUT", "5")
	t.Setenv("LOOPER_SPEAKER", "true")
	t.Setenv("LOOPER_DEBUG", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.ClipDir != "/tmp/takes" {
		t.Errorf("ClipDir = %q, want /tmp/takes", cfg.ClipDir)
	}
	if cfg.DistortionAmount != 250.5 {
		t.Errorf("DistortionAmount = %f, want 250.5", cfg.DistortionAmount)
	}
	if cfg.Oversample != 2 {
		t.Errorf("Oversample = %d, want 2", cfg.Oversample)
	}
	if cfg.DecodeWorkers != 8 {
		t.Errorf("DecodeWorkers = %d, want 8", cfg.DecodeWorkers)
	}
	if cfg.FetchTimeout != 5*time.Second {
		t.Errorf("FetchTimeout = %v, want 5s", cfg.FetchTimeout)
	}
	if !cfg.Speaker || !cfg.Debug {
		t.Errorf("Speaker, Debug = %v, %v, want true", cfg.Speaker, cfg.Debug)
	}
}

func TestInvalidEnvFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOOPER_PORT", "not-a-number")
	t.Setenv("LOOPER_SPEAKER", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Speaker {
		t.Error("Speaker = true, want fallback false")
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "looper.toml")
	data := "port = 9090\nclip_dir = \"/srv/clips\"\noversample = 1\nspeaker = true\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOOPER_CONFIG", path)
	t.Setenv("LOOPER_PORT", "9191")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9191 {
		t.Errorf("Port = %d, want env override 9191", cfg.Port)
	}
	if cfg.ClipDir != "/srv/clips" {
		t.Errorf("ClipDir = %q, want /srv/clips", cfg.ClipDir)
	}
	if cfg.Oversample != 1 {
		t.Errorf("Oversample = %d, want 1", cfg.Oversample)
	}
	if !cfg.Speaker {
		t.Error("Speaker = false, want true from file")
	}
	if cfg.DecodeWorkers != 4 {
		t.Errorf("DecodeWorkers = %d, want default 4", cfg.DecodeWorkers)
	}
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"syntax", "port = ", "parse config"},
		{"unknown key", "colour = \"red\"\n", "parse config"},
		{"invalid value", "oversample = 3\n", "oversample"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := filepath.Join(t.TempDir(), "looper.toml")
			os.WriteFile(path, []byte(tt.data), 0o644)
			t.Setenv("LOOPER_CONFIG", path)

			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOOPER_CONFIG", filepath.Join(t.TempDir(), "absent.toml"))
	if _, err := Load(); err == nil {
		t.Error("Load succeeded with missing config file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	cfg.DecodeWorkers = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted invalid config")
	}
	for _, want := range []string{"port", "decode_workers"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
