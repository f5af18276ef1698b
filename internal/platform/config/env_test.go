package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Port     int           `env:"RETROBOARD_TEST_PORT" envDefault:"123"`
	Interval time.Duration `env:"RETROBOARD_TEST_INTERVAL" envDefault:"10s"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
	if cfg.Interval != 10*time.Second {
		t.Fatalf("expected default interval 10s, got %s", cfg.Interval)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("RETROBOARD_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParseEnvFromUsesProvidedMap(t *testing.T) {
	t.Setenv("RETROBOARD_TEST_PORT", "999")

	var cfg envTestConfig
	if err := ParseEnvFrom(&cfg, map[string]string{"RETROBOARD_TEST_INTERVAL": "1m"}); err != nil {
		t.Fatalf("parse env from: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("port = %d, want default 123 (process env ignored)", cfg.Port)
	}
	if cfg.Interval != time.Minute {
		t.Fatalf("interval = %s, want 1m", cfg.Interval)
	}
}
