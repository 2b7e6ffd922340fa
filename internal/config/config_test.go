package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/animify")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("EXH_API_TOKEN", "exh-token")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected port 8080, got %q", cfg.Port)
	}
	if cfg.ExhBaseURL != "https://api.exh.ai" {
		t.Errorf("Expected default exh base URL, got %q", cfg.ExhBaseURL)
	}
	if cfg.ExhTimeout != 90*time.Second {
		t.Errorf("Expected 90s timeout, got %s", cfg.ExhTimeout)
	}
	if cfg.ExhConcurrentReqs != 4 {
		t.Errorf("Expected 4 concurrent requests, got %d", cfg.ExhConcurrentReqs)
	}
	if cfg.MaxUploadBytes() != 20*1024*1024 {
		t.Errorf("Expected 20MB upload limit, got %d", cfg.MaxUploadBytes())
	}
	if cfg.GeminiAPIKey != "" {
		t.Errorf("Expected empty Gemini key, got %q", cfg.GeminiAPIKey)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9000")
	t.Setenv("EXH_TIMEOUT", "2m")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("ENV", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "9000" {
		t.Errorf("Expected port 9000, got %q", cfg.Port)
	}
	if cfg.ExhTimeout != 2*time.Minute {
		t.Errorf("Expected 2m timeout, got %s", cfg.ExhTimeout)
	}
	if cfg.WorkerCount != 8 {
		t.Errorf("Expected 8 workers, got %d", cfg.WorkerCount)
	}
	if !cfg.IsProduction() {
		t.Error("Expected production env")
	}
}

func TestLoad_ClampsNonPositiveCounts(t *testing.T) {
	setRequired(t)
	t.Setenv("WORKER_COUNT", "0")
	t.Setenv("EXH_CONCURRENT_REQUESTS", "-3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.WorkerCount != 1 || cfg.ExhConcurrentReqs != 1 {
		t.Errorf("Expected counts clamped to 1, got workers=%d exh=%d", cfg.WorkerCount, cfg.ExhConcurrentReqs)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("EXH_API_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Error("Expected error for missing EXH_API_TOKEN")
	}
}

func TestLoad_InvalidNumber(t *testing.T) {
	setRequired(t)
	t.Setenv("WORKER_COUNT", "abc")

	if _, err := Load(); err == nil {
		t.Error("Expected error for non-numeric WORKER_COUNT")
	}
}
