package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.Addr() != "0.0.0.0:8080" {
		t.Fatalf("addr = %q", cfg.App.Addr())
	}
	if cfg.Triage.MaxAttempts != 2 {
		t.Fatalf("triage max attempts = %d", cfg.Triage.MaxAttempts)
	}
	if cfg.Triage.StepTimeout().Seconds() != 30 {
		t.Fatalf("step timeout = %s", cfg.Triage.StepTimeout())
	}
	if cfg.Gemini.Model != "gemini-2.5-flash" {
		t.Fatalf("gemini model = %q", cfg.Gemini.Model)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("TRIAGE_MAX_ATTEMPTS", "5")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("POSTGRES_RUN_MIGRATIONS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Port != "9090" {
		t.Fatalf("port = %q", cfg.App.Port)
	}
	if cfg.Triage.MaxAttempts != 5 {
		t.Fatalf("triage max attempts = %d", cfg.Triage.MaxAttempts)
	}
	if cfg.Redis.DB != 3 {
		t.Fatalf("redis db = %d", cfg.Redis.DB)
	}
	if cfg.Postgres.RunMigrations {
		t.Fatal("migrations should be disabled")
	}
}

func TestLoadRejectsInvalidRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid REDIS_DB")
	}
}
