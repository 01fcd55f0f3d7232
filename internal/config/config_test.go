package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Recognition.MaxRetries != 3 {
		t.Fatalf("expected default max retries 3, got %d", cfg.Recognition.MaxRetries)
	}
	if cfg.Store.RetentionMode != "persistent" {
		t.Fatalf("expected persistent retention, got %s", cfg.Store.RetentionMode)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STROKESENSE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("STROKESENSE_BUS_USERNAME", "alice")
	t.Setenv("STROKESENSE_BUS_PASSWORD", "secret")
	t.Setenv("STROKESENSE_STORE_PATH", "./tmp.db")
	t.Setenv("STROKESENSE_STORE_RETENTION_DAYS", "7")
	t.Setenv("STROKESENSE_RECOGNITION_MODE", "mock")
	t.Setenv("STROKESENSE_RECOGNITION_RETRY_DELAY_MS", "50")
	t.Setenv("STROKESENSE_ANALYSIS_MODE", "ollama")
	t.Setenv("STROKESENSE_ANALYSIS_ENDPOINT", "http://llm:11434")
	t.Setenv("STROKESENSE_ANALYSIS_TEMPERATURE", "0.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Store.Path != "./tmp.db" {
		t.Fatalf("expected store path override")
	}
	if cfg.Store.RetentionDays != 7 {
		t.Fatalf("expected retention days override")
	}
	if cfg.Recognition.Mode != "mock" {
		t.Fatalf("expected recognition mode override")
	}
	if cfg.Recognition.RetryDelayMS != 50 {
		t.Fatalf("expected retry delay override")
	}
	if cfg.Analysis.Mode != "ollama" || cfg.Analysis.Endpoint != "http://llm:11434" {
		t.Fatalf("expected analysis overrides")
	}
	if cfg.Analysis.Temperature != 0.5 {
		t.Fatalf("expected temperature override, got %v", cfg.Analysis.Temperature)
	}
}

func TestValidateRejectsBadRecognitionMode(t *testing.T) {
	t.Setenv("STROKESENSE_RECOGNITION_MODE", "telepathy")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown recognition mode")
	}
}

func TestValidateRequiresExecCommand(t *testing.T) {
	t.Setenv("STROKESENSE_ANALYSIS_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error when exec mode has no command")
	}
}
