package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":8090" || cfg.MaxConcurrent != 2 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Watchdog.Schedule != "* * * * *" {
		t.Errorf("unexpected watchdog schedule: %q", cfg.Watchdog.Schedule)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("defaults should have been written to disk: %v", err)
	}
}

func TestLoadExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"listen_addr": ":9999", "operator_token": "from-file", "max_concurrent": 8}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":9999" || cfg.OperatorToken != "from-file" || cfg.MaxConcurrent != 8 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	// Untouched fields keep their defaults.
	if cfg.OpenAI.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("default base URL lost: %q", cfg.OpenAI.BaseURL)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"operator_token": "from-file"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("WARROOM_OPERATOR_TOKEN", "from-env")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OperatorToken != "from-env" {
		t.Errorf("env should win over file, got %q", cfg.OperatorToken)
	}
	if cfg.Anthropic.APIKey != "sk-ant-test" {
		t.Errorf("anthropic key not applied: %q", cfg.Anthropic.APIKey)
	}
}
