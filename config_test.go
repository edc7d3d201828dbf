package questionbank

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.Path != "questionbank.db" || cfg.Server.Port != 8080 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.WrongBook.Threshold != DefaultWrongBookThreshold || cfg.Server.CleanupSchedule != "@every 1h" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.AI.BaseURL != DefaultAIURL || cfg.AI.Model != DefaultAIModel {
		t.Errorf("ai defaults = %+v", cfg.AI)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
database:
  path: /tmp/bank.db
server:
  port: 9000
  ai_requests_per_minute: 5
wrong_book:
  threshold: 4
ai:
  model: from-file
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("QBANK_PORT", "9100")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("QBANK_AI_MODEL", "from-env")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.Path != "/tmp/bank.db" || cfg.WrongBook.Threshold != 4 || cfg.Server.AIRequestsPerMinute != 5 {
		t.Errorf("file values = %+v", cfg)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Port = %d, want the environment override", cfg.Server.Port)
	}
	if cfg.AI.APIKey != "sk-env" || cfg.AI.Model != "from-env" {
		t.Errorf("ai = %+v", cfg.AI)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"threshold": "wrong_book:\n  threshold: 0\n",
		"port":      "server:\n  port: 70000\n",
		"log level": "log:\n  level: loud\n",
	}
	for name, yaml := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadConfig(dir)
			if err == nil || !strings.HasPrefix(err.Error(), "invalid config") {
				t.Errorf("LoadConfig = %v, want a validation error", err)
			}
		})
	}
}

func TestLoadConfigMalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(dir); err == nil || !strings.HasPrefix(err.Error(), "failed to read config") {
		t.Errorf("LoadConfig = %v", err)
	}
}
