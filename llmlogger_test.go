package questionbank

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLLMLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	logger, err := NewLLMLogger(dir, "AI 解析题目", AIConfig{BaseURL: "https://api.anthropic.com", Model: "claude-test"})
	if err != nil {
		t.Fatalf("NewLLMLogger: %v", err)
	}

	logger.LogRequest(ProviderAnthropic, []ChatMessage{{Role: "user", Content: "题目文本"}})
	logger.LogResponse(ProviderAnthropic, `{"questions": []}`)
	logger.LogError(ProviderAnthropic, errors.New("boom"))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	logger.Logf("after close\n")

	data, err := os.ReadFile(filepath.Join(dir, logger.RunID()+".log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(data)
	for _, want := range []string{
		"Task: AI 解析题目",
		"Provider: anthropic",
		"Model: claude-test",
		"[user]\n题目文本",
		"=== LLM RESPONSE (anthropic) ===",
		"boom",
		"=== AI Task Complete ===",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("log misses %q", want)
		}
	}
	if strings.Contains(text, "after close") {
		t.Error("writes after Close should be dropped")
	}
}

func TestInitLogger(t *testing.T) {
	t.Cleanup(func() {
		Log.Sync()
		InitLogger(LogConfig{})
		SetVerbose(false)
	})

	file := filepath.Join(t.TempDir(), "logs", "app.log")
	if err := InitLogger(LogConfig{File: file, Level: "debug"}); err != nil {
		t.Fatalf("InitLogger: %v", err)
	}
	Log.Info("hello from the test")
	VerboseLog("debug %d", 42)
	Log.Sync()

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, `"msg":"hello from the test"`) || !strings.Contains(text, `"msg":"debug 42"`) {
		t.Errorf("log file = %s", text)
	}

	if err := InitLogger(LogConfig{Level: "chatty"}); err == nil {
		t.Error("unknown level should fail")
	}
}
