package questionbank

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LLMLogger writes every message of one AI task to its own file
type LLMLogger struct {
	file  *os.File
	mu    sync.Mutex
	runID string
}

// NewLLMLogger creates dir/<run id>.log and writes a header naming the task
func NewLLMLogger(dir, task string, cfg AIConfig) (*LLMLogger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	runID := uuid.NewString()
	file, err := os.Create(filepath.Join(dir, runID+".log"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := &LLMLogger{file: file, runID: runID}
	logger.Logf("=== AI Task Log ===\n")
	logger.Logf("Run ID: %s\n", runID)
	logger.Logf("Task: %s\n", task)
	logger.Logf("Provider: %s\n", cfg.ResolvedProvider())
	logger.Logf("Model: %s\n", cfg.Model)
	logger.Logf("Started: %s\n", time.Now().Format(time.RFC3339))
	logger.Logf("===================\n\n")
	return logger, nil
}

// RunID returns the id the log file is named after
func (ll *LLMLogger) RunID() string {
	return ll.runID
}

// Logf writes a formatted log entry with timestamp
func (ll *LLMLogger) Logf(format string, args ...interface{}) {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	ll.logf(format, args...)
}

// logf requires ll.mu
func (ll *LLMLogger) logf(format string, args ...interface{}) {
	if ll.file == nil {
		return
	}
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(ll.file, "[%s] %s", timestamp, fmt.Sprintf(format, args...))
	ll.file.Sync()
}

// LogRequest logs the messages sent to a provider
func (ll *LLMLogger) LogRequest(provider string, messages []ChatMessage) {
	ll.Logf("=== LLM REQUEST (%s) ===\n", provider)
	for _, m := range messages {
		ll.Logf("[%s]\n%s\n", m.Role, m.Content)
	}
	ll.Logf("=====================\n\n")
}

// LogResponse logs a provider reply
func (ll *LLMLogger) LogResponse(provider, response string) {
	ll.Logf("=== LLM RESPONSE (%s) ===\n", provider)
	ll.Logf("Response:\n%s\n", response)
	ll.Logf("======================\n\n")
}

// LogError logs a failed exchange
func (ll *LLMLogger) LogError(provider string, err error) {
	ll.Logf("=== LLM ERROR (%s) ===\n%v\n\n", provider, err)
}

// Close closes the log file
func (ll *LLMLogger) Close() error {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	if ll.file == nil {
		return nil
	}
	ll.logf("=== AI Task Complete ===\n")
	ll.logf("Completed: %s\n", time.Now().Format(time.RFC3339))
	err := ll.file.Close()
	ll.file = nil
	return err
}
