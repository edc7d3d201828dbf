package questionbank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestDetectProvider(t *testing.T) {
	tests := map[string]string{
		"https://api.openai.com":                       ProviderOpenAI,
		"https://api.anthropic.com":                    ProviderAnthropic,
		"https://generativelanguage.googleapis.com/v1": ProviderGemini,
		"https://api.deepseek.com":                     ProviderOpenAI,
		"":                                             ProviderOpenAI,
	}
	for url, want := range tests {
		if got := DetectProvider(url); got != want {
			t.Errorf("DetectProvider(%q) = %q, want %q", url, got, want)
		}
	}

	explicit := AIConfig{BaseURL: "https://proxy.example.com", Provider: "Anthropic"}
	if got := explicit.ResolvedProvider(); got != ProviderAnthropic {
		t.Errorf("explicit provider resolved to %q", got)
	}
	custom := AIConfig{BaseURL: "https://api.anthropic.com", Provider: "custom"}
	if got := custom.ResolvedProvider(); got != ProviderAnthropic {
		t.Errorf("custom provider resolved to %q", got)
	}
}

func TestOpenAIBaseURL(t *testing.T) {
	tests := map[string]string{
		"https://api.openai.com":                     "https://api.openai.com/v1",
		"https://api.openai.com/":                    "https://api.openai.com/v1",
		"https://api.openai.com/v1":                  "https://api.openai.com/v1",
		"https://api.openai.com/v1/chat/completions": "https://api.openai.com/v1",
	}
	for in, want := range tests {
		if got := openAIBaseURL(in); got != want {
			t.Errorf("openAIBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGeminiEndpoint(t *testing.T) {
	tests := []struct {
		baseURL string
		want    string
	}{
		{"", ""},
		{"https://generativelanguage.googleapis.com/v1beta", ""},
		{"https://gemini-proxy.example.com", "gemini-proxy.example.com:443"},
		{"http://10.0.0.5/gemini", "10.0.0.5:80"},
		{"https://gemini.internal:8443/", "gemini.internal:8443"},
		{"not a url", ""},
	}
	for _, tt := range tests {
		if got := geminiEndpoint(tt.baseURL); got != tt.want {
			t.Errorf("geminiEndpoint(%q) = %q, want %q", tt.baseURL, got, tt.want)
		}
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	s := "解析失败abc"
	for n := 0; n <= len(s); n++ {
		got := truncate(s, n)
		if !utf8.ValidString(got) || len(got) > n || !strings.HasPrefix(s, got) {
			t.Errorf("truncate(%q, %d) = %q", s, n, got)
		}
	}
	if got := truncate(s, 4); got != "解" {
		t.Errorf("truncate(%q, 4) = %q, want %q", s, got, "解")
	}
}

func TestNewAIClientRequiresKey(t *testing.T) {
	if _, err := NewAIClient(AIConfig{APIKey: "  "}); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("NewAIClient = %v, want ErrNoAPIKey", err)
	}
}

// openAIStub answers chat completions with reply
func openAIStub(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-test",
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteOpenAI(t *testing.T) {
	srv := openAIStub(t, "你好！")
	client, err := NewAIClient(AIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-test"})
	if err != nil {
		t.Fatalf("NewAIClient: %v", err)
	}
	reply, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, "")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "你好！" {
		t.Errorf("reply = %q", reply)
	}
	if _, err := client.Chat(context.Background(), nil, ""); err == nil {
		t.Error("empty history should fail")
	}
}

func TestCompleteAnthropic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant" || r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("headers = %v", r.Header)
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.System != parseSystemPrompt || len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content": [{"type": "text", "text": "{\"questions\": [{\"type\": \"boolean\", \"content\": \"x\", \"answer\": \"对\"}]}"}]}`))
	}))
	defer srv.Close()

	client, err := NewAIClient(AIConfig{APIKey: "sk-ant", BaseURL: srv.URL, Model: "claude-test", Provider: ProviderAnthropic})
	if err != nil {
		t.Fatalf("NewAIClient: %v", err)
	}
	resp, err := client.ParseQuestionsWithAI(context.Background(), "x 对吗")
	if err != nil {
		t.Fatalf("ParseQuestionsWithAI: %v", err)
	}
	if !resp.Structured || len(resp.Questions) != 1 || resp.Questions[0].Answer != AnswerTrue {
		t.Errorf("resp = %+v", resp)
	}
}

func TestCompleteAnthropicError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "invalid x-api-key"}}`))
	}))
	defer srv.Close()

	client, _ := NewAIClient(AIConfig{APIKey: "bad", BaseURL: srv.URL, Provider: ProviderAnthropic})
	err := client.TestConnection(context.Background())
	if err == nil || !strings.Contains(err.Error(), "invalid x-api-key") {
		t.Errorf("TestConnection = %v", err)
	}
}

func TestParseQuestionsWithAIEmptyContent(t *testing.T) {
	client, _ := NewAIClient(AIConfig{APIKey: "sk-test"})
	if _, err := client.ParseQuestionsWithAI(context.Background(), "   "); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("ParseQuestionsWithAI = %v, want ErrEmptyContent", err)
	}
}

func TestImportAIText(t *testing.T) {
	reply := "```json\n" + `{"questions": [
		{"type": "single", "content": "首都", "options": ["A. 北京", "B. 上海"], "answer": "A"},
		{"type": "fill", "content": "__和__", "answer": "甲"}
	]}` + "\n```"
	srv := openAIStub(t, reply)

	ctx := context.Background()
	db := newTestDB(t)
	bank := mustBank(t, db, "AI")
	client, err := NewAIClient(AIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-test"})
	if err != nil {
		t.Fatalf("NewAIClient: %v", err)
	}

	im := NewImporter(db, client)
	im.LLMLogDir = t.TempDir()
	result, err := im.ImportAIText(ctx, bank.ID, "1. 首都是？ A 北京 B 上海")
	if err != nil {
		t.Fatalf("ImportAIText: %v", err)
	}
	if result.Success != 1 || result.Failed != 1 || result.Errors[0].Index != 1 {
		t.Errorf("result = %+v", result)
	}

	logs, _ := db.OperationLogs(ctx, 2)
	if len(logs) != 2 || logs[0].Action != "AI导入" || logs[1].Action != "AI解析" {
		t.Errorf("operation logs = %+v", logs)
	}

	files, err := filepath.Glob(filepath.Join(im.LLMLogDir, "*.log"))
	if err != nil || len(files) != 1 {
		t.Fatalf("llm logs = %v, %v", files, err)
	}
	data, _ := os.ReadFile(files[0])
	if !strings.Contains(string(data), "=== LLM RESPONSE (openai) ===") {
		t.Errorf("llm log misses the response:\n%s", data)
	}
}

func TestImportAITextConversationalReply(t *testing.T) {
	srv := openAIStub(t, "这段文字里没有题目。")
	db := newTestDB(t)
	bank := mustBank(t, db, "AI")
	client, _ := NewAIClient(AIConfig{APIKey: "sk-test", BaseURL: srv.URL})

	_, err := NewImporter(db, client).ImportAIText(context.Background(), bank.ID, "随便聊聊")
	if !errors.Is(err, ErrNoQuestionsParsed) {
		t.Errorf("ImportAIText = %v, want ErrNoQuestionsParsed", err)
	}
}
