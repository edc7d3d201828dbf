package questionbank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

const anthropicVersion = "2023-06-01"

const geminiHost = "generativelanguage.googleapis.com"

const parseSystemPrompt = `你是一个专业的题目解析助手。用户会给你一段包含多道题目的文本，你需要将其解析为结构化的JSON格式。

请严格按照以下JSON格式输出，不要输出任何其他内容：
{
  "questions": [
    {
      "type": "single|multiple|boolean|fill|short",
      "content": "题干内容",
      "options": [
        {"id": "A", "text": "选项A内容"},
        {"id": "B", "text": "选项B内容"}
      ],
      "answer": "答案",
      "analysis": "解析（如果有）"
    }
  ]
}

题型说明：
- single: 单选题，answer 为单个选项如 "A"
- multiple: 多选题，answer 为多个选项用|分隔如 "A|B|C"
- boolean: 判断题，answer 为 "正确" 或 "错误"，不需要 options
- fill: 填空题，题干中用 ___ 表示空，answer 为答案用|分隔（多个空时），不需要 options
- short: 简答题，answer 为参考答案，不需要 options

注意事项：
1. 仔细识别题型，根据题目特征判断
2. 选择题必须有 options 数组
3. 判断题、填空题、简答题不需要 options
4. 如果无法识别某道题，跳过该题
5. 只输出JSON，不要有任何解释文字`

const chatSystemPrompt = `你是一个智能学习助手，专门帮助用户解答学习相关的问题。

你可以：
1. 解答各学科的知识问题
2. 解释概念和原理
3. 提供学习建议和方法
4. 帮助分析和解决问题

请用简洁清晰的语言回答，必要时可以使用示例来说明。`

// AIConfig identifies the chat endpoint used for AI import and chat
type AIConfig struct {
	APIKey   string `json:"apiKey" mapstructure:"api_key"`
	BaseURL  string `json:"apiUrl" mapstructure:"base_url"`
	Model    string `json:"modelId" mapstructure:"model"`
	Provider string `json:"provider" mapstructure:"provider"`
}

// ResolvedProvider returns the configured provider, detecting it from the
// base URL when none is set explicitly
func (c AIConfig) ResolvedProvider() string {
	switch strings.ToLower(c.Provider) {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
		return strings.ToLower(c.Provider)
	}
	return DetectProvider(c.BaseURL)
}

// DetectProvider infers the API flavour from a base URL. Anything that is
// not Anthropic or Gemini is treated as OpenAI compatible.
func DetectProvider(baseURL string) string {
	switch {
	case strings.Contains(baseURL, "anthropic.com"):
		return ProviderAnthropic
	case strings.Contains(baseURL, geminiHost):
		return ProviderGemini
	}
	return ProviderOpenAI
}

// ChatMessage is one turn of a conversation. Role is system, user or assistant.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions tune a single completion
type CompletionOptions struct {
	Temperature float32
	MaxTokens   int
}

// AIClient talks to the configured chat endpoint
type AIClient struct {
	cfg        AIConfig
	httpClient *http.Client
	logger     *LLMLogger
}

// NewAIClient creates a client for cfg. A missing API key is ErrNoAPIKey.
func NewAIClient(cfg AIConfig) (*AIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAIURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultAIModel
	}
	return &AIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

// SetLogger sets the exchange logger for the client
func (c *AIClient) SetLogger(logger *LLMLogger) {
	c.logger = logger
}

// Complete sends messages and returns the text of the reply
func (c *AIClient) Complete(ctx context.Context, messages []ChatMessage, opts CompletionOptions) (string, error) {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	provider := c.cfg.ResolvedProvider()
	Log.Debug("ai completion",
		zap.String("provider", provider),
		zap.String("model", c.cfg.Model),
		zap.Int("messages", len(messages)),
	)
	if c.logger != nil {
		c.logger.LogRequest(provider, messages)
	}

	var reply string
	var err error
	switch provider {
	case ProviderAnthropic:
		reply, err = c.completeAnthropic(ctx, messages, opts)
	case ProviderGemini:
		reply, err = c.completeGemini(ctx, messages, opts)
	default:
		reply, err = c.completeOpenAI(ctx, messages, opts)
	}

	if err != nil {
		if c.logger != nil {
			c.logger.LogError(provider, err)
		}
		Log.Warn("ai completion failed", zap.String("provider", provider), zap.Error(err))
		return "", err
	}
	if c.logger != nil {
		c.logger.LogResponse(provider, reply)
	}
	return reply, nil
}

// ParseQuestionsWithAI asks the model to structure free text into questions
func (c *AIClient) ParseQuestionsWithAI(ctx context.Context, content string) (AIResponse, error) {
	if strings.TrimSpace(content) == "" {
		return AIResponse{}, ErrEmptyContent
	}
	reply, err := c.Complete(ctx, []ChatMessage{
		{Role: "system", Content: parseSystemPrompt},
		{Role: "user", Content: "请解析以下题目：\n\n" + content},
	}, CompletionOptions{Temperature: 0.1, MaxTokens: 4096})
	if err != nil {
		return AIResponse{}, fmt.Errorf("failed to parse questions with ai: %w", err)
	}
	return ParseAIResponse(reply), nil
}

// Chat continues a conversation. An empty systemPrompt uses the default
// study assistant prompt.
func (c *AIClient) Chat(ctx context.Context, history []ChatMessage, systemPrompt string) (string, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("请输入问题")
	}
	if systemPrompt == "" {
		systemPrompt = chatSystemPrompt
	}
	messages := append([]ChatMessage{{Role: "system", Content: systemPrompt}}, history...)
	return c.Complete(ctx, messages, CompletionOptions{Temperature: 0.7, MaxTokens: 2048})
}

// TestConnection sends a minimal prompt to check the endpoint and key
func (c *AIClient) TestConnection(ctx context.Context) error {
	_, err := c.Complete(ctx, []ChatMessage{{Role: "user", Content: "你好"}}, CompletionOptions{MaxTokens: 10})
	return err
}

// openAIBaseURL turns a configured base URL into the form go-openai
// expects: the API root ending in /v1
func openAIBaseURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	u = strings.TrimSuffix(u, "/chat/completions")
	if !strings.HasSuffix(u, "/v1") {
		u += "/v1"
	}
	return u
}

func (c *AIClient) completeOpenAI(ctx context.Context, messages []ChatMessage, opts CompletionOptions) (string, error) {
	config := openai.DefaultConfig(c.cfg.APIKey)
	config.BaseURL = openAIBaseURL(c.cfg.BaseURL)
	config.HTTPClient = c.httpClient
	client := openai.NewClientWithConfig(config)

	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("API 返回格式异常")
	}
	return resp.Choices[0].Message.Content, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature *float32           `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *AIClient) completeAnthropic(ctx context.Context, messages []ChatMessage, opts CompletionOptions) (string, error) {
	body := anthropicRequest{Model: c.cfg.Model, MaxTokens: opts.MaxTokens}
	if opts.Temperature > 0 {
		body.Temperature = &opts.Temperature
	}
	for _, m := range messages {
		if m.Role == "system" {
			body.System = m.Content
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: role, Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal anthropic request: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("无效的 API URL: %s", c.cfg.BaseURL)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("网络请求失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read anthropic response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("解析响应失败: %v, 原始响应: %s", err, truncate(string(data), 200))
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("anthropic error: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic returned status %d", resp.StatusCode)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("Claude API 返回格式异常")
	}
	return parsed.Content[0].Text, nil
}

func (c *AIClient) completeGemini(ctx context.Context, messages []ChatMessage, opts CompletionOptions) (string, error) {
	clientOpts := []option.ClientOption{option.WithAPIKey(c.cfg.APIKey)}
	if endpoint := geminiEndpoint(c.cfg.BaseURL); endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(endpoint))
	}
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(c.cfg.Model)
	model.SetMaxOutputTokens(int32(opts.MaxTokens))
	if opts.Temperature > 0 {
		model.SetTemperature(opts.Temperature)
	}

	var turns []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case "system":
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(m.Content)}}
		case "assistant":
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			turns = append(turns, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	if len(turns) == 0 {
		return "", fmt.Errorf("no messages to send")
	}

	session := model.StartChat()
	session.History = turns[:len(turns)-1]
	resp, err := session.SendMessage(ctx, turns[len(turns)-1].Parts...)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("Gemini API 返回格式异常")
	}

	var reply strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			reply.WriteString(string(txt))
		}
	}
	return reply.String(), nil
}

// geminiEndpoint maps a configured base URL to the host:port the gemini
// client dials. The public API host keeps the client default.
func geminiEndpoint(baseURL string) string {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Host == "" || u.Hostname() == geminiHost {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	port := "443"
	if u.Scheme == "http" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
