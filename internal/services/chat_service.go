package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/config"
	apperr "github.com/gyasca/alibaba-hack-2025-backend/internal/errors"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/logger"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/option"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// ChatMessage is one turn forwarded to the chat completion API.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRelay forwards a message sequence to a hosted chat model and returns its text reply.
type ChatRelay interface {
	Complete(ctx context.Context, messages []ChatMessage, temperature float32, maxTokens int) (string, error)
}

// ChatRequest is the trimmed body of a chat call.
type ChatRequest struct {
	Instruction string
	Results     string
	Message     string
	ChatHistory string
}

// StartsConsultation reports whether the request carries a fresh instruction/results pair.
func (r ChatRequest) StartsConsultation() bool {
	return r.Instruction != "" && r.Results != ""
}

// BuildChatMessages assembles the relay input: the fixed system prompt, then
// either instruction + (results, message) for a new consultation or
// (chat history, message) to continue one.
func BuildChatMessages(req ChatRequest) []ChatMessage {
	messages := []ChatMessage{{Role: RoleSystem, Content: ChatSystemPrompt}}
	if req.StartsConsultation() {
		messages = append(messages,
			ChatMessage{Role: RoleSystem, Content: req.Instruction},
			ChatMessage{Role: RoleUser, Content: req.Results + "\n\n" + req.Message},
		)
		return messages
	}
	return append(messages, ChatMessage{Role: RoleUser, Content: req.ChatHistory + "\n\n" + req.Message})
}

// NewChatRelay builds the relay for CHAT_PROVIDER.
func NewChatRelay(cfg config.ChatConfig) (ChatRelay, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIRelay(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case "gemini":
		return NewGeminiRelay(cfg.GeminiAPIKey, cfg.GeminiModel), nil
	default:
		return nil, fmt.Errorf("unsupported chat provider: %s", cfg.Provider)
	}
}

func missingKey(op string) error {
	return apperr.Upstream(op, "chat API key is not configured", nil)
}

// OpenAIRelay talks to any OpenAI-compatible endpoint (DashScope/Qwen by default).
type OpenAIRelay struct {
	apiKey string
	model  string
	client *openai.Client
}

func NewOpenAIRelay(apiKey, baseURL, model string) *OpenAIRelay {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = config.DefaultChatModel
	}
	return &OpenAIRelay{
		apiKey: apiKey,
		model:  model,
		client: openai.NewClientWithConfig(cfg),
	}
}

func (r *OpenAIRelay) Model() string { return r.model }

func (r *OpenAIRelay) Complete(ctx context.Context, messages []ChatMessage, temperature float32, maxTokens int) (string, error) {
	if r.apiKey == "" {
		return "", missingKey("chat.openai")
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    msgs,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", apperr.Upstream("chat.openai", "", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.Upstream("chat.openai", "chat API returned no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// GeminiRelay uses Google's generative AI API. System messages become the
// system instruction; user messages are sent as text parts in order.
type GeminiRelay struct {
	apiKey string
	model  string
}

func NewGeminiRelay(apiKey, model string) *GeminiRelay {
	if model == "" {
		model = config.DefaultGeminiModel
	}
	return &GeminiRelay{apiKey: strings.TrimSpace(apiKey), model: strings.TrimSpace(model)}
}

func (r *GeminiRelay) Model() string { return r.model }

// splitForGemini separates system instructions from user parts.
func splitForGemini(messages []ChatMessage) (system []genai.Part, user []genai.Part) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, genai.Text(m.Content))
			continue
		}
		user = append(user, genai.Text(m.Content))
	}
	return system, user
}

func (r *GeminiRelay) Complete(ctx context.Context, messages []ChatMessage, temperature float32, maxTokens int) (string, error) {
	if r.apiKey == "" {
		return "", missingKey("chat.gemini")
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(r.apiKey))
	if err != nil {
		return "", apperr.Upstream("chat.gemini", "", err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(r.model)
	m.SetTemperature(temperature)
	m.SetMaxOutputTokens(int32(maxTokens))

	system, user := splitForGemini(messages)
	if len(system) > 0 {
		m.SystemInstruction = &genai.Content{Parts: system}
	}
	if len(user) == 0 {
		return "", apperr.Upstream("chat.gemini", "no user message to send", nil)
	}

	resp, err := m.GenerateContent(ctx, user...)
	if err != nil {
		return "", apperr.Upstream("chat.gemini", "", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", apperr.Upstream("chat.gemini", "chat API returned no candidates", nil)
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String(), nil
}

// ChatCall is one tracked relay invocation.
type ChatCall struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Model     string        `json:"model"`
	Messages  int           `json:"messages"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Response  string        `json:"response,omitempty"`
	Error     string        `json:"error,omitempty"`
}

const maxTrackedCalls = 100

// TrackedRelay records the most recent relay calls for diagnostics.
type TrackedRelay struct {
	inner ChatRelay
	model string

	callMutex sync.RWMutex
	calls     []ChatCall
}

func NewTrackedRelay(inner ChatRelay) *TrackedRelay {
	model := ""
	if m, ok := inner.(interface{ Model() string }); ok {
		model = m.Model()
	}
	return &TrackedRelay{inner: inner, model: model, calls: make([]ChatCall, 0)}
}

func (t *TrackedRelay) Complete(ctx context.Context, messages []ChatMessage, temperature float32, maxTokens int) (string, error) {
	start := time.Now()
	reply, err := t.inner.Complete(ctx, messages, temperature, maxTokens)

	call := ChatCall{
		ID:        uuid.NewString(),
		Timestamp: start,
		Model:     t.model,
		Messages:  len(messages),
		Duration:  time.Since(start),
		Success:   err == nil,
		Response:  truncate(reply, 500),
	}
	if err != nil {
		call.Error = err.Error()
		logger.WithError(err, "chat_relay").Warn("Chat completion failed")
	}
	t.addCall(call)
	return reply, err
}

func (t *TrackedRelay) addCall(call ChatCall) {
	t.callMutex.Lock()
	defer t.callMutex.Unlock()
	if len(t.calls) >= maxTrackedCalls {
		t.calls = t.calls[1:]
	}
	t.calls = append(t.calls, call)
}

// Calls returns a copy of the tracked calls, oldest first.
func (t *TrackedRelay) Calls() []ChatCall {
	t.callMutex.RLock()
	defer t.callMutex.RUnlock()
	calls := make([]ChatCall, len(t.calls))
	copy(calls, t.calls)
	return calls
}

func (t *TrackedRelay) ClearCalls() {
	t.callMutex.Lock()
	defer t.callMutex.Unlock()
	t.calls = make([]ChatCall, 0)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
