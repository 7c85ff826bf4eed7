// Package llm wraps the chat completion endpoint used for intent
// classification and recommendations.
package llm

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

// Roles accepted in Message.Role.
const (
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

type Message struct {
	Role    string
	Content string
}

type Request struct {
	System      string
	Messages    []Message
	Model       string
	Temperature float32
	MaxTokens   int
	// JSON constrains the reply to a single JSON object.
	JSON bool
}

// Completer returns the assistant text for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// GroqClient talks to Groq through its OpenAI-compatible API.
type GroqClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewGroqClient(apiKey, baseURL, model string, timeout time.Duration) *GroqClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &GroqClient{client: openai.NewClientWithConfig(cfg), model: model, timeout: timeout}
}

// Client exposes the underlying API client; speech-to-text shares it.
func (g *GroqClient) Client() *openai.Client { return g.client }

func (g *GroqClient) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := m.Role
		if role == "" {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	cr := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		cr.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	resp, err := g.client.CreateChatCompletion(ctx, cr)
	if err != nil {
		return "", errors.Wrap(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
