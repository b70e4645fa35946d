package message

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultPrompt asks for one line per call; %d is the zero-based line number.
const DefaultPrompt = "Write line %d of a short poem about pipes. Reply with that single line only."

// OpenAISource asks a chat completion model for each outbound line.
type OpenAISource struct {
	client    *openai.Client
	model     string
	prompt    string
	maxTokens int
	n         int
}

// OpenAIConfig holds configuration for the OpenAI source.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string // Optional: for Azure or compatible APIs
	Model     string
	Prompt    string // Optional: format string with one %d verb
	MaxTokens int
}

// NewOpenAISource creates a new OpenAI-backed message source.
func NewOpenAISource(cfg OpenAIConfig) (*OpenAISource, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not provided (set OPENAI_API_KEY or pass in config)")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	prompt := cfg.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 64
	}

	return &OpenAISource{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		prompt:    prompt,
		maxTokens: maxTokens,
	}, nil
}

// Next requests one line from the model. Multi-line replies are folded onto
// a single line so each completion maps to exactly one outbound message.
func (s *OpenAISource) Next(ctx context.Context) ([]byte, error) {
	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(s.prompt, s.n)},
		},
		MaxTokens: s.maxTokens,
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	line := flatten(resp.Choices[0].Message.Content)
	if len(line) == 0 {
		return nil, errors.New("openai returned an empty line")
	}

	s.n++
	return append(line, '\n'), nil
}
