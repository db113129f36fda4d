package translate

import (
	"context"
	"errors"
	"time"

	"github.com/sashabaranov/go-openai"
)

type openAICompleter struct {
	client  *openai.Client
	timeout time.Duration
}

// NewOpenAICompleter talks to any OpenAI compatible chat-completions
// endpoint, OpenRouter by default.
func NewOpenAICompleter(apiKey, baseURL string, timeout time.Duration) Completer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openAICompleter{client: openai.NewClientWithConfig(cfg), timeout: timeout}
}

func (c *openAICompleter) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
