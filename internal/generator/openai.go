package generator

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
)

// OpenAI generates replies with an OpenAI-compatible chat completions API.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func NewOpenAI(cfg Config) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Generate returns the sales rep's next message.
func (o *OpenAI) Generate(ctx context.Context, systemPrompt string, history []conversation.Turn, userInput string) (string, error) {
	msgs := toMessages(history, userInput)
	chat := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if systemPrompt != "" {
		chat = append(chat, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range msgs {
		chat = append(chat, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		Messages:  chat,
		MaxTokens: o.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty response content")
	}
	return resp.Choices[0].Message.Content, nil
}
