// Package generator produces sales-rep replies with a hosted language model.
// The prediction engine treats the output as an ordinary turn.
package generator

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
	"github.com/MikeSquared-Agency/propensity/internal/engine"
)

// Config selects and configures a backend.
type Config struct {
	Provider  string // "anthropic" or "openai"
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

const defaultMaxTokens = 512

// New returns the backend named by cfg.Provider.
func New(cfg Config) (engine.Generator, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	switch cfg.Provider {
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic generator needs an API key")
		}
		return NewAnthropic(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported generator provider: %s", cfg.Provider)
	}
}

// Message is one chat message in provider-neutral form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// toMessages maps turns onto user/assistant chat roles from the sales rep's
// point of view, merging consecutive turns by the same speaker. The first
// message is always from the user, as chat APIs require.
func toMessages(history []conversation.Turn, userInput string) []Message {
	var msgs []Message
	add := func(role, content string) {
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content += "\n" + content
			return
		}
		msgs = append(msgs, Message{Role: role, Content: content})
	}
	for _, t := range history {
		role := "user"
		if t.Speaker == conversation.SalesRep {
			role = "assistant"
		}
		add(role, t.Message)
	}
	add("user", userInput)

	if msgs[0].Role != "user" {
		msgs = append([]Message{{Role: "user", Content: "(The sales rep opened the conversation.)"}}, msgs...)
	}
	for i := range msgs {
		msgs[i].Content = strings.TrimSpace(msgs[i].Content)
	}
	return msgs
}
