package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	// RateLimit caps requests per second; zero disables limiting.
	RateLimit float64
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings API.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	dims    int
	limiter *rate.Limiter
}

// NewOpenAIEmbedder builds an embedder; it does not contact the API.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("invalid embedding dimensions %d", cfg.Dimensions)
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	e := &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		dims:   cfg.Dimensions,
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return e, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

func (e *OpenAIEmbedder) Name() string { return "openai:" + e.model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit wait: %v", ErrEmbeddingFailure, err)
		}
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dims,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create embeddings: %v", ErrEmbeddingFailure, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", ErrEmbeddingFailure)
	}

	raw := resp.Data[0].Embedding
	vec := make([]float64, len(raw))
	for i, x := range raw {
		vec[i] = float64(x)
	}
	if err := checkDims(e.Name(), e.dims, vec); err != nil {
		return nil, err
	}
	return vec, nil
}
