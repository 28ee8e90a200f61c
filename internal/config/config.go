package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Port      int    `validate:"min=1,max=65535"`
	LogLevel  string `validate:"log_level"`
	LogFormat string `validate:"log_format"`

	PolicyPath string `validate:"required"`

	Embedder         string  `validate:"embedder"`
	EmbeddingDim     int     `validate:"min=1"`
	EmbeddingModel   string  `validate:"required_if=Embedder openai"`
	OpenAIAPIKey     string
	OpenAIBaseURL    string  `validate:"omitempty,url"`
	EmbedRateLimit   float64 `validate:"gte=0"`
	EmbedConcurrency int     `validate:"min=1"`
	EmbedCacheSize   int     `validate:"gte=0"`

	ContextDecay float64 `validate:"gt=0,lt=1"`
	Trigger      string  `validate:"trigger"`

	Generator       string `validate:"provider"`
	AnthropicAPIKey string `validate:"required_if=Generator anthropic"`
	GeneratorModel  string

	NatsURL     string
	NatsToken   string
	DatabaseURL string
	APIToken    string
}

func Load() Config {
	return Config{
		Port:      envInt("PROPENSITY_PORT", 8760),
		LogLevel:  envLower("LOG_LEVEL", "info"),
		LogFormat: envLower("LOG_FORMAT", "json"),

		PolicyPath: envStr("POLICY_PATH", ""),

		Embedder:         envLower("EMBEDDER", "hash"),
		EmbeddingDim:     envInt("EMBEDDING_DIM", 256),
		EmbeddingModel:   envStr("EMBEDDING_MODEL", "BAAI/bge-m3"),
		OpenAIAPIKey:     envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    envStr("OPENAI_BASE_URL", ""),
		EmbedRateLimit:   envFloat("EMBED_RATE_LIMIT", 10),
		EmbedConcurrency: envInt("EMBED_CONCURRENCY", 4),
		EmbedCacheSize:   envInt("EMBED_CACHE_SIZE", 2048),

		ContextDecay: envFloat("CONTEXT_DECAY", 0.6),
		Trigger:      envLower("PREDICTION_TRIGGER", "customer"),

		Generator:       envLower("GENERATOR", "none"),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		GeneratorModel:  envStr("GENERATOR_MODEL", ""),

		NatsURL:     envStr("NATS_URL", ""),
		NatsToken:   envStr("NATS_TOKEN", ""),
		DatabaseURL: envStr("DATABASE_URL", ""),
		APIToken:    envStr("PROPENSITY_API_TOKEN", ""),
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("log_level", oneOf("debug", "info", "warn", "error"))
	v.RegisterValidation("log_format", oneOf("json", "text"))
	v.RegisterValidation("embedder", oneOf("hash", "openai"))
	v.RegisterValidation("trigger", oneOf("customer", "all"))
	v.RegisterValidation("provider", oneOf("none", "anthropic", "openai"))
	return v
}

func oneOf(allowed ...string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return slices.Contains(allowed, fl.Field().String())
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		e := errs[0]
		return fmt.Errorf("invalid config %s=%v: failed %q", e.Field(), e.Value(), e.Tag())
	}
	return fmt.Errorf("validate config: %w", err)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envLower reads an enumerated option, case-insensitively.
func envLower(key, fallback string) string {
	return strings.ToLower(strings.TrimSpace(envStr(key, fallback)))
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
