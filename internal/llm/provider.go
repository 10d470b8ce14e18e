package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// Provider identifiers accepted in configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderArk       = "ark"
)

// Providers lists the supported provider identifiers.
var Providers = []string{ProviderOpenAI, ProviderAnthropic, ProviderArk}

// ProviderConfig selects and configures one backend. Empty fields fall back
// to the provider's environment variables, then to built-in defaults.
type ProviderConfig struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
}

// NewProvider builds the Generator described by cfg.
func NewProvider(ctx context.Context, cfg ProviderConfig) (Generator, error) {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "":
		chatModel, err = newOpenAI(ctx, cfg)
	case ProviderAnthropic, "claude":
		chatModel, err = newAnthropic(ctx, cfg)
	case ProviderArk:
		chatModel, err = newArk(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewEinoGenerator(chatModel), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func newOpenAI(ctx context.Context, cfg ProviderConfig) (model.BaseChatModel, error) {
	apiKey := firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	maxTokens := cfg.MaxTokens
	mc := &openai.ChatModelConfig{
		APIKey:              apiKey,
		Model:               firstNonEmpty(cfg.Model, os.Getenv("OPENAI_MODEL_ID"), "gpt-4o-mini"),
		MaxCompletionTokens: &maxTokens,
	}
	if baseURL := firstNonEmpty(cfg.BaseURL, os.Getenv("OPENAI_BASE_URL")); baseURL != "" {
		mc.BaseURL = baseURL
	}

	chatModel, err := openai.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}
	return chatModel, nil
}

func newAnthropic(ctx context.Context, cfg ProviderConfig) (model.BaseChatModel, error) {
	apiKey := firstNonEmpty(cfg.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	mc := &claude.Config{
		APIKey:    apiKey,
		Model:     firstNonEmpty(cfg.Model, "claude-sonnet-4-20250514"),
		MaxTokens: cfg.MaxTokens,
	}
	if baseURL := firstNonEmpty(cfg.BaseURL, os.Getenv("ANTHROPIC_BASE_URL")); baseURL != "" {
		mc.BaseURL = &baseURL
	}

	chatModel, err := claude.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Claude model: %w", err)
	}
	return chatModel, nil
}

func newArk(ctx context.Context, cfg ProviderConfig) (model.BaseChatModel, error) {
	apiKey := firstNonEmpty(cfg.APIKey, os.Getenv("ARK_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("ARK_API_KEY not set")
	}
	modelID := firstNonEmpty(cfg.Model, os.Getenv("ARK_MODEL_ID"))
	if modelID == "" {
		return nil, fmt.Errorf("ARK_MODEL_ID not set")
	}

	maxTokens := cfg.MaxTokens
	mc := &ark.ChatModelConfig{
		APIKey:    apiKey,
		Model:     modelID,
		MaxTokens: &maxTokens,
	}
	if baseURL := firstNonEmpty(cfg.BaseURL, os.Getenv("ARK_BASE_URL")); baseURL != "" {
		mc.BaseURL = baseURL
	}

	chatModel, err := ark.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("failed to create ARK model: %w", err)
	}
	return chatModel, nil
}
