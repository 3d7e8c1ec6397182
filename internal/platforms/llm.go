package platforms

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"gazeta/internal/types"
)

// LLM is the narrow surface the extraction engine needs from a model
// provider. Tokens is the total prompt+completion count for the call.
type LLM interface {
	Name() string
	Complete(ctx context.Context, system, prompt string, jsonMode bool) (text string, tokens int64, err error)
}

// NewLLM builds a provider client for an extraction profile.
func NewLLM(ctx context.Context, profile types.Profile) (LLM, error) {
	switch profile.Provider {
	case "ollama":
		return NewOllamaPlatform(profile.Model, profile.Host)
	case "openai":
		opts := []openai.Option{openai.WithModel(profile.Model)}
		if profile.APIKey != "" {
			opts = append(opts, openai.WithToken(profile.APIKey))
		}
		if profile.Host != "" {
			opts = append(opts, openai.WithBaseURL(profile.Host))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		return &langchainLLM{name: "openai/" + profile.Model, model: client}, nil
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithModel(profile.Model)}
		if profile.APIKey != "" {
			opts = append(opts, anthropic.WithToken(profile.APIKey))
		}
		client, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic client: %w", err)
		}
		return &langchainLLM{name: "anthropic/" + profile.Model, model: client}, nil
	case "googleai":
		opts := []googleai.Option{googleai.WithDefaultModel(profile.Model)}
		if profile.APIKey != "" {
			opts = append(opts, googleai.WithAPIKey(profile.APIKey))
		}
		client, err := googleai.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create googleai client: %w", err)
		}
		return &langchainLLM{name: "googleai/" + profile.Model, model: client}, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", profile.Provider)
	}
}

type langchainLLM struct {
	name  string
	model llms.Model
}

func (l *langchainLLM) Name() string { return l.name }

func (l *langchainLLM) Complete(ctx context.Context, system, prompt string, jsonMode bool) (string, int64, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(prompt)},
		},
	}

	opts := []llms.CallOption{llms.WithTemperature(0.2)}
	if jsonMode {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := l.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", 0, err
	}
	if len(resp.Choices) == 0 {
		return "", 0, fmt.Errorf("model %s returned no choices", l.name)
	}

	choice := resp.Choices[0]
	tokens := tokenCount(choice.GenerationInfo)
	if tokens == 0 {
		tokens = estimateTokens(system, prompt, choice.Content)
	}

	return choice.Content, tokens, nil
}

// tokenCount digs usage out of GenerationInfo; providers disagree on
// key names and value types.
func tokenCount(info map[string]any) int64 {
	if info == nil {
		return 0
	}

	if total := asInt64(info["TotalTokens"]); total > 0 {
		return total
	}

	var sum int64
	for _, key := range []string{"PromptTokens", "CompletionTokens", "InputTokens", "OutputTokens", "input_tokens", "output_tokens"} {
		sum += asInt64(info[key])
	}
	return sum
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

// estimateTokens is the fallback when a provider reports no usage.
// Four characters per token is close enough for cost accounting.
func estimateTokens(parts ...string) int64 {
	var chars int
	for _, p := range parts {
		chars += len(p)
	}
	return int64(chars / 4)
}
