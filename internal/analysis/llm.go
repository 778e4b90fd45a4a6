package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"devscan/internal/budget"
	"devscan/internal/config"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Split applied when a provider reports only a total token count.
const reportedInputShare = 0.7

// LLMBackend analyzes files with a chat model through langchaingo.
type LLMBackend struct {
	llm         llms.Model
	provider    string
	modelName   string
	prompt      *Prompt
	pricing     budget.Pricing
	maxTokens   int
	temperature float64
}

// NewBackend creates the backend selected by cfg.Provider.
func NewBackend(cfg config.AnalysisConfig, prompt *Prompt) (*LLMBackend, error) {
	var (
		model llms.Model
		err   error
	)

	switch cfg.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)

	case ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, anthropic.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		model, err = anthropic.New(opts...)

	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)

	default:
		return nil, &Error{Kind: Fatal, Err: fmt.Errorf("unsupported analysis provider: %q", cfg.Provider)}
	}
	if err != nil {
		return nil, &Error{Kind: Fatal, Err: fmt.Errorf("create %s model: %w", cfg.Provider, err)}
	}

	return newLLMBackend(model, cfg, prompt), nil
}

func newLLMBackend(model llms.Model, cfg config.AnalysisConfig, prompt *Prompt) *LLMBackend {
	return &LLMBackend{
		llm:         model,
		provider:    cfg.Provider,
		modelName:   cfg.Model,
		prompt:      prompt,
		pricing:     budget.PricingFromConfig(cfg.Pricing),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// Identity returns "provider:model".
func (b *LLMBackend) Identity() string {
	return b.provider + ":" + b.modelName
}

// Prompt returns the template in use.
func (b *LLMBackend) Prompt() *Prompt {
	return b.prompt
}

// EstimateCost bounds the cost of req: a conservative input token count
// for the rendered prompt plus a completion at the max token limit.
func (b *LLMBackend) EstimateCost(req *Request) float64 {
	in := budget.BoundTokens(len(req.Content) + len(req.Path) + b.prompt.Overhead())
	return b.pricing.UpperBound(in, int64(b.maxTokens))
}

// Analyze renders the prompt for req and runs one completion.
func (b *LLMBackend) Analyze(ctx context.Context, req *Request) (*Response, error) {
	system, user, err := b.prompt.Render(req)
	if err != nil {
		return nil, &Error{Kind: Fatal, Err: err}
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	opts := []llms.CallOption{llms.WithTemperature(b.temperature)}
	if b.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(b.maxTokens))
	}

	resp, err := b.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, Classify(fmt.Errorf("generate: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: Transient, Err: fmt.Errorf("no response choices")}
	}
	choice := resp.Choices[0]

	usage, ok := usageFromInfo(choice.GenerationInfo)
	if !ok {
		usage = budget.Usage{
			InputTokens:  budget.EstimateTokens(len(system) + len(user)),
			OutputTokens: budget.EstimateTokens(len(choice.Content)),
		}
	}

	payload, err := json.Marshal(result{
		Path:          req.Path,
		Model:         b.Identity(),
		PromptVersion: b.prompt.Version,
		Analysis:      strings.TrimSpace(choice.Content),
	})
	if err != nil {
		return nil, &Error{Kind: Fatal, Err: err}
	}

	return &Response{
		Payload: payload,
		Usage:   usage,
		Cost:    b.pricing.Cost(usage),
		Model:   b.Identity(),
	}, nil
}

// result is the cached payload layout.
type result struct {
	Path          string `json:"path"`
	Model         string `json:"model"`
	PromptVersion int    `json:"promptVersion"`
	Analysis      string `json:"analysis"`
}

// usageFromInfo reads token counts from provider generation info. Key
// names differ per provider.
func usageFromInfo(info map[string]any) (budget.Usage, bool) {
	var u budget.Usage
	in, okIn := intFrom(info, "PromptTokens", "InputTokens")
	out, okOut := intFrom(info, "CompletionTokens", "OutputTokens")
	cached, _ := intFrom(info, "PromptCachedTokens", "CacheReadInputTokens")

	switch {
	case okIn || okOut:
		u.InputTokens, u.OutputTokens, u.CachedInputTokens = in, out, cached
		return u, true
	default:
		total, ok := intFrom(info, "TotalTokens")
		if !ok || total <= 0 {
			return u, false
		}
		u.InputTokens = int64(float64(total) * reportedInputShare)
		u.OutputTokens = total - u.InputTokens
		return u, true
	}
}

func intFrom(info map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v), true
		case int32:
			return int64(v), true
		case int64:
			return v, true
		case float64:
			return int64(v), true
		}
	}
	return 0, false
}
