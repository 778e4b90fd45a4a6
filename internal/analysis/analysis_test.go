package analysis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"devscan/internal/budget"
	"devscan/internal/config"
	"devscan/internal/errors"
)

// stubModel is an llms.Model returning canned responses.
type stubModel struct {
	content  string
	info     map[string]any
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (m *stubModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, o := range options {
		o(&m.opts)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        m.content,
		GenerationInfo: m.info,
	}}}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func testConfig() config.AnalysisConfig {
	cfg := config.DefaultConfig().Analysis
	cfg.Pricing = config.PricingConfig{InputPerMillion: 1, OutputPerMillion: 2}
	cfg.MaxTokens = 1000
	return cfg
}

func defaultPrompt(t *testing.T) *Prompt {
	t.Helper()
	p, err := LoadPrompt("")
	require.NoError(t, err)
	return p
}

func TestLanguageFor(t *testing.T) {
	assert.Equal(t, "Go", LanguageFor("cmd/main.go"))
	assert.Equal(t, "TypeScript (TSX)", LanguageFor("App.TSX"))
	assert.Equal(t, "text", LanguageFor("README"))
}

func TestParsePrompt(t *testing.T) {
	p := defaultPrompt(t)
	assert.Equal(t, "file-review", p.Name)
	assert.Equal(t, 1, p.Version)
	assert.Len(t, p.Hash(), 64)
	assert.Positive(t, p.Overhead())

	system, user, err := p.Render(&Request{
		RepoID:     "api",
		Path:       "svc/handler.go",
		Content:    []byte("package svc\n"),
		ChangeType: "modified",
		Added:      3,
		Deleted:    1,
	})
	require.NoError(t, err)
	assert.Contains(t, system, "senior code reviewer")
	assert.Contains(t, user, "File: svc/handler.go (Go, modified, +3/-1 lines)")
	assert.Contains(t, user, "package svc")

	_, user, err = p.Render(&Request{Path: "a.py", Content: []byte("x = 1"), ChangeType: "added"})
	require.NoError(t, err)
	assert.Contains(t, user, "(Python, added)")
}

func TestParsePrompt_HashFollowsRawBytes(t *testing.T) {
	a, err := ParsePrompt([]byte(DefaultPromptTOML))
	require.NoError(t, err)
	b, err := ParsePrompt([]byte(DefaultPromptTOML + "\n# trailing comment\n"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestParsePrompt_Errors(t *testing.T) {
	_, err := ParsePrompt([]byte("name = "))
	assert.Error(t, err, "invalid toml")

	_, err = ParsePrompt([]byte(`name = "x"` + "\nsystem = \"s\"\n"))
	assert.Error(t, err, "missing user section")

	_, err = ParsePrompt([]byte(`user = "{{.Path"`))
	assert.Error(t, err, "bad template")
}

func TestLoadPrompt_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.toml")
	require.NoError(t, os.WriteFile(path, []byte("name = \"custom\"\nversion = 7\nuser = \"review {{.Path}}\"\n"), 0644))

	p, err := LoadPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", p.Name)
	assert.Equal(t, 7, p.Version)

	_, user, err := p.Render(&Request{Path: "x.go"})
	require.NoError(t, err)
	assert.Equal(t, "review x.go", user)

	_, err = LoadPrompt(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   Kind
		status int
	}{
		{"deadline", context.DeadlineExceeded, Transient, 0},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), Transient, 0},
		{"rate limited", stderrors.New("API returned unexpected status code: 429: rate limit"), Transient, 429},
		{"server error", stderrors.New("API returned unexpected status code: 503"), Transient, 503},
		{"unauthorized", stderrors.New("API returned unexpected status code: 401: invalid key"), Fatal, 401},
		{"forbidden", stderrors.New("status 403 forbidden"), Fatal, 403},
		{"missing key", stderrors.New("missing the OpenAI API key"), Fatal, 0},
		{"unknown", stderrors.New("connection reset by peer"), Transient, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.status, got.StatusCode)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.Nil(t, Classify(nil))

	fatal := &Error{Kind: Fatal, Err: stderrors.New("x")}
	assert.Same(t, fatal, Classify(fmt.Errorf("wrapped: %w", fatal)))
	assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", fatal)))
	assert.False(t, IsFatal(stderrors.New("plain")))
	assert.Equal(t, errors.BackendFatal, fatal.Code())
	assert.Equal(t, errors.BackendTransient, (&Error{Kind: Transient}).Code())
	assert.Contains(t, (&Error{Kind: Transient, StatusCode: 429, Err: stderrors.New("slow down")}).Error(), "status 429")
}

func TestUsageFromInfo(t *testing.T) {
	u, ok := usageFromInfo(map[string]any{"PromptTokens": 100, "CompletionTokens": 20, "PromptCachedTokens": 40})
	require.True(t, ok)
	assert.Equal(t, budget.Usage{InputTokens: 100, OutputTokens: 20, CachedInputTokens: 40}, u)

	u, ok = usageFromInfo(map[string]any{"InputTokens": 50, "OutputTokens": float64(10)})
	require.True(t, ok)
	assert.Equal(t, budget.Usage{InputTokens: 50, OutputTokens: 10}, u)

	u, ok = usageFromInfo(map[string]any{"TotalTokens": int64(1000)})
	require.True(t, ok)
	assert.Equal(t, budget.Usage{InputTokens: 700, OutputTokens: 300}, u)

	_, ok = usageFromInfo(nil)
	assert.False(t, ok)
}

func TestLLMBackend_Analyze(t *testing.T) {
	model := &stubModel{
		content: ` {"summary": "ok", "issues": []} `,
		info:    map[string]any{"PromptTokens": 1000, "CompletionTokens": 500},
	}
	cfg := testConfig()
	b := newLLMBackend(model, cfg, defaultPrompt(t))

	resp, err := b.Analyze(context.Background(), &Request{RepoID: "api", Path: "main.go", Content: []byte("package main\n")})
	require.NoError(t, err)

	assert.Equal(t, "openai:gpt-4o-mini", b.Identity())
	assert.Equal(t, b.Identity(), resp.Model)
	assert.Equal(t, budget.Usage{InputTokens: 1000, OutputTokens: 500}, resp.Usage)
	assert.InDelta(t, (1000*1.0+500*2.0)/1e6, resp.Cost, 1e-12)

	var payload result
	require.NoError(t, json.Unmarshal(resp.Payload, &payload))
	assert.Equal(t, "main.go", payload.Path)
	assert.Equal(t, `{"summary": "ok", "issues": []}`, payload.Analysis)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, 1000, model.opts.MaxTokens)
}

func TestLLMBackend_EstimatedUsageWhenUnreported(t *testing.T) {
	model := &stubModel{content: strings.Repeat("y", 400)}
	b := newLLMBackend(model, testConfig(), defaultPrompt(t))

	resp, err := b.Analyze(context.Background(), &Request{Path: "a.go", Content: []byte(strings.Repeat("x", 4000))})
	require.NoError(t, err)
	assert.Equal(t, int64(100), resp.Usage.OutputTokens)
	assert.Greater(t, resp.Usage.InputTokens, int64(1000))
	assert.Positive(t, resp.Cost)
}

func TestLLMBackend_EstimateIsUpperBound(t *testing.T) {
	model := &stubModel{content: "done", info: map[string]any{"PromptTokens": 10, "CompletionTokens": 1000}}
	b := newLLMBackend(model, testConfig(), defaultPrompt(t))
	req := &Request{Path: "a.go", Content: []byte(strings.Repeat("x", 4000))}

	resp, err := b.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, b.EstimateCost(req), resp.Cost)
}

func TestLLMBackend_EstimateCoversDenseCode(t *testing.T) {
	prompt := defaultPrompt(t)
	req := &Request{Path: "bundle.min.js", Content: []byte(strings.Repeat("a[b]=c;", 600))}

	// Symbol-heavy code at 3.5 chars per token, completion at the cap.
	chars := len(req.Content) + len(req.Path) + prompt.Overhead()
	reported := chars * 2 / 7
	require.Greater(t, int64(reported), budget.EstimateTokens(chars))

	model := &stubModel{content: "done", info: map[string]any{"PromptTokens": reported, "CompletionTokens": 1000}}
	b := newLLMBackend(model, testConfig(), prompt)

	resp, err := b.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, b.EstimateCost(req), resp.Cost)
}

func TestLLMBackend_ErrorsAreClassified(t *testing.T) {
	model := &stubModel{err: stderrors.New("API returned unexpected status code: 401")}
	b := newLLMBackend(model, testConfig(), defaultPrompt(t))

	_, err := b.Analyze(context.Background(), &Request{Path: "a.go"})
	require.Error(t, err)
	assert.True(t, IsFatal(err))

	model.err = stderrors.New("API returned unexpected status code: 502")
	_, err = b.Analyze(context.Background(), &Request{Path: "a.go"})
	require.Error(t, err)
	assert.False(t, IsFatal(err))
}

func TestNewBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Provider = ProviderOllama
	cfg.Model = "llama3"
	cfg.BaseURL = "http://127.0.0.1:11434"
	b, err := NewBackend(cfg, defaultPrompt(t))
	require.NoError(t, err)
	assert.Equal(t, "ollama:llama3", b.Identity())
	assert.NotNil(t, b.Prompt())

	cfg.Provider = "nope"
	_, err = NewBackend(cfg, defaultPrompt(t))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}
