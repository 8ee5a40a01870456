package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/hubenschmidt/sdr-voice-agent/internal/metrics"
)

// ChatModel completes a prompt under the given instructions.
type ChatModel interface {
	Chat(ctx context.Context, instructions, input string) (string, error)
}

// AgentLLM runs single-turn completions through the openai-agents-go SDK.
type AgentLLM struct {
	provider  agents.ModelProvider
	model     string
	maxTokens int
}

// AgentLLMConfig configures an AgentLLM.
type AgentLLMConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewAgentLLM creates an OpenAI-backed agent runner using the chat completions API.
func NewAgentLLM(cfg AgentLLMConfig) *AgentLLM {
	params := agents.OpenAIProviderParams{
		APIKey:       param.NewOpt(cfg.APIKey),
		UseResponses: param.NewOpt(false),
	}
	if cfg.BaseURL != "" {
		params.BaseURL = param.NewOpt(cfg.BaseURL)
	}
	return &AgentLLM{
		provider:  agents.NewOpenAIProvider(params),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// Chat streams a completion and returns the concatenated text.
func (a *AgentLLM) Chat(ctx context.Context, instructions, input string) (string, error) {
	agent := agents.New("sdr").
		WithInstructions(instructions).
		WithModel(a.model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(a.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   a.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()

	events, errCh, err := runner.RunStreamedChan(ctx, agent, input)
	if err != nil {
		metrics.Errors.WithLabelValues("llm", "start").Inc()
		return "", fmt.Errorf("llm stream start: %w", err)
	}

	var textBuf strings.Builder
	for ev := range events {
		collectDelta(ev, &textBuf)
	}

	if streamErr := <-errCh; streamErr != nil {
		metrics.Errors.WithLabelValues("llm", "stream").Inc()
		return "", fmt.Errorf("llm stream: %w", streamErr)
	}

	metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
	return textBuf.String(), nil
}

func collectDelta(ev agents.StreamEvent, textBuf *strings.Builder) {
	raw, ok := ev.(agents.RawResponsesStreamEvent)
	if !ok {
		return
	}
	if raw.Data.Type != "response.output_text.delta" {
		return
	}
	textBuf.WriteString(raw.Data.Delta)
}
