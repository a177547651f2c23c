package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/meridian/finrag/internal/models"
)

// Generator produces an answer from a prompt. The model call is opaque to the
// copilot; implementations decide provider, model, and sampling.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLMGenerator implements Generator on an OpenAI-compatible chat API.
type LLMGenerator struct {
	client *openai.LLM
}

// LLMConfig configures the chat model endpoint.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// NewLLMGenerator creates a generator for the configured endpoint. An empty
// APIKey falls back to "none" for local OpenAI-compatible services.
func NewLLMGenerator(cfg LLMConfig) (*LLMGenerator, error) {
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	llmOpts := []openai.Option{openai.WithToken(token)}
	if cfg.Model != "" {
		llmOpts = append(llmOpts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("create chat client: %w", err)
	}
	return &LLMGenerator{client: client}, nil
}

// Generate runs one chat completion and returns the first choice.
func (g *LLMGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	content := []llms.MessageContent{
		{
			Role:  schema.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		},
		{
			Role:  schema.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(userPrompt)},
		},
	}
	resp, err := g.client.GenerateContent(ctx, content, llms.WithTemperature(0.2))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

const askSystemPrompt = `You are a financial research copilot. Answer using only
the provided context snippets. Cite snippet ids in square brackets. If the
context does not cover the question, say so plainly.`

const analyzeSystemPrompt = `You are a portfolio analyst. Given portfolio
positions, live quotes, and recent context snippets, write a short assessment
of the portfolio's current standing and notable risks.`

// buildAskPrompt renders the question with its retrieved context.
func buildAskPrompt(question string, bundle *models.ContextBundle) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	if bundle.Empty() {
		b.WriteString("(no relevant context retrieved)\n")
	} else {
		for _, sr := range bundle.Records {
			fmt.Fprintf(&b, "[%s] %s\n", sr.Record.ID, snippet(sr.Record.Body, 500))
		}
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	return b.String()
}

// snippet truncates s to max runes on a rune boundary.
func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
