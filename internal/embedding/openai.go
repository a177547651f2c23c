package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIEmbedder implements Embedder against an OpenAI-compatible embeddings API.
type OpenAIEmbedder struct {
	embedder   embeddings.Embedder
	dimensions int
}

// OpenAIConfig configures the OpenAI embedder. BaseURL may point at any
// OpenAI-compatible service; Token falls back to "none" for local services
// that do not authenticate.
type OpenAIConfig struct {
	BaseURL    string
	Token      string
	Model      string
	Dimensions int
}

// NewOpenAIEmbedder creates an embedder for the given model.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive")
	}
	token := cfg.Token
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &OpenAIEmbedder{embedder: emb, dimensions: cfg.Dimensions}, nil
}

// Embed returns the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in one provider call. Provider errors are reported
// as transient; a dimension mismatch is permanent since retrying cannot fix a
// misconfigured model.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, Transient(err)
	}
	if len(vecs) != len(texts) {
		return nil, Transient(fmt.Errorf("provider returned %d embeddings for %d texts", len(vecs), len(texts)))
	}
	for i, v := range vecs {
		if len(v) != e.dimensions {
			return nil, Permanent(fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(v), e.dimensions))
		}
	}
	return vecs, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the underlying client holds no resources.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
