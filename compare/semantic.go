package compare

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mykhaliev/answer-checker/logger"
	"github.com/mykhaliev/answer-checker/model"
)

// ============================================================================
// SEMANTIC PROVIDERS
// ============================================================================

// Provider turns text into an embedding vector. Implementations must be
// safe for concurrent use after construction.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

var (
	providerInstance Provider
	providerOnce     sync.Once
)

// resolveProvider picks the embedding backend exactly once per process, at
// the first semantic comparison. The choice is never revisited mid-run, so
// every semantic test in a run is scored by the same provider.
func resolveProvider(ctx context.Context, cfg model.SemanticConfig) Provider {
	providerOnce.Do(func() {
		if p, err := newEmbeddingProvider(ctx, cfg); err == nil {
			providerInstance = p
			logger.Logger.Info("Semantic provider ready", "provider", p.Name())
			return
		} else {
			logger.Logger.Warn("Embedding provider unavailable, fallback used", "error", err)
		}
		providerInstance = newLexicalProvider()
	})
	return providerInstance
}

// resetProvider exists for tests only.
func resetProvider() {
	providerInstance = nil
	providerOnce = sync.Once{}
}

// ----------------------------------------------------------------------------
// Embedding-model provider (OpenAI-compatible endpoint)
// ----------------------------------------------------------------------------

type embeddingProvider struct {
	embedder embeddings.Embedder
	model    string
}

func newEmbeddingProvider(ctx context.Context, cfg model.SemanticConfig) (*embeddingProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("no embeddings endpoint configured")
	}

	opts := []openai.Option{
		openai.WithBaseURL(cfg.BaseURL),
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithEmbeddingModel(cfg.Model))
	}
	token := "unused"
	if cfg.TokenEnv != "" {
		if v := os.Getenv(cfg.TokenEnv); v != "" {
			token = v
		}
	}
	opts = append(opts, openai.WithToken(token))

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	p := &embeddingProvider{embedder: embedder, model: cfg.Model}

	// Probe once so a dead endpoint downgrades to the fallback instead of
	// erroring every semantic test.
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := p.Embed(probeCtx, "probe"); err != nil {
		return nil, fmt.Errorf("embeddings endpoint probe failed: %w", err)
	}
	return p, nil
}

func (p *embeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return vectors[0], nil
}

func (p *embeddingProvider) Name() string {
	if p.model != "" {
		return "embedding-model:" + p.model
	}
	return "embedding-model"
}

// ----------------------------------------------------------------------------
// Lexical fallback provider
// ----------------------------------------------------------------------------

const lexicalDimensions = 512

// lexicalProvider hashes lowercase tokens into a fixed-width count vector.
// Cosine over two such vectors degrades to a token-overlap similarity, which
// is deterministic and needs no network. It never returns an error.
type lexicalProvider struct{}

func newLexicalProvider() *lexicalProvider {
	return &lexicalProvider{}
}

func (p *lexicalProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vector := make([]float32, lexicalDimensions)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vector[h.Sum32()%lexicalDimensions]++
	}
	return vector, nil
}

func (p *lexicalProvider) Name() string {
	return "lexical-fallback"
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}
