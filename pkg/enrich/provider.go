package enrich

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"threadcrawl/pkg/config"
	"threadcrawl/pkg/logger"
	"threadcrawl/pkg/retry"
)

// Providers.
const (
	ProviderNone   = "none"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// NewFromConfig builds the annotator selected by cfg. It returns nil, nil
// when enrichment is disabled.
func NewFromConfig(ctx context.Context, cfg config.EnrichConfig, log logger.Logger) (*Annotator, error) {
	var enricher TextEnricher

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderNone:
		return nil, nil
	case ProviderGemini:
		g, err := NewGeminiEnricher(ctx, GeminiConfig{
			APIKey:         cfg.APIKey,
			SentimentModel: cfg.SentimentModel,
			EmbeddingModel: cfg.EmbeddingModel,
			BaseURL:        cfg.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		enricher = g
	case ProviderOllama:
		// Gemini model names are meaningless to Ollama.
		sentimentModel, embeddingModel := cfg.SentimentModel, cfg.EmbeddingModel
		if strings.HasPrefix(sentimentModel, "gemini") {
			sentimentModel = ""
		}
		if strings.HasPrefix(embeddingModel, "text-embedding") {
			embeddingModel = ""
		}
		enricher = NewOllamaEnricher(cfg.Endpoint, sentimentModel, embeddingModel, &http.Client{Timeout: cfg.Timeout})
	default:
		return nil, fmt.Errorf("unknown enrich provider %q", cfg.Provider)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.Logger = log
	if cfg.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.MaxAttempts
	}

	opts := []Option{
		WithConcurrency(cfg.Concurrency),
		WithRetry(retryCfg),
		WithTimeout(cfg.Timeout),
		WithLogger(log),
	}
	if cfg.DetectLanguages {
		opts = append(opts, WithDetector(NewLinguaDetector()))
	}
	return NewAnnotator(enricher, opts...), nil
}
