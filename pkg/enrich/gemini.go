package enrich

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	errs "threadcrawl/pkg/errors"
)

// Default Gemini models.
const (
	DefaultGeminiSentimentModel = "gemini-2.5-flash"
	DefaultGeminiEmbeddingModel = "text-embedding-004"
)

// GeminiConfig configures a GeminiEnricher.
type GeminiConfig struct {
	APIKey         string
	SentimentModel string
	EmbeddingModel string
	// BaseURL overrides the API endpoint.
	BaseURL string
}

// GeminiEnricher asks a Gemini model for sentiment and an embedding model
// for vectors.
type GeminiEnricher struct {
	client         *genai.Client
	sentimentModel string
	embeddingModel string
}

var sentimentSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"label": {
			Type: genai.TypeString,
			Enum: []string{LabelPositive, LabelNeutral, LabelNegative},
		},
		"score": {Type: genai.TypeNumber},
	},
	Required: []string{"label", "score"},
}

// NewGeminiEnricher creates a Gemini client. The API key falls back to
// GOOGLE_API_KEY and then GEMINI_API_KEY.
func NewGeminiEnricher(ctx context.Context, cfg GeminiConfig) (*GeminiEnricher, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errs.Enrichment("gemini API key is not set (GOOGLE_API_KEY)", nil)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, errs.Enrichment("failed to create gemini client", err)
	}

	g := &GeminiEnricher{
		client:         client,
		sentimentModel: cfg.SentimentModel,
		embeddingModel: cfg.EmbeddingModel,
	}
	if g.sentimentModel == "" {
		g.sentimentModel = DefaultGeminiSentimentModel
	}
	if g.embeddingModel == "" {
		g.embeddingModel = DefaultGeminiEmbeddingModel
	}
	return g, nil
}

func (g *GeminiEnricher) Sentiment(ctx context.Context, text string) (Sentiment, error) {
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
		ResponseSchema:   sentimentSchema,
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.sentimentModel, genai.Text(sentimentPrompt+text), config)
	if err != nil {
		return Sentiment{}, geminiError("sentiment request failed", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Sentiment{}, errs.Enrichment("empty gemini response", ErrMalformedResponse)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}

	s, err := parseSentiment(sb.String())
	if err != nil {
		return Sentiment{}, errs.Enrichment("unreadable gemini sentiment", err)
	}
	return s, nil
}

func (g *GeminiEnricher) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), nil)
	if err != nil {
		return nil, geminiError("embedding request failed", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, errs.Enrichment("empty gemini embedding", ErrMalformedResponse)
	}
	return resp.Embeddings[0].Values, nil
}

// geminiError keeps the HTTP status of API errors so that the retry
// policy can tell throttling from bad requests.
func geminiError(message string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return errs.Enrichment(fmt.Sprintf("%s: %s", message, apiErr.Message), err).WithCode(apiErr.Code)
	}
	return errs.Enrichment(message, err)
}
