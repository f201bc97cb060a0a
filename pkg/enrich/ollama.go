package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	errs "threadcrawl/pkg/errors"
)

// Default Ollama settings.
const (
	DefaultOllamaURL            = "http://localhost:11434"
	DefaultOllamaSentimentModel = "llama3.2"
	DefaultOllamaEmbeddingModel = "nomic-embed-text"
)

// OllamaEnricher uses a local Ollama server.
type OllamaEnricher struct {
	baseURL        string
	sentimentModel string
	embeddingModel string
	client         *http.Client
}

// NewOllamaEnricher creates an enricher. An empty baseURL falls back to
// OLLAMA_HOST, then to the local default; empty models use the defaults.
func NewOllamaEnricher(baseURL, sentimentModel, embeddingModel string, client *http.Client) *OllamaEnricher {
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_HOST")
	}
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	if sentimentModel == "" {
		sentimentModel = DefaultOllamaSentimentModel
	}
	if embeddingModel == "" {
		embeddingModel = DefaultOllamaEmbeddingModel
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &OllamaEnricher{
		baseURL:        strings.TrimRight(baseURL, "/"),
		sentimentModel: sentimentModel,
		embeddingModel: embeddingModel,
		client:         client,
	}
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (o *OllamaEnricher) Sentiment(ctx context.Context, text string) (Sentiment, error) {
	var resp ollamaGenerateResponse
	err := o.post(ctx, "/api/generate", ollamaGenerateRequest{
		Model:   o.sentimentModel,
		Prompt:  sentimentPrompt + text,
		Format:  "json",
		Options: map[string]any{"temperature": 0},
	}, &resp)
	if err != nil {
		return Sentiment{}, err
	}

	s, err := parseSentiment(resp.Response)
	if err != nil {
		return Sentiment{}, errs.Enrichment("unreadable ollama sentiment", err)
	}
	return s, nil
}

func (o *OllamaEnricher) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp ollamaEmbedResponse
	if err := o.post(ctx, "/api/embeddings", ollamaEmbedRequest{Model: o.embeddingModel, Prompt: text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, errs.Enrichment("empty ollama embedding", ErrMalformedResponse)
	}
	return resp.Embedding, nil
}

func (o *OllamaEnricher) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errs.Enrichment("failed to encode ollama request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errs.Enrichment("failed to create ollama request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errs.Canceled(ctx.Err())
		}
		return errs.Enrichment("ollama request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errs.Enrichment(fmt.Sprintf("ollama %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg))), nil).
			WithCode(resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Enrichment("failed to decode ollama response", fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	return nil
}
