// Package enrich annotates crawled posts and comments with sentiment,
// embeddings and detected language through a pluggable text provider.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	errs "threadcrawl/pkg/errors"
	"threadcrawl/pkg/logger"
	"threadcrawl/pkg/metadata"
	"threadcrawl/pkg/models"
	"threadcrawl/pkg/retry"
)

// Sentiment labels.
const (
	LabelPositive = "POSITIVE"
	LabelNeutral  = "NEUTRAL"
	LabelNegative = "NEGATIVE"
)

// ErrMalformedResponse is wrapped by provider errors caused by a response
// that could not be understood. Such errors are not retried.
var ErrMalformedResponse = errors.New("malformed provider response")

// Sentiment is the dominant sentiment of a text with its confidence.
type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// TextEnricher is a sentiment and embedding provider.
type TextEnricher interface {
	Sentiment(ctx context.Context, text string) (Sentiment, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Detector guesses the language of a text. It returns an ISO 639-1 code,
// or "" when unsure.
type Detector interface {
	Detect(text string) string
}

// Annotation is the enrichment of one node.
type Annotation struct {
	Sentiment *Sentiment `json:"sentiment,omitempty"`
	Embedding []float32  `json:"embedding,omitempty"`
	Language  string     `json:"language,omitempty"`
}

// Annotator calls a TextEnricher once per node with analysable text.
type Annotator struct {
	enricher    TextEnricher
	detector    Detector
	concurrency int
	retry       *retry.Config
	timeout     time.Duration
	logger      logger.Logger
}

// Option configures an Annotator.
type Option func(*Annotator)

// WithDetector adds language detection to every annotation.
func WithDetector(d Detector) Option {
	return func(a *Annotator) { a.detector = d }
}

// WithConcurrency bounds the number of nodes annotated at once.
func WithConcurrency(n int) Option {
	return func(a *Annotator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithRetry replaces the retry policy of provider calls.
func WithRetry(cfg *retry.Config) Option {
	return func(a *Annotator) {
		if cfg != nil {
			a.retry = cfg
		}
	}
}

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(a *Annotator) { a.timeout = d }
}

func WithLogger(l logger.Logger) Option {
	return func(a *Annotator) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAnnotator creates an annotator over enricher.
func NewAnnotator(enricher TextEnricher, opts ...Option) *Annotator {
	a := &Annotator{
		enricher:    enricher,
		concurrency: 4,
		logger:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.retry == nil {
		a.retry = retry.DefaultConfig()
		a.retry.Logger = a.logger
	}
	a.retry.RetryIf = retryable
	return a
}

func retryable(err error) bool {
	if errors.Is(err, ErrMalformedResponse) {
		return false
	}
	return retry.DefaultRetryIf(err)
}

type target struct {
	name string
	text string
}

// Annotate enriches every root and comment of ix whose text is not
// empty, deleted or removed. Texts over MaxChunkLen characters are scored
// chunk by chunk and the chunk sentiments aggregated. Results are keyed by node fullname. The
// first provider failure cancels the remaining calls.
func (a *Annotator) Annotate(ctx context.Context, ix *models.NodeIndex) (map[string]Annotation, error) {
	var targets []target
	for _, root := range ix.Roots {
		if text := metadata.Text(root); metadata.IsValidText(text) {
			targets = append(targets, target{name: root.Name, text: text})
		}
	}
	for _, c := range ix.Comments() {
		if metadata.IsValidText(c.Body) {
			targets = append(targets, target{name: c.Name, text: c.Body})
		}
	}

	out := make(map[string]Annotation, len(targets))
	if len(targets) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for _, t := range targets {
		g.Go(func() error {
			ann, err := a.annotate(gctx, t.text)
			if err != nil {
				return fmt.Errorf("annotate %s: %w", t.name, err)
			}
			mu.Lock()
			out[t.name] = ann
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, errs.Canceled(ctx.Err())
		}
		return nil, errs.Enrichment("enrichment failed", err)
	}

	a.logger.DebugWithFields("Nodes annotated", map[string]interface{}{
		"annotated": len(out),
		"skipped":   len(ix.Roots) + ix.CommentCount() - len(out),
	})
	return out, nil
}

func (a *Annotator) annotate(ctx context.Context, text string) (Annotation, error) {
	var ann Annotation
	cfg := a.retry.WithContext(ctx)

	chunks := Chunk(text)
	if len(chunks) == 0 {
		chunks = []string{text}
	}
	results := make([]Sentiment, 0, len(chunks))
	for _, chunk := range chunks {
		s, err := retry.DoWithResult(func() (Sentiment, error) {
			callCtx, cancel := a.callContext(ctx)
			defer cancel()
			return a.enricher.Sentiment(callCtx, chunk)
		}, cfg)
		if err != nil {
			return ann, fmt.Errorf("sentiment: %w", err)
		}
		results = append(results, s)
	}
	s := aggregateSentiment(chunks, results)
	ann.Sentiment = &s

	emb, err := retry.DoWithResult(func() ([]float32, error) {
		callCtx, cancel := a.callContext(ctx)
		defer cancel()
		return a.enricher.Embed(callCtx, text)
	}, cfg)
	if err != nil {
		return ann, fmt.Errorf("embedding: %w", err)
	}
	ann.Embedding = emb

	if a.detector != nil {
		ann.Language = a.detector.Detect(text)
	}
	return ann, nil
}

func (a *Annotator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout > 0 {
		return context.WithTimeout(ctx, a.timeout)
	}
	return context.WithCancel(ctx)
}

const sentimentPrompt = `Classify the overall sentiment of the following social media text.
Answer with a JSON object {"label": "POSITIVE" | "NEUTRAL" | "NEGATIVE", "score": <confidence between 0 and 1>} and nothing else.

Text:
`

// parseSentiment reads a provider's JSON answer. Code fences around the
// object are tolerated.
func parseSentiment(raw string) (Sentiment, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var s Sentiment
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Sentiment{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	s.Label = strings.ToUpper(strings.TrimSpace(s.Label))
	switch s.Label {
	case LabelPositive, LabelNeutral, LabelNegative:
	default:
		return Sentiment{}, fmt.Errorf("%w: unknown sentiment label %q", ErrMalformedResponse, s.Label)
	}
	if s.Score < 0 {
		s.Score = 0
	}
	if s.Score > 1 {
		s.Score = 1
	}
	return s, nil
}
