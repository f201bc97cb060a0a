package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"threadcrawl/pkg/crawler"
	"threadcrawl/pkg/enrich"
	"threadcrawl/pkg/logger"
	"threadcrawl/pkg/metadata"
	"threadcrawl/pkg/models"
)

// ManifestName is the file the batch manifest is written to.
const ManifestName = "batch_manifest.json"

// topWords is the number of words kept in an output document.
const topWords = 200

// Manager writes task results and batch manifests to the output directory.
type Manager struct {
	outputDir string
	indent    bool
	logger    logger.Logger

	mu      sync.Mutex
	written map[string]bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithIndent pretty-prints output documents.
func WithIndent(indent bool) Option {
	return func(m *Manager) { m.indent = indent }
}

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a new storage manager
func NewManager(outputDir string, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	m := &Manager{
		outputDir: outputDir,
		logger:    logger.GetLogger(),
		written:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Document is the output file of a successful task.
type Document struct {
	Summary        crawler.Summary                `json:"summary"`
	Stats          crawler.ResolveStats           `json:"resolve_stats"`
	Posts          []Post                         `json:"posts"`
	Users          map[string]*metadata.UserStats `json:"users"`
	TopWords       []*metadata.WordStats          `json:"top_words"`
	Annotations    map[string]enrich.Annotation   `json:"annotations,omitempty"`
	UserEmbeddings map[string][]float32           `json:"user_embeddings,omitempty"`
}

// FailedDocument is the output file of a failed task.
type FailedDocument struct {
	Summary   crawler.Summary `json:"summary"`
	ErrorType string          `json:"error_type"`
}

// Post is a root with its comment tree.
type Post struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Subreddit   string         `json:"subreddit"`
	Author      string         `json:"author"`
	Title       string         `json:"title"`
	Body        string         `json:"selftext,omitempty"`
	URL         string         `json:"url,omitempty"`
	Permalink   string         `json:"permalink,omitempty"`
	CreatedUTC  int64          `json:"created_utc"`
	Score       models.Score   `json:"score"`
	NumComments int            `json:"num_comments"`
	Flags       metadata.Flags `json:"flags"`
	Complete    bool           `json:"tree_loaded"`
	Replies     []Node         `json:"replies"`
}

// Node is a comment, or a placeholder left unresolved.
type Node struct {
	Kind       string          `json:"kind"`
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	ParentID   string          `json:"parent_id"`
	Author     string          `json:"author,omitempty"`
	Body       string          `json:"body,omitempty"`
	CreatedUTC int64           `json:"created_utc,omitempty"`
	Score      *models.Score   `json:"score,omitempty"`
	Depth      int             `json:"depth,omitempty"`
	Flags      *metadata.Flags `json:"flags,omitempty"`
	ChildIDs   []string        `json:"children,omitempty"`
	Count      int             `json:"count,omitempty"`
	Replies    []Node          `json:"replies,omitempty"`
}

// Write stores res under its output name: the full document on success,
// the summary and errors on failure. It records the path in res.
func (m *Manager) Write(ctx context.Context, res *crawler.Result) error {
	name := res.Out
	if name == "" {
		name = fmt.Sprintf("failed_%s.json", res.TaskID)
	}
	path := filepath.Join(m.outputDir, name)

	m.mu.Lock()
	if m.written[name] {
		m.logger.WithField("file", path).Warn("Output file written earlier in this run is overwritten")
	}
	m.mu.Unlock()

	var doc any
	if res.Success && res.Index != nil {
		doc = NewDocument(res)
	} else {
		doc = FailedDocument{Summary: res.Summary, ErrorType: string(res.ErrorType())}
	}

	res.OutputPath = path
	if err := m.writeJSON(path, doc); err != nil {
		res.OutputPath = ""
		return err
	}

	m.mu.Lock()
	m.written[name] = true
	m.mu.Unlock()

	m.logger.InfoWithFields("Result written", map[string]interface{}{
		"file":    path,
		"success": res.Success,
	})
	return nil
}

// WriteManifest stores the batch manifest and returns its path.
func (m *Manager) WriteManifest(manifest *crawler.Manifest) (string, error) {
	path := filepath.Join(m.outputDir, ManifestName)
	if err := m.writeJSON(path, manifest); err != nil {
		return "", err
	}
	return path, nil
}

// NewDocument converts a successful result into its output form.
func NewDocument(res *crawler.Result) *Document {
	doc := &Document{
		Summary:        res.Summary,
		Stats:          res.Stats,
		Annotations:    res.Annotations,
		UserEmbeddings: res.UserEmbeddings,
	}
	if res.Report != nil {
		doc.Users = res.Report.Users
		doc.TopWords = res.Report.TopWords(topWords)
	}
	for _, r := range res.Index.Roots {
		doc.Posts = append(doc.Posts, Post{
			ID:          r.ID,
			Name:        r.Name,
			Subreddit:   r.Subreddit,
			Author:      r.Author,
			Title:       r.Title,
			Body:        r.Body,
			URL:         r.URL,
			Permalink:   r.Permalink,
			CreatedUTC:  r.CreatedAt.Unix(),
			Score:       r.Score,
			NumComments: r.NumComments,
			Flags:       metadata.Classify(metadata.Text(r), r.Author),
			Complete:    r.Loaded,
			Replies:     convertNodes(r.Children),
		})
	}
	return doc
}

func convertNodes(nodes []models.Node) []Node {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		switch v := n.(type) {
		case *models.Comment:
			score := v.Score
			flags := metadata.Classify(v.Body, v.Author)
			out = append(out, Node{
				Kind:       models.KindComment.String(),
				ID:         v.ID,
				Name:       v.Name,
				ParentID:   v.ParentID,
				Author:     v.Author,
				Body:       v.Body,
				CreatedUTC: v.CreatedAt.Unix(),
				Score:      &score,
				Depth:      v.Depth,
				Flags:      &flags,
				Replies:    convertNodes(v.Children),
			})
		case *models.Placeholder:
			out = append(out, Node{
				Kind:     models.KindPlaceholder.String(),
				ID:       v.ID,
				Name:     v.Name,
				ParentID: v.ParentID,
				ChildIDs: v.ChildIDs,
				Count:    v.Count,
			})
		}
	}
	return out
}

// writeJSON encodes v to a temporary file and renames it over path.
func (m *Manager) writeJSON(path string, v any) error {
	tempFile := path + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	enc := json.NewEncoder(out)
	if m.indent {
		enc.SetIndent("", "  ")
	}
	err = enc.Encode(v)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// GetOutputDir returns the output directory path
func (m *Manager) GetOutputDir() string {
	return m.outputDir
}

// WrittenCount returns the number of distinct files written in this run.
func (m *Manager) WrittenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.written)
}
