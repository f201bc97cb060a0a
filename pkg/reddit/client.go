package reddit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	errs "threadcrawl/pkg/errors"
	"threadcrawl/pkg/logger"
	"threadcrawl/pkg/models"
	"threadcrawl/pkg/ratelimit"
)

// Endpoint labels reported to a RequestObserver.
const (
	EndpointListing      = "listing"
	EndpointTree         = "tree"
	EndpointMoreChildren = "more_children"
	EndpointAbout        = "about"
)

// HeaderSource supplies the authorization headers of every call.
type HeaderSource interface {
	Headers(ctx context.Context) (http.Header, error)
}

// RequestObserver is notified after every completed or failed call.
// status is 0 when no response was received.
type RequestObserver interface {
	ObserveRequest(endpoint string, status int, d time.Duration)
}

// Client issues the read calls of the crawler. It neither admits calls
// against the quota nor retries them: callers acquire budget first, and
// failures surface as taxonomy errors.
type Client struct {
	httpClient *http.Client
	baseURL    string
	auth       HeaderSource
	pacer      *ratelimit.Pacer
	observer   RequestObserver
	logger     logger.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

func WithBaseURL(u string) Option {
	return func(cl *Client) {
		if u != "" {
			cl.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithPacer spaces calls with p. A nil pacer disables pacing.
func WithPacer(p *ratelimit.Pacer) Option {
	return func(cl *Client) { cl.pacer = p }
}

func WithRequestObserver(o RequestObserver) Option {
	return func(cl *Client) { cl.observer = o }
}

func WithLogger(l logger.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// NewClient creates an API client authenticated by auth.
func NewClient(auth HeaderSource, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    BaseURL,
		auth:       auth,
		logger:     logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API host the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Listing fetches one page of a subreddit listing.
func (c *Client) Listing(ctx context.Context, subreddit, sort, after string, limit int) (*Page, error) {
	body, err := c.get(ctx, EndpointListing, ListingURL(c.baseURL, subreddit, sort, after, limit))
	if err != nil {
		return nil, err
	}
	page, err := decodeListing(body)
	if err != nil {
		return nil, c.decodeError(EndpointListing, body, err)
	}

	c.logger.DebugWithFields("fetched listing page", map[string]interface{}{
		"subreddit": subreddit,
		"after":     after,
		"items":     len(page.Roots),
		"next":      page.After,
	})
	return page, nil
}

// Tree fetches a root's metadata and its top-level children. Comments
// carry their inline replies; structure beyond depth or limit arrives as
// placeholders.
func (c *Client) Tree(ctx context.Context, rootID string, depth, limit int) (*models.Root, []models.Node, error) {
	body, err := c.get(ctx, EndpointTree, TreeURL(c.baseURL, rootID, depth, limit))
	if err != nil {
		return nil, nil, err
	}
	root, children, err := decodeTree(body)
	if err != nil {
		return nil, nil, c.decodeError(EndpointTree, body, err)
	}
	return root, children, nil
}

// MoreChildren resolves the child ids of a placeholder belonging to the
// root linkID. Nodes are returned flat in delivery order.
func (c *Client) MoreChildren(ctx context.Context, linkID string, ids []string) ([]models.Node, error) {
	linkID = models.RootFullname(linkID)
	body, err := c.get(ctx, EndpointMoreChildren, MoreChildrenURL(c.baseURL, linkID, ids))
	if err != nil {
		return nil, err
	}
	nodes, err := decodeMoreChildren(body, linkID)
	if err != nil {
		return nil, c.decodeError(EndpointMoreChildren, body, err)
	}

	c.logger.DebugWithFields("resolved placeholder", map[string]interface{}{
		"link_id":   linkID,
		"requested": len(ids),
		"returned":  len(nodes),
	})
	return nodes, nil
}

// About fetches the visibility flags of a subreddit.
func (c *Client) About(ctx context.Context, subreddit string) (*About, error) {
	body, err := c.get(ctx, EndpointAbout, AboutURL(c.baseURL, subreddit))
	if err != nil {
		return nil, err
	}
	about, err := decodeAbout(body)
	if err != nil {
		return nil, c.decodeError(EndpointAbout, body, err)
	}
	return about, nil
}

// get performs an authenticated GET and returns the body of a 2xx
// response.
func (c *Client) get(ctx context.Context, endpoint, url string) ([]byte, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, errs.Canceled(err)
	}

	headers, err := c.auth.Headers(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.FetchFailed("failed to create request", err)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.observe(endpoint, 0, duration)
		logger.LogRequest(http.MethodGet, url, 0, duration)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, errs.Canceled(err)
		}
		return nil, errs.FetchFailed(fmt.Sprintf("%s request failed", endpoint), err)
	}
	defer resp.Body.Close()

	c.observe(endpoint, resp.StatusCode, duration)
	logger.LogRequest(http.MethodGet, url, resp.StatusCode, duration)

	if err := c.checkResponseStatus(resp, endpoint); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Canceled(ctx.Err())
		}
		return nil, errs.FetchFailed("failed to read response body", err).WithCode(resp.StatusCode)
	}
	return body, nil
}

// checkResponseStatus maps a non-2xx status to the error taxonomy.
func (c *Client) checkResponseStatus(resp *http.Response, endpoint string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	fields := map[string]interface{}{
		"endpoint": endpoint,
		"status":   resp.StatusCode,
		"url":      resp.Request.URL.String(),
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.logger.WarnWithFields("authentication rejected", fields)
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.WarnWithFields("rate limit exceeded", fields)
	case resp.StatusCode >= 500:
		c.logger.ErrorWithFields("server error", fields)
	default:
		c.logger.DebugWithFields("unexpected API status", fields)
	}

	return errs.FromStatus(resp.StatusCode, fmt.Sprintf("%s returned status %d", endpoint, resp.StatusCode))
}

func (c *Client) decodeError(endpoint string, body []byte, err error) error {
	preview := string(body)
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
		"endpoint":     endpoint,
		"error":        err.Error(),
		"body_preview": preview,
	})
	return errs.FetchFailed(fmt.Sprintf("malformed %s response", endpoint), err)
}

func (c *Client) observe(endpoint string, status int, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRequest(endpoint, status, d)
	}
}
