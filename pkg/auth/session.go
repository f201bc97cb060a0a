package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	errs "threadcrawl/pkg/errors"
	"threadcrawl/pkg/logger"
)

const (
	DefaultTokenURL      = "https://www.reddit.com/api/v1/access_token"
	DefaultRefreshMargin = 600 * time.Second

	cacheSeparator = ":::"
	defaultTTL     = time.Hour
)

// Session owns the bearer token of one account. It loads the token from the
// cache file, refreshes it before expiry and writes refreshed tokens back.
type Session struct {
	account   *Account
	tokenURL  string
	cachePath string
	margin    time.Duration
	client    *http.Client
	now       func() time.Time
	log       logger.Logger

	mu        sync.Mutex
	loaded    bool
	token     string
	expiresAt time.Time
}

// SessionOption configures a Session.
type SessionOption func(*Session)

func WithTokenURL(u string) SessionOption {
	return func(s *Session) {
		if u != "" {
			s.tokenURL = u
		}
	}
}

// WithTokenCache sets the credential cache file. An empty path disables
// the cache.
func WithTokenCache(path string) SessionOption {
	return func(s *Session) { s.cachePath = path }
}

func WithRefreshMargin(d time.Duration) SessionOption {
	return func(s *Session) {
		if d >= 0 {
			s.margin = d
		}
	}
}

func WithHTTPClient(c *http.Client) SessionOption {
	return func(s *Session) {
		if c != nil {
			s.client = c
		}
	}
}

func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

func WithSessionLogger(l logger.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// NewSession creates a session for account.
func NewSession(account *Account, opts ...SessionOption) *Session {
	s := &Session{
		account:   account,
		tokenURL:  DefaultTokenURL,
		cachePath: "token.txt",
		margin:    DefaultRefreshMargin,
		client:    &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
		log:       logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Headers returns the authorization and user agent headers, refreshing the
// token first when it is absent, unreadable or close to expiry.
func (s *Session) Headers(ctx context.Context) (http.Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		s.loadCache()
		s.loaded = true
	}

	if s.token == "" || !s.now().Add(s.margin).Before(s.expiresAt) {
		if err := s.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}

	h := make(http.Header)
	h.Set("Authorization", "bearer "+s.token)
	h.Set("User-Agent", s.userAgent())
	return h, nil
}

// Refresh fetches a new token unconditionally.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	return s.refreshLocked(ctx)
}

// ExpiresAt returns the expiry of the current token, zero when none.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

func (s *Session) userAgent() string {
	if s.account != nil && s.account.UserAgent != "" {
		return s.account.UserAgent
	}
	return "threadcrawl/1.0"
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
	Error       string `json:"error"`
}

func (s *Session) refreshLocked(ctx context.Context) error {
	if err := s.account.Validate(); err != nil {
		return errs.AuthFailed("incomplete credentials", err)
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", s.account.Username)
	form.Set("password", s.account.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errs.AuthFailed("failed to build token request", err)
	}
	req.SetBasicAuth(s.account.ClientID, s.account.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", s.userAgent())

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errs.Canceled(ctx.Err())
		}
		return errs.AuthFailed("token request failed", err)
	}
	defer resp.Body.Close()
	logger.LogRequest(req.Method, s.tokenURL, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.AuthFailed("failed to read token response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errs.AuthFailed(fmt.Sprintf("token endpoint returned %s", resp.Status), nil).WithCode(resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return errs.AuthFailed("failed to decode token response", err)
	}
	if tr.Error != "" {
		return errs.AuthFailed("token endpoint rejected credentials: "+tr.Error, nil)
	}
	if tr.AccessToken == "" {
		return errs.AuthFailed("token endpoint returned an empty token", nil)
	}

	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultTTL
	}
	s.token = tr.AccessToken
	s.expiresAt = s.now().Add(ttl)

	s.log.WithFields(map[string]interface{}{
		"username":   s.account.Username,
		"expires_at": s.expiresAt,
	}).Info("Obtained access token")

	if err := s.writeCache(); err != nil {
		s.log.WithError(err).Warn("Failed to write token cache, using in-memory token")
	}
	return nil
}

// loadCache reads "<expiry_epoch_s>:::<token>". Anything unreadable leaves
// the session without a token.
func (s *Session) loadCache() {
	if s.cachePath == "" {
		return
	}
	data, err := os.ReadFile(s.cachePath)
	if err != nil {
		return
	}
	token, expiresAt, ok := parseCache(strings.TrimSpace(string(data)))
	if !ok {
		s.log.Debug("Ignoring corrupt token cache")
		return
	}
	s.token = token
	s.expiresAt = expiresAt
}

func parseCache(raw string) (string, time.Time, bool) {
	expStr, token, ok := strings.Cut(raw, cacheSeparator)
	if !ok || token == "" {
		return "", time.Time{}, false
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return token, time.Unix(exp, 0), true
}

func (s *Session) writeCache() error {
	if s.cachePath == "" {
		return nil
	}
	if dir := filepath.Dir(s.cachePath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	content := strconv.FormatInt(s.expiresAt.Unix(), 10) + cacheSeparator + s.token
	return os.WriteFile(s.cachePath, []byte(content), 0600)
}
