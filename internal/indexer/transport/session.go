// Package transport performs provider HTTP requests with a persistent cookie
// session, request throttling and failure backoff.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html/charset"
	"golang.org/x/net/publicsuffix"

	"github.com/slipstream/scrapecore/internal/indexer/ratelimit"
	"github.com/slipstream/scrapecore/internal/indexer/types"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxBodyBytes     = 10 << 20
)

// CookieStore persists session cookies between process runs.
type CookieStore interface {
	GetCookies(ctx context.Context, providerID string) (string, error)
	SaveCookies(ctx context.Context, providerID, cookies string, expiresAt time.Time) error
	ClearCookies(ctx context.Context, providerID string) error
}

// Config configures a Session.
type Config struct {
	ProviderID  string
	BaseURL     string
	Timeout     time.Duration
	UserAgent   string
	RateLimit   ratelimit.Config
	CookieStore CookieStore
	// CookieTTL is how long saved cookies are kept.
	CookieTTL time.Duration
	// HTTPClient overrides the default client; its Jar is replaced.
	HTTPClient *http.Client
}

// Session is the fetch collaborator of one provider.
type Session struct {
	providerID string
	baseURL    *url.URL
	client     *http.Client
	jar        *cookiejar.Jar
	limiter    *ratelimit.Limiter
	store      CookieStore
	cookieTTL  time.Duration
	userAgent  string
	logger     zerolog.Logger
}

// NewSession creates a session with an empty cookie jar.
func NewSession(cfg Config, logger zerolog.Logger) (*Session, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	client.Jar = jar
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return fmt.Errorf("too many redirects")
		}
		return nil
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	ttl := cfg.CookieTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	logger = logger.With().Str("component", "transport").Str("provider", cfg.ProviderID).Logger()
	return &Session{
		providerID: cfg.ProviderID,
		baseURL:    base,
		client:     client,
		jar:        jar,
		limiter:    ratelimit.NewLimiter(cfg.RateLimit, logger),
		store:      cfg.CookieStore,
		cookieTTL:  ttl,
		userAgent:  userAgent,
		logger:     logger,
	}, nil
}

// Fetch performs a GET, or a form POST when opts.Form is set. A failed request
// returns an empty body. shouldSkip is true while the provider is backing off
// after repeated failures or a rate limited response.
func (s *Session) Fetch(ctx context.Context, rawURL string, opts types.FetchOptions) (string, bool) {
	if s.limiter.ShouldSkip() {
		return "", true
	}
	if err := s.limiter.Wait(ctx); err != nil {
		s.logger.Debug().Err(err).Str("url", rawURL).Msg("Request cancelled while waiting for rate limit")
		return "", false
	}

	body, status, err := s.do(ctx, rawURL, opts)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return "", false
		}
		s.logger.Warn().Err(err).Str("url", rawURL).Msg("Request failed")
		s.limiter.RecordFailure(false)
	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
		s.logger.Warn().Int("status", status).Str("url", rawURL).Msg("Provider is rate limiting")
		s.limiter.RecordFailure(true)
		body = ""
	case status >= 400:
		s.logger.Warn().Int("status", status).Str("url", rawURL).Msg("Request returned error status")
		s.limiter.RecordFailure(false)
		body = ""
	default:
		s.limiter.RecordSuccess()
		if opts.Form != nil {
			s.saveCookies(ctx)
		}
	}

	return body, s.limiter.ShouldSkip()
}

func (s *Session) do(ctx context.Context, rawURL string, opts types.FetchOptions) (string, int, error) {
	method := http.MethodGet
	var reqBody io.Reader = http.NoBody
	if opts.Form != nil {
		method = http.MethodPost
		reqBody = strings.NewReader(opts.Form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if opts.Form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if opts.Referer != "" {
		req.Header.Set("Referer", opts.Referer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	reader, err := charset.NewReader(io.LimitReader(resp.Body, maxBodyBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to decode body: %w", err)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to read body: %w", err)
	}

	s.logger.Trace().
		Str("method", method).
		Str("url", rawURL).
		Int("status", resp.StatusCode).
		Int("bytes", len(data)).
		Msg("Request completed")

	return string(data), resp.StatusCode, nil
}

// Cookies returns the session cookies for the provider base URL.
func (s *Session) Cookies() []*http.Cookie {
	return s.jar.Cookies(s.baseURL)
}

// ImportCookies sets cookies from a "name=value; name2=value2" string.
func (s *Session) ImportCookies(raw string) {
	cookies := parseCookieString(raw)
	if len(cookies) == 0 {
		return
	}
	s.jar.SetCookies(s.baseURL, cookies)
	s.logger.Debug().Int("cookies", len(cookies)).Msg("Imported session cookies")
}

// ExportCookies returns the session cookies as a "name=value; ..." string.
func (s *Session) ExportCookies() string {
	cookies := s.Cookies()
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// RestoreCookies loads persisted cookies, if any. It reports whether any were found.
func (s *Session) RestoreCookies(ctx context.Context) bool {
	if s.store == nil {
		return false
	}
	raw, err := s.store.GetCookies(ctx, s.providerID)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Failed to load cached cookies")
		return false
	}
	if raw == "" {
		return false
	}
	s.ImportCookies(raw)
	return true
}

// ClearCookies removes persisted cookies.
func (s *Session) ClearCookies(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.ClearCookies(ctx, s.providerID)
}

func (s *Session) saveCookies(ctx context.Context) {
	if s.store == nil {
		return
	}
	raw := s.ExportCookies()
	if raw == "" {
		return
	}
	if err := s.store.SaveCookies(ctx, s.providerID, raw, time.Now().Add(s.cookieTTL)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to save session cookies")
		return
	}
	s.logger.Debug().Msg("Saved session cookies for future use")
}

// LimiterStatus reports the backoff state of the provider.
func (s *Session) LimiterStatus() ratelimit.Status {
	return s.limiter.Status()
}

// ResetLimiter clears the failure streak and backoff window.
func (s *Session) ResetLimiter() {
	s.limiter.Reset()
}

func parseCookieString(raw string) []*http.Cookie {
	var cookies []*http.Cookie
	for _, pair := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: name, Value: strings.TrimSpace(value)})
	}
	return cookies
}
