package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/scrapecore/internal/indexer/ratelimit"
	"github.com/slipstream/scrapecore/internal/indexer/types"
)

type memoryCookieStore struct {
	mu      sync.Mutex
	cookies map[string]string
}

func (m *memoryCookieStore) GetCookies(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cookies[id], nil
}

func (m *memoryCookieStore) SaveCookies(_ context.Context, id, cookies string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cookies == nil {
		m.cookies = make(map[string]string)
	}
	m.cookies[id] = cookies
	return nil
}

func (m *memoryCookieStore) ClearCookies(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cookies, id)
	return nil
}

func newTestSession(t *testing.T, baseURL string, rl ratelimit.Config, store CookieStore) *Session {
	t.Helper()
	s, err := NewSession(Config{
		ProviderID:  "test",
		BaseURL:     baseURL,
		Timeout:     5 * time.Second,
		RateLimit:   rl,
		CookieStore: store,
	}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestSession_FetchGET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL+"/", ratelimit.Config{}, nil)
	body, skip := s.Fetch(context.Background(), srv.URL+"/search", types.FetchOptions{})

	assert.False(t, skip)
	assert.Equal(t, "<html>ok</html>", body)
}

func TestSession_FetchDecodesCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte{'c', 'a', 'f', 0xe9})
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL+"/", ratelimit.Config{}, nil)
	body, _ := s.Fetch(context.Background(), srv.URL, types.FetchOptions{})

	assert.Equal(t, "café", body)
}

func TestSession_FetchPostFormSavesCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "alice", r.PostForm.Get("tv_login"))
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		_, _ = w.Write([]byte("welcome"))
	}))
	defer srv.Close()

	store := &memoryCookieStore{}
	s := newTestSession(t, srv.URL+"/", ratelimit.Config{}, store)

	body, skip := s.Fetch(context.Background(), srv.URL+"/login", types.FetchOptions{Form: url.Values{"tv_login": {"alice"}}})
	require.False(t, skip)
	assert.Equal(t, "welcome", body)

	assert.Equal(t, "sid=abc", s.ExportCookies())
	saved, _ := store.GetCookies(context.Background(), "test")
	assert.Equal(t, "sid=abc", saved)
}

func TestSession_ImportCookiesSentOnRequests(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("uid"); err == nil {
			got = c.Value
		}
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL+"/", ratelimit.Config{}, nil)
	s.ImportCookies("uid=42; pass=secret")
	s.Fetch(context.Background(), srv.URL+"/t", types.FetchOptions{})

	assert.Equal(t, "42", got)
	assert.Len(t, s.Cookies(), 2)
}

func TestSession_RestoreCookies(t *testing.T) {
	store := &memoryCookieStore{cookies: map[string]string{"test": "uid=7"}}
	s := newTestSession(t, "https://example.org/", ratelimit.Config{}, store)

	assert.True(t, s.RestoreCookies(context.Background()))
	require.Len(t, s.Cookies(), 1)
	assert.Equal(t, "7", s.Cookies()[0].Value)

	require.NoError(t, s.ClearCookies(context.Background()))
	assert.False(t, s.RestoreCookies(context.Background()))
}

func TestSession_ShouldSkipAfterFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL+"/", ratelimit.Config{FailureThreshold: 2, Backoff: time.Hour}, nil)
	ctx := context.Background()

	body, skip := s.Fetch(ctx, srv.URL, types.FetchOptions{})
	assert.Empty(t, body)
	assert.False(t, skip)

	_, skip = s.Fetch(ctx, srv.URL, types.FetchOptions{})
	assert.True(t, skip)

	_, skip = s.Fetch(ctx, srv.URL, types.FetchOptions{})
	assert.True(t, skip)
	assert.Equal(t, 2, calls, "no request is made while backing off")
}

func TestSession_RateLimitedResponseSkips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL+"/", ratelimit.Config{FailureThreshold: 5, Backoff: time.Minute}, nil)
	body, skip := s.Fetch(context.Background(), srv.URL, types.FetchOptions{})

	assert.Empty(t, body)
	assert.True(t, skip)
	assert.True(t, s.LimiterStatus().Skipping)
}

func TestNewSession_InvalidBaseURL(t *testing.T) {
	_, err := NewSession(Config{ProviderID: "x", BaseURL: "not a url"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestParseCookieString(t *testing.T) {
	cookies := parseCookieString(" uid=1 ; pass = two; junk; =empty")
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name+"="+c.Value)
	}
	assert.Equal(t, "uid=1,pass=two", strings.Join(names, ","))
}
