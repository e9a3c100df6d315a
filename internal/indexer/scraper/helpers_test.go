package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/slipstream/scrapecore/internal/indexer/types"
)

const testDefinitionYAML = `
id: testsite
name: Test Site
links:
  - https://tracker.example/
auth:
  strategy: none
search:
  paths:
    default: 'browse?q={{ .Query | query }}&cats={{ .Categories }}'
    cache: 'browse?sort=seeders&q={{ .Query | query }}'
  categories:
    season: [41]
    episode: [22, 5]
    anime: [60]
  noresults:
    - '(?i)nothing found'
  table:
    selectors:
      - 'table#torrents'
    mincells: 5
  fields:
    seeders:
      column: seed
    leechers:
      column: leech
    size:
      column: size
    title:
      link: 'details\.php'
      attributes: [title]
    download:
      link: 'download\.php'
cache:
  tokens:
    - x264
`

func mustDefinition(t *testing.T, yaml string) *Definition {
	t.Helper()
	def, err := ParseDefinition([]byte(yaml))
	if err != nil {
		t.Fatalf("ParseDefinition() error = %v", err)
	}
	return def
}

func mustCompiled(t *testing.T, yaml string) *compiled {
	t.Helper()
	c, err := compileDefinition(mustDefinition(t, yaml))
	if err != nil {
		t.Fatalf("compileDefinition() error = %v", err)
	}
	return c
}

// resultsPage renders a results table in the layout of testDefinitionYAML.
func resultsPage(rows ...string) string {
	return `<html><head><title>Test Site</title></head><body>
<table id="torrents">
<tr><th>Type</th><th>Name</th><th>Size</th><th>Seeders</th><th>Leechers</th></tr>
` + strings.Join(rows, "\n") + `
</table></body></html>`
}

func resultRow(id int, title, size string, seeders, leechers int) string {
	return resultRowRaw(id, title, size, fmt.Sprint(seeders), fmt.Sprint(leechers))
}

func resultRowRaw(id int, title, size, seeders, leechers string) string {
	return fmt.Sprintf(`<tr><td>TV</td><td><a href="details.php?id=%[1]d" title="%[2]s">%[2]s...</a> <a href="download.php?id=%[1]d">DL</a></td><td>%[3]s</td><td>%[4]s</td><td>%[5]s</td></tr>`,
		id, title, size, seeders, leechers)
}

// fakeTransport serves pages from a handler and records every request.
type fakeTransport struct {
	mu       sync.Mutex
	handler  func(rawURL string, opts types.FetchOptions) string
	skipOn   int // 1-based fetch number from which shouldSkip is reported; 0 = never
	calls    []string
	forms    []url.Values
	cookies  []*http.Cookie
	imported string
}

func (f *fakeTransport) Fetch(_ context.Context, rawURL string, opts types.FetchOptions) (string, bool) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.forms = append(f.forms, opts.Form)
	n := len(f.calls)
	f.mu.Unlock()

	if f.skipOn > 0 && n >= f.skipOn {
		return "", true
	}
	if f.handler == nil {
		return "", false
	}
	return f.handler(rawURL, opts), false
}

func (f *fakeTransport) Cookies() []*http.Cookie {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cookies
}

func (f *fakeTransport) ImportCookies(raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imported = raw
	for name, value := range ParseCookieString(raw) {
		f.cookies = append(f.cookies, &http.Cookie{Name: name, Value: value})
	}
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []types.SearchEvent
}

func (o *recordingObserver) Record(_ context.Context, ev types.SearchEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func newTestProvider(t *testing.T, yaml string, settings Settings, tr *fakeTransport, opts ...Option) *Provider {
	t.Helper()
	p, err := NewProvider(mustDefinition(t, yaml), settings, tr, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	return p
}
