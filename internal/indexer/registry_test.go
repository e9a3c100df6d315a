package indexer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/scrapecore/internal/config"
	"github.com/slipstream/scrapecore/internal/indexer/types"
)

const openSiteYAML = `
id: OpenSite
name: Open Site
links:
  - %s/
search:
  paths:
    default: 'browse?q={{ .Query | query }}'
  table:
    selectors: ['table#torrents']
    mincells: 4
  fields:
    seeders: {column: seed}
    leechers: {column: leech}
    size: {column: size}
    title:
      link: 'details'
    download:
      link: 'download'
cache:
  tokens: [x264]
`

const formSiteYAML = `
id: formsite
name: Form Site
links:
  - %s/
auth:
  strategy: form
  probe: rss
  loginmarker: 'name="login"'
  identity: 'Form Site'
  login:
    path: login
    inputs:
      user: '{{ .Config.username }}'
      pass: '{{ .Config.password }}'
search:
  paths:
    default: 'browse?q={{ .Query | query }}'
  table:
    selectors: ['table#torrents']
    mincells: 4
  fields:
    seeders: {column: seed}
    leechers: {column: leech}
    size: {column: size}
    title:
      link: 'details'
    download:
      link: 'download'
`

const resultsHTML = `<html><body><p>Form Site</p><table id="torrents">
<tr><th>Name</th><th>Size</th><th>Seeders</th><th>Leechers</th></tr>
<tr><td><a href="details?id=1">Show.S01E01.720p</a> <a href="download?id=1">dl</a></td><td>1.5 GB</td><td>3</td><td>1</td></tr>
<tr><td><a href="details?id=2">Show.S01E01.1080p</a> <a href="download?id=2">dl</a></td><td>4 GB</td><td>40</td><td>2</td></tr>
<tr><td><a href="details?id=3">Show.S01E01.dead</a> <a href="download?id=3">dl</a></td><td>1 GB</td><td>0</td><td>0</td></tr>
</table></body></html>`

type recordingObserver struct {
	mu     sync.Mutex
	events []types.SearchEvent
}

func (o *recordingObserver) Record(_ context.Context, e types.SearchEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func writeDefinition(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func testConfig(dir string, providers map[string]config.ProviderConfig) *config.Config {
	cfg := config.Default()
	cfg.Scraper.DefinitionsDir = dir
	cfg.Scraper.RequestsPerSecond = 0
	cfg.Providers = providers
	return cfg
}

func TestRegistry_SearchCustomDefinition(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("q"))
		mu.Unlock()
		_, _ = w.Write([]byte(resultsHTML))
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeDefinition(t, dir, "opensite.yml", fmt.Sprintf(openSiteYAML, srv.URL))

	obs := &recordingObserver{}
	reg, err := NewRegistry(context.Background(), testConfig(dir, map[string]config.ProviderConfig{
		"opensite": {Enabled: true, MinSeed: 1},
	}), Deps{Observer: obs}, zerolog.Nop())
	require.NoError(t, err)

	batch, err := reg.Search(context.Background(), "OPENSITE", types.SearchRequest{}.Add(types.ModeEpisode, "Show S01E01"))
	require.NoError(t, err)

	require.Len(t, batch, 2)
	assert.Equal(t, "Show.S01E01.1080p", batch[0].Title)
	assert.Equal(t, 40, batch[0].Seeders)
	assert.Equal(t, srv.URL+"/download?id=2", batch[0].DownloadURL)
	assert.Equal(t, "OpenSite", batch[0].Provider)
	mu.Lock()
	assert.Equal(t, []string{"Show S01E01"}, queries)
	mu.Unlock()

	require.Len(t, obs.events, 1)
	assert.Equal(t, types.OutcomeOK, obs.events[0].Outcome)
	assert.Equal(t, 2, obs.events[0].Added)

	cache, err := reg.CacheSearch(context.Background(), "opensite")
	require.NoError(t, err)
	assert.Len(t, cache, 2)
	assert.Equal(t, types.ModeCache, cache[0].Mode)
}

func TestRegistry_FormLoginPersistsCookies(t *testing.T) {
	var logins atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loggedIn := false
		if c, err := r.Cookie("sid"); err == nil && c.Value == "ok" {
			loggedIn = true
		}
		switch r.URL.Path {
		case "/login":
			logins.Add(1)
			_ = r.ParseForm()
			if r.PostForm.Get("user") == "alice" && r.PostForm.Get("pass") == "secret" {
				http.SetCookie(w, &http.Cookie{Name: "sid", Value: "ok", Path: "/"})
			}
			_, _ = w.Write([]byte("<html>Form Site</html>"))
		case "/rss", "/browse":
			if !loggedIn {
				_, _ = w.Write([]byte(`<html><form name="login"></form></html>`))
				return
			}
			if r.URL.Path == "/rss" {
				_, _ = w.Write([]byte("<html>Form Site feed</html>"))
				return
			}
			_, _ = w.Write([]byte(resultsHTML))
		}
	}))
	defer srv.Close()

	db := openTestDB(t)
	store, err := NewCookieStore(context.Background(), db.Conn(), "cookie-secret")
	require.NoError(t, err)

	dir := t.TempDir()
	writeDefinition(t, dir, "formsite.yaml", fmt.Sprintf(formSiteYAML, srv.URL))
	cfg := testConfig(dir, map[string]config.ProviderConfig{
		"formsite": {Enabled: true, Username: "alice", Password: "secret"},
	})

	reg, err := NewRegistry(context.Background(), cfg, Deps{CookieStore: store}, zerolog.Nop())
	require.NoError(t, err)

	batch, err := reg.Search(context.Background(), "formsite", types.SearchRequest{}.Add(types.ModeEpisode, "Show"))
	require.NoError(t, err)
	assert.Len(t, batch, 3)
	assert.Equal(t, int32(1), logins.Load())

	saved, err := store.GetCookies(context.Background(), "formsite")
	require.NoError(t, err)
	assert.Equal(t, "sid=ok", saved)

	// A new registry restores the session without logging in again.
	reg2, err := NewRegistry(context.Background(), cfg, Deps{CookieStore: store}, zerolog.Nop())
	require.NoError(t, err)
	batch, err = reg2.Search(context.Background(), "formsite", types.SearchRequest{}.Add(types.ModeEpisode, "Show"))
	require.NoError(t, err)
	assert.Len(t, batch, 3)
	assert.Equal(t, int32(1), logins.Load())

	require.NoError(t, reg2.ResetSession(context.Background(), "FormSite"))
	saved, _ = store.GetCookies(context.Background(), "formsite")
	assert.Empty(t, saved)
}

func TestRegistry_Lookup(t *testing.T) {
	reg, err := NewRegistry(context.Background(), testConfig("", map[string]config.ProviderConfig{
		"skytorrents": {Enabled: true},
		"shazbat":     {Enabled: false},
	}), Deps{}, zerolog.Nop())
	require.NoError(t, err)

	p, err := reg.Get("SkyTorrents")
	require.NoError(t, err)
	assert.Equal(t, "skytorrents", strings.ToLower(p.ID()))

	_, err = reg.Get("shazbat")
	assert.True(t, errors.Is(err, ErrProviderNotFound))

	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, "none", list[0].AuthStrategy)
	assert.False(t, list[0].Limiter.Skipping)

	_, err = reg.Search(context.Background(), "skytorrents", types.SearchRequest{{Mode: "Daily", Tokens: []string{"x"}}})
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	_, err = reg.CacheSearch(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrProviderNotFound))
}

func TestRegistry_ConfigErrors(t *testing.T) {
	_, err := NewRegistry(context.Background(), testConfig("", map[string]config.ProviderConfig{
		"nosuchsite": {Enabled: true},
	}), Deps{}, zerolog.Nop())
	assert.True(t, errors.Is(err, ErrProviderNotFound))

	dir := t.TempDir()
	writeDefinition(t, dir, "broken.yml", "id: broken\nlinks: [https://b.example/]\nsearch:\n  noresults: ['(']\n")
	_, err = NewRegistry(context.Background(), testConfig(dir, map[string]config.ProviderConfig{
		"broken": {Enabled: true},
	}), Deps{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestLoadCatalog(t *testing.T) {
	builtin, err := LoadCatalog("", zerolog.Nop())
	require.NoError(t, err)
	ids := make([]string, 0)
	for _, m := range builtin.List() {
		ids = append(ids, strings.ToLower(m.ID))
		assert.False(t, m.IsCustom)
	}
	assert.Equal(t, []string{"iptorrents", "shazbat", "skytorrents"}, ids)

	dir := t.TempDir()
	writeDefinition(t, dir, "sky.yml", "id: SkyTorrents\nname: Sky Mirror\nlinks: [https://mirror.example/]\n")
	writeDefinition(t, dir, "notes.txt", "ignored")
	custom, err := LoadCatalog(dir, zerolog.Nop())
	require.NoError(t, err)

	def, ok := custom.Get("skytorrents")
	require.True(t, ok)
	assert.Equal(t, "Sky Mirror", def.Name)
	assert.Len(t, custom.List(), 3)

	missing, err := LoadCatalog(filepath.Join(dir, "absent"), zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, missing.List(), 3)

	writeDefinition(t, dir, "noid.yml", "name: nameless\n")
	_, err = LoadCatalog(dir, zerolog.Nop())
	assert.Error(t, err)
}
