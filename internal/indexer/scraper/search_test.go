package scraper

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/scrapecore/internal/indexer/definitions"
	"github.com/slipstream/scrapecore/internal/indexer/types"
)

func seeders(batch types.ResultBatch) []int {
	out := make([]int, 0, len(batch))
	for _, r := range batch {
		out = append(out, r.Seeders)
	}
	return out
}

func TestProvider_SearchSkipsOneMalformedRow(t *testing.T) {
	var rows []string
	for i := 1; i <= 9; i++ {
		rows = append(rows, resultRow(i, fmt.Sprintf("Show.S01E%02d", i), "1 GB", i, 1))
		if i == 4 {
			rows = append(rows, resultRowRaw(99, "Broken", "1 GB", "??", "x"))
		}
	}
	tr := &fakeTransport{handler: func(string, types.FetchOptions) string { return resultsPage(rows...) }}
	p := newTestProvider(t, testDefinitionYAML, Settings{}, tr)

	got := p.Search(t.Context(), types.SearchRequest{}.Add(types.ModeEpisode, "Show S01"))

	require.Len(t, got, 9)
	assert.Equal(t, []int{9, 8, 7, 6, 5, 4, 3, 2, 1}, seeders(got))
	for _, r := range got {
		assert.Equal(t, types.ModeEpisode, r.Mode)
		assert.Equal(t, "testsite", r.Provider)
	}
}

func TestProvider_SearchSortsAcrossModes(t *testing.T) {
	tr := &fakeTransport{handler: func(rawURL string, _ types.FetchOptions) string {
		if strings.Contains(rawURL, "cats=41") {
			return resultsPage(
				resultRow(1, "Show.S01.A", "1 GB", 50, 1),
				resultRow(2, "Show.S01.B", "1 GB", 5, 1),
			)
		}
		return resultsPage(
			resultRow(3, "Show.S01E01.A", "1 GB", 20, 1),
			resultRow(4, "Show.S01E01.B", "1 GB", 70, 1),
			resultRow(5, "Show.S01E01.C", "1 GB", 5, 1),
		)
	}}
	p := newTestProvider(t, testDefinitionYAML, Settings{}, tr)

	req := types.SearchRequest{}.
		Add(types.ModeSeason, "Show S01").
		Add(types.ModeEpisode, "Show S01E01")
	got := p.Search(t.Context(), req)

	require.Len(t, got, 5)
	assert.Equal(t, []int{70, 50, 20, 5, 5}, seeders(got))
	// Equal seeders keep encounter order: the Season record came first.
	assert.Equal(t, "Show.S01.B", got[3].Title)
	assert.Equal(t, "Show.S01E01.C", got[4].Title)
}

func TestProvider_SearchHeaderOnlyTableHalts(t *testing.T) {
	obs := &recordingObserver{}
	tr := &fakeTransport{handler: func(string, types.FetchOptions) string { return resultsPage() }}
	p := newTestProvider(t, testDefinitionYAML, Settings{}, tr, WithObserver(obs))

	got := p.Search(t.Context(), types.SearchRequest{}.Add(types.ModeEpisode, "a", "b"))

	assert.Empty(t, got)
	assert.NotNil(t, got)
	assert.Equal(t, 2, tr.callCount(), "a halted token does not stop the next one")
	require.Len(t, obs.events, 2)
	assert.Equal(t, types.OutcomeHalted, obs.events[0].Outcome)
	assert.Empty(t, obs.events[0].Error)
}

const selectorOnlyDefinitionYAML = `
id: selectoronly
name: Selector Only
links:
  - https://tracker.example/
auth:
  strategy: none
search:
  paths:
    default: 'browse?q={{ .Query | query }}'
  table:
    selectors:
      - 'table#t'
  fields:
    seeders:
      selector: td.s
    title:
      link: 'details\.php'
    download:
      link: 'download\.php'
`

func selectorOnlyRow(id, seeders int) string {
	return fmt.Sprintf(`<tr><td><a href="details.php?id=%[1]d">Show.%[1]d</a> <a href="download.php?id=%[1]d">DL</a></td><td class="s">%[2]d</td></tr>`, id, seeders)
}

func TestProvider_SearchSelectorOnlyTableRowCount(t *testing.T) {
	tests := []struct {
		name    string
		rows    []string
		want    int
		outcome types.Outcome
	}{
		{"single row halts", []string{selectorOnlyRow(1, 5)}, 0, types.OutcomeHalted},
		{"two rows parse", []string{selectorOnlyRow(1, 5), selectorOnlyRow(2, 9)}, 2, types.OutcomeOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := `<html><body><table id="t">` + strings.Join(tt.rows, "") + `</table></body></html>`
			obs := &recordingObserver{}
			tr := &fakeTransport{handler: func(string, types.FetchOptions) string { return page }}
			p := newTestProvider(t, selectorOnlyDefinitionYAML, Settings{}, tr, WithObserver(obs))

			got := p.Search(t.Context(), types.SearchRequest{}.Add(types.ModeEpisode, "Show"))

			assert.Len(t, got, tt.want)
			require.Len(t, obs.events, 1)
			assert.Equal(t, tt.outcome, obs.events[0].Outcome)
		})
	}
}

func TestProvider_SearchHaltConditions(t *testing.T) {
	pages := map[string]string{
		"empty":      "",
		"no results": "<html><body>Nothing found for your search</body></html>",
		"no table":   "<html><body><p>maintenance</p></body></html>",
	}
	for name, body := range pages {
		t.Run(name, func(t *testing.T) {
			obs := &recordingObserver{}
			tr := &fakeTransport{handler: func(string, types.FetchOptions) string { return body }}
			p := newTestProvider(t, testDefinitionYAML, Settings{}, tr, WithObserver(obs))

			got := p.Search(t.Context(), types.SearchRequest{}.Add(types.ModeSeason, "x"))

			assert.Empty(t, got)
			require.Len(t, obs.events, 1)
			assert.Equal(t, types.OutcomeHalted, obs.events[0].Outcome)
		})
	}
}

func TestProvider_SearchUnauthorisedStopsImmediately(t *testing.T) {
	obs := &recordingObserver{}
	tr := &fakeTransport{
		cookies: nil,
		handler: func(string, types.FetchOptions) string {
			return `<html><title>IPTorrents</title><form><input type="password"></form></html>`
		},
	}
	p := newTestProvider(t, mustReadBuiltin(t, "iptorrents"), Settings{Values: map[string]string{"digest": "uid=1; pass=abc"}}, tr, WithObserver(obs))

	req := types.SearchRequest{}.
		Add(types.ModeEpisode, "Show S01E01", "Show S01E02").
		Add(types.ModeSeason, "Show S01")
	got := p.Search(t.Context(), req)

	assert.Empty(t, got)
	assert.Equal(t, 1, tr.callCount(), "only the authentication probe is fetched")
	require.Len(t, obs.events, 1)
	assert.Equal(t, types.OutcomeUnauthorized, obs.events[0].Outcome)
}

func TestProvider_ImportsDigestCookies(t *testing.T) {
	tr := &fakeTransport{}
	newTestProvider(t, mustReadBuiltin(t, "iptorrents"), Settings{Values: map[string]string{"digest": "uid=1; pass=abc"}}, tr)

	assert.Equal(t, "uid=1; pass=abc", tr.imported)
	assert.Len(t, tr.Cookies(), 2)
}

func TestProvider_SearchBackpressureReturnsPartialResults(t *testing.T) {
	tr := &fakeTransport{
		skipOn: 2,
		handler: func(string, types.FetchOptions) string {
			return resultsPage(resultRow(1, "Show.S01E01", "1 GB", 10, 1))
		},
	}
	p := newTestProvider(t, testDefinitionYAML, Settings{}, tr)

	req := types.SearchRequest{}.
		Add(types.ModeEpisode, "one", "two", "three").
		Add(types.ModeSeason, "four")
	got := p.Search(t.Context(), req)

	require.Len(t, got, 1)
	assert.Equal(t, 2, tr.callCount(), "no request after the transport asked to skip")
}

func TestProvider_SearchRecoversFromPanics(t *testing.T) {
	obs := &recordingObserver{}
	calls := 0
	tr := &fakeTransport{handler: func(string, types.FetchOptions) string {
		calls++
		return resultsPage(resultRow(calls, fmt.Sprintf("Show.%d", calls), "1 GB", calls, 1))
	}}
	p := newTestProvider(t, testDefinitionYAML, Settings{}, tr, WithObserver(obs))

	broken := true
	p.extractor.resolve = func(href string) string {
		if broken {
			broken = false
			panic("unexpected markup")
		}
		return ResolveLink(p.c.baseURL, href)
	}

	got := p.Search(t.Context(), types.SearchRequest{}.Add(types.ModeEpisode, "first", "second"))

	require.Len(t, got, 1)
	assert.Equal(t, "Show.2", got[0].Title)
	require.Len(t, obs.events, 2)
	assert.Equal(t, types.OutcomeFailed, obs.events[0].Outcome)
	assert.Contains(t, obs.events[0].Error, "unexpected markup")
	assert.Equal(t, types.OutcomeOK, obs.events[1].Outcome)
	assert.Equal(t, 1, obs.events[1].Added)
}

func TestProvider_SearchRejectsBelowMinSeed(t *testing.T) {
	tr := &fakeTransport{handler: func(string, types.FetchOptions) string {
		return resultsPage(
			resultRow(1, "Show.A", "1 GB", 1, 0),
			resultRow(2, "Show.B", "1 GB", 10, 0),
		)
	}}
	p := newTestProvider(t, testDefinitionYAML, Settings{MinSeed: 5}, tr)

	got := p.Search(t.Context(), types.SearchRequest{}.Add(types.ModeEpisode, "Show"))

	require.Len(t, got, 1)
	assert.Equal(t, "Show.B", got[0].Title)
}

func TestProvider_SearchCancelledContext(t *testing.T) {
	tr := &fakeTransport{handler: func(string, types.FetchOptions) string { return resultsPage() }}
	p := newTestProvider(t, testDefinitionYAML, Settings{}, tr)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	got := p.Search(ctx, types.SearchRequest{}.Add(types.ModeEpisode, "a", "b"))

	assert.Empty(t, got)
	assert.Zero(t, tr.callCount())
}

func TestProvider_CacheSearch(t *testing.T) {
	tr := &fakeTransport{handler: func(string, types.FetchOptions) string {
		return resultsPage(resultRow(1, "Show.S01E01.x264", "1 GB", 10, 1))
	}}
	p := newTestProvider(t, testDefinitionYAML, Settings{}, tr)

	got := p.CacheSearch(t.Context())

	require.Len(t, got, 1)
	assert.Equal(t, types.ModeCache, got[0].Mode)
	assert.Equal(t, []string{"https://tracker.example/browse?sort=seeders&q=x264"}, tr.calls)
}

func TestProvider_DetailStage(t *testing.T) {
	searchPage := `<html><body>
<a href="show?id=11&amp;x=1">Show Name</a>
<a href="show?id=12&amp;x=1">Other Show</a>
<a href="show?id=11&amp;x=1">Show Name</a>
</body></html>`
	detailPage := func(id string, seed int) string {
		return fmt.Sprintf(`<table><tbody>
<tr><td>Added</td><td>Show</td><td>Name</td><td>Seeders / Leechers</td></tr>
<tr><td>today</td><td>x</td><td>Show.Name.S01E01.%[1]s</td><td>700MB :%[2]d / :1</td><td><a href="load_torrent?id=%[1]s">get</a></td></tr>
</tbody></table>`, id, seed)
	}

	tr := &fakeTransport{handler: func(rawURL string, opts types.FetchOptions) string {
		switch {
		case strings.Contains(rawURL, "rss_feeds"):
			return "<html>feeds</html>"
		case strings.Contains(rawURL, "search?"):
			return searchPage
		case strings.Contains(rawURL, "show?id=11"):
			return detailPage("11", 8)
		}
		return ""
	}}
	p := newTestProvider(t, mustReadBuiltin(t, "shazbat"), Settings{}, tr, WithDetailDelay(0))

	got := p.Search(t.Context(), types.SearchRequest{}.Add(types.ModeEpisode, "Show Name S01E01"))

	require.Len(t, got, 1)
	assert.Equal(t, "Show.Name.S01E01.11", got[0].Title)
	assert.Equal(t, 8, got[0].Seeders)
	assert.Equal(t, "https://www.shazbat.tv/load_torrent?id=11", got[0].DownloadURL)
	assert.Equal(t, []string{
		"https://www.shazbat.tv/rss_feeds",
		"https://www.shazbat.tv/search?portlet=true&search=Show+Name+S01E01",
		"https://www.shazbat.tv/show?id=11&show_mode=torrents",
	}, tr.calls)
}

func TestProvider_PerModeAuthPolicy(t *testing.T) {
	yaml := strings.Replace(testDefinitionYAML, "auth:\n  strategy: none", `auth:
  strategy: form
  policy: per_mode
  probe: account
  loginmarker: 'name="password"'
  login:
    path: login`, 1)
	tr := &fakeTransport{handler: func(rawURL string, _ types.FetchOptions) string {
		if strings.HasSuffix(rawURL, "/account") {
			return "<html>account</html>"
		}
		return resultsPage(resultRow(1, "Show", "1 GB", 3, 1))
	}}
	p := newTestProvider(t, yaml, Settings{}, tr)

	p.Search(t.Context(), types.SearchRequest{}.Add(types.ModeSeason, "a").Add(types.ModeEpisode, "b"))

	probes := 0
	for _, u := range tr.calls {
		if strings.HasSuffix(u, "/account") {
			probes++
		}
	}
	assert.Equal(t, 2, probes)
	assert.Equal(t, 4, tr.callCount())
}

func TestProvider_Info(t *testing.T) {
	p := newTestProvider(t, testDefinitionYAML, Settings{MinSeed: 2, Freeleech: true}, &fakeTransport{})

	info := p.Info()
	assert.Equal(t, "testsite", info.ID)
	assert.Equal(t, "Test Site", info.Name)
	assert.Equal(t, "https://tracker.example/", info.BaseURL)
	assert.Equal(t, AuthNone, info.AuthStrategy)
	assert.Equal(t, 2, info.MinSeed)
	assert.True(t, info.Freeleech)
}

func TestNewProvider_RejectsInvalidDefinition(t *testing.T) {
	def := mustDefinition(t, "id: nothing\n")
	_, err := NewProvider(def, Settings{}, &fakeTransport{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrConfig)
}

func mustReadBuiltin(t *testing.T, id string) string {
	t.Helper()
	data, err := definitions.Read(id)
	require.NoError(t, err)
	return string(data)
}

func TestMultiObserver(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	obs := MultiObserver(a, nil, b)
	obs.Record(context.Background(), types.SearchEvent{Provider: "x"})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("events = %d/%d, want 1/1", len(a.events), len(b.events))
	}
}
