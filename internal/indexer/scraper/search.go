package scraper

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/slipstream/scrapecore/internal/indexer/types"
)

// Fetcher performs HTTP requests for a provider. A failed request yields an
// empty body; shouldSkip asks the caller to stop issuing requests for the
// rest of the invocation.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts types.FetchOptions) (body string, shouldSkip bool)
}

// Transport is a Fetcher that owns the provider's session cookies.
type Transport interface {
	Fetcher
	Cookies() []*http.Cookie
}

// cookieImporter is implemented by transports that can be seeded with a
// cookie digest from settings.
type cookieImporter interface {
	ImportCookies(raw string)
}

// Observer receives one event per (mode, token) step.
type Observer interface {
	Record(ctx context.Context, event types.SearchEvent)
}

// Settings is the per-provider configuration supplied at construction.
type Settings struct {
	MinSeed   int
	MinLeech  int
	Freeleech bool
	Anime     bool
	// Values is exposed to templates as .Config (credentials, digest).
	Values map[string]string
}

// Option configures a Provider.
type Option func(*Provider)

// WithObserver reports every search step to o.
func WithObserver(o Observer) Option {
	return func(p *Provider) { p.observer = o }
}

// WithDetailDelay overrides the pause between consecutive detail fetches.
func WithDetailDelay(d time.Duration) Option {
	return func(p *Provider) { p.detailDelay = d }
}

// Provider runs the search pipeline for one site. Search calls on the same
// Provider are serialized; per-invocation state lives in a run.
type Provider struct {
	c           *compiled
	settings    Settings
	transport   Transport
	guard       *AuthGuard
	query       *QueryBuilder
	extractor   *RowExtractor
	header      HeaderResolver
	observer    Observer
	detailDelay time.Duration
	logger      zerolog.Logger

	mu sync.Mutex
}

// NewProvider validates def and binds it to a transport and settings.
func NewProvider(def *Definition, settings Settings, transport Transport, logger zerolog.Logger, opts ...Option) (*Provider, error) {
	c, err := compileDefinition(def)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, configError(def.ID, "no transport", nil)
	}

	values := make(map[string]string, len(settings.Values))
	for k, v := range settings.Values {
		values[k] = v
	}
	settings.Values = values

	logger = logger.With().Str("provider", def.ID).Logger()
	p := &Provider{
		c:         c,
		settings:  settings,
		transport: transport,
		guard:     newAuthGuard(c, values, transport, logger),
		query:     newQueryBuilder(c, settings),
		extractor: newRowExtractor(c, RejectionFilter{MinSeed: settings.MinSeed, MinLeech: settings.MinLeech}),
		header:    NewHeaderResolver(c.strip),
		logger:    logger,
	}
	if dt := def.Search.Detail; dt != nil {
		p.detailDelay = dt.Delay
	}
	for _, opt := range opts {
		opt(p)
	}

	if def.AuthStrategy() == AuthCookie && def.Auth.DigestSetting != "" {
		if imp, ok := transport.(cookieImporter); ok {
			if raw := values[def.Auth.DigestSetting]; raw != "" {
				imp.ImportCookies(raw)
			}
		}
	}
	return p, nil
}

// ID returns the definition id.
func (p *Provider) ID() string {
	return p.c.def.ID
}

// Info describes the provider for listings.
func (p *Provider) Info() types.ProviderInfo {
	return types.ProviderInfo{
		ID:           p.c.def.ID,
		Name:         p.c.def.Name,
		BaseURL:      p.c.baseURL,
		AuthStrategy: p.c.def.AuthStrategy(),
		MinSeed:      p.settings.MinSeed,
		MinLeech:     p.settings.MinLeech,
		Freeleech:    p.settings.Freeleech,
	}
}

// CacheTokens returns the provider-default tokens searched by CacheSearch.
func (p *Provider) CacheTokens() []string {
	if len(p.c.def.Cache.Tokens) == 0 {
		return []string{""}
	}
	return append([]string(nil), p.c.def.Cache.Tokens...)
}

// CacheSearch searches the provider-default tokens under the Cache mode.
func (p *Provider) CacheSearch(ctx context.Context) types.ResultBatch {
	return p.Search(ctx, types.SearchRequest{}.Add(types.ModeCache, p.CacheTokens()...))
}

// Search processes the request modes in order and returns every admitted
// record sorted by descending seeders. It never fails: unusable pages and rows
// are skipped, and an authentication failure, transport backpressure or
// cancellation returns what has been accumulated so far.
func (p *Provider) Search(ctx context.Context, req types.SearchRequest) types.ResultBatch {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := &run{
		p:      p,
		id:     uuid.NewString(),
		result: types.ResultBatch{},
	}
	r.logger = p.logger.With().Str("run", r.id).Logger()
	r.execute(ctx, req)
	return r.result
}

// run holds the state of a single Search invocation.
type run struct {
	p          *Provider
	id         string
	logger     zerolog.Logger
	result     types.ResultBatch
	authorised bool
}

func (r *run) execute(ctx context.Context, req types.SearchRequest) {
	policy := r.p.c.authPolicy()

	for _, mt := range req {
		if !mt.Mode.Valid() {
			r.logger.Warn().Str("mode", string(mt.Mode)).Msg("Ignoring unknown search mode")
			continue
		}
		if len(mt.Tokens) == 0 {
			continue
		}

		if policy != AuthPolicyPerPage && (!r.authorised || policy == AuthPolicyPerMode) {
			if err := r.authorise(ctx, mt.Mode); err != nil {
				return
			}
		}

		var bucket types.ResultBatch
		var stop error
		for _, token := range mt.Tokens {
			if err := ctx.Err(); err != nil {
				stop = err
				break
			}
			records, err := r.step(ctx, mt.Mode, token)
			bucket = append(bucket, records...)
			if err != nil {
				stop = err
				break
			}
		}

		r.merge(bucket)
		if stop != nil {
			r.logger.Debug().Err(stop).Str("mode", string(mt.Mode)).Msg("Search stopped early")
			return
		}
	}
}

// merge appends a finished mode bucket and re-sorts the whole batch.
func (r *run) merge(bucket types.ResultBatch) {
	if len(bucket) == 0 {
		return
	}
	r.result = append(r.result, bucket...)
	sort.SliceStable(r.result, func(i, j int) bool {
		return r.result[i].Seeders > r.result[j].Seeders
	})
}

func (r *run) authorise(ctx context.Context, mode types.SearchMode) error {
	start := time.Now()
	res := r.p.guard.Authorised(ctx)
	switch {
	case res.Skip:
		r.logger.Warn().Str("mode", string(mode)).Msg("Transport asked to skip during authentication")
		r.record(ctx, mode, "", "", types.OutcomeSkipped, 0, start, ErrBackpressure)
		return ErrBackpressure
	case !res.OK:
		r.logger.Warn().Str("mode", string(mode)).Str("reason", res.Reason).Msg("Provider session is not authorised")
		err := &Error{Code: ErrCodeUnauthorized, Provider: r.p.ID(), Message: res.Reason}
		r.record(ctx, mode, "", "", types.OutcomeUnauthorized, 0, start, err)
		return err
	}
	r.authorised = true
	return nil
}

// step runs Building -> Fetching -> Parsing for one token. A non-nil error
// ends the whole invocation.
func (r *run) step(ctx context.Context, mode types.SearchMode, token string) (types.ResultBatch, error) {
	start := time.Now()
	p := r.p
	logger := r.logger.With().Str("mode", string(mode)).Str("token", token).Logger()

	searchURL, err := p.query.Build(mode, token)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build search URL")
		r.record(ctx, mode, token, "", types.OutcomeFailed, 0, start, err)
		return nil, nil
	}

	body, skip := p.transport.Fetch(ctx, searchURL, types.FetchOptions{})
	if skip {
		logger.Warn().Str("url", searchURL).Msg("Transport asked to skip, returning partial results")
		r.record(ctx, mode, token, searchURL, types.OutcomeSkipped, 0, start, ErrBackpressure)
		return nil, ErrBackpressure
	}

	if p.c.authPolicy() == AuthPolicyPerPage && strings.TrimSpace(body) != "" {
		if res := p.guard.Evaluate(body); !res.OK {
			logger.Warn().Str("reason", res.Reason).Msg("Provider session is not authorised")
			err := &Error{Code: ErrCodeUnauthorized, Provider: p.ID(), Message: res.Reason}
			r.record(ctx, mode, token, searchURL, types.OutcomeUnauthorized, 0, start, err)
			return nil, err
		}
	}

	if p.c.detailApplies(mode) && strings.TrimSpace(body) != "" {
		body, skip = r.detail(ctx, mode, token, body)
		if skip {
			logger.Warn().Str("url", searchURL).Msg("Transport asked to skip during detail stage")
			r.record(ctx, mode, token, searchURL, types.OutcomeSkipped, 0, start, ErrBackpressure)
			return nil, ErrBackpressure
		}
	}

	records, err := r.parse(body, logger)
	switch {
	case IsHalt(err):
		logger.Debug().Err(err).Str("url", searchURL).Msg("Nothing to parse")
		r.record(ctx, mode, token, searchURL, types.OutcomeHalted, 0, start, nil)
		return nil, nil
	case err != nil:
		ev := logger.Error().Err(err).Str("url", searchURL)
		var se *Error
		if errors.As(err, &se) && len(se.Stack) > 0 {
			ev = ev.Str("stack", string(se.Stack))
		}
		ev.Msg("Failed to parse search results")
		r.record(ctx, mode, token, searchURL, types.OutcomeFailed, 0, start, err)
		return nil, nil
	}

	for i := range records {
		records[i].Mode = mode
		records[i].Provider = p.ID()
	}
	logger.Info().Str("url", searchURL).Int("added", len(records)).Msg("Search finished")
	r.record(ctx, mode, token, searchURL, types.OutcomeOK, len(records), start, nil)
	return records, nil
}

// parse turns a fetched page into admitted records. Panics are recovered
// here so a markup change degrades one token instead of the whole search.
func (r *run) parse(body string, logger zerolog.Logger) (records types.ResultBatch, err error) {
	p := r.p
	defer func() {
		if rec := recover(); rec != nil {
			records = nil
			err = &Error{
				Code:     ErrCodeParse,
				Provider: p.ID(),
				Message:  fmt.Sprintf("panic: %v", rec),
				Stack:    debug.Stack(),
			}
		}
	}()

	if strings.TrimSpace(body) == "" {
		return nil, haltf("empty page")
	}
	for _, re := range p.c.noResults {
		if re.MatchString(body) {
			return nil, haltf("no results signature %s", re)
		}
	}

	doc, err := NewHTMLSelector(body)
	if err != nil {
		return nil, &Error{Code: ErrCodeParse, Provider: p.ID(), Message: "unreadable page", Cause: err}
	}
	tb := p.c.def.Search.Table
	table := doc.Table(tb.Selectors, tb.Multiple)
	if table == nil {
		return nil, haltf("results table not found")
	}

	rows := Rows(table, tb.Rows)
	if len(rows) < 2 {
		return nil, haltf("results table has %d rows", len(rows))
	}
	first := tb.Skip
	var head HeaderMap
	if p.usesColumns() {
		headerRow, idx := HeaderRow(rows)
		if headerRow == nil {
			return nil, haltf("results table has no header row")
		}
		head = p.header.Resolve(HeaderLabels(headerRow))
		if idx+1 > first {
			first = idx + 1
		}
	}
	if len(rows) <= first {
		return nil, haltf("results table has no data rows")
	}

	var failures []error
	for _, row := range rows[first:] {
		rec, admitted, xerr := p.extractor.Extract(row, head)
		if xerr != nil {
			failures = append(failures, xerr)
			continue
		}
		if admitted {
			records = append(records, rec)
		}
	}

	if len(failures) > 0 {
		logger.Trace().Int("skipped", len(failures)).Err(errors.Join(failures...)).Msg("Skipped unusable rows")
	}
	return records, nil
}

func (p *Provider) usesColumns() bool {
	f := p.c.def.Search.Fields
	for _, v := range []*ValueField{f.Seeders, f.Leechers, f.Size} {
		if v != nil && v.Column != "" {
			return true
		}
	}
	return f.Stats != nil && f.Stats.Column != ""
}

// detail follows the show links of a search page whose title occurs in the
// token and concatenates the fetched detail pages. A page without show links
// is returned unchanged.
func (r *run) detail(ctx context.Context, mode types.SearchMode, token, body string) (string, bool) {
	p := r.p
	needle := token
	if unq, err := url.QueryUnescape(token); err == nil {
		needle = unq
	}
	needle = strings.ToLower(needle)

	matches := p.c.detail.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return body, false
	}

	seen := make(map[string]bool)
	var pages []string
	fetched := 0
	for _, m := range matches {
		if len(m) < 2 {
			continue
		}
		id := m[1]
		title := ""
		if len(m) > 2 {
			title = strings.TrimSpace(html.UnescapeString(m[2]))
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if title != "" && !strings.Contains(needle, strings.ToLower(title)) {
			continue
		}

		if fetched > 0 && p.detailDelay > 0 {
			select {
			case <-ctx.Done():
				return strings.Join(pages, "\n"), false
			case <-time.After(p.detailDelay):
			}
		}

		detailURL, err := p.query.BuildDetail(mode, token, id, title)
		if err != nil {
			r.logger.Error().Err(err).Str("id", id).Msg("Failed to build detail URL")
			continue
		}
		page, skip := p.transport.Fetch(ctx, detailURL, types.FetchOptions{})
		fetched++
		if skip {
			return strings.Join(pages, "\n"), true
		}
		if page != "" {
			pages = append(pages, page)
		}
	}
	return strings.Join(pages, "\n"), false
}

func (r *run) record(ctx context.Context, mode types.SearchMode, token, searchURL string, outcome types.Outcome, added int, start time.Time, err error) {
	if r.p.observer == nil {
		return
	}
	ev := types.SearchEvent{
		RunID:     r.id,
		Provider:  r.p.ID(),
		Mode:      mode,
		Token:     token,
		URL:       searchURL,
		Outcome:   outcome,
		Added:     added,
		Elapsed:   time.Since(start),
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	r.p.observer.Record(ctx, ev)
}

