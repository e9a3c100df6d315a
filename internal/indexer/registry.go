// Package indexer owns the configured scraper providers: it loads site
// descriptors, builds one provider per enabled site and routes searches to
// them by name.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/scrapecore/internal/config"
	"github.com/slipstream/scrapecore/internal/indexer/ratelimit"
	"github.com/slipstream/scrapecore/internal/indexer/scraper"
	"github.com/slipstream/scrapecore/internal/indexer/transport"
	"github.com/slipstream/scrapecore/internal/indexer/types"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrInvalidRequest   = errors.New("invalid search request")
)

// ProviderStatus is a provider listing entry with its backoff state.
type ProviderStatus struct {
	types.ProviderInfo
	Limiter ratelimit.Status `json:"limiter"`
}

type registered struct {
	provider *scraper.Provider
	session  *transport.Session
}

// Deps are the shared collaborators handed to every provider.
type Deps struct {
	CookieStore transport.CookieStore
	Observer    scraper.Observer
	// HTTPClient is cloned per provider; nil uses a default client.
	HTTPClient *http.Client
}

// Registry holds one provider instance per enabled site.
type Registry struct {
	catalog   *Catalog
	providers map[string]*registered
	base      zerolog.Logger
	logger    zerolog.Logger
}

// NewRegistry loads the descriptor catalog and constructs the enabled
// providers. Any enabled provider without a descriptor, or whose descriptor
// fails validation, is a configuration error.
func NewRegistry(ctx context.Context, cfg *config.Config, deps Deps, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]*registered),
		base:      logger,
		logger:    logger.With().Str("component", "registry").Logger(),
	}
	logger = r.logger

	catalog, err := LoadCatalog(cfg.Scraper.DefinitionsDir, logger)
	if err != nil {
		return nil, err
	}
	r.catalog = catalog

	for _, id := range cfg.EnabledProviders() {
		def, ok := catalog.Get(id)
		if !ok {
			return nil, fmt.Errorf("provider %q: %w", id, ErrProviderNotFound)
		}
		reg, err := r.build(ctx, def, cfg.Scraper, cfg.Providers[id], deps)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", id, err)
		}
		r.providers[strings.ToLower(def.ID)] = reg
		logger.Info().
			Str("provider", def.ID).
			Str("auth", def.AuthStrategy()).
			Msg("Registered provider")
	}

	return r, nil
}

func (r *Registry) build(ctx context.Context, def *scraper.Definition, sc config.ScraperConfig, pc config.ProviderConfig, deps Deps) (*registered, error) {
	var client *http.Client
	if deps.HTTPClient != nil {
		clone := *deps.HTTPClient
		client = &clone
	}

	session, err := transport.NewSession(transport.Config{
		ProviderID: def.ID,
		BaseURL:    def.GetBaseURL(),
		Timeout:    sc.RequestTimeout,
		UserAgent:  sc.UserAgent,
		RateLimit: ratelimit.Config{
			RequestsPerSecond: sc.RequestsPerSecond,
			Burst:             sc.Burst,
			FailureThreshold:  sc.FailureThreshold,
			Backoff:           sc.Backoff,
			MaxBackoff:        sc.MaxBackoff,
		},
		CookieStore: deps.CookieStore,
		HTTPClient:  client,
	}, r.base)
	if err != nil {
		return nil, err
	}

	// Persisted cookies come first; a configured digest still wins in NewProvider.
	if def.AuthStrategy() != scraper.AuthNone && session.RestoreCookies(ctx) {
		r.logger.Debug().Str("provider", def.ID).Msg("Restored saved session cookies")
	}

	opts := []scraper.Option{}
	if deps.Observer != nil {
		opts = append(opts, scraper.WithObserver(deps.Observer))
	}
	if sc.DetailDelay > 0 {
		opts = append(opts, scraper.WithDetailDelay(sc.DetailDelay))
	}

	provider, err := scraper.NewProvider(def, scraper.Settings{
		MinSeed:   pc.MinSeed,
		MinLeech:  pc.MinLeech,
		Freeleech: pc.Freeleech,
		Anime:     pc.Anime,
		Values:    pc.Values(),
	}, session, r.base.With().Str("component", "scraper").Logger(), opts...)
	if err != nil {
		return nil, err
	}

	return &registered{provider: provider, session: session}, nil
}

// Catalog returns the loaded descriptor catalog.
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

// Get returns the provider registered under name, case-insensitively.
func (r *Registry) Get(name string) (*scraper.Provider, error) {
	reg, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return reg.provider, nil
}

// Providers returns the registered providers sorted by id.
func (r *Registry) Providers() []*scraper.Provider {
	ids := r.ids()
	out := make([]*scraper.Provider, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.providers[id].provider)
	}
	return out
}

// List describes the registered providers sorted by id.
func (r *Registry) List() []ProviderStatus {
	ids := r.ids()
	out := make([]ProviderStatus, 0, len(ids))
	for _, id := range ids {
		reg := r.providers[id]
		out = append(out, ProviderStatus{
			ProviderInfo: reg.provider.Info(),
			Limiter:      reg.session.LimiterStatus(),
		})
	}
	return out
}

func (r *Registry) ids() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Search runs req on the named provider. Unknown modes and an unknown
// provider are rejected before any network call.
func (r *Registry) Search(ctx context.Context, name string, req types.SearchRequest) (types.ResultBatch, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	for _, mt := range req {
		if !mt.Mode.Valid() {
			return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, mt.Mode)
		}
	}
	return p.Search(ctx, req), nil
}

// CacheSearch runs the provider-default cache tokens on the named provider.
func (r *Registry) CacheSearch(ctx context.Context, name string) (types.ResultBatch, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return p.CacheSearch(ctx), nil
}

// ResetSession clears the saved cookies and backoff state of a provider.
func (r *Registry) ResetSession(ctx context.Context, name string) error {
	reg, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	reg.session.ResetLimiter()
	return reg.session.ClearCookies(ctx)
}
