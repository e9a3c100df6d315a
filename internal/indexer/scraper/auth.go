package scraper

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/scrapecore/internal/indexer/types"
)

// AuthGuard decides whether the provider session is logged in. The strategy
// is chosen by the descriptor: "none" always passes, "cookie" checks the
// probe page plus required session cookies against the configured digest,
// "form" checks the probe page and posts the login form once when the check
// fails.
type AuthGuard struct {
	c         *compiled
	settings  map[string]string
	transport Transport
	logger    zerolog.Logger
}

// AuthResult is the outcome of one authorisation check.
type AuthResult struct {
	OK     bool
	Reason string
	// Skip is set when the transport signalled backpressure during the check.
	Skip bool
}

func newAuthGuard(c *compiled, settings map[string]string, transport Transport, logger zerolog.Logger) *AuthGuard {
	return &AuthGuard{
		c:         c,
		settings:  settings,
		transport: transport,
		logger:    logger.With().Str("stage", "auth").Logger(),
	}
}

// Authorised runs the configured strategy.
func (g *AuthGuard) Authorised(ctx context.Context) AuthResult {
	strategy := g.c.def.AuthStrategy()
	if strategy == AuthNone {
		return AuthResult{OK: true}
	}

	res := g.probe(ctx)
	if res.OK || res.Skip || strategy != AuthForm {
		return res
	}

	g.logger.Debug().Str("reason", res.Reason).Msg("Session not valid, submitting login form")
	if skip := g.login(ctx); skip {
		return AuthResult{Reason: "transport skip during login", Skip: true}
	}
	return g.probe(ctx)
}

func (g *AuthGuard) probe(ctx context.Context) AuthResult {
	probeURL := ResolveLink(g.c.baseURL, g.c.def.Auth.Probe)
	if g.c.def.Auth.Probe == "" {
		probeURL = g.c.baseURL
	}

	body, skip := g.transport.Fetch(ctx, probeURL, types.FetchOptions{})
	if skip {
		return AuthResult{Reason: "transport skip during probe", Skip: true}
	}
	return g.Evaluate(body)
}

// Evaluate applies the login predicate to a fetched page and the current
// cookie jar without performing any request.
func (g *AuthGuard) Evaluate(body string) AuthResult {
	auth := g.c.def.Auth
	if body == "" {
		return AuthResult{Reason: "empty probe page"}
	}

	if auth.LoginMarker != "" {
		window := body
		if auth.MarkerWindow > 0 && len(window) > auth.MarkerWindow {
			window = window[:auth.MarkerWindow]
		}
		if strings.Contains(window, auth.LoginMarker) {
			return AuthResult{Reason: "login form present"}
		}
	}

	if g.c.def.AuthStrategy() == AuthCookie {
		if reason := g.checkCookies(); reason != "" {
			return AuthResult{Reason: reason}
		}
	}

	if g.c.identity != nil && !g.c.identity.MatchString(body) {
		return AuthResult{Reason: "site identity marker missing"}
	}

	return AuthResult{OK: true}
}

func (g *AuthGuard) checkCookies() string {
	auth := g.c.def.Auth
	jar := make(map[string]string)
	for _, c := range g.transport.Cookies() {
		jar[c.Name] = c.Value
	}

	var digest map[string]string
	if auth.DigestSetting != "" {
		raw := g.settings[auth.DigestSetting]
		if strings.TrimSpace(raw) == "" {
			return "no cookie digest configured"
		}
		digest = ParseCookieString(raw)
	}

	for _, name := range auth.Cookies {
		value, ok := jar[name]
		if !ok || value == "" {
			return "missing cookie " + name
		}
		if digest != nil && digest[name] != value {
			return "cookie " + name + " does not match digest"
		}
	}
	return ""
}

// login posts the descriptor's login form. It reports whether the transport
// asked to skip.
func (g *AuthGuard) login(ctx context.Context) bool {
	login := g.c.def.Auth.Login
	form := url.Values{}
	tctx := TemplateContext{Config: g.settings}
	for key, tmpl := range g.c.loginForm {
		val, err := tmpl.Evaluate(tctx)
		if err != nil {
			g.logger.Warn().Err(err).Str("input", key).Msg("Failed to evaluate login input")
			continue
		}
		form.Set(key, val)
	}

	_, skip := g.transport.Fetch(ctx, ResolveLink(g.c.baseURL, login.Path), types.FetchOptions{Form: form})
	return skip
}

// ParseCookieString parses "name1=value1; name2=value2" into a map.
func ParseCookieString(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out[name] = strings.TrimSpace(value)
	}
	return out
}
