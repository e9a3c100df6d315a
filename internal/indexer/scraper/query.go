package scraper

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"

	"github.com/slipstream/scrapecore/internal/indexer/types"
)

// Transliterate folds a search token to ASCII before it is URL encoded.
func Transliterate(s string) string {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return strings.TrimSpace(unidecode.Unidecode(s))
		}
	}
	return s
}

// QueryBuilder renders provider search URLs from a mode and a token.
type QueryBuilder struct {
	c             *compiled
	settings      map[string]string
	freeleech     bool
	anime         bool
	transliterate func(string) string
}

func newQueryBuilder(c *compiled, settings Settings) *QueryBuilder {
	return &QueryBuilder{
		c:             c,
		settings:      settings.Values,
		freeleech:     settings.Freeleech,
		anime:         settings.Anime,
		transliterate: Transliterate,
	}
}

// Build returns the absolute search URL for token under mode.
func (b *QueryBuilder) Build(mode types.SearchMode, token string) (string, error) {
	tmpl := b.c.pathFor(mode)
	if tmpl == nil {
		return "", fmt.Errorf("no search path for mode %s", mode)
	}
	rendered, err := tmpl.Evaluate(b.context(mode, token))
	if err != nil {
		return "", err
	}
	return b.resolve(rendered)
}

// BuildDetail returns the absolute URL of a detail page.
func (b *QueryBuilder) BuildDetail(mode types.SearchMode, token, id, title string) (string, error) {
	if b.c.detailPath == nil {
		return "", fmt.Errorf("no detail path configured")
	}
	ctx := b.context(mode, token)
	ctx.ID = id
	ctx.Title = title
	rendered, err := b.c.detailPath.Evaluate(ctx)
	if err != nil {
		return "", err
	}
	return b.resolve(rendered)
}

func (b *QueryBuilder) context(mode types.SearchMode, token string) TemplateContext {
	return TemplateContext{
		Mode:       string(mode),
		Query:      b.transliterate(token),
		Categories: b.Categories(mode),
		Freeleech:  b.freeleech,
		Config:     b.settings,
	}
}

// Categories formats the category ids searched under mode. A "shows" list
// applies to every mode; otherwise the per-mode list is used, with Propers
// sharing the Episode list. Anime ids are added for Cache and Propers when
// the provider has anime enabled.
func (b *QueryBuilder) Categories(mode types.SearchMode) string {
	cats := b.c.def.Search.Categories
	if len(cats) == 0 {
		return ""
	}

	var ids []int
	if shows, ok := cats["shows"]; ok {
		ids = append(ids, shows...)
	} else {
		key := strings.ToLower(string(mode))
		if mode == types.ModePropers {
			if _, ok := cats[key]; !ok {
				key = strings.ToLower(string(types.ModeEpisode))
			}
		}
		ids = append(ids, cats[key]...)
	}
	if b.anime && (mode == types.ModeCache || mode == types.ModePropers) {
		ids = append(ids, cats["anime"]...)
	}

	sort.Ints(ids)
	format := b.c.def.Search.CategoryFormat
	if format == "" {
		format = "%d"
	}
	delim := b.c.def.Search.CategoryDelimiter
	if delim == "" {
		delim = ","
	}

	parts := make([]string, 0, len(ids))
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if strings.Contains(format, "%") {
			parts = append(parts, fmt.Sprintf(format, id))
		} else {
			parts = append(parts, format+strconv.Itoa(id))
		}
	}
	return strings.Join(parts, delim)
}

func (b *QueryBuilder) resolve(ref string) (string, error) {
	resolved := ResolveLink(b.c.baseURL, ref)
	if resolved == "" {
		return "", fmt.Errorf("cannot resolve %q against %s", ref, b.c.baseURL)
	}
	return resolved, nil
}

// ResolveLink resolves a possibly relative href against base. Magnet links
// are returned unchanged; an unparsable href yields "".
func ResolveLink(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(href), "magnet:") {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}
