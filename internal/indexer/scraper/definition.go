// Package scraper implements the shared result acquisition pipeline of the
// HTML torrent index providers. Each site is described declaratively by a
// Definition; the pipeline authenticates, builds search URLs, parses result
// tables and normalizes rows into torrent records.
package scraper

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slipstream/scrapecore/internal/indexer/types"
)

// Authentication strategies.
const (
	AuthNone   = "none"
	AuthCookie = "cookie"
	AuthForm   = "form"
)

// Authentication check policies.
const (
	AuthPolicyOnce    = "once"
	AuthPolicyPerMode = "per_mode"
	AuthPolicyPerPage = "per_page"
)

// Definition is the adapter descriptor of one site.
type Definition struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Links       []string `yaml:"links"`
	BinarySizes *bool    `yaml:"binarysizes"`

	Auth   AuthBlock   `yaml:"auth"`
	Search SearchBlock `yaml:"search"`
	Cache  CacheBlock  `yaml:"cache"`
}

// AuthBlock describes how to decide whether the session is logged in.
type AuthBlock struct {
	Strategy      string     `yaml:"strategy"` // none, cookie, form
	Policy        string     `yaml:"policy"`   // once, per_mode, per_page
	Probe         string     `yaml:"probe"`    // path fetched for the check, base URL when empty
	LoginMarker   string     `yaml:"loginmarker"`
	MarkerWindow  int        `yaml:"markerwindow"` // bytes of the body searched for the marker, 0 = all
	Identity      string     `yaml:"identity"`     // regex the probe page must match
	Cookies       []string   `yaml:"cookies"`      // required cookie names
	DigestSetting string     `yaml:"digestsetting"`
	Login         *LoginForm `yaml:"login"`
}

// LoginForm is posted by the form strategy when the session is not valid.
type LoginForm struct {
	Path   string            `yaml:"path"`
	Inputs map[string]string `yaml:"inputs"` // values are templates over settings
}

// SearchBlock describes URL construction and result table parsing.
type SearchBlock struct {
	Paths             map[string]string `yaml:"paths"` // mode or "default" -> URL template
	Categories        map[string][]int  `yaml:"categories"`
	CategoryFormat    string            `yaml:"categoryformat"`
	CategoryDelimiter string            `yaml:"categorydelimiter"`
	NoResults         []string          `yaml:"noresults"`
	Table             TableBlock        `yaml:"table"`
	HeaderStrip       string            `yaml:"headerstrip"`
	Fields            FieldsBlock       `yaml:"fields"`
	Detail            *DetailBlock      `yaml:"detail"`
}

// TableBlock locates the results table.
type TableBlock struct {
	Selectors []string `yaml:"selectors"`
	Rows      string   `yaml:"rows"`
	Skip      int      `yaml:"skip"` // leading rows never treated as data
	MinCells  int      `yaml:"mincells"`
	Multiple  bool     `yaml:"multiple"` // parse every matching table, e.g. concatenated detail pages
}

// FieldsBlock describes where each record field lives in a row.
type FieldsBlock struct {
	Seeders  *ValueField `yaml:"seeders"`
	Leechers *ValueField `yaml:"leechers"`
	Size     *ValueField `yaml:"size"`
	Stats    *StatsField `yaml:"stats"`
	Title    TitleField  `yaml:"title"`
	Download LinkField   `yaml:"download"`
}

// ValueField reads one cell, either by semantic column or by CSS selector.
type ValueField struct {
	Column    string `yaml:"column"`
	Selector  string `yaml:"selector"`
	Attribute string `yaml:"attribute"`
}

// StatsField is a combined cell holding seeders, leechers and size.
type StatsField struct {
	Column      string `yaml:"column"`
	Selector    string `yaml:"selector"`
	Pattern     string `yaml:"pattern"`     // group 1 seeders, optional group 2 leechers
	SizePattern string `yaml:"sizepattern"` // group 1 is the size token
}

// TitleField locates the release title.
type TitleField struct {
	Selector   string   `yaml:"selector"`
	Link       string   `yaml:"link"`
	Attributes []string `yaml:"attributes"`
	Strip      string   `yaml:"strip"`
	TextCell   *int     `yaml:"textcell"`
}

// LinkField locates the download anchor by href pattern.
type LinkField struct {
	Link string `yaml:"link"`
}

// DetailBlock configures a second fetch stage from search page to detail pages.
type DetailBlock struct {
	Pattern string        `yaml:"pattern"` // group 1 id, group 2 title
	Path    string        `yaml:"path"`    // template, .ID available
	Delay   time.Duration `yaml:"delay"`
	Modes   []string      `yaml:"modes"`
}

// CacheBlock holds the provider-default tokens used by CacheSearch.
type CacheBlock struct {
	Tokens []string `yaml:"tokens"`
}

// ParseDefinition parses a descriptor from YAML.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse definition YAML: %w", err)
	}
	return &def, nil
}

// ParseDefinitionFile parses a descriptor from a file.
func ParseDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}
	return ParseDefinition(data)
}

// GetBaseURL returns the primary URL of the site, always ending in "/".
func (d *Definition) GetBaseURL() string {
	if len(d.Links) == 0 {
		return ""
	}
	base := strings.TrimSpace(d.Links[0])
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

// AuthStrategy returns the configured strategy, defaulting to none.
func (d *Definition) AuthStrategy() string {
	if d.Auth.Strategy == "" {
		return AuthNone
	}
	return strings.ToLower(d.Auth.Strategy)
}

// Validate compiles every pattern and template so that a broken descriptor
// is rejected at load time rather than during a search.
func (d *Definition) Validate() error {
	_, err := compileDefinition(d)
	return err
}

// compiled is the ready-to-run form of a Definition.
type compiled struct {
	def        *Definition
	baseURL    string
	noResults  []*regexp.Regexp
	identity   *regexp.Regexp
	strip      *regexp.Regexp
	titleLink  *regexp.Regexp
	titleStrip *regexp.Regexp
	download   *regexp.Regexp
	stats      *regexp.Regexp
	statsSize  *regexp.Regexp
	detail     *regexp.Regexp
	paths      map[string]*urlTemplate
	detailPath *urlTemplate
	loginForm  map[string]*urlTemplate
}

func compileDefinition(d *Definition) (*compiled, error) {
	if d.ID == "" {
		return nil, configError("", "definition has no id", nil)
	}
	c := &compiled{def: d, baseURL: d.GetBaseURL(), paths: make(map[string]*urlTemplate)}
	if c.baseURL == "" {
		return nil, configError(d.ID, "definition has no base URL", nil)
	}

	switch d.AuthStrategy() {
	case AuthNone, AuthCookie:
	case AuthForm:
		if d.Auth.Login == nil || d.Auth.Login.Path == "" {
			return nil, configError(d.ID, "form strategy requires a login path", nil)
		}
	default:
		return nil, configError(d.ID, fmt.Sprintf("unsupported auth strategy %q", d.Auth.Strategy), nil)
	}
	switch d.Auth.Policy {
	case "", AuthPolicyOnce, AuthPolicyPerMode, AuthPolicyPerPage:
	default:
		return nil, configError(d.ID, fmt.Sprintf("unsupported auth policy %q", d.Auth.Policy), nil)
	}

	var err error
	compile := func(name, pattern string) *regexp.Regexp {
		if pattern == "" || err != nil {
			return nil
		}
		re, cerr := regexp.Compile(pattern)
		if cerr != nil {
			err = configError(d.ID, "invalid "+name+" pattern", cerr)
		}
		return re
	}

	for _, p := range d.Search.NoResults {
		if re := compile("noresults", p); re != nil {
			c.noResults = append(c.noResults, re)
		}
	}
	c.identity = compile("identity", d.Auth.Identity)
	c.strip = compile("headerstrip", d.Search.HeaderStrip)
	c.titleLink = compile("title link", d.Search.Fields.Title.Link)
	c.titleStrip = compile("title strip", d.Search.Fields.Title.Strip)
	c.download = compile("download link", d.Search.Fields.Download.Link)
	if s := d.Search.Fields.Stats; s != nil {
		c.stats = compile("stats", s.Pattern)
		c.statsSize = compile("stats size", s.SizePattern)
	}
	if dt := d.Search.Detail; dt != nil {
		c.detail = compile("detail", dt.Pattern)
	}
	if err != nil {
		return nil, err
	}

	if c.download == nil {
		return nil, configError(d.ID, "download link pattern is required", nil)
	}
	f := d.Search.Fields
	if f.Seeders == nil && f.Stats == nil {
		return nil, configError(d.ID, "seeders field or stats field is required", nil)
	}
	if f.Stats != nil && c.stats == nil {
		return nil, configError(d.ID, "stats field requires a pattern", nil)
	}
	if f.Title.Selector == "" && c.titleLink == nil && f.Title.TextCell == nil {
		return nil, configError(d.ID, "title needs a selector, link or textcell", nil)
	}

	if len(d.Search.Paths) == 0 {
		return nil, configError(d.ID, "no search paths", nil)
	}
	for key, path := range d.Search.Paths {
		if key != "default" {
			if _, perr := types.ParseMode(key); perr != nil {
				return nil, configError(d.ID, "search path key", perr)
			}
		}
		t, terr := newURLTemplate(d.ID+"/"+key, path)
		if terr != nil {
			return nil, configError(d.ID, "invalid search path "+key, terr)
		}
		c.paths[strings.ToLower(key)] = t
	}
	if dt := d.Search.Detail; dt != nil {
		if c.detail == nil || dt.Path == "" {
			return nil, configError(d.ID, "detail stage requires pattern and path", nil)
		}
		if c.detailPath, err = newURLTemplate(d.ID+"/detail", dt.Path); err != nil {
			return nil, configError(d.ID, "invalid detail path", err)
		}
	}
	if login := d.Auth.Login; login != nil {
		c.loginForm = make(map[string]*urlTemplate, len(login.Inputs))
		for key, input := range login.Inputs {
			t, terr := newURLTemplate(d.ID+"/login/"+key, input)
			if terr != nil {
				return nil, configError(d.ID, "invalid login input "+key, terr)
			}
			c.loginForm[key] = t
		}
	}

	return c, nil
}

// pathFor returns the URL template for mode, falling back to "default".
func (c *compiled) pathFor(mode types.SearchMode) *urlTemplate {
	if t, ok := c.paths[strings.ToLower(string(mode))]; ok {
		return t
	}
	return c.paths["default"]
}

func (c *compiled) detailApplies(mode types.SearchMode) bool {
	dt := c.def.Search.Detail
	if dt == nil {
		return false
	}
	if len(dt.Modes) == 0 {
		return mode != types.ModeCache
	}
	for _, m := range dt.Modes {
		if strings.EqualFold(m, string(mode)) {
			return true
		}
	}
	return false
}

func (c *compiled) authPolicy() string {
	if c.def.Auth.Policy == "" {
		return AuthPolicyOnce
	}
	return c.def.Auth.Policy
}

func (c *compiled) binarySizes() bool {
	return c.def.BinarySizes == nil || *c.def.BinarySizes
}
