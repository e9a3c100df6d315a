package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"text/template"
)

// TemplateContext provides the data available to URL and form templates.
type TemplateContext struct {
	Mode       string            // search mode name
	Query      string            // transliterated search token
	Categories string            // formatted category list for the mode
	Freeleech  bool              // only quota-free results
	Config     map[string]string // provider settings
	ID         string            // detail stage: captured id
	Title      string            // detail stage: captured title
}

// Part returns the i-th comma separated piece of the query, or "".
// Cache tokens such as "x264,2" carry a keyword and a page number.
func (c TemplateContext) Part(i int) string {
	parts := strings.Split(c.Query, ",")
	if i < 0 || i >= len(parts) {
		return ""
	}
	return strings.TrimSpace(parts[i])
}

var templateFuncs = template.FuncMap{
	"query":      url.QueryEscape,
	"path":       url.PathEscape,
	"replace":    funcReplace,
	"re_replace": funcReReplace,
	"trim":       strings.TrimSpace,
	"tolower":    strings.ToLower,
	"toupper":    strings.ToUpper,
	"join":       strings.Join,
	"default":    funcDefault,
}

// urlTemplate is a parsed text/template evaluated against a TemplateContext.
type urlTemplate struct {
	raw  string
	tmpl *template.Template
}

func newURLTemplate(name, text string) (*urlTemplate, error) {
	t, err := template.New(name).Funcs(templateFuncs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("template parse error: %w", err)
	}
	return &urlTemplate{raw: text, tmpl: t}, nil
}

// Evaluate renders the template.
func (t *urlTemplate) Evaluate(ctx TemplateContext) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("template execution error: %w", err)
	}
	return buf.String(), nil
}

// funcReplace takes the subject last so it can be used in a pipeline:
// {{ .Query | replace "." " " }}.
func funcReplace(old, replacement, s string) string {
	return strings.ReplaceAll(s, old, replacement)
}

func funcReReplace(pattern, replacement, s string) string {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return s
	}
	return re.ReplaceAllString(s, replacement)
}

func funcDefault(def, val string) string {
	if val == "" {
		return def
	}
	return val
}
