package scraper

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Semantic column keys understood by the header resolver.
const (
	ColumnSeed  = "seed"
	ColumnLeech = "leech"
	ColumnSize  = "size"
	ColumnName  = "name"
	ColumnAdded = "added"
	ColumnSnat  = "snatched"
)

// headerSynonyms maps each semantic key to the label fragments that identify it.
// Order matters only within a key: the first synonym is the most specific.
var headerSynonyms = []struct {
	key      string
	synonyms []string
}{
	{ColumnSeed, []string{"seeders", "seeds", "seed"}},
	{ColumnLeech, []string{"leechers", "leechs", "leech"}},
	{ColumnSize, []string{"size"}},
	{ColumnName, []string{"name", "title", "torrent"}},
	{ColumnAdded, []string{"added", "date", "age", "uploaded"}},
	{ColumnSnat, []string{"snatched", "completed", "grabs"}},
}

// HeaderMap maps a semantic column key to its zero-based cell index.
type HeaderMap map[string]int

// Index returns the column for key and whether the site has one.
func (h HeaderMap) Index(key string) (int, bool) {
	i, ok := h[key]
	return i, ok
}

// HeaderResolver builds HeaderMaps from noisy header labels.
type HeaderResolver struct {
	strip *regexp.Regexp
}

// NewHeaderResolver creates a resolver. strip, when non-nil, is removed from
// every label before matching.
func NewHeaderResolver(strip *regexp.Regexp) HeaderResolver {
	return HeaderResolver{strip: strip}
}

// Resolve matches labels against the synonym table. For every key the first
// column whose cleaned label contains a synonym wins; keys without a match
// are absent from the result.
func (r HeaderResolver) Resolve(labels []string) HeaderMap {
	cleaned := make([]string, len(labels))
	for i, label := range labels {
		cleaned[i] = r.clean(label)
	}

	head := make(HeaderMap)
	for _, entry := range headerSynonyms {
		if i, ok := matchColumn(cleaned, entry.synonyms); ok {
			head[entry.key] = i
		}
	}
	return head
}

// matchColumn prefers an exact label match over a substring match so that a
// column labelled "Seeders" is not shadowed by an earlier "Seeders/Leechers".
func matchColumn(labels []string, synonyms []string) (int, bool) {
	for i, label := range labels {
		for _, syn := range synonyms {
			if label == syn {
				return i, true
			}
		}
	}
	for i, label := range labels {
		if label == "" {
			continue
		}
		for _, syn := range synonyms {
			if strings.Contains(label, syn) {
				return i, true
			}
		}
	}
	return 0, false
}

func (r HeaderResolver) clean(label string) string {
	if r.strip != nil {
		label = r.strip.ReplaceAllString(label, "")
	}
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// HeaderLabels extracts one label per cell of a header-bearing row. Sites often
// use icons for counters, so title and alt attributes of descendants are
// folded into the label alongside the visible text.
func HeaderLabels(row *goquery.Selection) []string {
	var labels []string
	row.Children().Filter("th, td").Each(func(_ int, cell *goquery.Selection) {
		parts := []string{cell.Text()}
		if v, ok := cell.Attr("title"); ok {
			parts = append(parts, v)
		}
		cell.Find("[title], [alt]").Each(func(_ int, el *goquery.Selection) {
			if v, ok := el.Attr("title"); ok {
				parts = append(parts, v)
			}
			if v, ok := el.Attr("alt"); ok {
				parts = append(parts, v)
			}
		})
		labels = append(labels, strings.Join(parts, " "))
	})
	return labels
}
