package scraper

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// HTMLSelector provides CSS selector-based access to a fetched page.
type HTMLSelector struct {
	doc *goquery.Document
}

// NewHTMLSelector parses a page body.
func NewHTMLSelector(body string) (*HTMLSelector, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &HTMLSelector{doc: doc}, nil
}

// Table returns the first element matched by the selectors, tried in order,
// or every match of that selector when multiple is set. An empty selector
// list scopes to the whole document.
func (s *HTMLSelector) Table(selectors []string, multiple bool) *goquery.Selection {
	if len(selectors) == 0 {
		return s.doc.Selection
	}
	for _, sel := range selectors {
		found := s.doc.Find(sel)
		if found.Length() == 0 {
			continue
		}
		if multiple {
			return found
		}
		return found.First()
	}
	return nil
}

// Rows returns the rows of table matched by rowSelector (default "tr").
func Rows(table *goquery.Selection, rowSelector string) []*goquery.Selection {
	if table == nil {
		return nil
	}
	if rowSelector == "" {
		rowSelector = "tr"
	}
	var rows []*goquery.Selection
	table.Find(rowSelector).Each(func(_ int, row *goquery.Selection) {
		rows = append(rows, row)
	})
	return rows
}

// HeaderRow returns the first row holding th cells and its index, falling
// back to the first row. The index is -1 when there are no rows.
func HeaderRow(rows []*goquery.Selection) (*goquery.Selection, int) {
	for i, row := range rows {
		if row.Children().Filter("th").Length() > 0 {
			return row, i
		}
	}
	if len(rows) > 0 {
		return rows[0], 0
	}
	return nil, -1
}

// Cells returns the data cells of a row.
func Cells(row *goquery.Selection) []*goquery.Selection {
	var cells []*goquery.Selection
	row.Children().Filter("td").Each(func(_ int, cell *goquery.Selection) {
		cells = append(cells, cell)
	})
	return cells
}

// ExtractText returns the trimmed text of sel, or the named attribute when set.
func ExtractText(sel *goquery.Selection, attribute string) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	if attribute != "" {
		val, _ := sel.Attr(attribute)
		return strings.TrimSpace(val)
	}
	return strings.TrimSpace(sel.Text())
}

// FindLink returns the first anchor under sel whose href matches re.
func FindLink(sel *goquery.Selection, re *regexp.Regexp) *goquery.Selection {
	if sel == nil || re == nil {
		return nil
	}
	found := sel.Find("a[href]").FilterFunction(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		return re.MatchString(href)
	}).First()
	if found.Length() == 0 {
		return nil
	}
	return found
}

// LastTextNode returns the last non-empty text node that is a direct child of
// cell. Sites that wrap badges and links around a bare title rely on this.
func LastTextNode(cell *goquery.Selection) string {
	if cell == nil || cell.Length() == 0 {
		return ""
	}
	nodes := cell.Contents().Nodes
	for i := len(nodes) - 1; i >= 0; i-- {
		if nodes[i].Type != html.TextNode {
			continue
		}
		if text := strings.TrimSpace(nodes[i].Data); text != "" {
			return text
		}
	}
	return ""
}
