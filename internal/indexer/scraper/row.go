package scraper

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/slipstream/scrapecore/internal/indexer/types"
)

// RowExtractor turns a result row into a TorrentRecord. Every structural
// problem is reported as an ErrRow so the caller can drop just that row.
type RowExtractor struct {
	c        *compiled
	filter   RejectionFilter
	sizes    SizeParser
	resolve  func(href string) string
	minCells int
}

func newRowExtractor(c *compiled, filter RejectionFilter) *RowExtractor {
	base := c.baseURL
	return &RowExtractor{
		c:        c,
		filter:   filter,
		sizes:    SizeParser{Binary: c.binarySizes()},
		resolve:  func(href string) string { return ResolveLink(base, href) },
		minCells: c.def.Search.Table.MinCells,
	}
}

// MinCells is the cell count below which a row is skipped untouched.
func (x *RowExtractor) MinCells() int {
	return x.minCells
}

// Extract pulls a record from row. admitted is false with a nil error when
// the row parsed but was turned away by the rejection filter.
func (x *RowExtractor) Extract(row *goquery.Selection, head HeaderMap) (rec types.TorrentRecord, admitted bool, err error) {
	cells := Cells(row)
	if len(cells) < x.minCells {
		return rec, false, rowf("row has %d cells, need %d", len(cells), x.minCells)
	}

	fields := x.c.def.Search.Fields

	seeders, leechers, stats, err := x.counts(row, cells, head)
	if err != nil {
		return rec, false, err
	}
	// Rejection runs before title and link resolution on purpose.
	if x.filter.Reject(seeders, leechers) {
		return rec, false, nil
	}

	title, err := x.title(row, cells)
	if err != nil {
		return rec, false, err
	}

	size := types.SizeUnknown
	switch {
	case fields.Size != nil:
		if raw, verr := readValue(fields.Size, row, cells, head); verr == nil {
			size = x.sizes.Parse(raw)
		}
	case fields.Stats != nil:
		token := stats
		if x.c.statsSize != nil {
			token = ""
			if m := x.c.statsSize.FindStringSubmatch(stats); len(m) > 1 {
				token = m[1]
			}
		}
		size = x.sizes.Parse(token)
	}

	link := FindLink(row, x.c.download)
	if link == nil {
		return rec, false, rowf("no download link")
	}
	href, _ := link.Attr("href")
	downloadURL := x.resolve(href)

	if title == "" || downloadURL == "" {
		return rec, false, rowf("empty title or download url")
	}

	return types.TorrentRecord{
		Title:       title,
		DownloadURL: downloadURL,
		Seeders:     seeders,
		Leechers:    leechers,
		Size:        size,
	}, true, nil
}

func (x *RowExtractor) counts(row *goquery.Selection, cells []*goquery.Selection, head HeaderMap) (seeders, leechers int, stats string, err error) {
	fields := x.c.def.Search.Fields
	leechers = types.CountUnknown

	if fields.Stats != nil {
		stats, err = readValue(&ValueField{Column: fields.Stats.Column, Selector: fields.Stats.Selector}, row, cells, head)
		if err != nil {
			return 0, 0, "", err
		}
		m := x.c.stats.FindStringSubmatch(stats)
		if len(m) < 2 {
			return 0, 0, "", rowf("stats %q do not match", stats)
		}
		if seeders, err = parseCount(m[1]); err != nil {
			return 0, 0, "", err
		}
		if len(m) > 2 && m[2] != "" {
			if leechers, err = parseCount(m[2]); err != nil {
				return 0, 0, "", err
			}
		}
		if fields.Seeders == nil {
			return seeders, leechers, stats, nil
		}
	}

	if fields.Seeders != nil {
		raw, rerr := readValue(fields.Seeders, row, cells, head)
		if rerr != nil {
			return 0, 0, "", rerr
		}
		if seeders, err = parseCount(raw); err != nil {
			return 0, 0, "", err
		}
	}
	if fields.Leechers != nil {
		raw, rerr := readValue(fields.Leechers, row, cells, head)
		if rerr != nil {
			return 0, 0, "", rerr
		}
		if leechers, err = parseCount(raw); err != nil {
			return 0, 0, "", err
		}
	}
	return seeders, leechers, stats, nil
}

func (x *RowExtractor) title(row *goquery.Selection, cells []*goquery.Selection) (string, error) {
	spec := x.c.def.Search.Fields.Title

	var title string
	if spec.TextCell != nil {
		i := *spec.TextCell
		if i < 0 || i >= len(cells) {
			return "", rowf("title cell %d out of range", i)
		}
		title = LastTextNode(cells[i])
	} else {
		var anchor *goquery.Selection
		if spec.Selector != "" {
			if found := row.Find(spec.Selector).First(); found.Length() > 0 {
				anchor = found
			}
		}
		if anchor == nil {
			anchor = FindLink(row, x.c.titleLink)
		}
		if anchor == nil {
			return "", rowf("no title element")
		}
		attrs := spec.Attributes
		if len(attrs) == 0 {
			attrs = []string{"title"}
		}
		for _, attr := range attrs {
			if title = ExtractText(anchor, attr); title != "" {
				break
			}
		}
		if title == "" {
			title = ExtractText(anchor, "")
		}
	}

	if x.c.titleStrip != nil {
		title = x.c.titleStrip.ReplaceAllString(title, "")
	}
	return strings.TrimSpace(title), nil
}

func readValue(field *ValueField, row *goquery.Selection, cells []*goquery.Selection, head HeaderMap) (string, error) {
	var sel *goquery.Selection
	switch {
	case field.Column != "":
		i, ok := head.Index(field.Column)
		if !ok {
			return "", rowf("site has no %s column", field.Column)
		}
		if i >= len(cells) {
			return "", rowf("%s column %d beyond %d cells", field.Column, i, len(cells))
		}
		sel = cells[i]
	case field.Selector != "":
		sel = row.Find(field.Selector).First()
		if sel.Length() == 0 {
			return "", rowf("selector %q matched nothing", field.Selector)
		}
	default:
		return "", rowf("field has neither column nor selector")
	}
	if field.Attribute != "" {
		if _, ok := sel.Attr(field.Attribute); !ok {
			return "", rowf("missing attribute %s", field.Attribute)
		}
	}
	return ExtractText(sel, field.Attribute), nil
}

func parseCount(s string) (int, error) {
	s = strings.NewReplacer(",", "", " ", "", "\u00a0", "").Replace(strings.TrimSpace(s))
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, rowf("%q is not a count", s)
	}
	return n, nil
}
