package scraper

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/slipstream/scrapecore/internal/indexer/types"
)

var (
	exactSizeRe  = regexp.MustCompile(`[(\[]\s*(\d[\d,]*)\s*(?:bytes?)?\s*[)\]]`)
	numberRe     = regexp.MustCompile(`(\d+)(?:[.,](\d+))?`)
	unitSuffixRe = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*([kmgtp]?)(i?)b(?:ytes?)?\b`)
)

// SizeParser converts human readable size tokens into byte counts.
//
// Binary selects 1024-based magnitudes for plain "KB/MB/GB" suffixes, which is
// what most trackers mean. Explicit "KiB/MiB/GiB" are always binary.
type SizeParser struct {
	Binary bool
}

// Parse returns the best available byte count for token, or types.SizeUnknown.
// A bracketed exact count such as "1.44 GB (1548000000)" wins over the
// approximate unit value.
func (p SizeParser) Parse(token string) int64 {
	token = strings.TrimSpace(token)
	if token == "" {
		return types.SizeUnknown
	}

	if m := exactSizeRe.FindStringSubmatch(token); m != nil {
		if n, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64); err == nil {
			return n
		}
	}

	// "1,234.5 MB": the comma is a thousands separator.
	if strings.Contains(token, ",") && strings.Contains(token, ".") {
		token = strings.ReplaceAll(token, ",", "")
	}

	if m := unitSuffixRe.FindStringSubmatch(token); m != nil {
		n, ok := p.parseUnit(m[1], m[2], m[3] != "")
		if !ok {
			return types.SizeUnknown
		}
		return n
	}

	m := numberRe.FindStringSubmatch(token)
	if m == nil {
		return types.SizeUnknown
	}
	n, err := strconv.ParseFloat(joinNumber(m[1], m[2]), 64)
	if err != nil || n < 0 || n >= math.MaxInt64 {
		return types.SizeUnknown
	}
	return int64(math.Ceil(n))
}

func (p SizeParser) parseUnit(number, prefix string, explicitBinary bool) (int64, bool) {
	whole, frac, _ := strings.Cut(strings.ReplaceAll(number, ",", "."), ".")
	canonical := joinNumber(whole, frac) + " " + strings.ToUpper(prefix)
	if prefix != "" && (explicitBinary || p.Binary) {
		canonical += "i"
	}
	canonical += "B"

	n, err := humanize.ParseBytes(canonical)
	if err != nil || n > math.MaxInt64 {
		return 0, false
	}
	return int64(n), true
}

func joinNumber(whole, frac string) string {
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
