package scraper

import "github.com/slipstream/scrapecore/internal/indexer/types"

// RejectionFilter admits candidates by swarm health. A zero threshold means
// no floor.
type RejectionFilter struct {
	MinSeed  int
	MinLeech int
}

// Reject reports whether a candidate falls below a configured floor. The
// leecher floor is not enforced when the site does not publish leechers
// (types.CountUnknown).
func (f RejectionFilter) Reject(seeders, leechers int) bool {
	if f.MinSeed > 0 && seeders < f.MinSeed {
		return true
	}
	if f.MinLeech > 0 && leechers != types.CountUnknown && leechers < f.MinLeech {
		return true
	}
	return false
}
