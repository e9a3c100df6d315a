package scraper

import (
	"context"

	"github.com/slipstream/scrapecore/internal/indexer/types"
)

type multiObserver []Observer

func (m multiObserver) Record(ctx context.Context, event types.SearchEvent) {
	for _, o := range m {
		o.Record(ctx, event)
	}
}

// MultiObserver reports every event to each non-nil observer in order.
func MultiObserver(observers ...Observer) Observer {
	out := make(multiObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}
