package history

import "github.com/slipstream/scrapecore/internal/indexer/types"

// ListOptions filters search history.
type ListOptions struct {
	Provider string `json:"provider,omitempty"`
	RunID    string `json:"runId,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}

// ListResponse is a page of search history.
type ListResponse struct {
	Items      []types.SearchEvent `json:"items"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"pageSize"`
	TotalCount int64               `json:"totalCount"`
	TotalPages int                 `json:"totalPages"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (o *ListOptions) normalize() {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize < 1 {
		o.PageSize = defaultPageSize
	}
	if o.PageSize > maxPageSize {
		o.PageSize = maxPageSize
	}
}
