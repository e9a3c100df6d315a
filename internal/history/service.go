// Package history stores the per-step search events emitted by providers.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/scrapecore/internal/indexer/types"
)

// Service provides search history storage.
type Service struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new history service.
func NewService(db *sql.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "history").Logger(),
		now:    time.Now,
	}
}

// Record stores one search event. Storage errors are logged, never returned,
// so a failing history table cannot interrupt a search.
func (s *Service) Record(ctx context.Context, event types.SearchEvent) {
	if _, err := s.Create(ctx, event); err != nil {
		s.logger.Warn().Err(err).
			Str("provider", event.Provider).
			Str("mode", string(event.Mode)).
			Msg("Failed to record search event")
	}
}

// Create stores a search event and returns it with its ID set.
func (s *Service) Create(ctx context.Context, event types.SearchEvent) (types.SearchEvent, error) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	event.CreatedAt = event.CreatedAt.UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO search_history (run_id, provider, mode, token, url, outcome, added, elapsed_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, event.Provider, string(event.Mode), event.Token, event.URL,
		string(event.Outcome), event.Added, event.Elapsed.Milliseconds(), event.Error, event.CreatedAt)
	if err != nil {
		return event, fmt.Errorf("failed to insert search event: %w", err)
	}
	if event.ID, err = res.LastInsertId(); err != nil {
		return event, fmt.Errorf("failed to read search event id: %w", err)
	}
	return event, nil
}

// List returns search events, newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResponse, error) {
	opts.normalize()

	var where []string
	var args []any
	if opts.Provider != "" {
		where = append(where, "provider = ? COLLATE NOCASE")
		args = append(args, opts.Provider)
	}
	if opts.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, opts.RunID)
	}
	if opts.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, opts.Outcome)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM search_history"+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count search history: %w", err)
	}

	query := `SELECT id, run_id, provider, mode, token, url, outcome, added, elapsed_ms, error, created_at
		FROM search_history` + clause + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list search history: %w", err)
	}
	defer rows.Close()

	items := make([]types.SearchEvent, 0, opts.PageSize)
	for rows.Next() {
		var e types.SearchEvent
		var mode, outcome string
		var elapsedMs int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Provider, &mode, &e.Token, &e.URL, &outcome,
			&e.Added, &elapsedMs, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan search event: %w", err)
		}
		e.Mode = types.SearchMode(mode)
		e.Outcome = types.Outcome(outcome)
		e.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := int(total) / opts.PageSize
	if int(total)%opts.PageSize > 0 {
		totalPages++
	}

	return &ListResponse{
		Items:      items,
		Page:       opts.Page,
		PageSize:   opts.PageSize,
		TotalCount: total,
		TotalPages: totalPages,
	}, nil
}

// DeleteAll removes all search history.
func (s *Service) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM search_history`); err != nil {
		return fmt.Errorf("failed to clear search history: %w", err)
	}
	s.logger.Info().Msg("Cleared search history")
	return nil
}

// DeleteBefore removes events created before cutoff and returns how many
// were removed.
func (s *Service) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM search_history WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune search history: %w", err)
	}
	return res.RowsAffected()
}
