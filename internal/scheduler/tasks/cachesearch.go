// Package tasks registers the scrapecore scheduled jobs.
package tasks

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/scrapecore/internal/indexer/types"
	"github.com/slipstream/scrapecore/internal/scheduler"
)

// CacheSearchTaskPrefix prefixes the per-provider cache search task ids.
const CacheSearchTaskPrefix = "cache-search-"

// CacheSearcher is a provider that can run its default cache search.
type CacheSearcher interface {
	ID() string
	Info() types.ProviderInfo
	CacheSearch(ctx context.Context) types.ResultBatch
}

// CacheSearchTaskID returns the task id of a provider's cache search.
func CacheSearchTaskID(providerID string) string {
	return CacheSearchTaskPrefix + strings.ToLower(providerID)
}

// RegisterCacheSearchTasks registers one cache search task per provider.
func RegisterCacheSearchTasks[P CacheSearcher](sched *scheduler.Scheduler, providers []P, cron string, runOnStart bool, logger zerolog.Logger) error {
	logger = logger.With().Str("component", "cache-search").Logger()
	for _, p := range providers {
		info := p.Info()
		err := sched.RegisterTask(scheduler.TaskConfig{
			ID:          CacheSearchTaskID(p.ID()),
			Name:        info.Name + " Cache Search",
			Description: "Searches the provider default tokens to refresh recent releases",
			Cron:        cron,
			RunOnStart:  runOnStart,
			Func: func(ctx context.Context) error {
				batch := p.CacheSearch(ctx)
				logger.Info().
					Str("provider", p.ID()).
					Int("results", len(batch)).
					Msg("Cache search finished")
				return ctx.Err()
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
