package tasks

import (
	"context"

	"github.com/slipstream/scrapecore/internal/scheduler"
)

const HistoryCleanupTaskID = "history-cleanup"

// HistoryCleaner prunes stored search events.
type HistoryCleaner interface {
	CleanupOldEntries(ctx context.Context) error
}

// RegisterHistoryCleanupTask registers the daily search history cleanup.
func RegisterHistoryCleanupTask(sched *scheduler.Scheduler, history HistoryCleaner, cron string) error {
	if cron == "" {
		cron = "0 3 * * *"
	}
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          HistoryCleanupTaskID,
		Name:        "History Cleanup",
		Description: "Deletes search events older than the configured retention period",
		Cron:        cron,
		Func:        history.CleanupOldEntries,
	})
}
