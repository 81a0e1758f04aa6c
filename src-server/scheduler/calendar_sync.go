package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"slotd/src-server/model"
	"slotd/src-server/syncer"
	"slotd/src-server/utils"
)

const (
	WORKER_COUNT = 4
)

// CalendarSync refreshes the event cache for every sync-enabled
// connection on a fixed interval, a few connections at a time.
// Connections in backoff are skipped until their window elapses.
func CalendarSync(as *utils.AppState, syncManager *syncer.Manager) {
	for {
		connectionIDs := make([]int64, 0)
		if err := as.BunDB.
			NewSelect().
			Model((*model.CalendarConnection)(nil)).
			Column("id").
			Where("sync_enabled = ?", true).
			Scan(context.Background(), &connectionIDs); err != nil {
			slog.Error("CalendarSync: can't get connections", "error", err)
			time.Sleep(as.Config.GetSyncInterval())
			continue
		}

		now := time.Now().UTC()
		due := make([]int64, 0, len(connectionIDs))
		for _, connectionID := range connectionIDs {
			if syncManager.Due(connectionID, now) {
				due = append(due, connectionID)
			}
		}
		if len(due) == 0 {
			time.Sleep(as.Config.GetSyncInterval())
			continue
		}

		jobs := make(chan int64, len(due))
		var wg sync.WaitGroup

		for range WORKER_COUNT {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for connectionID := range jobs {
					result, err := syncManager.Sync(context.Background(), connectionID)
					switch {
					case errors.Is(err, syncer.ErrSyncInFlight), errors.Is(err, syncer.ErrSyncDisabled):
						continue
					case err != nil:
						// already logged and backed off by the manager
						continue
					case result.Unchanged:
						slog.Debug("CalendarSync: feed unchanged", "connection", connectionID)
					default:
						slog.Info("CalendarSync: cache refreshed", "connection", connectionID, "events", result.Events)
					}
				}
			}()
		}

		for _, connectionID := range due {
			jobs <- connectionID
		}
		close(jobs)
		wg.Wait()

		time.Sleep(as.Config.GetSyncInterval())
	}
}
