package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"slotd/src-server/avail"
	"slotd/src-server/model"
)

// Read path of the event cache. Serves whatever the last sync cycle
// materialized and never triggers a sync itself; freshness is bounded
// by the sync interval.
type Store struct {
	db bun.IDB
}

func NewStore(db bun.IDB) *Store {
	return &Store{db: db}
}

// Coalesced busy intervals of one person over the window, merged across
// all of their sync-enabled connections. The bool reports whether any
// enabled connection exists.
func (s *Store) BusyIntervals(ctx context.Context, personID int64, window avail.Interval) ([]avail.Interval, bool, error) {
	connectionIDs := make([]int64, 0)
	if err := s.db.NewSelect().
		Model((*model.CalendarConnection)(nil)).
		Column("id").
		Where("person_id = ?", personID).
		Where("sync_enabled = ?", true).
		Scan(ctx, &connectionIDs); err != nil {
		return nil, false, fmt.Errorf("(*Store).BusyIntervals: can't get connections: %w", err)
	}
	if len(connectionIDs) == 0 {
		return nil, false, nil
	}

	eventModels := make([]model.CachedEvent, 0)
	if err := s.db.NewSelect().
		Model(&eventModels).
		Where("connection_id IN (?)", bun.In(connectionIDs)).
		Where("busy_status = ?", model.BUSY_STATUS_BUSY).
		Where("start_date < ?", window.End.UTC().Unix()).
		Where("end_date > ?", window.Start.UTC().Unix()).
		Order("start_date ASC").
		Scan(ctx); err != nil {
		return nil, true, fmt.Errorf("(*Store).BusyIntervals: can't get cached events: %w", err)
	}

	intervals := make([]avail.Interval, 0, len(eventModels))
	for _, event := range eventModels {
		iv := avail.Interval{
			Start: time.Unix(event.StartUnixUTC, 0).UTC(),
			End:   time.Unix(event.EndUnixUTC, 0).UTC(),
		}.Clip(window)
		if !iv.IsZero() {
			intervals = append(intervals, iv)
		}
	}
	return avail.Coalesce(intervals), true, nil
}
