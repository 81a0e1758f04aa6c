package syncer

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/uptrace/bun"

	"slotd/src-server/model"
	"slotd/src-server/provider"
	"slotd/src-server/utils"
)

var (
	// a cycle for the same connection must not overlap itself
	ErrSyncInFlight = errors.New("sync already in flight for this connection")
	ErrSyncDisabled = errors.New("connection is sync-disabled")
)

type Result struct {
	ConnectionID int64
	Events       int
	// the feed content didn't change since the last cycle, nothing was
	// rewritten
	Unchanged bool
}

// Pulls intervals from each connection's external source and atomically
// replaces that connection's slice of the event cache. One Manager
// serves the whole process; cycles for different connections may run in
// parallel, a cycle per connection is single-flight.
type Manager struct {
	as        *utils.AppState
	providers provider.Registry

	mu       sync.Mutex
	inflight map[int64]struct{}
	nextTry  map[int64]time.Time
}

func NewManager(as *utils.AppState, providers provider.Registry) *Manager {
	return &Manager{
		as:        as,
		providers: providers,
		inflight:  make(map[int64]struct{}),
		nextTry:   make(map[int64]time.Time),
	}
}

// Whether the connection's backoff window has elapsed. Healthy
// connections are always due.
func (m *Manager) Due(connectionID int64, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, ok := m.nextTry[connectionID]
	return !ok || !now.Before(next)
}

func (m *Manager) acquire(connectionID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inflight[connectionID]; ok {
		return false
	}
	m.inflight[connectionID] = struct{}{}
	return true
}

func (m *Manager) release(connectionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, connectionID)
}

func (m *Manager) Sync(ctx context.Context, connectionID int64) (Result, error) {
	if !m.acquire(connectionID) {
		return Result{}, ErrSyncInFlight
	}
	defer m.release(connectionID)

	connModel := new(model.CalendarConnection)
	if err := m.as.BunDB.NewSelect().
		Model(connModel).
		Where("id = ?", connectionID).
		Scan(ctx); err != nil {
		return Result{}, fmt.Errorf("(*Manager).Sync: can't get connection %d: %w", connectionID, err)
	}
	if !connModel.SyncEnabled {
		return Result{}, ErrSyncDisabled
	}

	calendarProvider, err := m.providers.For(connModel)
	if err != nil {
		return Result{}, fmt.Errorf("(*Manager).Sync: %w", err)
	}

	now := time.Now().UTC()
	from := now.Truncate(24 * time.Hour)
	to := from.Add(m.as.Config.GetSyncLookahead())

	startTimer := time.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, m.as.Config.GetSyncTimeout())
	defer cancel()
	fetched, err := calendarProvider.FetchBusyIntervals(fetchCtx, connModel, from, to)
	if err != nil {
		// a timeout counts as a fetch failure for backoff purposes
		m.recordFailure(ctx, connModel, err, now)
		return Result{}, err
	}

	eventModels := make([]model.CachedEvent, 0, len(fetched))
	for _, interval := range fetched {
		eventModel := model.CachedEvent{
			ConnectionID: connModel.ID,
			ExternalID:   interval.ExternalID,
			StartUnixUTC: interval.Start.Unix(),
			EndUnixUTC:   interval.End.Unix(),
			IsAllDay:     interval.AllDay,
			IsRecurring:  interval.Recurring,
			BusyStatus: func() string {
				if interval.Busy {
					return model.BUSY_STATUS_BUSY
				}
				return model.BUSY_STATUS_FREE
			}(),
			Visibility: interval.Visibility,
		}
		if err := eventModel.Validate(); err != nil {
			slog.Warn("skipping invalid fetched event", "connection", connModel.ID, "error", err)
			continue
		}
		eventModels = append(eventModels, eventModel)
	}

	feedHash, err := hashEvents(eventModels)
	if err != nil {
		return Result{}, fmt.Errorf("(*Manager).Sync: %w", err)
	}
	if feedHash == connModel.FeedHash && connModel.FeedHash != "" {
		if err := m.recordSuccess(ctx, connModel, feedHash, now); err != nil {
			return Result{}, err
		}
		return Result{ConnectionID: connModel.ID, Events: len(eventModels), Unchanged: true}, nil
	}

	// all-or-nothing: a cancelled or failed cycle commits nothing
	if err := m.as.BunDB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*model.CachedEvent)(nil)).
			Where("connection_id = ?", connModel.ID).
			Where("start_date < ?", to.Unix()).
			Where("end_date > ?", from.Unix()).
			Exec(ctx); err != nil {
			return fmt.Errorf("can't prune stale events: %w", err)
		}
		if len(eventModels) > 0 {
			if _, err := tx.NewInsert().
				Model(&eventModels).
				Exec(ctx); err != nil {
				return fmt.Errorf("can't insert fetched events: %w", err)
			}
		}
		if _, err := tx.NewUpdate().
			Model((*model.CalendarConnection)(nil)).
			Set("last_synced = ?", now.Unix()).
			Set("error_message = ?", "").
			Set("consecutive_failures = ?", 0).
			Set("feed_hash = ?", feedHash).
			Where("id = ?", connModel.ID).
			Exec(ctx); err != nil {
			return fmt.Errorf("can't update connection: %w", err)
		}
		return nil
	}); err != nil {
		m.recordFailure(ctx, connModel, err, now)
		return Result{}, fmt.Errorf("(*Manager).Sync: %w", err)
	}

	m.mu.Lock()
	delete(m.nextTry, connModel.ID)
	m.mu.Unlock()

	select {
	case m.as.MetricChans.CalendarSync <- float64(time.Since(startTimer).Microseconds()):
	default:
	}

	return Result{ConnectionID: connModel.ID, Events: len(eventModels)}, nil
}

func (m *Manager) recordSuccess(ctx context.Context, connModel *model.CalendarConnection, feedHash string, now time.Time) error {
	if _, err := m.as.BunDB.NewUpdate().
		Model((*model.CalendarConnection)(nil)).
		Set("last_synced = ?", now.Unix()).
		Set("error_message = ?", "").
		Set("consecutive_failures = ?", 0).
		Set("feed_hash = ?", feedHash).
		Where("id = ?", connModel.ID).
		Exec(ctx); err != nil {
		return fmt.Errorf("(*Manager).recordSuccess: %w", err)
	}
	m.mu.Lock()
	delete(m.nextTry, connModel.ID)
	m.mu.Unlock()
	return nil
}

func (m *Manager) recordFailure(ctx context.Context, connModel *model.CalendarConnection, cause error, now time.Time) {
	failures := connModel.ConsecutiveFailures + 1

	var authErr *provider.AuthError
	fatal := errors.As(cause, &authErr) || failures >= m.as.Config.GetSyncMaxFailures()

	query := m.as.BunDB.NewUpdate().
		Model((*model.CalendarConnection)(nil)).
		Set("consecutive_failures = ?", failures).
		Set("error_message = ?", cause.Error()).
		Where("id = ?", connModel.ID)
	if fatal {
		// out-of-band recovery: the connection stays disabled until the
		// person re-links or re-authorizes it
		query = query.Set("sync_enabled = ?", false)
		slog.Error("connection sync-disabled, needs re-authorization",
			"connection", connModel.ID, "person", connModel.PersonID,
			"failures", failures, "error", cause)
	} else {
		slog.Warn("connection sync failed", "connection", connModel.ID,
			"failures", failures, "error", cause)
	}
	if _, err := query.Exec(ctx); err != nil {
		slog.Error("can't record sync failure", "connection", connModel.ID, "error", err)
	}

	m.mu.Lock()
	m.nextTry[connModel.ID] = now.Add(backoffDelay(
		m.as.Config.GetSyncBaseBackoff(),
		m.as.Config.GetSyncMaxBackoff(),
		failures,
	))
	m.mu.Unlock()

	select {
	case m.as.MetricChans.CalendarSyncFailures <- struct{}{}:
	default:
	}
}

// Content hash of the normalized events; an unchanged feed skips the
// cache rewrite entirely.
func hashEvents(eventModels []model.CachedEvent) (string, error) {
	raw, err := json.Marshal(eventModels)
	if err != nil {
		return "", fmt.Errorf("hashEvents: %w", err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(raw)), nil
}
