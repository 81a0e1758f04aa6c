package syncer_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"slotd/src-server/model"
	"slotd/src-server/provider"
	"slotd/src-server/syncer"
	"slotd/src-server/utils"
)

type fakeProvider struct {
	intervals []provider.BusyInterval
	err       error
	calls     int
}

func (f *fakeProvider) FetchBusyIntervals(_ context.Context, _ *model.CalendarConnection, _, _ time.Time) ([]provider.BusyInterval, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.intervals, nil
}

func (f *fakeProvider) CreateEvent(_ context.Context, _ *model.CalendarConnection, _, _ time.Time, _ string, _ []string) (string, error) {
	return "", provider.ErrReadOnly
}

func newTestAppState(t *testing.T) *utils.AppState {
	t.Helper()
	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	bundb := bun.NewDB(db, sqlitedialect.New())
	if err := model.CreateSchema(bundb); err != nil {
		t.Fatal(err)
	}
	return &utils.AppState{
		Config:      utils.NewConfig(),
		RawDB:       db,
		BunDB:       bundb,
		MetricChans: utils.NewMetric(),
	}
}

func linkTestConnection(t *testing.T, as *utils.AppState) int64 {
	t.Helper()
	personModel := model.Person{Name: "Alice", Timezone: "UTC"}
	if _, err := as.BunDB.NewInsert().
		Model(&personModel).
		Exec(context.Background()); err != nil {
		t.Fatal(err)
	}
	connModel := model.CalendarConnection{
		PersonID: personModel.ID,
		Provider: model.CONNECTION_PROVIDER_ICS,
		Url:      "https://example.com/alice.ics",
	}
	if err := connModel.Link(context.Background(), as.BunDB); err != nil {
		t.Fatal(err)
	}
	return connModel.ID
}

func fakeIntervals(externalIDs ...string) []provider.BusyInterval {
	base := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour)
	intervals := make([]provider.BusyInterval, 0, len(externalIDs))
	for i, id := range externalIDs {
		start := base.Add(time.Duration(i) * 2 * time.Hour)
		intervals = append(intervals, provider.BusyInterval{
			ExternalID: id,
			Start:      start,
			End:        start.Add(time.Hour),
			Busy:       true,
		})
	}
	return intervals
}

func cachedExternalIDs(t *testing.T, as *utils.AppState, connectionID int64) []string {
	t.Helper()
	ids := make([]string, 0)
	if err := as.BunDB.NewSelect().
		Model((*model.CachedEvent)(nil)).
		Column("external_id").
		Where("connection_id = ?", connectionID).
		Order("start_date ASC").
		Scan(context.Background(), &ids); err != nil {
		t.Fatal(err)
	}
	return ids
}

func TestSync(t *testing.T) {
	as := newTestAppState(t)
	connectionID := linkTestConnection(t, as)
	fake := &fakeProvider{intervals: fakeIntervals("a", "b")}
	manager := syncer.NewManager(as, provider.Registry{
		model.CONNECTION_PROVIDER_ICS: fake,
	})

	// case: first cycle populates the cache and records the sync
	func() {
		result, err := manager.Sync(context.Background(), connectionID)
		if err != nil {
			t.Fatal(err)
		}
		if result.Events != 2 || result.Unchanged {
			t.Error("wrong result", result)
		}
		ids := cachedExternalIDs(t, as, connectionID)
		if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
			t.Error("wrong cached events", ids)
		}
		connModel := new(model.CalendarConnection)
		if err := as.BunDB.NewSelect().
			Model(connModel).
			Where("id = ?", connectionID).
			Scan(context.Background()); err != nil {
			t.Fatal(err)
		}
		if connModel.LastSyncedUnixUTC == 0 {
			t.Error("last_synced not recorded")
		}
		if connModel.FeedHash == "" {
			t.Error("feed hash not recorded")
		}
	}()

	// case: an unchanged feed skips the rewrite
	func() {
		result, err := manager.Sync(context.Background(), connectionID)
		if err != nil {
			t.Fatal(err)
		}
		if !result.Unchanged {
			t.Error("expected the unchanged shortcut")
		}
	}()

	// case: a changed feed replaces the window wholesale
	func() {
		fake.intervals = fakeIntervals("c")
		result, err := manager.Sync(context.Background(), connectionID)
		if err != nil {
			t.Fatal(err)
		}
		if result.Unchanged || result.Events != 1 {
			t.Error("wrong result", result)
		}
		ids := cachedExternalIDs(t, as, connectionID)
		if len(ids) != 1 || ids[0] != "c" {
			t.Error("old events should be gone", ids)
		}
	}()
}

func TestSyncFailures(t *testing.T) {
	// case: a transient failure backs the connection off but keeps it enabled
	func() {
		as := newTestAppState(t)
		connectionID := linkTestConnection(t, as)
		fake := &fakeProvider{err: &provider.TransientError{Err: fmt.Errorf("boom")}}
		manager := syncer.NewManager(as, provider.Registry{
			model.CONNECTION_PROVIDER_ICS: fake,
		})

		if _, err := manager.Sync(context.Background(), connectionID); err == nil {
			t.Fatal("expected an error")
		}
		connModel := new(model.CalendarConnection)
		if err := as.BunDB.NewSelect().
			Model(connModel).
			Where("id = ?", connectionID).
			Scan(context.Background()); err != nil {
			t.Fatal(err)
		}
		if connModel.ConsecutiveFailures != 1 {
			t.Error("expected 1 failure, got", connModel.ConsecutiveFailures)
		}
		if !connModel.SyncEnabled {
			t.Error("one transient failure must not disable the connection")
		}
		if connModel.ErrorMessage == "" {
			t.Error("the failure cause should be recorded")
		}

		now := time.Now().UTC()
		if manager.Due(connectionID, now) {
			t.Error("connection should be in backoff")
		}
		if !manager.Due(connectionID, now.Add(as.Config.GetSyncBaseBackoff()*2)) {
			t.Error("backoff should have elapsed")
		}

		// recovery resets the failure count and the backoff
		fake.err = nil
		fake.intervals = fakeIntervals("a")
		if _, err := manager.Sync(context.Background(), connectionID); err != nil {
			t.Fatal(err)
		}
		if err := as.BunDB.NewSelect().
			Model(connModel).
			Where("id = ?", connectionID).
			Scan(context.Background()); err != nil {
			t.Fatal(err)
		}
		if connModel.ConsecutiveFailures != 0 || connModel.ErrorMessage != "" {
			t.Error("recovery should clear the failure state", connModel.ConsecutiveFailures, connModel.ErrorMessage)
		}
		if !manager.Due(connectionID, time.Now().UTC()) {
			t.Error("recovery should clear the backoff")
		}
	}()

	// case: an auth failure disables the connection immediately
	func() {
		as := newTestAppState(t)
		connectionID := linkTestConnection(t, as)
		manager := syncer.NewManager(as, provider.Registry{
			model.CONNECTION_PROVIDER_ICS: &fakeProvider{
				err: &provider.AuthError{Err: fmt.Errorf("token revoked")},
			},
		})

		if _, err := manager.Sync(context.Background(), connectionID); err == nil {
			t.Fatal("expected an error")
		}
		connModel := new(model.CalendarConnection)
		if err := as.BunDB.NewSelect().
			Model(connModel).
			Where("id = ?", connectionID).
			Scan(context.Background()); err != nil {
			t.Fatal(err)
		}
		if connModel.SyncEnabled {
			t.Error("auth failure must disable the connection")
		}

		// and further cycles refuse to touch it
		if _, err := manager.Sync(context.Background(), connectionID); !errors.Is(err, syncer.ErrSyncDisabled) {
			t.Error("expected ErrSyncDisabled, got", err)
		}
	}()

	// case: repeated transient failures hit the cap and disable
	func() {
		t.Setenv("SYNC_MAX_FAILURES", "2")
		as := newTestAppState(t)
		connectionID := linkTestConnection(t, as)
		manager := syncer.NewManager(as, provider.Registry{
			model.CONNECTION_PROVIDER_ICS: &fakeProvider{
				err: &provider.TransientError{Err: fmt.Errorf("boom")},
			},
		})

		for range 2 {
			if _, err := manager.Sync(context.Background(), connectionID); err == nil {
				t.Fatal("expected an error")
			}
		}
		connModel := new(model.CalendarConnection)
		if err := as.BunDB.NewSelect().
			Model(connModel).
			Where("id = ?", connectionID).
			Scan(context.Background()); err != nil {
			t.Fatal(err)
		}
		if connModel.SyncEnabled {
			t.Error("the failure cap must disable the connection")
		}
	}()
}

func TestBackoffDelayThroughDue(t *testing.T) {
	// the backoff gate is per manager instance, a fresh manager knows no history
	as := newTestAppState(t)
	manager := syncer.NewManager(as, provider.Registry{})
	if !manager.Due(42, time.Now().UTC()) {
		t.Error("an unknown connection is always due")
	}
}
