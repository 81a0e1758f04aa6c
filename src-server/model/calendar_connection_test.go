package model_test

import (
	"context"
	"testing"

	"slotd/src-server/model"
)

func TestCalendarConnectionLink(t *testing.T) {
	bundb := newTestDB(t)
	personID, _ := insertTestPeople(t, bundb)

	// case: a valid ics link inserts and enables sync
	func() {
		connModel := model.CalendarConnection{
			PersonID: personID,
			Provider: model.CONNECTION_PROVIDER_ICS,
			Url:      "https://example.com/alice.ics",
		}
		if err := connModel.Link(context.Background(), bundb); err != nil {
			t.Fatal(err)
		}
		if !connModel.SyncEnabled {
			t.Error("expected sync to be enabled")
		}
		if connModel.AccessLevel != model.ACCESS_LEVEL_FREEBUSY {
			t.Error("expected the freebusy default, got", connModel.AccessLevel)
		}
	}()

	// case: ics without a feed url is rejected
	func() {
		connModel := model.CalendarConnection{
			PersonID: personID,
			Provider: model.CONNECTION_PROVIDER_ICS,
		}
		if err := connModel.Link(context.Background(), bundb); err == nil {
			t.Error("expected an error")
		}
	}()

	// case: unknown person is rejected
	func() {
		connModel := model.CalendarConnection{
			PersonID: 9999,
			Provider: model.CONNECTION_PROVIDER_ICS,
			Url:      "https://example.com/ghost.ics",
		}
		if err := connModel.Link(context.Background(), bundb); err == nil {
			t.Error("expected an error")
		}
	}()

	// case: a write target needs write access
	func() {
		connModel := model.CalendarConnection{
			PersonID:      personID,
			Provider:      model.CONNECTION_PROVIDER_GOOGLE,
			CalendarID:    "primary",
			AccessLevel:   model.ACCESS_LEVEL_READER,
			IsWriteTarget: true,
		}
		if err := connModel.Link(context.Background(), bundb); err == nil {
			t.Error("expected an error")
		}
	}()

	// case: at most one write target per person
	func() {
		first := model.CalendarConnection{
			PersonID:      personID,
			Provider:      model.CONNECTION_PROVIDER_GOOGLE,
			CalendarID:    "primary",
			AccessLevel:   model.ACCESS_LEVEL_OWNER,
			IsWriteTarget: true,
		}
		if err := first.Link(context.Background(), bundb); err != nil {
			t.Fatal(err)
		}
		second := model.CalendarConnection{
			PersonID:      personID,
			Provider:      model.CONNECTION_PROVIDER_GOOGLE,
			CalendarID:    "secondary",
			AccessLevel:   model.ACCESS_LEVEL_OWNER,
			IsWriteTarget: true,
		}
		if err := second.Link(context.Background(), bundb); err == nil {
			t.Error("expected an error")
		}
	}()
}

func TestCalendarConnectionUnlink(t *testing.T) {
	bundb := newTestDB(t)
	personID, _ := insertTestPeople(t, bundb)

	connModel := model.CalendarConnection{
		PersonID: personID,
		Provider: model.CONNECTION_PROVIDER_ICS,
		Url:      "https://example.com/alice.ics",
	}
	if err := connModel.Link(context.Background(), bundb); err != nil {
		t.Fatal(err)
	}
	eventModel := model.CachedEvent{
		ConnectionID: connModel.ID,
		ExternalID:   "evt-1",
		StartUnixUTC: 1000,
		EndUnixUTC:   2000,
		BusyStatus:   model.BUSY_STATUS_BUSY,
	}
	if _, err := bundb.NewInsert().
		Model(&eventModel).
		Exec(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := connModel.Unlink(context.Background(), bundb); err != nil {
		t.Fatal(err)
	}

	// case: the cached events went with the connection
	count, err := bundb.NewSelect().
		Model((*model.CachedEvent)(nil)).
		Where("connection_id = ?", connModel.ID).
		Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Error("cached events should be gone, got", count)
	}
}
