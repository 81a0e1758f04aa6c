package model_test

import (
	"context"
	"testing"

	"slotd/src-server/model"
)

func TestWeekdayWindows(t *testing.T) {
	// case: valid windows pass validation
	func() {
		windows := model.WeekdayWindows{
			"monday":  {{Start: "09:00", End: "17:00"}},
			"tuesday": {{Start: "09:00", End: "12:00"}, {Start: "13:00", End: "17:00"}},
		}
		if err := windows.Validate(); err != nil {
			t.Error(err)
		}
	}()

	// case: unknown weekday
	func() {
		windows := model.WeekdayWindows{"moonday": {{Start: "09:00", End: "17:00"}}}
		if err := windows.Validate(); err == nil {
			t.Error("expected an error")
		}
	}()

	// case: inverted window
	func() {
		windows := model.WeekdayWindows{"monday": {{Start: "17:00", End: "09:00"}}}
		if err := windows.Validate(); err == nil {
			t.Error("expected an error")
		}
	}()

	// case: the JSON column round trip validates on scan
	func() {
		bundb := newTestDB(t)
		personModel := model.Person{
			Name:     "Alice",
			Timezone: "Asia/Ho_Chi_Minh",
			WorkingHours: model.WeekdayWindows{
				"monday": {{Start: "09:00", End: "17:00"}},
			},
		}
		if _, err := bundb.NewInsert().
			Model(&personModel).
			Exec(context.Background()); err != nil {
			t.Fatal(err)
		}
		loaded := new(model.Person)
		if err := bundb.NewSelect().
			Model(loaded).
			Where("id = ?", personModel.ID).
			Scan(context.Background()); err != nil {
			t.Fatal(err)
		}
		if len(loaded.WorkingHours["monday"]) != 1 {
			t.Error("working hours lost in the round trip", loaded.WorkingHours)
		}
		loc, err := loaded.Location()
		if err != nil {
			t.Fatal(err)
		}
		if loc.String() != "Asia/Ho_Chi_Minh" {
			t.Error("wrong location", loc)
		}
	}()
}
