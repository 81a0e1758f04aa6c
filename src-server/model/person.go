package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// One "HH:MM"-"HH:MM" range inside a single weekday, wall clock in the
// person's own timezone.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (w TimeWindow) Minutes() (int, int, error) {
	start, err := parseClock(w.Start)
	if err != nil {
		return 0, 0, fmt.Errorf("TimeWindow.Minutes: %w", err)
	}
	end, err := parseClock(w.End)
	if err != nil {
		return 0, 0, fmt.Errorf("TimeWindow.Minutes: %w", err)
	}
	if start >= end {
		return 0, 0, fmt.Errorf("TimeWindow.Minutes: start %q must be before end %q", w.Start, w.End)
	}
	return start, end, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Weekday name (lowercase, "monday".."sunday") to ordered time windows.
// Stored as a JSON text column; the free-form shape from calendar providers
// is validated here at the store boundary, not downstream.
type WeekdayWindows map[string][]TimeWindow

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func (w WeekdayWindows) Validate() error {
	for day, windows := range w {
		if _, ok := weekdayNames[day]; !ok {
			return fmt.Errorf("WeekdayWindows.Validate: unknown weekday %q", day)
		}
		for _, window := range windows {
			if _, _, err := window.Minutes(); err != nil {
				return fmt.Errorf("WeekdayWindows.Validate: %s: %w", day, err)
			}
		}
	}
	return nil
}

func (w WeekdayWindows) Windows(day time.Weekday) []TimeWindow {
	for name, weekday := range weekdayNames {
		if weekday == day {
			return w[name]
		}
	}
	return nil
}

func (w WeekdayWindows) Value() (driver.Value, error) {
	if w == nil {
		return nil, nil
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("WeekdayWindows.Value: %w", err)
	}
	return string(raw), nil
}

func (w *WeekdayWindows) Scan(src interface{}) error {
	if src == nil {
		*w = nil
		return nil
	}
	var raw []byte
	switch value := src.(type) {
	case string:
		raw = []byte(value)
	case []byte:
		raw = value
	default:
		return fmt.Errorf("WeekdayWindows.Scan: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*w = nil
		return nil
	}
	if err := json.Unmarshal(raw, w); err != nil {
		return fmt.Errorf("WeekdayWindows.Scan: %w", err)
	}
	return w.Validate()
}

// The engine reads people for timezone, working hours and meeting
// preferences; it never writes this table. The personnel CRUD owns it.
type Person struct {
	bun.BaseModel `bun:"table:people"`

	ID       int64  `bun:"id,pk,autoincrement"`
	Name     string `bun:"name,notnull"` // required
	Email    string `bun:"email"`
	Timezone string `bun:"timezone,notnull"` // required, IANA name

	WorkingHours          WeekdayWindows `bun:"working_hours"`
	PreferredMeetingTimes WeekdayWindows `bun:"preferred_meeting_times"`

	Connections []*CalendarConnection `bun:"rel:has-many,join:id=person_id"`
}

func (p *Person) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("(*Person).Location: invalid timezone %q: %w", p.Timezone, err)
	}
	return loc, nil
}
