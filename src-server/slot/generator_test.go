package slot_test

import (
	"context"
	"testing"
	"time"

	"slotd/src-server/avail"
	"slotd/src-server/model"
	"slotd/src-server/slot"
	"slotd/src-server/utils"
)

func at(t *testing.T, hour, min int) time.Time {
	t.Helper()
	return time.Date(2026, 9, 7, hour, min, 0, 0, time.UTC)
}

func iv(t *testing.T, startHour, startMin, endHour, endMin int) avail.Interval {
	t.Helper()
	return avail.Interval{
		Start: at(t, startHour, startMin),
		End:   at(t, endHour, endMin),
	}
}

type fakeBusySource struct {
	busy map[int64][]avail.Interval
}

func (f *fakeBusySource) BusyIntervals(_ context.Context, personID int64, window avail.Interval) ([]avail.Interval, bool, error) {
	intervals, ok := f.busy[personID]
	if !ok {
		return nil, false, nil
	}
	clipped := make([]avail.Interval, 0, len(intervals))
	for _, interval := range intervals {
		if c := interval.Clip(window); !c.IsZero() {
			clipped = append(clipped, c)
		}
	}
	return avail.Coalesce(clipped), true, nil
}

type fakeDirectory struct {
	people map[int64]*model.Person
}

func (f *fakeDirectory) Person(_ context.Context, personID int64) (*model.Person, error) {
	if person, ok := f.people[personID]; ok {
		return person, nil
	}
	return &model.Person{ID: personID, Timezone: "UTC"}, nil
}

func newGenerator(busy *fakeBusySource, people *fakeDirectory) *slot.Generator {
	agg := avail.NewAggregator(busy, people, utils.NO_CONNECTION_POLICY_FREE)
	return slot.NewGenerator(agg, busy, people)
}

func TestPropose(t *testing.T) {
	window := iv(t, 9, 0, 17, 0)
	busy := &fakeBusySource{busy: map[int64][]avail.Interval{
		1: {iv(t, 9, 0, 10, 0), iv(t, 14, 0, 15, 0)},
		2: {iv(t, 9, 30, 11, 0)},
	}}
	generator := newGenerator(busy, &fakeDirectory{})

	// case: the earliest common 30-minute slot is 11:00-11:30
	func() {
		candidates, err := generator.Propose(context.Background(),
			[]int64{1, 2}, 30*time.Minute, window, slot.Constraints{})
		if err != nil {
			t.Fatal(err)
		}
		if len(candidates) == 0 {
			t.Fatal("expected candidates")
		}
		first := candidates[0]
		if !first.Start.Equal(at(t, 11, 0)) || !first.End.Equal(at(t, 11, 30)) {
			t.Error("wrong first candidate", first)
		}
		if first.Relaxed {
			t.Error("first candidate should not be relaxed")
		}
	}()

	// case: a 30-minute buffer pushes the first candidate past the
	// meeting that ends at 11:00
	func() {
		candidates, err := generator.Propose(context.Background(),
			[]int64{1, 2}, 30*time.Minute, window, slot.Constraints{Buffer: 30 * time.Minute})
		if err != nil {
			t.Fatal(err)
		}
		if len(candidates) == 0 {
			t.Fatal("expected candidates")
		}
		if !candidates[0].Start.Equal(at(t, 11, 30)) {
			t.Error("wrong first buffered candidate", candidates[0])
		}
	}()

	// case: candidate count is capped
	func() {
		candidates, err := generator.Propose(context.Background(),
			[]int64{1, 2}, 30*time.Minute, window, slot.Constraints{MaxCandidates: 3})
		if err != nil {
			t.Fatal(err)
		}
		if len(candidates) != 3 {
			t.Error("expected 3 candidates, got", len(candidates))
		}
	}()

	// case: no common free time means no candidates, not an error
	func() {
		blocked := &fakeBusySource{busy: map[int64][]avail.Interval{
			1: {iv(t, 9, 0, 17, 0)},
			2: {iv(t, 9, 30, 11, 0)},
		}}
		candidates, err := newGenerator(blocked, &fakeDirectory{}).Propose(context.Background(),
			[]int64{1, 2}, 30*time.Minute, window, slot.Constraints{})
		if err != nil {
			t.Fatal(err)
		}
		if candidates != nil {
			t.Error("expected no candidates, got", candidates)
		}
	}()
}

func TestProposePreferences(t *testing.T) {
	window := iv(t, 9, 0, 17, 0)
	busy := &fakeBusySource{busy: map[int64][]avail.Interval{
		1: {iv(t, 9, 0, 10, 0)},
	}}

	// case: candidates inside the stated preference window win
	func() {
		people := &fakeDirectory{people: map[int64]*model.Person{
			// 2026-09-07 is a Monday
			2: {
				ID:       2,
				Timezone: "UTC",
				PreferredMeetingTimes: model.WeekdayWindows{
					"monday": {{Start: "15:00", End: "17:00"}},
				},
			},
		}}
		candidates, err := newGenerator(busy, people).Propose(context.Background(),
			[]int64{1, 2}, 30*time.Minute, window, slot.Constraints{})
		if err != nil {
			t.Fatal(err)
		}
		if len(candidates) == 0 {
			t.Fatal("expected candidates")
		}
		for _, candidate := range candidates {
			if candidate.Start.Before(at(t, 15, 0)) {
				t.Error("candidate outside the preference window", candidate)
			}
			if candidate.Relaxed {
				t.Error("preferred candidates must not be marked relaxed", candidate)
			}
		}
	}()

	// case: an unsatisfiable preference falls back to plain free time,
	// explicitly marked
	func() {
		people := &fakeDirectory{people: map[int64]*model.Person{
			2: {
				ID:       2,
				Timezone: "UTC",
				PreferredMeetingTimes: model.WeekdayWindows{
					// Monday window, but all of it is busy for person 2
					"monday": {{Start: "09:00", End: "09:30"}},
				},
			},
		}}
		blocked := &fakeBusySource{busy: map[int64][]avail.Interval{
			1: {iv(t, 9, 0, 10, 0)},
			2: {iv(t, 9, 0, 10, 0)},
		}}
		candidates, err := newGenerator(blocked, people).Propose(context.Background(),
			[]int64{1, 2}, 30*time.Minute, window, slot.Constraints{})
		if err != nil {
			t.Fatal(err)
		}
		if len(candidates) == 0 {
			t.Fatal("expected relaxed candidates")
		}
		for _, candidate := range candidates {
			if !candidate.Relaxed {
				t.Error("fallback candidates must be marked relaxed", candidate)
			}
		}
	}()
}
