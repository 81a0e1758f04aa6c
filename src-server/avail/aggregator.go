package avail

import (
	"context"
	"fmt"

	"slotd/src-server/model"
	"slotd/src-server/utils"
)

// Point-in-time view of the event cache. The bool reports whether the
// person has any sync-enabled connection at all, which the aggregator
// needs to apply the no-connection policy.
type BusySource interface {
	BusyIntervals(ctx context.Context, personID int64, window Interval) ([]Interval, bool, error)
}

// Read-only view of the people store.
type PersonDirectory interface {
	Person(ctx context.Context, personID int64) (*model.Person, error)
}

// Computes merged free timelines over a snapshot of the event cache.
// Stateless: safe for concurrent use, takes no locks, never mutates the
// cache.
type Aggregator struct {
	busy               BusySource
	people             PersonDirectory
	noConnectionPolicy utils.NoConnectionPolicy
}

func NewAggregator(busy BusySource, people PersonDirectory, noConnectionPolicy utils.NoConnectionPolicy) *Aggregator {
	return &Aggregator{
		busy:               busy,
		people:             people,
		noConnectionPolicy: noConnectionPolicy,
	}
}

// One person's free time inside the window: window minus busy intervals
// minus outside-working-hours time.
func (a *Aggregator) PersonFree(ctx context.Context, personID int64, window Interval) ([]Interval, error) {
	person, err := a.people.Person(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("(*Aggregator).PersonFree: %w", err)
	}

	busy, connected, err := a.busy.BusyIntervals(ctx, personID, window)
	if err != nil {
		return nil, fmt.Errorf("(*Aggregator).PersonFree: %w", err)
	}
	if !connected && a.noConnectionPolicy == utils.NO_CONNECTION_POLICY_BUSY {
		return nil, nil
	}

	free := Subtract(window, Coalesce(busy))

	if len(person.WorkingHours) == 0 {
		return free, nil
	}
	loc, err := person.Location()
	if err != nil {
		return nil, fmt.Errorf("(*Aggregator).PersonFree: %w", err)
	}
	working := ExpandWindows(person.WorkingHours, loc, window)
	return IntersectAll([][]Interval{free, working}), nil
}

// Aggregate free time across all participants: the intersection of the
// individual free sets. An empty result means no common slot, which is a
// valid answer, not an error.
func (a *Aggregator) FreeSlots(ctx context.Context, personIDs []int64, window Interval) ([]Interval, error) {
	if len(personIDs) == 0 {
		return nil, fmt.Errorf("(*Aggregator).FreeSlots: no participants")
	}
	if window.IsZero() {
		return nil, fmt.Errorf("(*Aggregator).FreeSlots: window start must be before end")
	}

	sets := make([][]Interval, 0, len(personIDs))
	for _, personID := range personIDs {
		free, err := a.PersonFree(ctx, personID, window)
		if err != nil {
			return nil, err
		}
		if len(free) == 0 {
			return nil, nil
		}
		sets = append(sets, free)
	}
	return IntersectAll(sets), nil
}
