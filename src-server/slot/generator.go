package slot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"slotd/src-server/avail"
)

// Candidate starts snap to this grid so proposals land on familiar
// wall-clock boundaries.
const candidateStep = 15 * time.Minute

// Upper bound on raw enumeration before ranking; a 90-day window over a
// lightly-booked calendar would otherwise produce thousands of starts.
const maxEnumerated = 512

type Constraints struct {
	// minimum gap between a candidate and any existing busy interval
	Buffer time.Duration
	// how many ranked candidates to return
	MaxCandidates int
}

type Candidate struct {
	Start time.Time
	End   time.Time
	// set when preference constraints could not be satisfied and the
	// generator fell back to plain free time; callers must disclose this
	Relaxed bool
}

// Turns aggregate free time into a ranked, finite candidate list.
// Stateless like the aggregator: pure computation over a cache snapshot.
type Generator struct {
	agg    *avail.Aggregator
	busy   avail.BusySource
	people avail.PersonDirectory
}

func NewGenerator(agg *avail.Aggregator, busy avail.BusySource, people avail.PersonDirectory) *Generator {
	return &Generator{agg: agg, busy: busy, people: people}
}

func (g *Generator) Propose(ctx context.Context, participants []int64, duration time.Duration, window avail.Interval, constraints Constraints) ([]Candidate, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("(*Generator).Propose: duration must be positive")
	}
	if constraints.MaxCandidates <= 0 {
		constraints.MaxCandidates = 5
	}

	free, err := g.agg.FreeSlots(ctx, participants, window)
	if err != nil {
		return nil, err
	}
	if len(free) == 0 {
		return nil, nil
	}

	// merged busy across all participants, for the buffer rule only
	allBusy := make([]avail.Interval, 0)
	for _, personID := range participants {
		busy, _, err := g.busy.BusyIntervals(ctx, personID, window)
		if err != nil {
			return nil, fmt.Errorf("(*Generator).Propose: %w", err)
		}
		allBusy = append(allBusy, busy...)
	}
	allBusy = avail.Coalesce(allBusy)

	preferred, err := g.preferredSets(ctx, participants, window)
	if err != nil {
		return nil, err
	}

	base := make([]Candidate, 0)
enumerate:
	for _, iv := range free {
		for start := iv.Start.Truncate(candidateStep); start.Add(duration).Before(iv.End) || start.Add(duration).Equal(iv.End); start = start.Add(candidateStep) {
			if start.Before(iv.Start) {
				continue
			}
			candidate := Candidate{Start: start, End: start.Add(duration)}
			if !passesBuffer(candidate, allBusy, constraints.Buffer) {
				continue
			}
			base = append(base, candidate)
			if len(base) >= maxEnumerated {
				break enumerate
			}
		}
	}
	if len(base) == 0 {
		return nil, nil
	}

	pool := make([]Candidate, 0, len(base))
	for _, candidate := range base {
		if matchesPreferences(candidate, preferred) {
			pool = append(pool, candidate)
		}
	}
	relaxed := false
	if len(pool) == 0 {
		// never silently return preferred-looking slots that violate
		// stated preference: fall back and say so
		pool = base
		relaxed = true
	}

	sort.SliceStable(pool, func(i, j int) bool {
		if !pool[i].Start.Equal(pool[j].Start) {
			return pool[i].Start.Before(pool[j].Start)
		}
		return preferenceDistance(pool[i], preferred) < preferenceDistance(pool[j], preferred)
	})

	if len(pool) > constraints.MaxCandidates {
		pool = pool[:constraints.MaxCandidates]
	}
	if relaxed {
		for i := range pool {
			pool[i].Relaxed = true
		}
	}
	return pool, nil
}

// Preferred meeting windows per participant, expanded to UTC intervals.
// Participants without stated preferences contribute no set and so
// don't constrain the result.
func (g *Generator) preferredSets(ctx context.Context, participants []int64, window avail.Interval) ([][]avail.Interval, error) {
	sets := make([][]avail.Interval, 0, len(participants))
	for _, personID := range participants {
		person, err := g.people.Person(ctx, personID)
		if err != nil {
			return nil, fmt.Errorf("(*Generator).preferredSets: %w", err)
		}
		if len(person.PreferredMeetingTimes) == 0 {
			continue
		}
		loc, err := person.Location()
		if err != nil {
			return nil, fmt.Errorf("(*Generator).preferredSets: %w", err)
		}
		expanded := avail.ExpandWindows(person.PreferredMeetingTimes, loc, window)
		if len(expanded) > 0 {
			sets = append(sets, expanded)
		}
	}
	return sets, nil
}

// A candidate extended by the buffer on both sides must not touch any
// existing busy interval, even when the bare slot fits a free interval.
func passesBuffer(candidate Candidate, busy []avail.Interval, buffer time.Duration) bool {
	if buffer <= 0 {
		return true
	}
	padded := avail.Interval{
		Start: candidate.Start.Add(-buffer),
		End:   candidate.End.Add(buffer),
	}
	for _, iv := range busy {
		if padded.Overlaps(iv) {
			return false
		}
	}
	return true
}

func matchesPreferences(candidate Candidate, preferred [][]avail.Interval) bool {
	slot := avail.Interval{Start: candidate.Start, End: candidate.End}
	for _, set := range preferred {
		inside := false
		for _, iv := range set {
			if iv.Contains(slot) {
				inside = true
				break
			}
		}
		if !inside {
			return false
		}
	}
	return true
}

// Distance from the candidate's midpoint to the nearest preferred-window
// midpoint, summed over participants; the ranking tie-breaker.
func preferenceDistance(candidate Candidate, preferred [][]avail.Interval) time.Duration {
	mid := candidate.Start.Add(candidate.End.Sub(candidate.Start) / 2)
	var total time.Duration
	for _, set := range preferred {
		best := time.Duration(-1)
		for _, iv := range set {
			ivMid := iv.Start.Add(iv.End.Sub(iv.Start) / 2)
			distance := mid.Sub(ivMid)
			if distance < 0 {
				distance = -distance
			}
			if best < 0 || distance < best {
				best = distance
			}
		}
		if best > 0 {
			total += best
		}
	}
	return total
}
