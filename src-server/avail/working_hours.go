package avail

import (
	"time"

	"slotd/src-server/model"
)

// Expand weekday windows into concrete UTC intervals covering the given
// window. Wall-clock values are interpreted in loc for each civil date,
// then converted to absolute instants; comparisons downstream never
// touch local time again, which keeps daylight-saving transitions from
// shifting already-computed intervals.
func ExpandWindows(windows model.WeekdayWindows, loc *time.Location, window Interval) []Interval {
	if len(windows) == 0 {
		return nil
	}

	var expanded []Interval
	localStart := window.Start.In(loc)
	day := time.Date(localStart.Year(), localStart.Month(), localStart.Day(), 0, 0, 0, 0, loc)
	for !day.After(window.End.In(loc)) {
		for _, tw := range windows.Windows(day.Weekday()) {
			startMin, endMin, err := tw.Minutes()
			if err != nil {
				// validated at the store boundary, skip here
				continue
			}
			// time.Date, not midnight+offset: on DST-change days the two differ
			iv := Interval{
				Start: time.Date(day.Year(), day.Month(), day.Day(), startMin/60, startMin%60, 0, 0, loc).UTC(),
				End:   time.Date(day.Year(), day.Month(), day.Day(), endMin/60, endMin%60, 0, 0, loc).UTC(),
			}.Clip(window)
			if !iv.IsZero() {
				expanded = append(expanded, iv)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return Coalesce(expanded)
}
