package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/xyedo/rrule"

	"slotd/src-server/model"
)

// Read-only provider for plain ICS feeds (Google secret address,
// Outlook published calendar, any CalDAV export). Recurrences are
// expanded locally since a feed carries only the master event.
type ICSProvider struct {
	client *http.Client
}

func NewICSProvider(timeout time.Duration) *ICSProvider {
	return &ICSProvider{
		client: &http.Client{Timeout: timeout},
	}
}

func (p *ICSProvider) FetchBusyIntervals(ctx context.Context, conn *model.CalendarConnection, from, to time.Time) ([]BusyInterval, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, conn.Url, nil)
	if err != nil {
		return nil, fmt.Errorf("(*ICSProvider).FetchBusyIntervals: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Err: fmt.Errorf("feed returned status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &TransientError{Err: fmt.Errorf("feed returned status %d", resp.StatusCode)}
	}

	calendar, err := ics.ParseCalendar(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("can't parse ics feed: %w", err)}
	}

	intervals := make([]BusyInterval, 0)
	for _, event := range calendar.Events() {
		parsed, err := parseICSEvent(event, from, to)
		if err != nil {
			slog.Warn("skipping unparsable ics event", "url", conn.Url, "error", err)
			continue
		}
		intervals = append(intervals, parsed...)
	}
	return intervals, nil
}

// ICS feeds are one-way; write-backs need a google connection.
func (p *ICSProvider) CreateEvent(ctx context.Context, conn *model.CalendarConnection, start, end time.Time, title string, attendees []string) (string, error) {
	return "", ErrReadOnly
}

func parseICSEvent(event *ics.VEvent, from, to time.Time) ([]BusyInterval, error) {
	uid := event.Id()
	if uid == "" {
		return nil, fmt.Errorf("parseICSEvent: event missing UID")
	}

	allDay := false
	if prop := event.GetProperty(ics.ComponentPropertyDtStart); prop != nil {
		for _, value := range prop.ICalParameters["VALUE"] {
			if value == "DATE" {
				allDay = true
			}
		}
	}

	var start, end time.Time
	var err error
	if allDay {
		start, err = event.GetAllDayStartAt()
		if err != nil {
			return nil, fmt.Errorf("parseICSEvent: %w", err)
		}
		end, err = event.GetAllDayEndAt()
		if err != nil {
			end = start.AddDate(0, 0, 1)
		}
	} else {
		start, err = event.GetStartAt()
		if err != nil {
			return nil, fmt.Errorf("parseICSEvent: %w", err)
		}
		end, err = event.GetEndAt()
		if err != nil {
			end = start.Add(time.Hour)
		}
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("parseICSEvent: start is not before end")
	}

	busy := true
	if prop := event.GetProperty(ics.ComponentProperty("TRANSP")); prop != nil {
		busy = !strings.EqualFold(prop.Value, "TRANSPARENT")
	}
	visibility := model.VISIBILITY_DEFAULT
	if prop := event.GetProperty(ics.ComponentProperty("CLASS")); prop != nil {
		visibility = strings.ToLower(prop.Value)
	}

	base := BusyInterval{
		ExternalID: uid,
		Start:      start.UTC(),
		End:        end.UTC(),
		AllDay:     allDay,
		Busy:       busy,
		Visibility: visibility,
	}

	ruleProp := event.GetProperty(ics.ComponentProperty("RRULE"))
	if ruleProp == nil {
		if !base.Start.Before(to) || !base.End.After(from) {
			return nil, nil
		}
		return []BusyInterval{base}, nil
	}

	// expand the recurrence locally; the feed only carries the master
	var sb strings.Builder
	sb.WriteString("DTSTART:" + start.UTC().Format("20060102T150405Z"))
	sb.WriteString("\nRRULE:" + ruleProp.Value)
	for _, prop := range event.Properties {
		if prop.IANAToken == "EXDATE" {
			sb.WriteString("\nEXDATE:" + prop.Value)
		}
	}
	set, err := rrule.StrToRRuleSet(sb.String())
	if err != nil {
		return nil, fmt.Errorf("parseICSEvent: invalid rrule: %w", err)
	}

	duration := end.Sub(start)
	occurrences := set.Between(from.Add(-duration), to, true)
	intervals := make([]BusyInterval, 0, len(occurrences))
	for _, occurrence := range occurrences {
		instance := base
		instance.ExternalID = fmt.Sprintf("%s-%d", uid, occurrence.Unix())
		instance.Start = occurrence.UTC()
		instance.End = occurrence.Add(duration).UTC()
		instance.Recurring = true
		if instance.Start.Before(to) && instance.End.After(from) {
			intervals = append(intervals, instance)
		}
	}
	return intervals, nil
}
