package provider_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"slotd/src-server/model"
	"slotd/src-server/provider"
)

const testFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:standup
DTSTART:20260907T090000Z
DTEND:20260907T093000Z
RRULE:FREQ=DAILY;COUNT=5
SUMMARY:Standup
END:VEVENT
BEGIN:VEVENT
UID:oneoff
DTSTART:20260908T130000Z
DTEND:20260908T140000Z
TRANSP:TRANSPARENT
CLASS:PRIVATE
SUMMARY:Focus block
END:VEVENT
BEGIN:VEVENT
UID:offsite
DTSTART;VALUE=DATE:20260909
DTEND;VALUE=DATE:20260910
SUMMARY:Offsite
END:VEVENT
END:VCALENDAR
`

func serveFeed(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(strings.ReplaceAll(body, "\n", "\r\n")))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestICSFetchBusyIntervals(t *testing.T) {
	server := serveFeed(t, http.StatusOK, testFeed)
	p := provider.NewICSProvider(5 * time.Second)
	conn := &model.CalendarConnection{ID: 1, Provider: model.CONNECTION_PROVIDER_ICS, Url: server.URL}

	from := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 9, 12, 0, 0, 0, 0, time.UTC)
	intervals, err := p.FetchBusyIntervals(context.Background(), conn, from, to)
	if err != nil {
		t.Fatal(err)
	}

	byUID := map[string][]provider.BusyInterval{}
	for _, interval := range intervals {
		uid := interval.ExternalID
		if strings.HasPrefix(uid, "standup-") {
			uid = "standup"
		}
		byUID[uid] = append(byUID[uid], interval)
	}

	// case: the daily recurrence expands to 5 concrete instances
	func() {
		instances := byUID["standup"]
		if len(instances) != 5 {
			t.Fatal("expected 5 standup instances, got", len(instances))
		}
		first := instances[0]
		if !first.Start.Equal(time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)) {
			t.Error("wrong first instance start", first.Start)
		}
		if first.End.Sub(first.Start) != 30*time.Minute {
			t.Error("wrong instance duration", first)
		}
		for _, instance := range instances {
			if !instance.Recurring {
				t.Error("expanded instances must be marked recurring")
			}
		}
	}()

	// case: TRANSP and CLASS map to busy/visibility
	func() {
		instances := byUID["oneoff"]
		if len(instances) != 1 {
			t.Fatal("expected 1 oneoff event, got", len(instances))
		}
		if instances[0].Busy {
			t.Error("a transparent event is not busy")
		}
		if instances[0].Visibility != model.VISIBILITY_PRIVATE {
			t.Error("wrong visibility", instances[0].Visibility)
		}
	}()

	// case: VALUE=DATE events come back as all-day
	func() {
		instances := byUID["offsite"]
		if len(instances) != 1 {
			t.Fatal("expected 1 offsite event, got", len(instances))
		}
		if !instances[0].AllDay {
			t.Error("expected an all-day event")
		}
		if instances[0].End.Sub(instances[0].Start) != 24*time.Hour {
			t.Error("wrong all-day duration", instances[0])
		}
	}()
}

func TestICSFetchErrors(t *testing.T) {
	p := provider.NewICSProvider(5 * time.Second)

	// case: 401/403 is an auth failure, fatal for the connection
	func() {
		server := serveFeed(t, http.StatusForbidden, "")
		conn := &model.CalendarConnection{Url: server.URL}
		_, err := p.FetchBusyIntervals(context.Background(), conn, time.Now(), time.Now().Add(time.Hour))
		var authErr *provider.AuthError
		if !errors.As(err, &authErr) {
			t.Error("expected an AuthError, got", err)
		}
	}()

	// case: 5xx is transient, retried with backoff
	func() {
		server := serveFeed(t, http.StatusInternalServerError, "")
		conn := &model.CalendarConnection{Url: server.URL}
		_, err := p.FetchBusyIntervals(context.Background(), conn, time.Now(), time.Now().Add(time.Hour))
		var transientErr *provider.TransientError
		if !errors.As(err, &transientErr) {
			t.Error("expected a TransientError, got", err)
		}
	}()
}

func TestICSCreateEvent(t *testing.T) {
	p := provider.NewICSProvider(5 * time.Second)
	if _, err := p.CreateEvent(context.Background(), &model.CalendarConnection{}, time.Now(), time.Now().Add(time.Hour), "x", nil); !errors.Is(err, provider.ErrReadOnly) {
		t.Error("expected ErrReadOnly, got", err)
	}
}
