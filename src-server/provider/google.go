package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"slotd/src-server/model"
)

// Google Calendar provider. The per-connection OAuth token is stored on
// the connection row; recurrences are expanded server-side via
// SingleEvents, so no local rrule work is needed here.
type GoogleProvider struct {
	oauthConfig *oauth2.Config
}

func NewGoogleProvider(clientID, clientSecret string) *GoogleProvider {
	return &GoogleProvider{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       []string{calendar.CalendarEventsScope},
			Endpoint:     google.Endpoint,
		},
	}
}

func (p *GoogleProvider) service(ctx context.Context, conn *model.CalendarConnection) (*calendar.Service, error) {
	if conn.OAuthToken == "" {
		return nil, &AuthError{Err: fmt.Errorf("connection %d has no oauth token", conn.ID)}
	}
	var token oauth2.Token
	if err := json.Unmarshal([]byte(conn.OAuthToken), &token); err != nil {
		return nil, &AuthError{Err: fmt.Errorf("can't parse stored oauth token: %w", err)}
	}

	service, err := calendar.NewService(ctx,
		option.WithTokenSource(p.oauthConfig.TokenSource(ctx, &token)))
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	return service, nil
}

func classifyGoogleError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401, 403:
			return &AuthError{Err: err}
		default:
			return &TransientError{Err: err}
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Err: err}
	}
	return &TransientError{Err: err}
}

func (p *GoogleProvider) FetchBusyIntervals(ctx context.Context, conn *model.CalendarConnection, from, to time.Time) ([]BusyInterval, error) {
	service, err := p.service(ctx, conn)
	if err != nil {
		return nil, err
	}

	call := service.Events.List(conn.CalendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		OrderBy("startTime").
		MaxResults(2500).
		Context(ctx)

	intervals := make([]BusyInterval, 0)
	if err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			interval, ok := googleEventToInterval(item)
			if ok {
				intervals = append(intervals, interval)
			}
		}
		return nil
	}); err != nil {
		return nil, classifyGoogleError(err)
	}
	return intervals, nil
}

func googleEventToInterval(item *calendar.Event) (BusyInterval, bool) {
	if item.Id == "" || item.Start == nil || item.End == nil {
		return BusyInterval{}, false
	}

	interval := BusyInterval{
		ExternalID: item.Id,
		Busy:       item.Transparency != "transparent",
		Recurring:  item.RecurringEventId != "",
		Visibility: model.VISIBILITY_DEFAULT,
	}
	if item.Visibility != "" {
		interval.Visibility = item.Visibility
	}

	switch {
	case item.Start.DateTime != "":
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			return BusyInterval{}, false
		}
		end, err := time.Parse(time.RFC3339, item.End.DateTime)
		if err != nil {
			return BusyInterval{}, false
		}
		interval.Start = start.UTC()
		interval.End = end.UTC()
	case item.Start.Date != "":
		start, err := time.ParseInLocation("2006-01-02", item.Start.Date, time.UTC)
		if err != nil {
			return BusyInterval{}, false
		}
		end, err := time.ParseInLocation("2006-01-02", item.End.Date, time.UTC)
		if err != nil {
			end = start.AddDate(0, 0, 1)
		}
		interval.Start = start
		interval.End = end
		interval.AllDay = true
	default:
		return BusyInterval{}, false
	}

	if !interval.Start.Before(interval.End) {
		return BusyInterval{}, false
	}
	return interval, true
}

func (p *GoogleProvider) CreateEvent(ctx context.Context, conn *model.CalendarConnection, start, end time.Time, title string, attendees []string) (string, error) {
	if !conn.CanWrite() {
		return "", ErrReadOnly
	}
	service, err := p.service(ctx, conn)
	if err != nil {
		return "", err
	}

	event := &calendar.Event{
		Summary: title,
		Start:   &calendar.EventDateTime{DateTime: start.UTC().Format(time.RFC3339)},
		End:     &calendar.EventDateTime{DateTime: end.UTC().Format(time.RFC3339)},
	}
	for _, email := range attendees {
		if email == "" {
			continue
		}
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
	}

	created, err := service.Events.Insert(conn.CalendarID, event).Context(ctx).Do()
	if err != nil {
		return "", classifyGoogleError(err)
	}
	return created.Id, nil
}
