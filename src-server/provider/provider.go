package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotd/src-server/model"
)

// One busy/free interval as reported by an external calendar source,
// before it is materialized into the event cache.
type BusyInterval struct {
	ExternalID string
	Start      time.Time
	End        time.Time
	AllDay     bool
	Recurring  bool
	Busy       bool
	Visibility string
}

// The capability consumed from an external calendar source. Fetch
// failures are always captured results, never panics; callers classify
// them with errors.As against TransientError / AuthError.
type Interface interface {
	// All events overlapping [from, to) for the connection's calendar.
	FetchBusyIntervals(ctx context.Context, conn *model.CalendarConnection, from, to time.Time) ([]BusyInterval, error)
	// Create the confirmed event, returning the external event id.
	CreateEvent(ctx context.Context, conn *model.CalendarConnection, start, end time.Time, title string, attendees []string) (string, error)
}

// Network trouble, timeouts, 5xx: retried on the next tick with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient calendar error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Revoked or expired credential: fatal for the connection, which gets
// sync-disabled and surfaced for manual re-authorization.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("calendar authorization error: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

var ErrReadOnly = errors.New("connection can't create events")

// Provider name (model.CONNECTION_PROVIDER_*) to implementation.
type Registry map[string]Interface

func (r Registry) For(conn *model.CalendarConnection) (Interface, error) {
	p, ok := r[conn.Provider]
	if !ok {
		return nil, fmt.Errorf("Registry.For: no provider registered for %q", conn.Provider)
	}
	return p, nil
}
