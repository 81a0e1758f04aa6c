package model

import (
	"fmt"

	"github.com/uptrace/bun"
)

const (
	BUSY_STATUS_BUSY = "busy"
	BUSY_STATUS_FREE = "free"

	VISIBILITY_DEFAULT      = "default"
	VISIBILITY_PUBLIC       = "public"
	VISIBILITY_PRIVATE      = "private"
	VISIBILITY_CONFIDENTIAL = "confidential"
)

// Materialized busy/free interval owned by exactly one connection.
// The sync cycle replaces a connection's slice of this table wholesale;
// nothing else writes it. Entries from the same connection may overlap,
// the cache read path coalesces before anything downstream sees them.
type CachedEvent struct {
	bun.BaseModel `bun:"table:cached_events"`

	ID           int64  `bun:"id,pk,autoincrement"`
	ConnectionID int64  `bun:"connection_id,notnull"` // required
	ExternalID   string `bun:"external_id,notnull"`   // required

	StartUnixUTC int64 `bun:"start_date,notnull"` // required
	EndUnixUTC   int64 `bun:"end_date,notnull"`   // required

	IsAllDay    bool   `bun:"is_all_day"`
	IsRecurring bool   `bun:"is_recurring"`
	BusyStatus  string `bun:"busy_status,notnull"` // busy | free
	Visibility  string `bun:"visibility"`
}

func (e *CachedEvent) Validate() error {
	switch {
	case e.ConnectionID == 0:
		return fmt.Errorf("(*CachedEvent).Validate: connection id is blank")
	case e.ExternalID == "":
		return fmt.Errorf("(*CachedEvent).Validate: external id is blank")
	case e.StartUnixUTC == 0 || e.EndUnixUTC == 0:
		return fmt.Errorf("(*CachedEvent).Validate: start or end date is blank")
	case e.StartUnixUTC >= e.EndUnixUTC:
		return fmt.Errorf("(*CachedEvent).Validate: start date must be before end date")
	}
	switch e.BusyStatus {
	case BUSY_STATUS_BUSY, BUSY_STATUS_FREE:
	case "":
		e.BusyStatus = BUSY_STATUS_BUSY
	default:
		return fmt.Errorf("(*CachedEvent).Validate: unknown busy status %q", e.BusyStatus)
	}
	return nil
}
