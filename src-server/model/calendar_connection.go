package model

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

const (
	CONNECTION_PROVIDER_ICS    = "ics"
	CONNECTION_PROVIDER_GOOGLE = "google"

	ACCESS_LEVEL_FREEBUSY = "freebusy"
	ACCESS_LEVEL_READER   = "reader"
	ACCESS_LEVEL_WRITER   = "writer"
	ACCESS_LEVEL_OWNER    = "owner"
)

// One link between a person and one external calendar source. Repeated
// sync failure disables the link (sync_enabled=false), it is never
// deleted automatically; only an explicit unlink removes the row.
type CalendarConnection struct {
	bun.BaseModel `bun:"table:calendar_connections"`

	ID       int64  `bun:"id,pk,autoincrement"`
	PersonID int64  `bun:"person_id,notnull"` // required
	Provider string `bun:"provider,notnull"`  // required, ics | google

	CalendarID    string `bun:"calendar_id"` // google calendar id
	Url           string `bun:"url"`         // ics feed url
	CalendarEmail string `bun:"calendar_email"`
	AccessLevel   string `bun:"access_level,notnull"` // freebusy | reader | writer | owner

	// at most one write target per person; Accept creates the confirmed
	// external event through this connection
	IsWriteTarget bool `bun:"is_write_target"`

	SyncEnabled         bool   `bun:"sync_enabled"`
	ConsecutiveFailures int    `bun:"consecutive_failures"`
	LastSyncedUnixUTC   int64  `bun:"last_synced"`
	ErrorMessage        string `bun:"error_message"`
	FeedHash            string `bun:"feed_hash"`

	OAuthToken string `bun:"oauth_token"` // serialized oauth2.Token, google only

	CreatedAtUnixUTC int64 `bun:"created_at,notnull"`

	Events []*CachedEvent `bun:"rel:has-many,join:id=connection_id"`
}

func (c *CalendarConnection) CanWrite() bool {
	return c.AccessLevel == ACCESS_LEVEL_WRITER || c.AccessLevel == ACCESS_LEVEL_OWNER
}

// Insert a new link. A write target demotes nothing: inserting a second
// write target for the same person is rejected instead.
func (c *CalendarConnection) Link(ctx context.Context, db bun.IDB) error {
	if db == nil {
		return fmt.Errorf("(*CalendarConnection).Link: db is nil")
	}

	switch {
	case c.PersonID == 0:
		return fmt.Errorf("(*CalendarConnection).Link: person id is blank")
	case c.Provider != CONNECTION_PROVIDER_ICS && c.Provider != CONNECTION_PROVIDER_GOOGLE:
		return fmt.Errorf("(*CalendarConnection).Link: unknown provider %q", c.Provider)
	case c.Provider == CONNECTION_PROVIDER_ICS && c.Url == "":
		return fmt.Errorf("(*CalendarConnection).Link: ics connection needs a feed url")
	case c.Provider == CONNECTION_PROVIDER_GOOGLE && c.CalendarID == "":
		return fmt.Errorf("(*CalendarConnection).Link: google connection needs a calendar id")
	}
	switch c.AccessLevel {
	case ACCESS_LEVEL_FREEBUSY, ACCESS_LEVEL_READER, ACCESS_LEVEL_WRITER, ACCESS_LEVEL_OWNER:
	case "":
		c.AccessLevel = ACCESS_LEVEL_FREEBUSY
	default:
		return fmt.Errorf("(*CalendarConnection).Link: unknown access level %q", c.AccessLevel)
	}
	if c.IsWriteTarget && !c.CanWrite() {
		return fmt.Errorf("(*CalendarConnection).Link: write target needs writer or owner access")
	}

	personExists, err := db.NewSelect().
		Model((*Person)(nil)).
		Where("id = ?", c.PersonID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("(*CalendarConnection).Link: can't check person: %w", err)
	}
	if !personExists {
		return fmt.Errorf("(*CalendarConnection).Link: person %d not found", c.PersonID)
	}

	if c.IsWriteTarget {
		writeTargetExists, err := db.NewSelect().
			Model((*CalendarConnection)(nil)).
			Where("person_id = ?", c.PersonID).
			Where("is_write_target = ?", true).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("(*CalendarConnection).Link: can't check write target: %w", err)
		}
		if writeTargetExists {
			return fmt.Errorf("(*CalendarConnection).Link: person %d already has a write target", c.PersonID)
		}
	}

	c.SyncEnabled = true
	if c.CreatedAtUnixUTC == 0 {
		c.CreatedAtUnixUTC = time.Now().UTC().Unix()
	}
	if _, err := db.NewInsert().
		Model(c).
		Exec(ctx); err != nil {
		return fmt.Errorf("(*CalendarConnection).Link: can't insert connection: %w", err)
	}

	return nil
}

// Unlink removes the connection and its cached events.
func (c *CalendarConnection) Unlink(ctx context.Context, db bun.IDB) error {
	if db == nil {
		return fmt.Errorf("(*CalendarConnection).Unlink: db is nil")
	}

	if _, err := db.NewDelete().
		Model((*CachedEvent)(nil)).
		Where("connection_id = ?", c.ID).
		Exec(ctx); err != nil {
		return fmt.Errorf("(*CalendarConnection).Unlink: can't delete cached events: %w", err)
	}
	if _, err := db.NewDelete().
		Model((*CalendarConnection)(nil)).
		Where("id = ?", c.ID).
		Exec(ctx); err != nil {
		return fmt.Errorf("(*CalendarConnection).Unlink: can't delete connection: %w", err)
	}

	return nil
}
