package model

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

const (
	PROPOSAL_STATUS_PENDING  = "pending"
	PROPOSAL_STATUS_ACCEPTED = "accepted"
	PROPOSAL_STATUS_DECLINED = "declined"
	PROPOSAL_STATUS_EXPIRED  = "expired"
)

type ProposedSlot struct {
	StartUnixUTC int64 `json:"start"`
	EndUnixUTC   int64 `json:"end"`
	// the preference constraints could not be honored for this slot and
	// the generator fell back to plain free time
	Relaxed bool `json:"relaxed,omitempty"`
}

// Ordered candidate list, stored as a JSON text column. Proposals own
// their slots exclusively; nothing else references them.
type ProposedSlots []ProposedSlot

func (s ProposedSlots) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("ProposedSlots.Value: %w", err)
	}
	return string(raw), nil
}

func (s *ProposedSlots) Scan(src interface{}) error {
	if src == nil {
		*s = nil
		return nil
	}
	var raw []byte
	switch value := src.(type) {
	case string:
		raw = []byte(value)
	case []byte:
		raw = value
	default:
		return fmt.Errorf("ProposedSlots.Scan: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*s = nil
		return nil
	}
	if err := json.Unmarshal(raw, s); err != nil {
		return fmt.Errorf("ProposedSlots.Scan: %w", err)
	}
	return nil
}

// Index of the slot matching start/end, or -1.
func (s ProposedSlots) Find(startUnixUTC, endUnixUTC int64) int {
	for i, slot := range s {
		if slot.StartUnixUTC == startUnixUTC && slot.EndUnixUTC == endUnixUTC {
			return i
		}
	}
	return -1
}

// A negotiation between a proposer and a recipient over a set of
// candidate slots. Rows are never deleted, only transitioned to a
// terminal status; the table doubles as the audit trail.
type MeetingProposal struct {
	bun.BaseModel `bun:"table:meeting_proposals"`

	ID          int64  `bun:"id,pk,autoincrement"`
	ProposerID  int64  `bun:"proposer_id,notnull"`  // required
	RecipientID int64  `bun:"recipient_id,notnull"` // required
	Title       string `bun:"title,notnull"`        // required
	Description string `bun:"description"`

	DurationMinutes int           `bun:"duration_minutes,notnull"` // required
	ProposedSlots   ProposedSlots `bun:"proposed_slots"`

	// both set iff status is accepted
	SelectedStartUnixUTC int64 `bun:"selected_start"`
	SelectedEndUnixUTC   int64 `bun:"selected_end"`

	Status           string `bun:"status,notnull"` // pending | accepted | declined | expired
	ConflictOverride bool   `bun:"conflict_override"`

	CreatedAtUnixUTC int64 `bun:"created_at,notnull"`
	ExpiresAtUnixUTC int64 `bun:"expires_at"`

	ExternalEventID string `bun:"external_event_id"`
}

// The status a reader must report: a pending proposal past its expiry is
// expired even if no sweep has persisted the transition yet.
func (p *MeetingProposal) EffectiveStatus(now time.Time) string {
	if p.Status == PROPOSAL_STATUS_PENDING &&
		p.ExpiresAtUnixUTC != 0 &&
		p.ExpiresAtUnixUTC <= now.UTC().Unix() {
		return PROPOSAL_STATUS_EXPIRED
	}
	return p.Status
}

func (p *MeetingProposal) Insert(ctx context.Context, db bun.IDB) error {
	if db == nil {
		return fmt.Errorf("(*MeetingProposal).Insert: db is nil")
	}

	switch {
	case p.ProposerID == 0:
		return fmt.Errorf("(*MeetingProposal).Insert: proposer id is blank")
	case p.RecipientID == 0:
		return fmt.Errorf("(*MeetingProposal).Insert: recipient id is blank")
	case p.ProposerID == p.RecipientID:
		return fmt.Errorf("(*MeetingProposal).Insert: proposer and recipient must differ")
	case p.Title == "":
		return fmt.Errorf("(*MeetingProposal).Insert: title is blank")
	case p.DurationMinutes <= 0:
		return fmt.Errorf("(*MeetingProposal).Insert: duration must be positive")
	case len(p.ProposedSlots) == 0:
		return fmt.Errorf("(*MeetingProposal).Insert: no proposed slots")
	}
	duration := int64(p.DurationMinutes) * 60
	for _, slot := range p.ProposedSlots {
		if slot.StartUnixUTC >= slot.EndUnixUTC {
			return fmt.Errorf("(*MeetingProposal).Insert: slot start must be before end")
		}
		if slot.EndUnixUTC-slot.StartUnixUTC != duration {
			return fmt.Errorf("(*MeetingProposal).Insert: slot length doesn't match duration")
		}
	}

	p.Status = PROPOSAL_STATUS_PENDING
	if p.CreatedAtUnixUTC == 0 {
		p.CreatedAtUnixUTC = time.Now().UTC().Unix()
	}
	if _, err := db.NewInsert().
		Model(p).
		Exec(ctx); err != nil {
		return fmt.Errorf("(*MeetingProposal).Insert: %w", err)
	}

	return nil
}
