package proposal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"slotd/src-server/avail"
	"slotd/src-server/model"
	"slotd/src-server/provider"
	"slotd/src-server/utils"
)

var (
	ErrNotFound = errors.New("proposal not found")
	// the proposal already left the pending state; first transition wins
	ErrStateConflict = errors.New("proposal is no longer pending")
	ErrUnknownSlot   = errors.New("slot is not one of the proposed slots")
	// the chosen slot overlaps a busy interval cached since the proposal
	// was created
	ErrSlotConflict = errors.New("slot conflicts with a calendar event")
)

// Accept succeeded locally but the confirmed event could not be created
// on the proposer's calendar; the proposal was rolled back to pending.
type WriteBackError struct {
	ProposalID int64
	Err        error
}

func (e *WriteBackError) Error() string {
	return fmt.Sprintf("can't write confirmed event for proposal %d: %v", e.ProposalID, e.Err)
}

func (e *WriteBackError) Unwrap() error {
	return e.Err
}

type CreateRequest struct {
	ProposerID       int64
	RecipientID      int64
	Title            string
	Description      string
	DurationMinutes  int
	Slots            []model.ProposedSlot
	ConflictOverride bool
	// zero means now + the configured default
	ExpiresAt time.Time
}

// Owns every status transition of meeting proposals. Transitions are
// compare-and-swap updates conditioned on status='pending', so two
// racing responses can't both win.
type Manager struct {
	db            bun.IDB
	busy          avail.BusySource
	people        avail.PersonDirectory
	providers     provider.Registry
	defaultExpire time.Duration
	now           func() time.Time
}

func NewManager(db bun.IDB, busy avail.BusySource, people avail.PersonDirectory, providers provider.Registry, defaultExpire time.Duration) *Manager {
	return &Manager{
		db:            db,
		busy:          busy,
		people:        people,
		providers:     providers,
		defaultExpire: defaultExpire,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) Create(ctx context.Context, req CreateRequest) (*model.MeetingProposal, error) {
	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = m.now().Add(m.defaultExpire)
	}
	proposalModel := &model.MeetingProposal{
		ProposerID:       req.ProposerID,
		RecipientID:      req.RecipientID,
		Title:            utils.CleanupString(req.Title),
		Description:      req.Description,
		DurationMinutes:  req.DurationMinutes,
		ProposedSlots:    req.Slots,
		ConflictOverride: req.ConflictOverride,
		CreatedAtUnixUTC: m.now().Unix(),
		ExpiresAtUnixUTC: expiresAt.UTC().Unix(),
	}
	if err := proposalModel.Insert(ctx, m.db); err != nil {
		return nil, fmt.Errorf("(*Manager).Create: %w", err)
	}
	return proposalModel, nil
}

// Get reports the effective status: a pending proposal past its expiry
// reads as expired even before the sweep has persisted it.
func (m *Manager) Get(ctx context.Context, proposalID int64) (*model.MeetingProposal, error) {
	proposalModel := new(model.MeetingProposal)
	if err := m.db.NewSelect().
		Model(proposalModel).
		Where("id = ?", proposalID).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("(*Manager).Get: %w", err)
	}
	proposalModel.Status = proposalModel.EffectiveStatus(m.now())
	return proposalModel, nil
}

// Accept confirms one of the proposed slots and creates the event on the
// proposer's write-target calendar. If the external write fails the
// local transition is rolled back and a *WriteBackError is returned, so
// the recipient can retry.
func (m *Manager) Accept(ctx context.Context, proposalID, startUnixUTC, endUnixUTC int64) (*model.MeetingProposal, error) {
	proposalModel, err := m.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposalModel.Status != model.PROPOSAL_STATUS_PENDING {
		return nil, ErrStateConflict
	}
	if proposalModel.ProposedSlots.Find(startUnixUTC, endUnixUTC) < 0 {
		return nil, ErrUnknownSlot
	}

	// the cache may have learned about new events since the slots were
	// generated; re-check unless the proposer opted out
	if !proposalModel.ConflictOverride {
		if err := m.checkSlotFree(ctx, proposalModel, startUnixUTC, endUnixUTC); err != nil {
			return nil, err
		}
	}

	res, err := m.db.NewUpdate().
		Model((*model.MeetingProposal)(nil)).
		Set("status = ?", model.PROPOSAL_STATUS_ACCEPTED).
		Set("selected_start = ?", startUnixUTC).
		Set("selected_end = ?", endUnixUTC).
		Where("id = ?", proposalID).
		Where("status = ?", model.PROPOSAL_STATUS_PENDING).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("(*Manager).Accept: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("(*Manager).Accept: %w", err)
	} else if affected == 0 {
		return nil, ErrStateConflict
	}
	proposalModel.Status = model.PROPOSAL_STATUS_ACCEPTED
	proposalModel.SelectedStartUnixUTC = startUnixUTC
	proposalModel.SelectedEndUnixUTC = endUnixUTC

	externalEventID, err := m.writeBack(ctx, proposalModel)
	if err != nil {
		// roll back so a later retry can transition again
		if _, rbErr := m.db.NewUpdate().
			Model((*model.MeetingProposal)(nil)).
			Set("status = ?", model.PROPOSAL_STATUS_PENDING).
			Set("selected_start = ?", 0).
			Set("selected_end = ?", 0).
			Where("id = ?", proposalID).
			Exec(ctx); rbErr != nil {
			slog.Error("can't roll back proposal after failed write-back",
				"proposal", proposalID, "error", rbErr)
		}
		return nil, &WriteBackError{ProposalID: proposalID, Err: err}
	}
	if externalEventID != "" {
		if _, err := m.db.NewUpdate().
			Model((*model.MeetingProposal)(nil)).
			Set("external_event_id = ?", externalEventID).
			Where("id = ?", proposalID).
			Exec(ctx); err != nil {
			return nil, fmt.Errorf("(*Manager).Accept: can't record external event id: %w", err)
		}
		proposalModel.ExternalEventID = externalEventID
	}
	return proposalModel, nil
}

func (m *Manager) Decline(ctx context.Context, proposalID int64) (*model.MeetingProposal, error) {
	proposalModel, err := m.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposalModel.Status != model.PROPOSAL_STATUS_PENDING {
		return nil, ErrStateConflict
	}

	res, err := m.db.NewUpdate().
		Model((*model.MeetingProposal)(nil)).
		Set("status = ?", model.PROPOSAL_STATUS_DECLINED).
		Where("id = ?", proposalID).
		Where("status = ?", model.PROPOSAL_STATUS_PENDING).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("(*Manager).Decline: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("(*Manager).Decline: %w", err)
	} else if affected == 0 {
		return nil, ErrStateConflict
	}
	proposalModel.Status = model.PROPOSAL_STATUS_DECLINED
	return proposalModel, nil
}

// ExpireDue persists the expired status for every pending proposal past
// its deadline, returning how many rows transitioned.
func (m *Manager) ExpireDue(ctx context.Context) (int64, error) {
	res, err := m.db.NewUpdate().
		Model((*model.MeetingProposal)(nil)).
		Set("status = ?", model.PROPOSAL_STATUS_EXPIRED).
		Where("status = ?", model.PROPOSAL_STATUS_PENDING).
		Where("expires_at != 0").
		Where("expires_at <= ?", m.now().Unix()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("(*Manager).ExpireDue: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("(*Manager).ExpireDue: %w", err)
	}
	return affected, nil
}

func (m *Manager) checkSlotFree(ctx context.Context, proposalModel *model.MeetingProposal, startUnixUTC, endUnixUTC int64) error {
	slot := avail.Interval{
		Start: time.Unix(startUnixUTC, 0).UTC(),
		End:   time.Unix(endUnixUTC, 0).UTC(),
	}
	for _, personID := range []int64{proposalModel.ProposerID, proposalModel.RecipientID} {
		busy, _, err := m.busy.BusyIntervals(ctx, personID, slot)
		if err != nil {
			return fmt.Errorf("(*Manager).checkSlotFree: %w", err)
		}
		for _, iv := range busy {
			if slot.Overlaps(iv) {
				return ErrSlotConflict
			}
		}
	}
	return nil
}

// Creates the confirmed event through the proposer's write-target
// connection. A proposer without one is fine: the proposal is still
// accepted, just not mirrored to any calendar.
func (m *Manager) writeBack(ctx context.Context, proposalModel *model.MeetingProposal) (string, error) {
	connModel := new(model.CalendarConnection)
	if err := m.db.NewSelect().
		Model(connModel).
		Where("person_id = ?", proposalModel.ProposerID).
		Where("is_write_target = ?", true).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("can't get write target: %w", err)
	}
	if !connModel.CanWrite() {
		return "", provider.ErrReadOnly
	}
	calendarProvider, err := m.providers.For(connModel)
	if err != nil {
		return "", err
	}

	attendees := make([]string, 0, 2)
	for _, personID := range []int64{proposalModel.ProposerID, proposalModel.RecipientID} {
		person, err := m.people.Person(ctx, personID)
		if err != nil {
			return "", err
		}
		if person.Email != "" {
			attendees = append(attendees, person.Email)
		}
	}

	return calendarProvider.CreateEvent(ctx,
		connModel,
		time.Unix(proposalModel.SelectedStartUnixUTC, 0).UTC(),
		time.Unix(proposalModel.SelectedEndUnixUTC, 0).UTC(),
		proposalModel.Title,
		attendees,
	)
}
