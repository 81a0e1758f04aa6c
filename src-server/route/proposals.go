package route

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"slotd/src-server/avail"
	"slotd/src-server/model"
	"slotd/src-server/proposal"
	"slotd/src-server/slot"
	"slotd/src-server/utils"
)

func Proposals(muxer *http.ServeMux, as *utils.AppState, proposalManager *proposal.Manager, generator *slot.Generator) {
	type OneSlotBody struct {
		StartUnixUTC int64 `json:"startUnixUTC"`
		EndUnixUTC   int64 `json:"endUnixUTC"`
		Relaxed      bool  `json:"relaxed,omitempty"`
	}

	type ProposalRespBody struct {
		ID                   int64         `json:"id"`
		ProposerID           int64         `json:"proposerID"`
		RecipientID          int64         `json:"recipientID"`
		Title                string        `json:"title"`
		Description          string        `json:"description,omitempty"`
		DurationMinutes      int           `json:"durationMinutes"`
		Slots                []OneSlotBody `json:"slots"`
		SelectedStartUnixUTC int64         `json:"selectedStartUnixUTC,omitempty"`
		SelectedEndUnixUTC   int64         `json:"selectedEndUnixUTC,omitempty"`
		Status               string        `json:"status"`
		ExpiresAtUnixUTC     int64         `json:"expiresAtUnixUTC,omitempty"`
		ExternalEventID      string        `json:"externalEventID,omitempty"`
	}

	toRespBody := func(proposalModel *model.MeetingProposal) ProposalRespBody {
		slots := make([]OneSlotBody, 0, len(proposalModel.ProposedSlots))
		for _, proposedSlot := range proposalModel.ProposedSlots {
			slots = append(slots, OneSlotBody{
				StartUnixUTC: proposedSlot.StartUnixUTC,
				EndUnixUTC:   proposedSlot.EndUnixUTC,
				Relaxed:      proposedSlot.Relaxed,
			})
		}
		return ProposalRespBody{
			ID:                   proposalModel.ID,
			ProposerID:           proposalModel.ProposerID,
			RecipientID:          proposalModel.RecipientID,
			Title:                proposalModel.Title,
			Description:          proposalModel.Description,
			DurationMinutes:      proposalModel.DurationMinutes,
			Slots:                slots,
			SelectedStartUnixUTC: proposalModel.SelectedStartUnixUTC,
			SelectedEndUnixUTC:   proposalModel.SelectedEndUnixUTC,
			Status:               proposalModel.Status,
			ExpiresAtUnixUTC:     proposalModel.ExpiresAtUnixUTC,
			ExternalEventID:      proposalModel.ExternalEventID,
		}
	}

	writeJson := func(w http.ResponseWriter, status int, body any) {
		raw, err := json.Marshal(body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("Can't marshal response body"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(raw)
	}

	type CreateProposalReqBody struct {
		ProposerID       int64         `json:"proposerID"`
		RecipientID      int64         `json:"recipientID"`
		Title            string        `json:"title"`
		Description      string        `json:"description"`
		DurationMinutes  int           `json:"durationMinutes"`
		Slots            []OneSlotBody `json:"slots"`
		ConflictOverride bool          `json:"conflictOverride"`
		ExpiresAtUnixUTC int64         `json:"expiresAtUnixUTC"`
		// window to auto-generate candidate slots from when none given
		WindowFromUnixUTC int64 `json:"windowFromUnixUTC"`
		WindowToUnixUTC   int64 `json:"windowToUnixUTC"`
	}

	// create a proposal; with no slots in the body the candidate slots
	// are generated from the two parties' availability
	muxer.HandleFunc("POST /proposals", RequestLog(
		func(w http.ResponseWriter, r *http.Request) {
			var reqBody CreateProposalReqBody
			if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Invalid request body"))
				return
			}
			if reqBody.DurationMinutes <= 0 {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Please provide a positive duration"))
				return
			}

			slots := make([]model.ProposedSlot, 0, len(reqBody.Slots))
			for _, reqSlot := range reqBody.Slots {
				slots = append(slots, model.ProposedSlot{
					StartUnixUTC: reqSlot.StartUnixUTC,
					EndUnixUTC:   reqSlot.EndUnixUTC,
				})
			}
			if len(slots) == 0 {
				now := time.Now().UTC()
				window := avail.Interval{
					Start: now,
					End:   now.Add(7 * 24 * time.Hour),
				}
				if reqBody.WindowFromUnixUTC != 0 {
					window.Start = time.Unix(reqBody.WindowFromUnixUTC, 0).UTC()
				}
				if reqBody.WindowToUnixUTC != 0 {
					window.End = time.Unix(reqBody.WindowToUnixUTC, 0).UTC()
				}
				candidates, err := generator.Propose(r.Context(),
					[]int64{reqBody.ProposerID, reqBody.RecipientID},
					time.Duration(reqBody.DurationMinutes)*time.Minute,
					window,
					slot.Constraints{
						Buffer:        as.Config.GetMinSlotBuffer(),
						MaxCandidates: as.Config.GetMaxSlotCandidates(),
					})
				if err != nil {
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte("Can't generate slot candidates"))
					return
				}
				if len(candidates) == 0 {
					w.WriteHeader(http.StatusUnprocessableEntity)
					w.Write([]byte("No common free slot in the window"))
					return
				}
				for _, candidate := range candidates {
					slots = append(slots, model.ProposedSlot{
						StartUnixUTC: candidate.Start.Unix(),
						EndUnixUTC:   candidate.End.Unix(),
						Relaxed:      candidate.Relaxed,
					})
				}
			}

			var expiresAt time.Time
			if reqBody.ExpiresAtUnixUTC != 0 {
				expiresAt = time.Unix(reqBody.ExpiresAtUnixUTC, 0).UTC()
			}
			proposalModel, err := proposalManager.Create(r.Context(), proposal.CreateRequest{
				ProposerID:       reqBody.ProposerID,
				RecipientID:      reqBody.RecipientID,
				Title:            reqBody.Title,
				Description:      reqBody.Description,
				DurationMinutes:  reqBody.DurationMinutes,
				Slots:            slots,
				ConflictOverride: reqBody.ConflictOverride,
				ExpiresAt:        expiresAt,
			})
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Can't create proposal: " + err.Error()))
				return
			}
			writeJson(w, http.StatusOK, toRespBody(proposalModel))
		}))

	muxer.HandleFunc("GET /proposals/{id}", RequestLog(
		func(w http.ResponseWriter, r *http.Request) {
			proposalID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Please provide a proposal ID"))
				return
			}
			proposalModel, err := proposalManager.Get(r.Context(), proposalID)
			switch {
			case errors.Is(err, proposal.ErrNotFound):
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte("Proposal not found"))
				return
			case err != nil:
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Can't get proposal"))
				return
			}
			writeJson(w, http.StatusOK, toRespBody(proposalModel))
		}))

	type AcceptProposalReqBody struct {
		StartUnixUTC int64 `json:"startUnixUTC"`
		EndUnixUTC   int64 `json:"endUnixUTC"`
	}

	muxer.HandleFunc("POST /proposals/{id}/accept", RequestLog(
		func(w http.ResponseWriter, r *http.Request) {
			proposalID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Please provide a proposal ID"))
				return
			}
			var reqBody AcceptProposalReqBody
			if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Invalid request body"))
				return
			}

			proposalModel, err := proposalManager.Accept(r.Context(), proposalID, reqBody.StartUnixUTC, reqBody.EndUnixUTC)
			var writeBackErr *proposal.WriteBackError
			switch {
			case errors.Is(err, proposal.ErrNotFound):
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte("Proposal not found"))
				return
			case errors.Is(err, proposal.ErrUnknownSlot):
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Slot is not one of the proposed slots"))
				return
			case errors.Is(err, proposal.ErrStateConflict):
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte("Proposal is no longer pending"))
				return
			case errors.Is(err, proposal.ErrSlotConflict):
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte("Slot conflicts with a calendar event"))
				return
			case errors.As(err, &writeBackErr):
				w.WriteHeader(http.StatusBadGateway)
				w.Write([]byte("Accepted slot couldn't be written to the calendar, proposal is pending again"))
				return
			case err != nil:
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Can't accept proposal"))
				return
			}
			writeJson(w, http.StatusOK, toRespBody(proposalModel))
		}))

	muxer.HandleFunc("POST /proposals/{id}/decline", RequestLog(
		func(w http.ResponseWriter, r *http.Request) {
			proposalID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Please provide a proposal ID"))
				return
			}
			proposalModel, err := proposalManager.Decline(r.Context(), proposalID)
			switch {
			case errors.Is(err, proposal.ErrNotFound):
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte("Proposal not found"))
				return
			case errors.Is(err, proposal.ErrStateConflict):
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte("Proposal is no longer pending"))
				return
			case err != nil:
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Can't decline proposal"))
				return
			}
			writeJson(w, http.StatusOK, toRespBody(proposalModel))
		}))
}
