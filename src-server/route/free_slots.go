package route

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"slotd/src-server/avail"
	"slotd/src-server/slot"
	"slotd/src-server/utils"
)

// RFC3339 first, then natural phrases like "tomorrow" or "next monday".
func parseWindowBound(as *utils.AppState, raw string, base time.Time) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC(), nil
	}
	result, err := as.When.Parse(raw, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("can't parse %q: %w", raw, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("can't parse %q as a date", raw)
	}
	return result.Time.UTC(), nil
}

func parseParticipants(raw string) ([]int64, error) {
	if raw == "" {
		return nil, fmt.Errorf("no participants")
	}
	parts := strings.Split(raw, ",")
	participants := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("can't parse participant %q: %w", part, err)
		}
		participants = append(participants, id)
	}
	return participants, nil
}

func FreeSlots(muxer *http.ServeMux, as *utils.AppState, agg *avail.Aggregator, generator *slot.Generator) {
	type OneSlotRespBody struct {
		StartUnixUTC int64 `json:"startUnixUTC"`
		EndUnixUTC   int64 `json:"endUnixUTC"`
		Relaxed      bool  `json:"relaxed,omitempty"`
	}

	// aggregate free time of everyone listed; with a duration the
	// response is the ranked candidate list instead of raw intervals
	muxer.HandleFunc("GET /free-slots", RequestLog(
		func(w http.ResponseWriter, r *http.Request) {
			participants, err := parseParticipants(r.URL.Query().Get("participants"))
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Please provide participants as comma-separated person ids"))
				return
			}

			now := time.Now().UTC()
			from := now
			if raw := r.URL.Query().Get("from"); raw != "" {
				if from, err = parseWindowBound(as, raw, now); err != nil {
					w.WriteHeader(http.StatusBadRequest)
					w.Write([]byte("Can't parse the from date"))
					return
				}
			}
			to := from.Add(7 * 24 * time.Hour)
			if raw := r.URL.Query().Get("to"); raw != "" {
				if to, err = parseWindowBound(as, raw, from); err != nil {
					w.WriteHeader(http.StatusBadRequest)
					w.Write([]byte("Can't parse the to date"))
					return
				}
			}
			if !from.Before(to) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("The from date must be before the to date"))
				return
			}
			window := avail.Interval{Start: from, End: to}

			respBody := make([]OneSlotRespBody, 0)
			w.Header().Set("Content-Type", "application/json")
			if rawDuration := r.URL.Query().Get("duration"); rawDuration != "" {
				duration, err := time.ParseDuration(rawDuration)
				if err != nil || duration <= 0 {
					w.WriteHeader(http.StatusBadRequest)
					w.Write([]byte("Can't parse the duration"))
					return
				}
				candidates, err := generator.Propose(r.Context(), participants, duration, window, slot.Constraints{
					Buffer:        as.Config.GetMinSlotBuffer(),
					MaxCandidates: as.Config.GetMaxSlotCandidates(),
				})
				if err != nil {
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte("Can't generate slot candidates"))
					return
				}
				for _, candidate := range candidates {
					respBody = append(respBody, OneSlotRespBody{
						StartUnixUTC: candidate.Start.Unix(),
						EndUnixUTC:   candidate.End.Unix(),
						Relaxed:      candidate.Relaxed,
					})
				}
			} else {
				free, err := agg.FreeSlots(r.Context(), participants, window)
				if err != nil {
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte("Can't compute free slots"))
					return
				}
				for _, iv := range free {
					respBody = append(respBody, OneSlotRespBody{
						StartUnixUTC: iv.Start.Unix(),
						EndUnixUTC:   iv.End.Unix(),
					})
				}
			}

			respBodyJson, err := json.Marshal(respBody)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Can't marshal response body"))
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write(respBodyJson)
		}))
}
