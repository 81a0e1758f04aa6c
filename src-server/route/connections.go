package route

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"slotd/src-server/model"
	"slotd/src-server/syncer"
	"slotd/src-server/utils"
)

func Connections(muxer *http.ServeMux, as *utils.AppState, syncManager *syncer.Manager) {
	type OneConnectionRespBody struct {
		ID                  int64  `json:"id"`
		PersonID            int64  `json:"personID"`
		Provider            string `json:"provider"`
		CalendarID          string `json:"calendarID,omitempty"`
		Url                 string `json:"url,omitempty"`
		CalendarEmail       string `json:"calendarEmail,omitempty"`
		AccessLevel         string `json:"accessLevel"`
		IsWriteTarget       bool   `json:"isWriteTarget"`
		SyncEnabled         bool   `json:"syncEnabled"`
		ConsecutiveFailures int    `json:"consecutiveFailures"`
		LastSyncedUnixUTC   int64  `json:"lastSyncedUnixUTC,omitempty"`
		ErrorMessage        string `json:"errorMessage,omitempty"`
	}

	toRespBody := func(connModel *model.CalendarConnection) OneConnectionRespBody {
		return OneConnectionRespBody{
			ID:                  connModel.ID,
			PersonID:            connModel.PersonID,
			Provider:            connModel.Provider,
			CalendarID:          connModel.CalendarID,
			Url:                 connModel.Url,
			CalendarEmail:       connModel.CalendarEmail,
			AccessLevel:         connModel.AccessLevel,
			IsWriteTarget:       connModel.IsWriteTarget,
			SyncEnabled:         connModel.SyncEnabled,
			ConsecutiveFailures: connModel.ConsecutiveFailures,
			LastSyncedUnixUTC:   connModel.LastSyncedUnixUTC,
			ErrorMessage:        connModel.ErrorMessage,
		}
	}

	muxer.HandleFunc("GET /connections", RequestLog(
		func(w http.ResponseWriter, r *http.Request) {
			personID, err := strconv.ParseInt(r.URL.Query().Get("person"), 10, 64)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Please provide a person ID"))
				return
			}
			connModels := make([]model.CalendarConnection, 0)
			if err := as.BunDB.
				NewSelect().
				Model(&connModels).
				Where("person_id = ?", personID).
				Order("id ASC").
				Scan(r.Context()); err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Can't get connections"))
				return
			}
			respBody := make([]OneConnectionRespBody, 0, len(connModels))
			for i := range connModels {
				respBody = append(respBody, toRespBody(&connModels[i]))
			}
			respBodyJson, err := json.Marshal(respBody)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Can't marshal response body"))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(respBodyJson)
		}))

	type LinkConnectionReqBody struct {
		PersonID      int64  `json:"personID"`
		Provider      string `json:"provider"`
		CalendarID    string `json:"calendarID"`
		Url           string `json:"url"`
		CalendarEmail string `json:"calendarEmail"`
		AccessLevel   string `json:"accessLevel"`
		IsWriteTarget bool   `json:"isWriteTarget"`
		OAuthToken    string `json:"oauthToken"`
	}

	muxer.HandleFunc("POST /connections", RequestLog(
		func(w http.ResponseWriter, r *http.Request) {
			var reqBody LinkConnectionReqBody
			if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Invalid request body"))
				return
			}
			connModel := model.CalendarConnection{
				PersonID:      reqBody.PersonID,
				Provider:      reqBody.Provider,
				CalendarID:    reqBody.CalendarID,
				Url:           reqBody.Url,
				CalendarEmail: reqBody.CalendarEmail,
				AccessLevel:   reqBody.AccessLevel,
				IsWriteTarget: reqBody.IsWriteTarget,
				OAuthToken:    reqBody.OAuthToken,
			}
			if err := connModel.Link(r.Context(), as.BunDB); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Can't link connection: " + err.Error()))
				return
			}
			respBodyJson, err := json.Marshal(toRespBody(&connModel))
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Can't marshal response body"))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(respBodyJson)
		}))

	muxer.HandleFunc("DELETE /connections/{id}", RequestLog(
		func(w http.ResponseWriter, r *http.Request) {
			connectionID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Please provide a connection ID"))
				return
			}
			connModel := new(model.CalendarConnection)
			if err := as.BunDB.
				NewSelect().
				Model(connModel).
				Where("id = ?", connectionID).
				Scan(r.Context()); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					w.WriteHeader(http.StatusNotFound)
					w.Write([]byte("Connection not found"))
					return
				}
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Can't get connection"))
				return
			}
			if err := connModel.Unlink(r.Context(), as.BunDB); err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Can't unlink connection"))
				return
			}
			w.WriteHeader(http.StatusOK)
		}))

	type SyncRespBody struct {
		ConnectionID int64 `json:"connectionID"`
		Events       int   `json:"events"`
		Unchanged    bool  `json:"unchanged"`
	}

	// manual sync, outside the periodic loop
	muxer.HandleFunc("POST /connections/{id}/sync", RequestLog(
		func(w http.ResponseWriter, r *http.Request) {
			connectionID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("Please provide a connection ID"))
				return
			}
			result, err := syncManager.Sync(r.Context(), connectionID)
			switch {
			case errors.Is(err, syncer.ErrSyncInFlight):
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte("A sync for this connection is already running"))
				return
			case errors.Is(err, syncer.ErrSyncDisabled):
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte("Connection is sync-disabled, re-link or re-authorize it"))
				return
			case errors.Is(err, sql.ErrNoRows):
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte("Connection not found"))
				return
			case err != nil:
				w.WriteHeader(http.StatusBadGateway)
				w.Write([]byte("Sync failed: " + err.Error()))
				return
			}
			respBodyJson, err := json.Marshal(SyncRespBody{
				ConnectionID: result.ConnectionID,
				Events:       result.Events,
				Unchanged:    result.Unchanged,
			})
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Can't marshal response body"))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(respBodyJson)
		}))
}
