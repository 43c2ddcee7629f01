package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/latchq/latch"
	"github.com/latchq/latch/dlq"
	"github.com/latchq/latch/id"
)

func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	entries, err := a.eng.Store().ListDLQ(r.Context(), dlq.ListOpts{
		Limit:  defaultLimit(limit),
		Offset: offset,
		Queue:  q.Get("queue"),
	})
	if err != nil {
		a.mapStoreError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) getDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(r.PathValue("entryID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid entry ID: "+err.Error())
		return
	}

	entry, err := a.eng.Store().GetDLQ(r.Context(), entryID)
	if err != nil {
		a.mapStoreError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, entry)
}

func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(r.PathValue("entryID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid entry ID: "+err.Error())
		return
	}

	j, err := a.eng.Replay(r.Context(), entryID)
	if err != nil {
		if errors.Is(err, latch.ErrDLQNotFound) {
			a.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a.writeJSON(w, http.StatusCreated, SubmitJobResponse{
		JobID: j.ID.String(),
		Queue: j.Queue,
		State: string(j.State),
	})
}

func (a *API) purgeDLQ(w http.ResponseWriter, r *http.Request) {
	var req PurgeDLQRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	before := time.Now().UTC()
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid older_than duration: "+err.Error())
			return
		}
		before = before.Add(-d)
	}

	purged, err := a.eng.Store().PurgeDLQ(r.Context(), before)
	if err != nil {
		a.mapStoreError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, PurgeDLQResponse{Purged: purged})
}

func (a *API) dlqCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.eng.Store().CountDLQ(r.Context())
	if err != nil {
		a.mapStoreError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, DLQCountResponse{Count: count})
}
