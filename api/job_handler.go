package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/latchq/latch"
	"github.com/latchq/latch/id"
	"github.com/latchq/latch/job"
)

func (a *API) submitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Worker == "" {
		a.writeError(w, http.StatusBadRequest, "worker is required")
		return
	}

	opts := make([]job.Option, 0, 6)
	if req.Queue != "" {
		opts = append(opts, job.WithQueue(req.Queue))
	}
	if len(req.Input) > 0 {
		var input map[string]any
		if err := json.Unmarshal(req.Input, &input); err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid input: "+err.Error())
			return
		}
		opts = append(opts, job.WithInput(input))
	}
	if req.IntervalMS > 0 {
		opts = append(opts, job.WithInterval(time.Duration(req.IntervalMS)*time.Millisecond))
	}
	if req.Merger != "" {
		opts = append(opts, job.WithMerger(req.Merger))
	}
	if req.TimeoutMS > 0 {
		opts = append(opts, job.WithTimeout(time.Duration(req.TimeoutMS)*time.Millisecond))
	}
	if req.RunAt != nil {
		opts = append(opts, job.WithRunAt(*req.RunAt))
	}
	for _, p := range req.Prerequisites {
		prereqID, err := id.ParseJobID(p)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid prerequisite ID: "+err.Error())
			return
		}
		opts = append(opts, job.WithPrerequisites(prereqID))
	}

	j, err := a.eng.Submit(r.Context(), req.Worker, opts...)
	if err != nil {
		switch {
		case errors.Is(err, latch.ErrPeriodicDependency):
			a.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, latch.ErrJobNotFound):
			a.writeError(w, http.StatusNotFound, err.Error())
		default:
			a.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	a.writeJSON(w, http.StatusCreated, SubmitJobResponse{
		JobID: j.ID.String(),
		Queue: j.Queue,
		State: string(j.State),
	})
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	state := job.State(q.Get("state"))
	if state == "" {
		a.writeError(w, http.StatusBadRequest, "state query parameter is required")
		return
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	jobs, err := a.eng.Store().ListJobsByState(r.Context(), state, job.ListOpts{
		Limit:  defaultLimit(limit),
		Offset: offset,
		Queue:  q.Get("queue"),
	})
	if err != nil {
		a.mapStoreError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, jobs)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(r.PathValue("jobID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid job ID: "+err.Error())
		return
	}

	j, err := a.eng.Store().GetJob(r.Context(), jobID)
	if err != nil {
		a.mapStoreError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, j)
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(r.PathValue("jobID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid job ID: "+err.Error())
		return
	}

	if err := a.eng.Cancel(r.Context(), jobID); err != nil {
		a.mapStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) jobCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var resp JobCountsResponse

	for _, state := range []job.State{
		job.StateEnqueued, job.StateRunning, job.StateBlocked,
		job.StateSucceeded, job.StateFailed, job.StateCancelled,
	} {
		count, err := a.eng.Store().CountJobs(ctx, job.CountOpts{State: state})
		if err != nil {
			a.mapStoreError(w, err)
			return
		}
		switch state {
		case job.StateEnqueued:
			resp.Enqueued = count
		case job.StateRunning:
			resp.Running = count
		case job.StateBlocked:
			resp.Blocked = count
		case job.StateSucceeded:
			resp.Succeeded = count
		case job.StateFailed:
			resp.Failed = count
		case job.StateCancelled:
			resp.Cancelled = count
		}
	}

	a.writeJSON(w, http.StatusOK, resp)
}
