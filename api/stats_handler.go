package api

import (
	"net/http"

	"github.com/latchq/latch/job"
)

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var counts JobCountsResponse

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
			counts.Enqueued = count
		case job.StateRunning:
			counts.Running = count
		case job.StateBlocked:
			counts.Blocked = count
		case job.StateSucceeded:
			counts.Succeeded = count
		case job.StateFailed:
			counts.Failed = count
		case job.StateCancelled:
			counts.Cancelled = count
		}
	}

	dlqCount, err := a.eng.Store().CountDLQ(ctx)
	if err != nil {
		a.mapStoreError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, StatsResponse{
		Jobs:     counts,
		DLQCount: dlqCount,
	})
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Store().Ping(r.Context()); err != nil {
		a.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
