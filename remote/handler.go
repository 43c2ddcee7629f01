package remote

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/latchq/latch"
	"github.com/latchq/latch/dlq"
	"github.com/latchq/latch/engine"
	"github.com/latchq/latch/id"
	"github.com/latchq/latch/job"
	"github.com/latchq/latch/scope"
	"github.com/latchq/latch/stream"
)

// Handler dispatches wire frames to engine operations.
type Handler struct {
	eng    *engine.Engine
	broker *stream.Broker
	logger *slog.Logger
}

// NewHandler creates a wire method handler.
func NewHandler(eng *engine.Engine, broker *stream.Broker, logger *slog.Logger) *Handler {
	return &Handler{eng: eng, broker: broker, logger: logger}
}

// Handle processes a single request frame and returns a response.
func (h *Handler) Handle(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	// Inject tenant from connection identity.
	if conn.Identity != nil {
		ctx = scope.Restore(ctx, conn.Identity.Tenant)
	}

	switch frame.Method {
	case MethodJobSubmit:
		return h.handleJobSubmit(ctx, frame)
	case MethodJobGet:
		return h.handleJobGet(ctx, frame)
	case MethodJobCancel:
		return h.handleJobCancel(ctx, frame)
	case MethodJobList:
		return h.handleJobList(ctx, frame)
	case MethodDLQList:
		return h.handleDLQList(ctx, frame)
	case MethodDLQReplay:
		return h.handleDLQReplay(ctx, frame)
	case MethodSubscribe:
		return h.handleSubscribe(frame)
	case MethodUnsubscribe:
		return h.handleUnsubscribe(frame)
	case MethodStats:
		return h.handleStats(ctx, frame)
	default:
		return NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "unknown method: "+frame.Method)
	}
}

// mustResponseFrame creates a response frame, returning an error frame on
// marshal failure.
func mustResponseFrame(frameID string, data any) *Frame {
	resp, err := NewResponseFrame(frameID, data)
	if err != nil {
		return NewErrorFrame(frameID, ErrCodeInternal, "marshal response: "+err.Error())
	}
	return resp
}

func (h *Handler) handleJobSubmit(ctx context.Context, frame *Frame) *Frame {
	var req JobSubmitRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}
	if req.Worker == "" {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "worker is required")
	}

	opts := make([]job.Option, 0, 6)
	if req.Queue != "" {
		opts = append(opts, job.WithQueue(req.Queue))
	}
	if len(req.Input) > 0 {
		var input map[string]any
		if err := json.Unmarshal(req.Input, &input); err != nil {
			return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid input: "+err.Error())
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
			return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid prerequisite ID: "+err.Error())
		}
		opts = append(opts, job.WithPrerequisites(prereqID))
	}

	j, err := h.eng.Submit(ctx, req.Worker, opts...)
	if err != nil {
		code := ErrCodeInternal
		switch {
		case errors.Is(err, latch.ErrJobNotFound):
			code = ErrCodeNotFound
		case errors.Is(err, latch.ErrPeriodicDependency):
			code = ErrCodeBadRequest
		}
		return NewErrorFrame(frame.ID, code, "submit failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, JobSubmitResponse{
		JobID: j.ID.String(),
		Queue: j.Queue,
		State: string(j.State),
	})
}

func (h *Handler) handleJobGet(ctx context.Context, frame *Frame) *Frame {
	var req JobGetRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	jobID, err := id.ParseJobID(req.JobID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid job ID: "+err.Error())
	}

	j, err := h.eng.Store().GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, latch.ErrJobNotFound) {
			return NewErrorFrame(frame.ID, ErrCodeNotFound, "job not found")
		}
		return NewErrorFrame(frame.ID, ErrCodeInternal, "get failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, j)
}

func (h *Handler) handleJobCancel(ctx context.Context, frame *Frame) *Frame {
	var req JobCancelRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	jobID, err := id.ParseJobID(req.JobID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid job ID: "+err.Error())
	}

	if err := h.eng.Cancel(ctx, jobID); err != nil {
		if errors.Is(err, latch.ErrJobNotFound) {
			return NewErrorFrame(frame.ID, ErrCodeNotFound, "job not found")
		}
		return NewErrorFrame(frame.ID, ErrCodeInternal, "cancel failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, map[string]string{"status": "cancelled"})
}

func (h *Handler) handleJobList(ctx context.Context, frame *Frame) *Frame {
	var req JobListRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}
	if req.State == "" {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "state is required")
	}

	jobs, err := h.eng.Store().ListJobsByState(ctx, job.State(req.State), job.ListOpts{
		Limit:  req.Limit,
		Offset: req.Offset,
		Queue:  req.Queue,
	})
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeInternal, "list failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, jobs)
}

func (h *Handler) handleDLQList(ctx context.Context, frame *Frame) *Frame {
	var req DLQListRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	entries, err := h.eng.Store().ListDLQ(ctx, dlq.ListOpts{
		Limit:  req.Limit,
		Offset: req.Offset,
		Queue:  req.Queue,
	})
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeInternal, "dlq list failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, entries)
}

func (h *Handler) handleDLQReplay(ctx context.Context, frame *Frame) *Frame {
	var req DLQReplayRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	entryID, err := id.ParseDLQID(req.EntryID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid entry ID: "+err.Error())
	}

	j, err := h.eng.Replay(ctx, entryID)
	if err != nil {
		if errors.Is(err, latch.ErrDLQNotFound) {
			return NewErrorFrame(frame.ID, ErrCodeNotFound, "dlq entry not found")
		}
		return NewErrorFrame(frame.ID, ErrCodeInternal, "replay failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, JobSubmitResponse{
		JobID: j.ID.String(),
		Queue: j.Queue,
		State: string(j.State),
	})
}

func (h *Handler) handleSubscribe(frame *Frame) *Frame {
	var req SubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	if err := stream.ValidateTopic(req.Channel); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
	}

	// Actual subscription is done in the server loop after the
	// response is sent.
	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "subscribed",
	})
}

func (h *Handler) handleUnsubscribe(frame *Frame) *Frame {
	var req UnsubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	// Actual unsubscription is done in the server loop after the
	// response is sent.
	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "unsubscribed",
	})
}

func (h *Handler) handleStats(ctx context.Context, frame *Frame) *Frame {
	stats := map[string]any{
		"broker": h.broker.Stats(),
	}

	if total, err := h.eng.Store().CountJobs(ctx, job.CountOpts{}); err == nil {
		stats["jobs"] = total
	}
	if dlqCount, err := h.eng.Store().CountDLQ(ctx); err == nil {
		stats["dlq"] = dlqCount
	}

	return mustResponseFrame(frame.ID, stats)
}
