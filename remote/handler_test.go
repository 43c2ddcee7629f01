package remote

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/latchq/latch/engine"
	"github.com/latchq/latch/id"
	"github.com/latchq/latch/job"
	"github.com/latchq/latch/payload"
	"github.com/latchq/latch/store/memory"
	"github.com/latchq/latch/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupHandler(t *testing.T) (*Handler, *engine.Engine) {
	t.Helper()
	broker := stream.NewBroker()
	eng, err := engine.New(memory.New(),
		engine.WithLogger(testLogger()),
		engine.WithoutMetrics(),
		engine.WithoutTracing(),
		engine.WithExtension(broker),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	eng.RegisterWorkerFunc("noop", func(ctx context.Context, input payload.Payload) job.Result {
		return job.Success(nil)
	})
	return NewHandler(eng, broker, testLogger()), eng
}

func testConn() *Connection {
	return NewConnection("conn-test", &Identity{Subject: "t", Scopes: []string{ScopeAll}}, &JSONCodec{})
}

func mustParseJobID(t *testing.T, s string) id.JobID {
	t.Helper()
	jid, err := id.ParseJobID(s)
	if err != nil {
		t.Fatalf("ParseJobID(%q): %v", s, err)
	}
	return jid
}

func request(t *testing.T, method string, data any) *Frame {
	t.Helper()
	frame, err := NewRequestFrame(GenerateFrameID(), method, data)
	if err != nil {
		t.Fatalf("NewRequestFrame: %v", err)
	}
	return frame
}

func TestHandler_JobSubmit(t *testing.T) {
	h, eng := setupHandler(t)
	ctx := context.Background()

	frame := request(t, MethodJobSubmit, JobSubmitRequest{
		Worker: "noop",
		Input:  json.RawMessage(`{"to":"a@example.com"}`),
		Queue:  "default",
	})

	resp := h.Handle(ctx, frame, testConn())
	if resp.Type != FrameResponse {
		t.Fatalf("frame type = %s, error = %+v", resp.Type, resp.Error)
	}

	var result JobSubmitResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if result.State != string(job.StateEnqueued) {
		t.Errorf("state = %q, want enqueued", result.State)
	}

	count, err := eng.Store().CountJobs(ctx, job.CountOpts{})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if count != 1 {
		t.Errorf("job count = %d, want 1", count)
	}
}

func TestHandler_JobSubmitRequiresWorker(t *testing.T) {
	h, _ := setupHandler(t)

	resp := h.Handle(context.Background(), request(t, MethodJobSubmit, JobSubmitRequest{}), testConn())
	if resp.Type != FrameErr || resp.Error.Code != ErrCodeBadRequest {
		t.Fatalf("expected bad request error, got %+v", resp)
	}
}

func TestHandler_JobGet(t *testing.T) {
	h, eng := setupHandler(t)
	ctx := context.Background()

	j, err := eng.Submit(ctx, "noop")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	resp := h.Handle(ctx, request(t, MethodJobGet, JobGetRequest{JobID: j.ID.String()}), testConn())
	if resp.Type != FrameResponse {
		t.Fatalf("frame type = %s, error = %+v", resp.Type, resp.Error)
	}

	var got job.JobSpec
	if err := json.Unmarshal(resp.Data, &got); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if got.ID != j.ID {
		t.Errorf("job ID = %s, want %s", got.ID, j.ID)
	}
}

func TestHandler_JobGetNotFound(t *testing.T) {
	h, _ := setupHandler(t)

	resp := h.Handle(context.Background(), request(t, MethodJobGet, JobGetRequest{JobID: "nonsense"}), testConn())
	if resp.Type != FrameErr || resp.Error.Code != ErrCodeBadRequest {
		t.Fatalf("expected bad request for malformed ID, got %+v", resp)
	}
}

func TestHandler_JobCancelCascades(t *testing.T) {
	h, eng := setupHandler(t)
	ctx := context.Background()

	root, err := eng.Submit(ctx, "noop")
	if err != nil {
		t.Fatalf("Submit root: %v", err)
	}
	dep, err := eng.Submit(ctx, "noop", job.WithPrerequisites(root.ID))
	if err != nil {
		t.Fatalf("Submit dependent: %v", err)
	}

	resp := h.Handle(ctx, request(t, MethodJobCancel, JobCancelRequest{JobID: root.ID.String()}), testConn())
	if resp.Type != FrameResponse {
		t.Fatalf("frame type = %s, error = %+v", resp.Type, resp.Error)
	}

	for _, jid := range []string{root.ID.String(), dep.ID.String()} {
		state, err := eng.Store().GetState(ctx, mustParseJobID(t, jid))
		if err != nil {
			t.Fatalf("GetState: %v", err)
		}
		if state != job.StateCancelled {
			t.Errorf("job %s state = %s, want cancelled", jid, state)
		}
	}
}

func TestHandler_JobList(t *testing.T) {
	h, eng := setupHandler(t)
	ctx := context.Background()

	for range 3 {
		if _, err := eng.Submit(ctx, "noop"); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	resp := h.Handle(ctx, request(t, MethodJobList, JobListRequest{State: "enqueued"}), testConn())
	if resp.Type != FrameResponse {
		t.Fatalf("frame type = %s, error = %+v", resp.Type, resp.Error)
	}

	var jobs []*job.JobSpec
	if err := json.Unmarshal(resp.Data, &jobs); err != nil {
		t.Fatalf("unmarshal jobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Errorf("len(jobs) = %d, want 3", len(jobs))
	}
}

func TestHandler_DLQListAndReplay(t *testing.T) {
	h, eng := setupHandler(t)
	ctx := context.Background()

	j, err := eng.Submit(ctx, "noop")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := eng.DLQ().Push(ctx, j, context.DeadlineExceeded); err != nil {
		t.Fatalf("Push: %v", err)
	}

	resp := h.Handle(ctx, request(t, MethodDLQList, DLQListRequest{}), testConn())
	if resp.Type != FrameResponse {
		t.Fatalf("frame type = %s, error = %+v", resp.Type, resp.Error)
	}

	var entries []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Data, &entries); err != nil {
		t.Fatalf("unmarshal entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}

	resp = h.Handle(ctx, request(t, MethodDLQReplay, DLQReplayRequest{EntryID: entries[0].ID}), testConn())
	if resp.Type != FrameResponse {
		t.Fatalf("replay frame type = %s, error = %+v", resp.Type, resp.Error)
	}

	var replayed JobSubmitResponse
	if err := json.Unmarshal(resp.Data, &replayed); err != nil {
		t.Fatalf("unmarshal replay response: %v", err)
	}
	if replayed.JobID == j.ID.String() {
		t.Error("replay should mint a fresh job ID")
	}
}

func TestHandler_Stats(t *testing.T) {
	h, eng := setupHandler(t)
	ctx := context.Background()

	if _, err := eng.Submit(ctx, "noop"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	resp := h.Handle(ctx, request(t, MethodStats, nil), testConn())
	if resp.Type != FrameResponse {
		t.Fatalf("frame type = %s, error = %+v", resp.Type, resp.Error)
	}

	var stats map[string]json.RawMessage
	if err := json.Unmarshal(resp.Data, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if _, ok := stats["broker"]; !ok {
		t.Error("stats missing broker section")
	}
	if _, ok := stats["jobs"]; !ok {
		t.Error("stats missing jobs count")
	}
}

func TestHandler_UnknownMethod(t *testing.T) {
	h, _ := setupHandler(t)

	resp := h.Handle(context.Background(), request(t, "nope", nil), testConn())
	if resp.Type != FrameErr || resp.Error.Code != ErrCodeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp)
	}
}
