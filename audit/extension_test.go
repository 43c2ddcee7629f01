package audit_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/latchq/latch/audit"
	"github.com/latchq/latch/job"
)

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*audit.Event
	err    error
}

func (m *mockRecorder) Record(_ context.Context, evt *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return m.err
}

func (m *mockRecorder) last() *audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func testJob() *job.JobSpec {
	return job.New("send-email", job.WithQueue("mail"))
}

func TestJobLifecycleEvents(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	ctx := context.Background()
	j := testJob()

	if err := e.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	evt := rec.last()
	if evt.Action != audit.ActionJobEnqueued {
		t.Errorf("action = %q", evt.Action)
	}
	if evt.Severity != audit.SeverityInfo || evt.Outcome != audit.OutcomeSuccess {
		t.Errorf("severity/outcome = %s/%s", evt.Severity, evt.Outcome)
	}
	if evt.ResourceID != j.ID.String() {
		t.Errorf("resource id = %q", evt.ResourceID)
	}
	if evt.Metadata["queue"] != "mail" {
		t.Errorf("queue metadata = %v", evt.Metadata["queue"])
	}

	if err := e.OnJobFailed(ctx, j, errors.New("exploded")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	evt = rec.last()
	if evt.Severity != audit.SeverityCritical || evt.Reason != "exploded" {
		t.Errorf("failed event = %+v", evt)
	}

	if err := e.OnJobRetrying(ctx, j, 3, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}
	evt = rec.last()
	if evt.Severity != audit.SeverityWarning {
		t.Errorf("retry severity = %q", evt.Severity)
	}
	if evt.Metadata["attempt"] != 3 {
		t.Errorf("attempt metadata = %v", evt.Metadata["attempt"])
	}
}

func TestExecutedOutcomeFollowsSuccess(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	j := testJob()

	_ = e.OnJobExecuted(context.Background(), j, true, false)
	if rec.last().Outcome != audit.OutcomeSuccess {
		t.Errorf("outcome = %q", rec.last().Outcome)
	}

	_ = e.OnJobExecuted(context.Background(), j, false, true)
	if rec.last().Outcome != audit.OutcomeFailure {
		t.Errorf("outcome = %q", rec.last().Outcome)
	}
}

func TestWithActionsFilters(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec, audit.WithActions(audit.ActionJobFailed))
	j := testJob()

	_ = e.OnJobEnqueued(context.Background(), j)
	_ = e.OnJobStarted(context.Background(), j)
	if rec.count() != 0 {
		t.Fatalf("filtered actions recorded %d events", rec.count())
	}

	_ = e.OnJobFailed(context.Background(), j, errors.New("x"))
	if rec.count() != 1 {
		t.Fatalf("enabled action not recorded")
	}
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	rec := &mockRecorder{err: errors.New("backend down")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := audit.New(rec, audit.WithLogger(logger))

	if err := e.OnJobEnqueued(context.Background(), testJob()); err != nil {
		t.Fatalf("recorder error propagated: %v", err)
	}
}

func TestWriterRecorderEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	e := audit.New(audit.NewWriterRecorder(&buf))
	j := testJob()

	_ = e.OnJobEnqueued(context.Background(), j)
	_ = e.OnJobDLQ(context.Background(), j, errors.New("exploded"))

	scanner := bufio.NewScanner(&buf)
	var lines []audit.Event
	for scanner.Scan() {
		var evt audit.Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		lines = append(lines, evt)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0].Action != audit.ActionJobEnqueued || lines[1].Action != audit.ActionJobDLQ {
		t.Errorf("actions = %s, %s", lines[0].Action, lines[1].Action)
	}
	if lines[1].Reason != "exploded" {
		t.Errorf("reason = %q", lines[1].Reason)
	}
}
