package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/latchq/latch/job"
	"github.com/latchq/latch/stream"
)

func setupServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	h, _ := setupHandler(t)
	srv := NewServer(h.broker, h,
		WithLogger(testLogger()),
		WithAuth(NewAPIKeyAuthenticator(
			APIKeyEntry{
				Token:    "test-token",
				Identity: Identity{Subject: "test-user", Scopes: []string{ScopeAll}},
			},
			APIKeyEntry{
				Token:    "limited-token",
				Identity: Identity{Subject: "limited-user", Scopes: []string{ScopeJobRead}},
			},
		)),
	)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

// dialWS connects, authenticates, and returns the raw connection.
func dialWS(t *testing.T, ts *httptest.Server, token string) net.Conn {
	t.Helper()
	url := strings.Replace(ts.URL, "http", "ws", 1) + "/latch"
	conn, _, _, err := ws.Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("ws.Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	authFrame, err := NewRequestFrame(GenerateFrameID(), MethodAuth, AuthRequest{Token: token})
	if err != nil {
		t.Fatalf("NewRequestFrame: %v", err)
	}
	writeClientFrame(t, conn, authFrame)

	resp := readServerFrame(t, conn)
	if resp.Type != FrameResponse {
		t.Fatalf("auth response type = %s, error = %+v", resp.Type, resp.Error)
	}
	return conn
}

func writeClientFrame(t *testing.T, conn net.Conn, frame *Frame) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := wsutil.WriteClientText(conn, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readServerFrame(t *testing.T, conn net.Conn) *Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return &frame
}

func TestNewServerDefaults(t *testing.T) {
	broker := stream.NewBroker()
	srv := NewServer(broker, &Handler{logger: testLogger()})

	if srv.basePath != "/latch" {
		t.Errorf("basePath = %q, want /latch", srv.basePath)
	}
	if srv.defaultCodec.Name() != CodecNameJSON {
		t.Errorf("codec = %q, want json", srv.defaultCodec.Name())
	}
	if _, ok := srv.auth.(*NoopAuthenticator); !ok {
		t.Error("default auth should be NoopAuthenticator")
	}
}

func TestWebSocket_AuthRejectsBadToken(t *testing.T) {
	_, ts := setupServer(t)

	url := strings.Replace(ts.URL, "http", "ws", 1) + "/latch"
	conn, _, _, err := ws.Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("ws.Dial: %v", err)
	}
	defer conn.Close()

	authFrame, _ := NewRequestFrame(GenerateFrameID(), MethodAuth, AuthRequest{Token: "wrong"})
	writeClientFrame(t, conn, authFrame)

	resp := readServerFrame(t, conn)
	if resp.Type != FrameErr || resp.Error.Code != ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", resp)
	}
}

func TestWebSocket_SubmitAndGet(t *testing.T) {
	_, ts := setupServer(t)
	conn := dialWS(t, ts, "test-token")

	submit, _ := NewRequestFrame(GenerateFrameID(), MethodJobSubmit, JobSubmitRequest{Worker: "noop"})
	writeClientFrame(t, conn, submit)

	resp := readServerFrame(t, conn)
	if resp.Type != FrameResponse {
		t.Fatalf("submit response = %+v", resp)
	}
	var result JobSubmitResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	get, _ := NewRequestFrame(GenerateFrameID(), MethodJobGet, JobGetRequest{JobID: result.JobID})
	writeClientFrame(t, conn, get)

	resp = readServerFrame(t, conn)
	if resp.Type != FrameResponse {
		t.Fatalf("get response = %+v", resp)
	}
	var got job.JobSpec
	if err := json.Unmarshal(resp.Data, &got); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if got.ID.String() != result.JobID {
		t.Errorf("job ID = %s, want %s", got.ID, result.JobID)
	}
}

func TestWebSocket_ScopeEnforcement(t *testing.T) {
	_, ts := setupServer(t)
	conn := dialWS(t, ts, "limited-token")

	submit, _ := NewRequestFrame(GenerateFrameID(), MethodJobSubmit, JobSubmitRequest{Worker: "noop"})
	writeClientFrame(t, conn, submit)

	resp := readServerFrame(t, conn)
	if resp.Type != FrameErr || resp.Error.Code != ErrCodeForbidden {
		t.Fatalf("expected forbidden, got %+v", resp)
	}
}

func TestWebSocket_PingPong(t *testing.T) {
	_, ts := setupServer(t)
	conn := dialWS(t, ts, "test-token")

	ping := &Frame{ID: GenerateFrameID(), Type: FramePing, Timestamp: time.Now().UTC()}
	writeClientFrame(t, conn, ping)

	resp := readServerFrame(t, conn)
	if resp.Type != FramePong {
		t.Fatalf("expected pong, got %s", resp.Type)
	}
	if resp.CorrelID != ping.ID {
		t.Errorf("correl_id = %s, want %s", resp.CorrelID, ping.ID)
	}
}

func TestWebSocket_SubscribeReceivesEvents(t *testing.T) {
	_, ts := setupServer(t)
	conn := dialWS(t, ts, "test-token")

	subscribe, _ := NewRequestFrame(GenerateFrameID(), MethodSubscribe, SubscribeRequest{Channel: stream.TopicJobs})
	writeClientFrame(t, conn, subscribe)
	resp := readServerFrame(t, conn)
	if resp.Type != FrameResponse {
		t.Fatalf("subscribe response = %+v", resp)
	}

	submit, _ := NewRequestFrame(GenerateFrameID(), MethodJobSubmit, JobSubmitRequest{Worker: "noop"})
	writeClientFrame(t, conn, submit)

	// Expect the submit response and an enqueued event, in either order.
	sawResponse := false
	sawEvent := false
	for range 2 {
		frame := readServerFrame(t, conn)
		switch frame.Type {
		case FrameResponse:
			sawResponse = true
		case FrameEvent:
			var evt stream.Event
			if err := json.Unmarshal(frame.Data, &evt); err != nil {
				t.Fatalf("unmarshal event: %v", err)
			}
			if evt.Type != stream.EventJobEnqueued {
				t.Errorf("event type = %s, want %s", evt.Type, stream.EventJobEnqueued)
			}
			sawEvent = true
		}
	}
	if !sawResponse || !sawEvent {
		t.Fatalf("sawResponse = %v, sawEvent = %v", sawResponse, sawEvent)
	}
}

func TestHTTPRPC_Submit(t *testing.T) {
	_, ts := setupServer(t)

	frame, _ := NewRequestFrame(GenerateFrameID(), MethodJobSubmit, JobSubmitRequest{Worker: "noop"})
	frame.Token = "test-token"
	body, _ := json.Marshal(frame)

	resp, err := http.Post(ts.URL+"/latch/rpc", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out Frame
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Type != FrameResponse {
		t.Fatalf("frame type = %s, error = %+v", out.Type, out.Error)
	}
}

func TestHTTPRPC_Unauthorized(t *testing.T) {
	_, ts := setupServer(t)

	frame, _ := NewRequestFrame(GenerateFrameID(), MethodJobSubmit, JobSubmitRequest{Worker: "noop"})
	frame.Token = "wrong"
	body, _ := json.Marshal(frame)

	resp, err := http.Post(ts.URL+"/latch/rpc", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestMsgpackCodecRoundTrip(t *testing.T) {
	codec := &MsgpackCodec{}
	frame, err := NewRequestFrame(GenerateFrameID(), MethodJobGet, JobGetRequest{JobID: "job_x"})
	if err != nil {
		t.Fatalf("NewRequestFrame: %v", err)
	}

	data, err := codec.Encode(frame)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Method != MethodJobGet || decoded.ID != frame.ID {
		t.Errorf("decoded = %+v, want method/ID preserved", decoded)
	}
}
