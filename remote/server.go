package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/latchq/latch/stream"
)

// Server handles WebSocket, SSE, and HTTP RPC connections. It bridges
// remote callers to the engine via the Handler and streams lifecycle
// events to subscribers via the broker.
type Server struct {
	broker       *stream.Broker
	handler      *Handler
	auth         Authenticator
	defaultCodec Codec
	conns        *ConnectionManager
	logger       *slog.Logger
	basePath     string
	nextConn     atomic.Uint64
}

// NewServer creates a wire protocol server.
func NewServer(broker *stream.Broker, handler *Handler, opts ...Option) *Server {
	s := &Server{
		broker:       broker,
		handler:      handler,
		defaultCodec: &JSONCodec{},
		conns:        NewConnectionManager(),
		logger:       slog.Default(),
		basePath:     "/latch",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil {
		s.auth = &NoopAuthenticator{}
	}
	return s
}

// Broker returns the underlying stream broker.
func (s *Server) Broker() *stream.Broker { return s.broker }

// Connections returns the connection manager.
func (s *Server) Connections() *ConnectionManager { return s.conns }

// RegisterRoutes mounts wire endpoints on an HTTP mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Primary: WebSocket.
	mux.HandleFunc("GET "+s.basePath, s.handleWebSocket)

	// Fallback: SSE for read-only subscriptions.
	mux.HandleFunc("GET "+s.basePath+"/sse", s.handleSSE)

	// One-shot: HTTP RPC.
	mux.HandleFunc("POST "+s.basePath+"/rpc", s.handleHTTPRPC)
}

// wsConn serializes writes to a WebSocket. The event forwarder and the
// request loop write concurrently.
type wsConn struct {
	net.Conn
	mu sync.Mutex
}

func (c *wsConn) writeFrame(codec Codec, frame *Frame) error {
	data, err := codec.Encode(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if codec.Name() == CodecNameJSON {
		return wsutil.WriteServerText(c.Conn, data)
	}
	return wsutil.WriteServerBinary(c.Conn, data)
}

// handleWebSocket upgrades the HTTP request and runs the frame loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	// The request context dies when this handler returns; the hijacked
	// connection outlives it.
	go s.serveConn(context.Background(), &wsConn{Conn: raw})
}

func (s *Server) serveConn(ctx context.Context, conn *wsConn) {
	defer conn.Close()

	connID := fmt.Sprintf("conn_%d", s.nextConn.Add(1))
	s.logger.Info("websocket connected", slog.String("conn_id", connID))

	// Wait for the auth frame. Auth frames are always JSON, before
	// codec negotiation.
	authData, _, readErr := wsutil.ReadClientData(conn)
	if readErr != nil {
		return
	}

	var authFrame Frame
	if err := json.Unmarshal(authData, &authFrame); err != nil {
		_ = conn.writeFrame(&JSONCodec{}, NewErrorFrame("", ErrCodeBadRequest, "invalid auth frame"))
		return
	}
	if authFrame.Method != MethodAuth {
		_ = conn.writeFrame(&JSONCodec{}, NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "first frame must be auth"))
		return
	}

	var authReq AuthRequest
	if len(authFrame.Data) > 0 {
		if err := json.Unmarshal(authFrame.Data, &authReq); err != nil {
			_ = conn.writeFrame(&JSONCodec{}, NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "invalid auth data"))
			return
		}
	}

	token := authReq.Token
	if token == "" {
		token = authFrame.Token
	}
	identity, authErr := s.auth.Authenticate(ctx, token)
	if authErr != nil {
		_ = conn.writeFrame(&JSONCodec{}, NewErrorFrame(authFrame.ID, ErrCodeUnauthorized, "authentication failed"))
		return
	}

	// Negotiate codec.
	codec := s.defaultCodec
	if authReq.Format != "" {
		codec = GetCodec(authReq.Format)
	}

	wireConn := NewConnection(connID, identity, codec)
	s.conns.Add(wireConn)

	// A broker subscriber without topics; subscribe frames attach them.
	sub := s.broker.SubscribeTo()
	defer func() {
		s.broker.RemoveSubscriber(sub.ID())
		s.conns.Remove(connID)
		s.logger.Info("websocket disconnected", slog.String("conn_id", connID))
	}()

	resp, respErr := NewResponseFrame(authFrame.ID, AuthResponse{
		Format:    codec.Name(),
		SessionID: connID,
	})
	if respErr != nil {
		return
	}
	if err := conn.writeFrame(codec, resp); err != nil {
		return
	}

	s.logger.Info("authenticated",
		slog.String("conn_id", connID),
		slog.String("subject", identity.Subject),
		slog.String("codec", codec.Name()),
	)

	go s.forwardEvents(conn, codec, sub)

	// Frame processing loop.
	for {
		data, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			return // Connection closed.
		}

		wireConn.Touch()

		frame, decErr := codec.Decode(data)
		if decErr != nil {
			errFrame := NewErrorFrame("", ErrCodeBadRequest, "invalid frame: "+decErr.Error())
			if writeErr := conn.writeFrame(codec, errFrame); writeErr != nil {
				return
			}
			continue
		}

		if frame.Type == FramePing {
			pong := &Frame{
				ID:        GenerateFrameID(),
				Type:      FramePong,
				CorrelID:  frame.ID,
				Timestamp: frame.Timestamp,
			}
			if writeErr := conn.writeFrame(codec, pong); writeErr != nil {
				return
			}
			continue
		}

		// Check authorization for the method.
		if frame.Method != "" {
			reqScope := RequiredScope(frame.Method)
			if reqScope != "" && !identity.HasScope(reqScope) {
				errFrame := NewErrorFrame(frame.ID, ErrCodeForbidden, "insufficient permissions")
				if writeErr := conn.writeFrame(codec, errFrame); writeErr != nil {
					return
				}
				continue
			}
		}

		// Credits replenishment.
		if frame.Credits > 0 {
			sub.AddCredits(int64(frame.Credits))
			continue
		}

		respFrame := s.handler.Handle(ctx, frame, wireConn)
		if respFrame == nil {
			continue
		}

		// Subscribe/unsubscribe side effects after a successful response.
		if frame.Method == MethodSubscribe && respFrame.Type == FrameResponse {
			var subReq SubscribeRequest
			if json.Unmarshal(frame.Data, &subReq) == nil {
				s.broker.AddSubscription(sub.ID(), subReq.Channel)
				wireConn.AddSubscription(subReq.Channel)
				if subReq.Credits > 0 {
					sub.AddCredits(int64(subReq.Credits))
				}
			}
		} else if frame.Method == MethodUnsubscribe && respFrame.Type == FrameResponse {
			var unsubReq UnsubscribeRequest
			if json.Unmarshal(frame.Data, &unsubReq) == nil {
				s.broker.Unsubscribe(unsubReq.Channel, sub.ID())
				wireConn.RemoveSubscription(unsubReq.Channel)
			}
		}

		if writeErr := conn.writeFrame(codec, respFrame); writeErr != nil {
			return
		}
	}
}

// forwardEvents reads from the subscriber channel and writes events
// to the WebSocket connection.
func (s *Server) forwardEvents(conn *wsConn, codec Codec, sub *stream.Subscriber) {
	for evt := range sub.C() {
		evtFrame, err := NewEventFrame(evt.Topic, evt)
		if err != nil {
			continue
		}
		if writeErr := conn.writeFrame(codec, evtFrame); writeErr != nil {
			return // Connection gone.
		}
	}
}

// handleSSE serves read-only Server-Sent Events for clients that cannot
// establish WebSocket connections.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	identity, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	channel := r.URL.Query().Get("channel")
	if channel == "" {
		http.Error(w, "channel parameter required", http.StatusBadRequest)
		return
	}
	if err := stream.ValidateTopic(channel); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !identity.HasScope(ScopeSubscribe) && !identity.HasScope(ScopeAll) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.broker.SubscribeTo(channel)
	defer s.broker.RemoveSubscriber(sub.ID())

	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			data, marshalErr := json.Marshal(evt)
			if marshalErr != nil {
				continue
			}
			if _, writeErr := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data); writeErr != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleHTTPRPC handles one-shot HTTP RPC requests for simple operations.
func (s *Server) handleHTTPRPC(w http.ResponseWriter, r *http.Request) {
	var frame Frame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		writeJSON(w, http.StatusBadRequest, NewErrorFrame("", ErrCodeBadRequest, "invalid request body"))
		return
	}

	token := frame.Token
	if token == "" {
		token = r.Header.Get("Authorization")
	}
	identity, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, NewErrorFrame(frame.ID, ErrCodeUnauthorized, "unauthorized"))
		return
	}

	reqScope := RequiredScope(frame.Method)
	if reqScope != "" && !identity.HasScope(reqScope) {
		writeJSON(w, http.StatusForbidden, NewErrorFrame(frame.ID, ErrCodeForbidden, "forbidden"))
		return
	}

	conn := NewConnection("rpc-"+GenerateFrameID(), identity, &JSONCodec{})

	resp := s.handler.Handle(r.Context(), &frame, conn)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	status := http.StatusOK
	if resp.Type == FrameErr && resp.Error != nil {
		status = resp.Error.Code
		if status < 100 || status > 599 {
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
