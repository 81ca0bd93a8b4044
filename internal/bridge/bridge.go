// Package bridge serves the chat transport to renderers running outside the
// desktop window over a websocket.
//
// A client sends requests:
//
//	{"action":"stream","payload":{"threadId":"…","message":"…"}}
//	{"action":"cancel","threadId":"…"}
//
// and receives every UI event wrapped in a types.EventEnvelope. The end of a
// run is marked by an envelope with eventType "end".
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"openwork/internal/logging"
	"openwork/internal/metrics"
	"openwork/internal/transport"
	"openwork/internal/types"
)

// Request actions
const (
	ActionStream = "stream"
	ActionCancel = "cancel"
)

// EventEnd closes the event sequence of one stream.
const EventEnd = "end"

const (
	writeWait       = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Streamer runs chat streams. engine.Engine implements it.
type Streamer interface {
	Stream(ctx context.Context, p transport.Payload) <-chan transport.UIEvent
	Cancel(threadID string)
}

// Request is one client message.
type Request struct {
	Action   string             `json:"action"`
	ThreadID string             `json:"threadId,omitempty"`
	Payload  *transport.Payload `json:"payload,omitempty"`
}

// Server is the bridge HTTP server.
type Server struct {
	streamer       Streamer
	allowedOrigins []string
	upgrader       websocket.Upgrader

	mu    sync.Mutex
	conns int
}

// New creates a bridge. An empty allowedOrigins accepts only same-host
// origins.
func New(streamer Streamer, allowedOrigins []string) *Server {
	s := &Server{streamer: streamer, allowedOrigins: allowedOrigins}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler routes /ws, /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("bridge listening", logging.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin) {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

func (s *Server) trackConn(delta int) {
	s.mu.Lock()
	s.conns += delta
	n := s.conns
	s.mu.Unlock()
	metrics.SetBridgeConnections(n)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("bridge upgrade failed", logging.Err(err))
		return
	}
	s.trackConn(1)
	defer s.trackConn(-1)

	c := &client{
		conn:     conn,
		streamer: s.streamer,
	}
	c.serve(r.Context())
}

// client is one websocket connection. Streams started on it are cancelled
// when it closes.
type client struct {
	conn     *websocket.Conn
	streamer Streamer
	writeMu  sync.Mutex
	wg       sync.WaitGroup
}

func (c *client) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer func() {
		cancel()
		c.wg.Wait()
		_ = c.conn.Close()
	}()

	for {
		var req Request
		if err := c.conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("bridge read ended", logging.Err(err))
			}
			return
		}
		c.handle(ctx, req)
	}
}

func (c *client) handle(ctx context.Context, req Request) {
	switch req.Action {
	case ActionStream:
		if req.Payload == nil {
			c.write(types.EventEnvelope{EventType: transport.EventError, Payload: transport.ErrorData{
				Error: transport.CodeMissingMessage, Message: "payload is required",
			}})
			return
		}
		p := *req.Payload
		events := c.streamer.Stream(ctx, p)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			var runID string
			for ev := range events {
				if meta, ok := ev.Data.(transport.Metadata); ok {
					runID = meta.RunID
				}
				c.write(types.EventEnvelope{ThreadID: p.ThreadID, RunID: runID, EventType: ev.Event, Payload: ev.Data})
			}
			c.write(types.EventEnvelope{ThreadID: p.ThreadID, RunID: runID, EventType: EventEnd})
		}()
	case ActionCancel:
		if req.ThreadID != "" {
			c.streamer.Cancel(req.ThreadID)
		}
	default:
		c.write(types.EventEnvelope{EventType: transport.EventError, Payload: transport.ErrorData{
			Error: "UNKNOWN_ACTION", Message: "unknown action: " + req.Action,
		}})
	}
}

func (c *client) write(env types.EventEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		logging.Error("bridge encode failed", logging.Err(err))
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logging.Debug("bridge write failed", logging.Err(err))
	}
}
