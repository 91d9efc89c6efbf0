package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danielsimonjr/ironclaw/internal/bus"
	"github.com/danielsimonjr/ironclaw/internal/config"
	"github.com/danielsimonjr/ironclaw/internal/dispatcher"
	"github.com/danielsimonjr/ironclaw/internal/sessionregistry"
	"github.com/danielsimonjr/ironclaw/pkg/protocol"
)

// Server is the WebSocket/HTTP front door feeding C9's dispatcher. It owns no
// routing or delivery logic itself: every inbound frame becomes an
// IncomingMessage handed to the dispatcher, and every outbound bus event is
// fanned out to subscribed clients.
type Server struct {
	cfg     *config.Config
	disp    *dispatcher.Dispatcher
	sess    *sessionregistry.Registry
	eventPub bus.EventPublisher

	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	clients     map[string]*Client
	mu          sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway server wired to disp for inbound dispatch and
// sess for history lookups, broadcasting eventPub events to connected clients.
func NewServer(cfg *config.Config, disp *dispatcher.Dispatcher, sess *sessionregistry.Registry, eventPub bus.EventPublisher) *Server {
	s := &Server{
		cfg:      cfg,
		disp:     disp,
		sess:     sess,
		eventPub: eventPub,
		clients:  make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	// rate_limit_rpm > 0 enables per-connection RPC rate limiting; <= 0 disables it.
	s.rateLimiter = NewRateLimiter(cfg.Gateway.RateLimitRPM, 5)
	return s
}

// RateLimiter returns the server's rate limiter for use by method handlers.
func (s *Server) RateLimiter() *RateLimiter { return s.rateLimiter }

// checkOrigin validates WebSocket connection origin against the allowed
// origins whitelist. No configured origins, or an empty Origin header
// (non-browser clients), always passes.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.mux = mux
	return mux
}

// Start begins listening for WebSocket and HTTP connections until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

// chatSendParams is the body of a "chat.send" request frame.
type chatSendParams struct {
	Channel  string            `json:"channel"`
	UserID   string            `json:"user_id"`
	Content  string            `json:"content"`
	ThreadID string            `json:"thread_id,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// chatHistoryParams is the body of a "chat.history" request frame.
type chatHistoryParams struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Limit     int    `json:"limit,omitempty"`
}

// handleRequest dispatches one decoded RequestFrame to the method it names.
func (s *Server) handleRequest(ctx context.Context, c *Client, req protocol.RequestFrame) protocol.ResponseFrame {
	if s.rateLimiter.Enabled() && !s.rateLimiter.Allow(c.id) {
		return protocol.ResponseFrame{ID: req.ID, Error: "rate limit exceeded"}
	}

	switch req.Method {
	case "chat.send":
		var p chatSendParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return protocol.ResponseFrame{ID: req.ID, Error: "invalid params"}
		}
		cmd, err := s.disp.HandleInbound(ctx, dispatcher.IncomingMessage{
			Channel:  p.Channel,
			UserID:   p.UserID,
			Content:  p.Content,
			ThreadID: p.ThreadID,
			Metadata: p.Metadata,
		})
		if err != nil {
			return protocol.ResponseFrame{ID: req.ID, Error: err.Error()}
		}
		return protocol.ResponseFrame{ID: req.ID, Result: map[string]string{
			"session_id": cmd.SessionID,
			"command_id": cmd.ID.String(),
		}}

	case "chat.history":
		var p chatHistoryParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return protocol.ResponseFrame{ID: req.ID, Error: "invalid params"}
		}
		entries, err := s.sess.History(ctx, p.SessionID, p.Limit, p.UserID)
		if err != nil {
			return protocol.ResponseFrame{ID: req.ID, Error: err.Error()}
		}
		return protocol.ResponseFrame{ID: req.ID, Result: entries}

	default:
		return protocol.ResponseFrame{ID: req.ID, Error: "unknown method: " + req.Method}
	}
}

// BroadcastEvent sends an event to all connected clients.
func (s *Server) BroadcastEvent(event protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		client.SendEvent(event)
	}
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c

	s.eventPub.Subscribe(c.id, func(event bus.Event) {
		if strings.HasPrefix(event.Name, "cache.") {
			return
		}
		c.SendEvent(*protocol.NewEvent(event.Name, event.Payload))
	})

	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	s.eventPub.Unsubscribe(c.id)
	slog.Info("client disconnected", "id", c.id)
}

// StartTestServer creates a listener on :0 (random port) and returns the
// actual address and a start function. Used for integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}

	return addr, start
}
