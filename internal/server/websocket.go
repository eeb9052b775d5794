package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/brandloom-ai/brandloom/internal/protocol"
	"github.com/brandloom-ai/brandloom/internal/session"
)

const (
	writeTimeout  = 10 * time.Second
	pongTimeout   = 60 * time.Second
	pingInterval  = 54 * time.Second
	sendQueueSize = 256
	maxMessageLen = 1 << 20 // 1 MiB; audio chunks are ~11 KiB base64
)

// SessionFactory supplies the per-connection collaborators for a new session:
// the upstream dialer and the decision agent. Each connection gets fresh ones
// so conversation history never leaks across clients.
type SessionFactory func() (session.Dialer, session.Decider)

// Config carries everything the websocket server needs.
type Config struct {
	Registry *session.Registry
	Factory  SessionFactory

	// Warmup is forwarded into each session's config. Zero means default.
	Warmup time.Duration

	// Archive, when set, receives the final brand state of every session.
	Archive session.Archiver

	// OriginAllowed validates the Origin header beyond the builtin allowlist.
	OriginAllowed func(origin string) bool

	// Context is the parent for all session coordinators. Nil means Background.
	Context context.Context

	Logger *log.Logger
}

// Server upgrades websocket connections and binds each one to its own session
// coordinator. One connection, one session: the voice protocol has no
// multiplexing.
type Server struct {
	registry *session.Registry
	factory  SessionFactory
	warmup   time.Duration
	archive  session.Archiver
	ctx      context.Context
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// New creates a websocket server.
func New(cfg Config) *Server {
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	s := &Server{
		registry: cfg.Registry,
		factory:  cfg.Factory,
		warmup:   cfg.Warmup,
		archive:  cfg.Archive,
		ctx:      cfg.Context,
		logger:   cfg.Logger,
		clients:  make(map[*client]struct{}),
	}
	allowed := cfg.OriginAllowed
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if originAllowed(origin) {
				return true
			}
			if allowed != nil {
				return allowed(origin)
			}
			return false
		},
	}
	return s
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// HandleWebSocket upgrades the connection and wires it to a new session.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("[WebSocket] upgrade error: %v", err)
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		server: s,
	}

	dial, decider := s.factory()
	coord, err := s.registry.Create(s.ctx, session.Config{
		Sender:  c,
		Dial:    dial,
		Decider: decider,
		Archive: s.archive,
		Warmup:  s.warmup,
		Logger:  s.logger,
	})
	if err != nil {
		s.logger.Printf("[WebSocket] create session: %v", err)
		conn.Close()
		return
	}
	c.coord = coord

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.logger.Printf("[WebSocket] client %s connected, session %s", c.id, coord.ID())

	go c.writePump()
	go c.readPump()
}

// remove tears the client down exactly once: drops it from the set, destroys
// its session, and closes the send channel so writePump exits.
func (s *Server) remove(c *client) {
	c.closeOnce.Do(func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()

		if c.coord != nil {
			s.registry.Destroy(c.coord.ID())
		}
		close(c.send)
		s.logger.Printf("[WebSocket] client %s disconnected", c.id)
	})
}

// client is one websocket connection bound to one session coordinator.
type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	server    *Server
	coord     *session.Coordinator
	closeOnce sync.Once
}

// Send implements session.ClientSender. It never blocks the coordinator: a
// full queue drops the message and reports false.
func (c *client) Send(msg protocol.ServerMessage) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// readPump reads client messages and feeds them to the coordinator.
func (c *client) readPump() {
	defer func() {
		c.server.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageLen)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Printf("[WebSocket] client %s read error: %v", c.id, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg protocol.ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.Send(protocol.Error("malformed message", protocol.CodeBadMessage))
			continue
		}
		if msg.Type == "" {
			c.Send(protocol.Error("message missing type", protocol.CodeBadMessage))
			continue
		}
		c.coord.HandleClient(msg)
	}
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
