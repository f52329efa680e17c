package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/park285/Cheese-matchd/internal/metrics"
	"github.com/park285/Cheese-matchd/internal/obslog"
	"github.com/park285/Cheese-matchd/internal/registry"
	"github.com/park285/Cheese-matchd/internal/session"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Router handles one inbound frame for a player. Calls for one connection are sequential.
type Router interface {
	HandleMessage(ctx context.Context, p session.Player, frame []byte) error
}

type Options struct {
	// OriginPatterns is passed to websocket.AcceptOptions; empty allows same-origin only.
	OriginPatterns []string
	SendBuffer     int
	WriteTimeout   time.Duration
	ReadLimit      int64
}

// Server upgrades HTTP requests to websockets and pumps frames between
// the socket, the registry and the router.
type Server struct {
	reg    *registry.Registry
	router Router
	opts   Options

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

func New(reg *registry.Registry, router Router, opts Options) *Server {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 4096
	}
	return &Server{reg: reg, router: router, opts: opts, conns: make(map[*wsConn]struct{})}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.opts.OriginPatterns})
	if err != nil {
		obslog.L().Warn("gateway_accept_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	ws.SetReadLimit(s.opts.ReadLimit)

	conn := newConn(ws, s.opts.SendBuffer, s.opts.WriteTimeout)
	go conn.writeLoop()
	s.track(conn, true)
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()

	user := s.reg.Register(conn, r.URL.Query().Get("name"))
	player := session.Player{ID: user.ID, Name: user.Name}
	defer func() {
		// Unregister fires the disconnect callbacks before the socket is torn down.
		_ = s.reg.Unregister(conn)
		conn.shutdown(s.opts.WriteTimeout)
		_ = ws.Close(websocket.StatusNormalClosure, "")
		s.track(conn, false)
		metrics.ConnectionsActive.Dec()
	}()

	s.readLoop(r.Context(), ws, player)
}

func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, p session.Player) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				obslog.L().Debug("gateway_closed", zap.String("user_id", p.ID), zap.Int("status", int(status)))
			} else {
				obslog.L().Info("gateway_read_failed", zap.String("user_id", p.ID), zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			obslog.L().Debug("gateway_binary_frame", zap.String("user_id", p.ID))
		}
		if err := s.router.HandleMessage(ctx, p, data); err != nil {
			obslog.L().Debug("gateway_message_rejected", zap.String("user_id", p.ID), zap.Error(err))
		}
	}
}

func (s *Server) track(c *wsConn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
		return
	}
	delete(s.conns, c)
}

// CloseAll closes every open websocket with StatusGoingAway. Used on shutdown;
// each handler then unregisters its user as for any other disconnect.
func (s *Server) CloseAll(reason string) {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.Close(websocket.StatusGoingAway, reason)
	}
}

func (s *Server) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
