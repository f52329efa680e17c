package admin

import (
	"encoding/json"
	"time"

	"github.com/park285/Cheese-matchd/internal/matchmaker"
	"github.com/park285/Cheese-matchd/internal/obslog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// Snapshot is the body of GET /stats.
type Snapshot struct {
	Connections        int              `json:"connections"`
	Sessions           matchmaker.Stats `json:"sessions"`
	PersistWorkersBusy int              `json:"persistWorkersBusy"`
	UptimeSec          int64            `json:"uptimeSec"`
}

// SnapshotFunc collects the current counters.
type SnapshotFunc func() Snapshot

// Server exposes health, stats and Prometheus metrics over fasthttp.
type Server struct {
	snapshot SnapshotFunc
	metrics  fasthttp.RequestHandler
	started  time.Time
	srv      *fasthttp.Server
}

func New(snapshot SnapshotFunc) *Server {
	s := &Server{
		snapshot: snapshot,
		metrics:  fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()),
		started:  time.Now(),
	}
	s.srv = &fasthttp.Server{
		Handler:      s.Handle,
		Name:         "matchd-admin",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handle(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() && !ctx.IsHead() {
		ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}
	switch string(ctx.Path()) {
	case "/healthz":
		ctx.SetContentType("text/plain; charset=utf-8")
		ctx.SetBodyString("ok")
	case "/stats":
		snap := s.snapshot()
		snap.UptimeSec = int64(time.Since(s.started).Seconds())
		body, err := json.Marshal(snap)
		if err != nil {
			obslog.L().Error("admin_stats_encode_failed", zap.Error(err))
			ctx.Error("encode failed", fasthttp.StatusInternalServerError)
			return
		}
		ctx.SetContentType("application/json")
		ctx.SetBody(body)
	case "/metrics":
		s.metrics(ctx)
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe(addr string) error {
	obslog.L().Info("admin_listen", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown() error { return s.srv.Shutdown() }
