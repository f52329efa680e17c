package admin

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/park285/Cheese-matchd/internal/matchmaker"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func fixedSnapshot() Snapshot {
	return Snapshot{Connections: 3, Sessions: matchmaker.Stats{Live: 2, Waiting: 1, Active: 1}}
}

func serve(t *testing.T, s *Server, method, path string) *fasthttp.RequestCtx {
	t.Helper()
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	s.Handle(&ctx)
	return &ctx
}

func TestHandle_Routes(t *testing.T) {
	s := New(fixedSnapshot)

	if ctx := serve(t, s, "GET", "/healthz"); ctx.Response.StatusCode() != 200 || string(ctx.Response.Body()) != "ok" {
		t.Fatalf("healthz status=%d body=%q", ctx.Response.StatusCode(), ctx.Response.Body())
	}

	ctx := serve(t, s, "GET", "/stats")
	var snap Snapshot
	if err := json.Unmarshal(ctx.Response.Body(), &snap); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if snap.Connections != 3 || snap.Sessions.Waiting != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}

	ctx = serve(t, s, "GET", "/metrics")
	if ctx.Response.StatusCode() != 200 || !strings.Contains(string(ctx.Response.Body()), "go_goroutines") {
		t.Fatalf("metrics status=%d", ctx.Response.StatusCode())
	}

	if ctx := serve(t, s, "GET", "/nope"); ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("unknown path status=%d", ctx.Response.StatusCode())
	}
	if ctx := serve(t, s, "POST", "/stats"); ctx.Response.StatusCode() != fasthttp.StatusMethodNotAllowed {
		t.Fatalf("post status=%d", ctx.Response.StatusCode())
	}
}

func TestClient_Stats(t *testing.T) {
	ln := fasthttputil.NewInmemoryListener()
	s := New(fixedSnapshot)
	go func() { _ = s.srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	c := NewClient("http://admin.local", WithRetry(1))
	c.http.Dial = func(string) (net.Conn, error) { return ln.Dial() }

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Healthy(ctx); err != nil {
		t.Fatalf("Healthy: %v", err)
	}
	snap, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if snap.Sessions.Live != 2 || snap.Connections != 3 {
		t.Fatalf("snapshot=%+v", snap)
	}
}
