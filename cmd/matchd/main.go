package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/Cheese-matchd/internal/admin"
	appcfg "github.com/park285/Cheese-matchd/internal/config"
	"github.com/park285/Cheese-matchd/internal/gateway"
	"github.com/park285/Cheese-matchd/internal/matchmaker"
	"github.com/park285/Cheese-matchd/internal/msgcat"
	"github.com/park285/Cheese-matchd/internal/obslog"
	"github.com/park285/Cheese-matchd/internal/registry"
	"github.com/park285/Cheese-matchd/internal/rules"
	"github.com/park285/Cheese-matchd/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("msgcat_init_failed", zap.Error(err))
	}

	// Persistence: Postgres when configured, otherwise in-process.
	var repo store.Repository = store.NewMemoryRepository()
	var pg *store.PostgresRepository
	if cfg.DatabaseURL != "" {
		pg, err = store.NewPostgresRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres_init_failed", zap.Error(err))
		}
		repo = pg
	} else {
		logger.Warn("persist_memory_only", zap.String("hint", "set DATABASE_URL to keep results"))
	}

	var rdb *redis.Client
	var outbox *store.Outbox
	recOpts := []store.RecorderOption{store.WithSaveTimeout(cfg.WriteTimeout)}
	if cfg.RedisURL != "" {
		rdb, err = store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis_init_failed", zap.Error(err))
		}
		outbox = store.NewOutbox(rdb, "")
		recOpts = append(recOpts, store.WithOutbox(outbox))
	}
	recorder, err := store.NewRecorder(repo, cfg.PersistWorkers, recOpts...)
	if err != nil {
		logger.Fatal("recorder_init_failed", zap.Error(err))
	}
	if outbox != nil {
		go outbox.Run(ctx, repo, cfg.OutboxInterval)
	}

	reg := registry.New()
	mm := matchmaker.New(reg, matchmaker.Options{
		MaxSessions: cfg.MaxConcurrentGames,
		Engine:      rules.NewChess(),
		Recorder:    recorder,
		Texts:       catalog,
	})
	reg.OnDisconnect(func(u *registry.User) { mm.Disconnect(u.ID) })

	gw := gateway.New(reg, mm, gateway.Options{
		OriginPatterns: cfg.AllowedOrigins,
		SendBuffer:     cfg.SendBuffer,
		WriteTimeout:   cfg.WriteTimeout,
		ReadLimit:      cfg.ReadLimitBytes,
	})
	mux := http.NewServeMux()
	mux.Handle(cfg.WSPath, gw)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var adminSrv *admin.Server
	if cfg.AdminAddr != "" {
		adminSrv = admin.New(func() admin.Snapshot {
			return admin.Snapshot{
				Connections:        reg.Count(),
				Sessions:           mm.Stats(),
				PersistWorkersBusy: recorder.Running(),
			}
		})
		go func() {
			if err := adminSrv.ListenAndServe(cfg.AdminAddr); err != nil {
				logger.Error("admin_serve_failed", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("matchd_listen", zap.String("addr", cfg.ListenAddr), zap.String("ws_path", cfg.WSPath))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_serve_failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("matchd_shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	gw.CloseAll("server shutdown")
	waitDrained(shutdownCtx, gw)
	if adminSrv != nil {
		_ = adminSrv.Shutdown()
	}
	if err := recorder.Close(5 * time.Second); err != nil {
		logger.Warn("recorder_close_timeout", zap.Error(err))
	}
	if pg != nil {
		_ = pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}

// waitDrained waits until every websocket handler has returned.
func waitDrained(ctx context.Context, gw *gateway.Server) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for gw.Open() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
