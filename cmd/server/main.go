package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nightcourt/mafiad/internal/bus"
	"github.com/nightcourt/mafiad/internal/config"
	"github.com/nightcourt/mafiad/internal/platform/logger"
	"github.com/nightcourt/mafiad/internal/platform/metrics"
	"github.com/nightcourt/mafiad/internal/platform/tracing"
	"github.com/nightcourt/mafiad/internal/room"
	"github.com/nightcourt/mafiad/internal/server"
	"github.com/nightcourt/mafiad/internal/store"
	"github.com/nightcourt/mafiad/internal/token"
	"github.com/nightcourt/mafiad/internal/types"
	"github.com/nightcourt/mafiad/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	_, shutdownTracing, err := tracing.Setup(ctx, "mafiad", cfg.TracingEnabled)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdownTracing(sctx)
	}()

	var kv store.KV
	if cfg.RedisAddr != "" {
		rkv, err := store.NewRedisKV(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		kv = rkv
		log.Info("using redis store", zap.String("addr", cfg.RedisAddr))
	} else {
		kv = store.NewMemoryKV()
		log.Warn("using in-memory store, single instance only")
	}
	defer func() { _ = kv.Close() }()

	var eventBus bus.Bus
	switch cfg.Bus {
	case "amqp":
		ab, err := bus.NewAMQPBus(cfg.AMQPURL)
		if err != nil {
			return err
		}
		eventBus = ab
		log.Info("using amqp bus", zap.String("url", cfg.AMQPURL))
	default:
		eventBus = bus.NewKVBus(kv)
	}
	defer func() { _ = eventBus.Close() }()

	issuer, err := token.NewIssuer([]byte(cfg.TokenSecret))
	if err != nil {
		return err
	}

	met := metrics.New()
	instanceID := types.NewID()
	log = log.With(zap.String("instance_id", instanceID))

	rooms := store.NewRoomStore(kv)
	sessions := store.NewSessionStore(kv)
	registry := room.NewRegistry(room.Deps{
		InstanceID: instanceID,
		Rooms:      rooms,
		Sessions:   sessions,
		Dedup:      store.NewDedupStore(kv),
		Leader:     store.NewLeaderStore(kv),
		Bus:        eventBus,
		Log:        log,
		Metrics:    met,
	})

	wsHandler := ws.NewHandler(ws.Deps{
		Registry:       registry,
		Rooms:          rooms,
		Sessions:       sessions,
		Tokens:         issuer,
		Bus:            eventBus,
		Log:            log,
		Metrics:        met,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := server.New(cfg.ListenAddr, wsHandler, met, log)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, scancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer scancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	// Release every room lease so another instance can take over at once.
	registry.Shutdown(shutdownCtx)
	return nil
}
