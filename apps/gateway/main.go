package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mahaj/dupahar-chat/pkg/auth"
	"github.com/mahaj/dupahar-chat/pkg/config"
	"github.com/mahaj/dupahar-chat/pkg/db"
	"github.com/mahaj/dupahar-chat/pkg/events"
	"github.com/mahaj/dupahar-chat/pkg/httpapi"
	"github.com/mahaj/dupahar-chat/pkg/logging"
	"github.com/mahaj/dupahar-chat/pkg/presence"
	"github.com/mahaj/dupahar-chat/pkg/realtime"
	"github.com/mahaj/dupahar-chat/pkg/scheduler"
	"github.com/mahaj/dupahar-chat/pkg/snowflake"
	"github.com/mahaj/dupahar-chat/pkg/store"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout).With("service", "gateway")
	if err := run(cfg, logger); err != nil {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.OpenSQL(db.SQLOptions{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, Production: cfg.Production()})
	if err != nil {
		return err
	}
	node, err := snowflake.NewNode(cfg.Gateway.NodeID)
	if err != nil {
		return err
	}
	st := store.New(gdb, node)
	if !cfg.Production() {
		if err := st.Migrate(); err != nil {
			return err
		}
	}

	issuer, err := auth.NewIssuer(cfg.JWT.Secret, cfg.JWT.TTL)
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()
	mirror := presence.NewRedisMirror(rdb, logger)
	if err := mirror.Reset(ctx); err != nil {
		logger.Warn("presence mirror unavailable", "error", err)
	}

	journal := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	defer journal.Close()

	hub := realtime.NewHub(presence.NewRegistry(mirror), st, journal, logger)
	engine := scheduler.New(st, hub, journal, logger, scheduler.Options{
		Interval:  cfg.Scheduler.Interval,
		BatchSize: cfg.Scheduler.BatchSize,
	})
	if err := engine.Start(); err != nil {
		return err
	}

	router := httpapi.NewRouter(logger)
	router.GET("/ws", realtime.ServeWS(hub, issuer, logger))
	scheduled := router.Group("/api/scheduled", auth.RequireUser(issuer))
	httpapi.NewScheduleHandler(engine, logger).Register(scheduled)

	srv := &http.Server{Addr: cfg.Gateway.Addr, Handler: router}
	errc := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Gateway.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler did not stop cleanly", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}
