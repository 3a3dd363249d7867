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
	"github.com/mahaj/dupahar-chat/pkg/conversations"
	"github.com/mahaj/dupahar-chat/pkg/db"
	"github.com/mahaj/dupahar-chat/pkg/events"
	"github.com/mahaj/dupahar-chat/pkg/httpapi"
	"github.com/mahaj/dupahar-chat/pkg/logging"
	"github.com/mahaj/dupahar-chat/pkg/presence"
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
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout).With("service", "api")
	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
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
	node, err := snowflake.NewNode(cfg.API.NodeID)
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

	session, err := db.NewSession(cfg.Scylla.Hosts, cfg.Scylla.Keyspace)
	if err != nil {
		return err
	}
	defer session.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()

	journal := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	defer journal.Close()

	router := httpapi.NewRouter(logger)
	router.POST("/login", httpapi.NewAuthHandler(st, issuer, logger).Login)

	api := router.Group("/api", auth.RequireUser(issuer))
	httpapi.NewMessageHandler(st, journal, logger).Register(api.Group("/messages"))
	convs := httpapi.NewConversationHandler(conversations.NewProjection(session), logger)
	api.GET("/conversations", convs.List)
	api.POST("/conversations/read", convs.MarkRead)
	api.GET("/presence", httpapi.NewPresenceHandler(presence.NewRedisMirror(rdb, logger), logger).List)

	srv := &http.Server{Addr: cfg.API.Addr, Handler: router}
	errc := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", cfg.API.Addr)
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
	return srv.Shutdown(shutdownCtx)
}
