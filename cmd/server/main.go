package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/okalkan/liars-dice-backend/internal/channel"
	"github.com/okalkan/liars-dice-backend/internal/chat"
	"github.com/okalkan/liars-dice-backend/internal/config"
	"github.com/okalkan/liars-dice-backend/internal/httpapi"
	"github.com/okalkan/liars-dice-backend/internal/session"
	"github.com/okalkan/liars-dice-backend/internal/store"
)

func main() {
	cfg := config.Load()

	logger := buildLogger(cfg)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}

	hub := channel.NewHub(ctx, cfg.DisconnectGrace, logger)
	chatSvc := chat.NewService(gw, logger)
	server := httpapi.NewServer(ctx, gw, hub, chatSvc, cfg.DisconnectGrace, session.DefaultTimings(), logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Routes(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		hub.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func buildLogger(cfg config.Config) *zap.Logger {
	if cfg.Production() {
		logger, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		return logger
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return logger
}

func buildStore(cfg config.Config, logger *zap.Logger) (store.Gateway, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL unset, using in-memory store")
		return store.NewMemory(), nil
	}
	return store.OpenPostgres(cfg.DatabaseURL, logger)
}
