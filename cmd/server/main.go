package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hopdot/hopdot-server/internal/config"
	"github.com/hopdot/hopdot-server/internal/httpapi"
	"github.com/hopdot/hopdot-server/internal/hub"
	"github.com/hopdot/hopdot-server/internal/registry"
	"github.com/hopdot/hopdot-server/internal/session"
	"github.com/hopdot/hopdot-server/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := buildLogger(cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var archiver session.Archiver = session.NopArchiver{}
	if cfg.DatabaseURL != "" {
		st, err := store.Open(cfg.DatabaseURL, log)
		if err != nil {
			log.Fatal("failed to open match store", zap.Error(err))
		}
		archiver = st
	}

	reg := registry.New()
	h := hub.NewHub(ctx, log, archiver, reg.DropSession)

	defaults := httpapi.Defaults{
		Players:     cfg.DefaultPlayers,
		Width:       cfg.DefaultWidth,
		Height:      cfg.DefaultHeight,
		IdleTimeout: cfg.IdleTimeout,
	}
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.SetupRoutes(h, reg, log, defaults),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		h.Inbox() <- hub.ShutdownHub{}
		return srv.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
