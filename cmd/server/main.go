package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/radelqui/tito-ledger/internal/codec"
	"github.com/radelqui/tito-ledger/internal/config"
	"github.com/radelqui/tito-ledger/internal/handler"
	"github.com/radelqui/tito-ledger/internal/ledger"
	"github.com/radelqui/tito-ledger/internal/middleware"
	"github.com/radelqui/tito-ledger/internal/queue"
	"github.com/radelqui/tito-ledger/internal/remote"
	"github.com/radelqui/tito-ledger/internal/router"
	"github.com/radelqui/tito-ledger/internal/syncer"
)

func main() {
	_ = godotenv.Load()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("LOG_LEVEL") == "debug" {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg := config.Load()
	log := logrus.WithField("station", cfg.StationID)

	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("open local ledger")
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.BootstrapAdminPass != "" {
		if err := store.SeedAdmin(ctx, cfg.BootstrapAdminUser, cfg.BootstrapAdminPass, cfg.BcryptCost); err != nil {
			log.WithError(err).Fatal("seed admin operator")
		}
	}

	cd := codec.New(cfg.TicketSecret)

	// The remote store is optional at startup: the station keeps
	// issuing and redeeming from the local ledger while offline, and
	// the sync engine catches up once the remote comes back.
	var rm *remote.Store
	if cfg.RemoteConfigured() {
		rm, err = remote.Open(cfg.RemoteUser, cfg.RemotePass, cfg.RemoteHost, cfg.RemotePort, cfg.RemoteName)
		if err != nil {
			log.WithError(err).Warn("remote store unreachable, starting offline")
		} else if err := rm.EnsureSchema(ctx); err != nil {
			log.WithError(err).Warn("remote schema init failed, starting offline")
			rm.Close()
			rm = nil
		}
	} else {
		log.Info("remote store not configured, running offline")
	}
	if rm != nil {
		defer rm.Close()
	}

	engine := syncer.New(store, rm, syncer.Options{
		BatchSize:   cfg.SyncBatchSize,
		Retries:     cfg.SyncRetries,
		Backoff:     cfg.SyncBackoff,
		CallTimeout: cfg.RemoteTimeout,
		Interval:    cfg.SyncInterval,
	}, logrus.WithField("component", "syncer"))
	go engine.Run(ctx)

	go func() {
		if err := queue.StartPrintSpoolConsumer(); err != nil {
			log.WithError(err).Warn("print spool consumer stopped")
		}
	}()

	rdb := config.NewRedisClient()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))

	authH := handler.NewAuthHandler(cfg, store)
	ticketH := handler.NewTicketHandler(cfg, cd, store, rm, engine)
	syncH := handler.NewSyncHandler(engine, store, rm)
	router.RegisterRoutes(e, authH, ticketH, syncH, cfg.JWTSecret)

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		_ = e.Shutdown(context.Background())
	}()

	addr := ":" + cfg.Port
	log.WithField("addr", addr).WithField("env", cfg.Env).Info("listening")
	if err := e.Start(addr); err != nil {
		log.WithError(err).Info("server stopped")
	}
}
