package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pitboss/gse/internal/api"
	"github.com/pitboss/gse/internal/audit"
	"github.com/pitboss/gse/internal/config"
	"github.com/pitboss/gse/internal/crash"
	"github.com/pitboss/gse/internal/database"
	"github.com/pitboss/gse/internal/rng"
	"github.com/pitboss/gse/internal/settle"
	"github.com/pitboss/gse/internal/store"
	"github.com/pitboss/gse/pkg/walletclient"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.Load()

	db, err := database.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}

	// The balance of record is either the local database or the
	// operator's remote wallet.
	var balances store.BalanceStore = store.NewPostgresStore(db.DB, cfg.Games.Currency)
	if cfg.Wallet.BaseURL != "" {
		balances = walletclient.New(&walletclient.Config{
			BaseURL:   cfg.Wallet.BaseURL,
			APIKey:    cfg.Wallet.APIKey,
			APISecret: cfg.Wallet.SecretKey,
			Timeout:   cfg.Wallet.Timeout,
		})
		log.WithField("wallet_url", cfg.Wallet.BaseURL).Info("using remote wallet")
	}

	gen := rng.New()
	auditSvc := audit.New(db.DB, log)

	coord, err := settle.New(balances, gen, auditSvc, log, cfg.GameConfigs())
	if err != nil {
		log.WithError(err).Fatal("invalid game configuration")
	}

	engine, err := crash.New(coord, auditSvc, log, crash.Options{
		TickInterval:  cfg.Crash.TickInterval,
		BettingWindow: cfg.Crash.BettingWindow,
		CrashedPause:  cfg.Crash.CrashedPause,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to create crash engine")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("crash engine stopped")
		}
	}()

	handler := api.New(coord, engine, auditSvc, cfg.Auth.JWTSecret, log)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.SetupRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown incomplete")
		os.Exit(1)
	}
}
