package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kingsloob1/snipfair-app-sub002/api"
	"github.com/kingsloob1/snipfair-app-sub002/appointment"
	"github.com/kingsloob1/snipfair-app-sub002/auth"
	"github.com/kingsloob1/snipfair-app-sub002/config"
	"github.com/kingsloob1/snipfair-app-sub002/db"
	"github.com/kingsloob1/snipfair-app-sub002/dispute"
	"github.com/kingsloob1/snipfair-app-sub002/ledger"
	"github.com/kingsloob1/snipfair-app-sub002/logging"
	"github.com/kingsloob1/snipfair-app-sub002/outbox"
	"github.com/kingsloob1/snipfair-app-sub002/payments"
	"github.com/kingsloob1/snipfair-app-sub002/pouch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.App.LogPath, cfg.App.Debug)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPoolFromConfig(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, cfg.JWT.Secret, cfg.JWT.ExpiryHours)

	apptRepo := appointment.NewRepository(pool)
	pouchRepo := pouch.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	gateway := payments.NewSimulatedGateway("simgw", logger)

	apptService := appointment.NewService(pool, apptRepo, pouchRepo, ledgerRepo, cfg.Policy, gateway, logger)
	captureService := appointment.NewCaptureService(pool, appointment.NewCaptureRepository(apptRepo, pouchRepo))

	disputeRepo := dispute.NewRepository(pool)
	disputeService := dispute.NewService(pool, disputeRepo, apptRepo, pouchRepo, ledgerRepo, cfg.Policy, logger)

	payoutRepo := payments.NewRepository(pool)
	payoutService := payments.NewService(pool, payoutRepo, logger)

	server := api.NewServer(authService, apptService, captureService, disputeService, ledgerRepo, payoutService, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweeper := appointment.NewSweeper(pool, apptRepo, 5*time.Minute, logger)
	worker := outbox.NewWorker(pool, outbox.NewLogNotifier(logger), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", zap.String("port", cfg.App.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := sweeper.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := worker.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("shutdown with error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
