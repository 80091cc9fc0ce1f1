package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ridepool/carpool/internal/carpool"
	"github.com/ridepool/carpool/internal/config"
	"github.com/ridepool/carpool/internal/dispatch"
	"github.com/ridepool/carpool/internal/events"
	httpapi "github.com/ridepool/carpool/internal/http"
	"github.com/ridepool/carpool/internal/logging"
	"github.com/ridepool/carpool/internal/models"
	"github.com/ridepool/carpool/internal/rides"
	"github.com/ridepool/carpool/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("server stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *logrus.Logger) error {
	store := storage.NewStore()

	ws := dispatch.NewWSRegistry()
	publishers := events.Fanout{events.LogPublisher{Log: logging.Component(logger, "events")}, ws}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() { _ = kp.Close() }()
		publishers = append(publishers, kp)
	}
	if cfg.WebhookURL != "" {
		publishers = append(publishers, dispatch.NewWebhookDispatcher(cfg.WebhookURL, cfg.WebhookKey))
	}

	sys := carpool.New(store, carpool.Options{
		SystemAddress:      models.NormalizeAddress(cfg.SystemAddress),
		Owner:              models.NormalizeAddress(cfg.OwnerAddress),
		BookingPolicy:      rides.BookingPolicy(cfg.BookingPolicy),
		CancellationWindow: cfg.CancellationWindow,
		TrustClientWindow:  cfg.TrustClientWindow,
		RewardPerRide:      cfg.RewardPerRide,
	}, publishers, logging.Component(logger, "carpool"))

	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresPersister(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer func() { _ = pg.Close() }()
		if cfg.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
			logger.Info("migration applied: carpool_rows")
		}
		rows, err := pg.Rows(ctx)
		if err != nil {
			return err
		}
		if err := store.Restore(rows); err != nil {
			return err
		}
		store.SetPersister(pg)
		logger.WithField("rows", len(rows)).Info("state restored from postgres")
	}

	if err := sys.Bootstrap(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(sys, ws, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":           cfg.HTTPAddr,
			"booking_policy": sys.Options().BookingPolicy,
			"window":         sys.Options().CancellationWindow.String(),
		}).Info("carpool listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

