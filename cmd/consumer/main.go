package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/ridepool/carpool/internal/config"
	"github.com/ridepool/carpool/internal/events"
	"github.com/ridepool/carpool/internal/logging"
	"github.com/ridepool/carpool/internal/observability"
	"github.com/ridepool/carpool/internal/payments"
)

func main() {
	cfg, err := config.LoadConsumerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	radapter := &redisAdapter{c: rc}

	var settle *settler
	if cfg.StripeKey != "" {
		settle = &settler{gw: payments.NewStripeClient(cfg.StripeKey, cfg.StripeCurrency), intents: radapter}
	}

	// metrics and health
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		logger.WithField("addr", cfg.MetricsAddr).Info("metrics/health listening")
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.WithError(err).Warn("metrics server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log := logger.WithFields(logrus.Fields{"topic": cfg.KafkaTopic, "group": cfg.KafkaGroup})
	log.WithField("brokers", cfg.KafkaBrokers).Info("consumer listening")

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("shutting down consumer")
				return
			}
			log.WithError(err).WithField("backoff", backoff.String()).Warn("kafka read error")
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		handleMessage(ctx, log, radapter, settle, m, cfg.RetryAttempts, cfg.RetryDelay)

		if err := r.CommitMessages(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("commit offset")
		}
	}
}

// handleMessage projects one event and, when a gateway is configured,
// mirrors escrow transitions. Failures are counted and logged; the offset is
// committed either way so one bad event cannot stall the partition.
func handleMessage(ctx context.Context, log *logrus.Entry, rc RedisUpdater, settle *settler, m kafka.Message, attempts int, delay time.Duration) {
	e, err := events.Decode(m)
	if err != nil {
		observability.ConsumerEventsTotal.WithLabelValues("unknown", "invalid").Inc()
		log.WithError(err).Warn("invalid message")
		return
	}
	elog := log.WithFields(logrus.Fields{"event_id": e.ID, "type": e.Type, "ride_id": e.RideID})

	if err := applyWithRetry(ctx, rc, projection(e), attempts, delay); err != nil {
		observability.ConsumerEventsTotal.WithLabelValues(string(e.Type), "redis_error").Inc()
		elog.WithError(err).Error("redis update failed")
		return
	}
	if settle != nil {
		if err := settle.handle(ctx, e); err != nil {
			observability.ConsumerEventsTotal.WithLabelValues(string(e.Type), "payment_error").Inc()
			elog.WithError(err).Error("payment mirror failed")
			return
		}
	}
	observability.ConsumerEventsTotal.WithLabelValues(string(e.Type), "ok").Inc()
	elog.Debug("event projected")
}
