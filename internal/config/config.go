package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values come from CARPOOL_-prefixed environment variables, optionally
// layered over a config file named by CARPOOL_CONFIG.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	PGDSN         string
	RunMigrations bool

	KafkaBrokers []string
	KafkaTopic   string

	WebhookURL string
	WebhookKey string

	SystemAddress      string
	OwnerAddress       string
	BookingPolicy      string
	CancellationWindow time.Duration
	TrustClientWindow  bool
	RewardPerRide      uint64

	LogLevel string
}

// ConsumerConfig configures the event projector.
type ConsumerConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	RedisAddr     string
	RedisPassword string

	MetricsAddr string

	StripeKey      string
	StripeCurrency string

	RetryAttempts int
	RetryDelay    time.Duration

	LogLevel string
}

func newViper(defaults map[string]any) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("CARPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return v, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

var serverDefaults = map[string]any{
	"config":                    "",
	"http.addr":                 ":8080",
	"http.read_timeout":         "5s",
	"http.write_timeout":        "10s",
	"http.idle_timeout":         "120s",
	"http.shutdown_timeout":     "15s",
	"pg.dsn":                    "",
	"migrate":                   "false",
	"kafka.brokers":             "",
	"kafka.topic":               "carpool-events",
	"webhook.url":               "",
	"webhook.key":               "",
	"system.address":            "carpool:system",
	"owner.address":             "carpool:owner",
	"booking.policy":            "overwrite",
	"cancellation.window":       "24h",
	"cancellation.trust_client": "false",
	"reward.per_ride":           "10",
	"log.level":                 "info",
}

func LoadServerConfig() (ServerConfig, error) {
	v, err := newViper(serverDefaults)
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}

	cfg := ServerConfig{
		HTTPAddr:      strings.TrimSpace(v.GetString("http.addr")),
		PGDSN:         v.GetString("pg.dsn"),
		KafkaBrokers:  splitAndTrim(v.GetString("kafka.brokers")),
		KafkaTopic:    strings.TrimSpace(v.GetString("kafka.topic")),
		WebhookURL:    strings.TrimSpace(v.GetString("webhook.url")),
		WebhookKey:    v.GetString("webhook.key"),
		SystemAddress: strings.ToLower(strings.TrimSpace(v.GetString("system.address"))),
		OwnerAddress:  strings.ToLower(strings.TrimSpace(v.GetString("owner.address"))),
		BookingPolicy: strings.ToLower(strings.TrimSpace(v.GetString("booking.policy"))),
		LogLevel:      strings.ToLower(v.GetString("log.level")),
	}
	setDuration(v, &cfg.ReadTimeout, "http.read_timeout", &errs)
	setDuration(v, &cfg.WriteTimeout, "http.write_timeout", &errs)
	setDuration(v, &cfg.IdleTimeout, "http.idle_timeout", &errs)
	setDuration(v, &cfg.ShutdownTimeout, "http.shutdown_timeout", &errs)
	setDuration(v, &cfg.CancellationWindow, "cancellation.window", &errs)
	setBool(v, &cfg.RunMigrations, "migrate", &errs)
	setBool(v, &cfg.TrustClientWindow, "cancellation.trust_client", &errs)
	setUint(v, &cfg.RewardPerRide, "reward.per_ride", &errs)

	if cfg.BookingPolicy != "overwrite" && cfg.BookingPolicy != "strict" {
		errs = append(errs, fmt.Errorf("CARPOOL_BOOKING_POLICY must be overwrite or strict, got %q", cfg.BookingPolicy))
	}
	if cfg.CancellationWindow <= 0 {
		errs = append(errs, fmt.Errorf("CARPOOL_CANCELLATION_WINDOW must be > 0"))
	}
	if cfg.RewardPerRide == 0 {
		errs = append(errs, fmt.Errorf("CARPOOL_REWARD_PER_RIDE must be > 0"))
	}
	if cfg.SystemAddress == "" || cfg.OwnerAddress == "" {
		errs = append(errs, fmt.Errorf("CARPOOL_SYSTEM_ADDRESS and CARPOOL_OWNER_ADDRESS must be set"))
	}

	return cfg, errors.Join(errs...)
}

var consumerDefaults = map[string]any{
	"config":          "",
	"kafka.brokers":   "localhost:9092",
	"kafka.topic":     "carpool-events",
	"kafka.group":     "carpool-projector",
	"redis.addr":      "localhost:6379",
	"redis.password":  "",
	"metrics.addr":    ":2112",
	"stripe.key":      "",
	"stripe.currency": "usd",
	"retry.attempts":  "3",
	"retry.delay":     "200ms",
	"log.level":       "info",
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	v, err := newViper(consumerDefaults)
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}

	cfg := ConsumerConfig{
		KafkaBrokers:   splitAndTrim(v.GetString("kafka.brokers")),
		KafkaTopic:     strings.TrimSpace(v.GetString("kafka.topic")),
		KafkaGroup:     strings.TrimSpace(v.GetString("kafka.group")),
		RedisAddr:      strings.TrimSpace(v.GetString("redis.addr")),
		RedisPassword:  v.GetString("redis.password"),
		MetricsAddr:    strings.TrimSpace(v.GetString("metrics.addr")),
		StripeKey:      v.GetString("stripe.key"),
		StripeCurrency: strings.ToLower(strings.TrimSpace(v.GetString("stripe.currency"))),
		LogLevel:       strings.ToLower(v.GetString("log.level")),
	}
	setDuration(v, &cfg.RetryDelay, "retry.delay", &errs)
	var attempts uint64
	setUint(v, &attempts, "retry.attempts", &errs)
	cfg.RetryAttempts = int(attempts)

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("CARPOOL_KAFKA_BROKERS must not be empty"))
	}
	if cfg.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("CARPOOL_RETRY_ATTEMPTS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func envName(key string) string {
	return "CARPOOL_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func setDuration(v *viper.Viper, target *time.Duration, key string, errs *[]error) {
	d, err := time.ParseDuration(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", envName(key), err))
		return
	}
	*target = d
}

func setBool(v *viper.Viper, target *bool, key string, errs *[]error) {
	b, err := strconv.ParseBool(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", envName(key), err))
		return
	}
	*target = b
}

func setUint(v *viper.Viper, target *uint64, key string, errs *[]error) {
	n, err := strconv.ParseUint(strings.TrimSpace(v.GetString(key)), 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", envName(key), err))
		return
	}
	*target = n
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
