package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/WeighBox/config"
	"github.com/BearBump/WeighBox/internal/broker/kafka"
	"github.com/BearBump/WeighBox/internal/cache"
	"github.com/BearBump/WeighBox/internal/cache/rediscache"
	"github.com/BearBump/WeighBox/internal/integrations/sadregistry"
	"github.com/BearBump/WeighBox/internal/integrations/sadregistry/fake"
	"github.com/BearBump/WeighBox/internal/integrations/sadregistry/httpregistry"
	"github.com/BearBump/WeighBox/internal/services/booking"
	"github.com/BearBump/WeighBox/internal/storage/pgbooking"
	"github.com/google/uuid"
)

type bookingAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     bookingAPIOpts
	svc      *booking.Service
	consumer *kafka.Consumer
	closers  []func()
}

func mustBootstrapBookingAPI() *bookingAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to parse config, %v", err))
	}

	httpAddr := cfg.WeighBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.WeighBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "booking-api"
	}
	sadTopic := cfg.Kafka.SADRegisteredTopicName
	if sadTopic == "" {
		sadTopic = "sad.registered"
	}

	st := mustOpenPostgresWithRetry(postgresConnString(cfg), 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rdb := rediscache.NewClient(redisAddr)
	rc := rediscache.New(rdb)
	rl := rediscache.NewRateLimiter(rdb)
	seq := rediscache.NewSequenceReserver(rdb)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, sadTopic, consumerGroup)

	svc, err := newBookingService(cfg, st, registryFor(cfg, st), rc, producer, rl, seq)
	if err != nil {
		panic(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &bookingAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: bookingAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         sadTopic,
			consumerGroup: consumerGroup,
		},
		svc:      svc,
		consumer: consumer,
		closers: []func(){
			func() { _ = producer.Close() },
			func() { _ = rdb.Close() },
			st.Close,
		},
	}
}

// newBookingService applies the weighbox section of cfg to a booking service.
func newBookingService(
	cfg *config.Config,
	repo booking.Repository,
	registry sadregistry.Client,
	c cache.BytesCache,
	publisher booking.Publisher,
	rl booking.RateLimiter,
	reserver booking.Reserver,
) (*booking.Service, error) {
	cacheTTL := time.Duration(cfg.WeighBox.AppointmentCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	bookedTopic := cfg.Kafka.AppointmentBookedTopicName
	if bookedTopic == "" {
		bookedTopic = "appointment.booked"
	}
	compensatedTopic := cfg.Kafka.AppointmentCompensatedTopicName
	if compensatedTopic == "" {
		compensatedTopic = "appointment.compensated"
	}

	svc := booking.New(repo, registry, c, cacheTTL).
		WithPublisher(publisher, bookedTopic, compensatedTopic).
		WithCommitSettings(
			cfg.WeighBox.BookingMaxAttempts,
			millis(cfg.WeighBox.BookingJitterMinMillis, booking.DefaultJitterMin),
			millis(cfg.WeighBox.BookingJitterMaxMillis, booking.DefaultJitterMax),
			millis(cfg.WeighBox.StoreCallTimeoutMillis, booking.DefaultStoreCallTimeout),
		)

	if limit := cfg.WeighBox.BookingRateLimitPerMinute; limit > 0 && rl != nil {
		svc.WithRateLimit(rl, int64(limit), time.Minute)
	}

	switch cfg.WeighBox.SequenceSource {
	case "", "count":
	case "redis":
		if reserver != nil {
			svc.WithSequence(booking.NewReservedSequence(reserver, repo))
		}
	default:
		return nil, fmt.Errorf("unknown sequence_source %q", cfg.WeighBox.SequenceSource)
	}

	admins := make([]uuid.UUID, 0, len(cfg.WeighBox.AdminIDs))
	for _, raw := range cfg.WeighBox.AdminIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid admin id %q: %w", raw, err)
		}
		admins = append(admins, id)
	}
	svc.WithAdmins(admins...)

	slog.Info("booking service configured",
		"sequence_source", cfg.WeighBox.SequenceSource,
		"sad_registry_mode", cfg.WeighBox.SADRegistryMode,
		"admins", len(admins))
	return svc, nil
}

// registryFor picks where SAD prerequisites are checked. The default is the
// sad_declarations table fed by the sad.registered topic.
func registryFor(cfg *config.Config, st *pgbooking.Storage) sadregistry.Client {
	switch cfg.WeighBox.SADRegistryMode {
	case "http":
		return httpregistry.New(cfg.WeighBox.SADRegistryBaseURL, cfg.WeighBox.SADRegistryAPIKey)
	case "fake":
		if len(cfg.WeighBox.SADRegistryFakeSADs) == 0 {
			slog.Warn("fake sad registry has no declarations, every booking will be rejected")
		}
		return fake.New(cfg.WeighBox.SADRegistryFakeSADs...)
	default:
		return st
	}
}

func millis(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func postgresConnString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgbooking.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgbooking.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *bookingAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	for _, c := range a.closers {
		c()
	}
}

func (a *bookingAPIApp) Run() error {
	return runBookingAPI(a.ctx, a.opts, a.svc, a.consumer)
}
