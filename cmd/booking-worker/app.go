package main

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/WeighBox/config"
	"github.com/BearBump/WeighBox/internal/broker/kafka"
	"github.com/BearBump/WeighBox/internal/cache/rediscache"
	"github.com/BearBump/WeighBox/internal/services/sweeper"
	"github.com/BearBump/WeighBox/internal/storage/pgbooking"
	"golang.org/x/sync/errgroup"
)

type workerFactories struct {
	newStorage   func(cfg *config.Config) (repo sweeper.Repository, closeFn func(), err error)
	newProducer  func(cfg *config.Config) sweeper.Producer
	newCycleGate func(cfg *config.Config) (gate sweeper.RateLimiter, closeFn func())
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (sweeper.Repository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgbooking.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) sweeper.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newCycleGate: func(cfg *config.Config) (sweeper.RateLimiter, func()) {
			rdb := rediscache.NewClient(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
			return rediscache.NewRateLimiter(rdb), func() { _ = rdb.Close() }
		},
	}
}

type workerOpts struct {
	swaggerPath string
	onListen    func(httpAddr string)
}

func RunBookingWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerOpts) error {
	topic := cfg.Kafka.AppointmentCompensatedTopicName
	if topic == "" {
		topic = "appointment.compensated"
	}

	interval := time.Duration(cfg.WeighBox.WorkerSweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	grace := time.Duration(cfg.WeighBox.WorkerOrphanGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	batchSize := cfg.WeighBox.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.WeighBox.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	s := sweeper.New(repo, f.newProducer(cfg), topic).
		WithSettings(interval, grace, batchSize, concurrency)
	gate, closeGate := f.newCycleGate(cfg)
	if closeGate != nil {
		defer closeGate()
	}
	if gate != nil {
		s.WithCycleGate(gate)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Run(gctx)
	})
	g.Go(func() error {
		return runWorkerHTTPServer(gctx, workerHTTPOpts{
			httpAddr:    cfg.WeighBox.WorkerHTTPAddr,
			swaggerPath: opts.swaggerPath,
			onListen:    opts.onListen,
			sweeper:     s,
			cfg:         cfg,
		})
	})
	return g.Wait()
}
