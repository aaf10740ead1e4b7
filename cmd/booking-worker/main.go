package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/WeighBox/config"
	"github.com/pkg/errors"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to parse config, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := workerOpts{swaggerPath: os.Getenv("workerSwaggerPath")}
	if err := RunBookingWorker(ctx, cfg, defaultWorkerFactories(), opts); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
