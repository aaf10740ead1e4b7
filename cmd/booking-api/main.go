package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/pkg/errors"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()})))

	app := mustBootstrapBookingAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}

func logLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(os.Getenv("logLevel"))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
