// Command roomcast serves the chat REST API and the realtime room channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomcast/internal/app"
	"roomcast/internal/config"
	"roomcast/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		slog.Error("roomcast exited", "error", err)
		os.Exit(1)
	}
}

// run serves until ctx is cancelled or the server fails.
func run(ctx context.Context, args []string, stderr io.Writer) error {
	flags := flag.NewFlagSet("roomcast", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", os.Getenv(config.EnvPrefix+"CONFIG_FILE"), "path to a JSON config file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfigWithPrecedence(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.Init(cfg.Log.Level, cfg.Log.Format, stderr)

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err, ok := <-application.Errors():
		if ok {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return serveErr
}
