package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Aidin1998/finsync/internal/telemetry"
	"github.com/Aidin1998/finsync/pkg/logger"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, sync bus and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootLogger, err := logger.NewLogger("info", "json")
	if err != nil {
		return err
	}
	loader, settings, err := loadSettings(opts, bootLogger)
	if err != nil {
		bootLogger.Error("Failed to load configuration", zap.Error(err))
		return err
	}

	zapLogger, err := logger.NewLogger(settings.Log.Level, settings.Log.Format)
	if err != nil {
		return err
	}
	defer zapLogger.Sync()
	zapLogger = zapLogger.With(
		zap.String("version", version),
		zap.String("environment", settings.Environment))

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    settings.Telemetry.ServiceName,
		TracingEnabled: settings.Telemetry.TracingEnabled,
		MetricsEnabled: settings.Telemetry.MetricsEnabled,
	})
	if err != nil {
		zapLogger.Error("Failed to set up telemetry", zap.Error(err))
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			zapLogger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	d, err := newDaemon(ctx, settings, zapLogger, clockwork.NewRealClock())
	if err != nil {
		zapLogger.Error("Failed to build daemon", zap.Error(err))
		return err
	}
	loader.OnChange(d.applySettings)
	loader.Watch()

	zapLogger.Info("finsyncd starting", zap.String("api", settings.API.Address))
	if err := d.run(ctx); err != nil {
		zapLogger.Error("finsyncd stopped with errors", zap.Error(err))
		return err
	}
	zapLogger.Info("finsyncd exited properly")
	return nil
}
