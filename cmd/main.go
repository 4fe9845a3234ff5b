package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/api"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/config"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/telemetry"
)

var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mobile-money-orchestrator",
		Short:        "Mobile money payment orchestration service",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newSweepCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receiver and expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue pending payments once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer telemetry.Shutdown(context.Background())

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			expired, err := a.orchestrator.SweepExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d transactions\n", expired)
			return nil
		},
	}
}

// setup loads configuration and initializes logging and tracing.
func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	err = telemetry.InitTelemetry(telemetry.Options{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.JaegerEndpoint,
		Development:    cfg.Development(),
	})
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting Mobile Money Orchestrator",
		zap.String("environment", cfg.Environment),
	)

	a, err := newApp(ctx, cfg)
	if err != nil {
		telemetry.Logger.Error("Failed to initialize", zap.Error(err))
		return err
	}
	defer a.Close()

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go a.orchestrator.RunSweeper(sweepCtx, cfg.SweepInterval)

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(a.orchestrator),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		telemetry.Logger.Info("Mobile Money Orchestrator starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		telemetry.Logger.Error("Failed to start server", zap.Error(err))
		return err
	}

	telemetry.Logger.Info("Shutting down server...")
	stopSweeper()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Server exited")
	return nil
}
