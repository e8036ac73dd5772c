package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/revradar/retrieval-engine/internal/api"
	"github.com/revradar/retrieval-engine/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP retrieval service",
		Long: `Starts the HTTP server exposing page retrieval and transcript
endpoints, plus health and Prometheus metrics routes.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	instance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := instance.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiServer := api.NewServer(instance.Orchestrator, instance.Transcripts, instance.Config, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", instance.Config.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", instance.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	go sweepCache(ctx, instance, logger.Named("cache"))

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

// sweepCache periodically evicts expired cache rows while the server runs.
func sweepCache(ctx context.Context, instance *app.App, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := instance.Store.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("cache sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("cache sweep evicted rows", zap.Int64("count", n))
			}
		}
	}
}
