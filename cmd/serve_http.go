package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/slateci/slate-api-server/internal/api"
	"github.com/slateci/slate-api-server/internal/instrumentation"
	"github.com/slateci/slate-api-server/internal/logging"
	"github.com/slateci/slate-api-server/internal/server"
	"github.com/slateci/slate-api-server/internal/server/middleware"
)

// maxRequestBytes caps request bodies on the API listener. The largest
// legitimate payloads are cluster registrations carrying a kubeconfig and
// secret creations near the Kubernetes object size limit.
const maxRequestBytes = 4 << 20

// serveHTTP runs the API listener until the context is cancelled or the
// server fails.
func serveHTTP(ctx context.Context, config ServeConfig, sc *server.ServerContext, provider *instrumentation.Provider, corsOrigins []string) error {
	logger := sc.Logger()

	healthChecker := server.NewHealthChecker(sc)

	apiServer := api.New(sc.Commands(), sc.Authorizer(), sc.Store(),
		api.WithLogger(logger),
		api.WithVersion(sc.Version()),
		api.WithInstrumentation(provider),
		api.WithCORSOrigins(corsOrigins),
		api.WithHealthHandlers(healthChecker.LivenessHandler(), healthChecker.ReadinessHandler()),
	)

	var handler http.Handler = apiServer.Handler()
	handler = middleware.MaxRequestSize(maxRequestBytes)(handler)
	handler = middleware.SecurityHeaders(middleware.SecurityHeadersConfig{
		EnableHSTS: os.Getenv("SLATE_ENABLE_HSTS") == envValueTrue,
	})(handler)
	handler = middleware.HTTPMetrics(provider)(handler)

	// Metrics are served on a dedicated listener, never on the API address
	var metricsServer *server.MetricsServer
	if provider != nil && provider.Enabled() {
		var err error
		metricsServer, err = startMetricsServer(config.MetricsAddr, provider, logger)
		if err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:              config.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Helm installs are the slowest requests; the write timeout has to
		// outlive the subprocess budget in internal/kube.
		WriteTimeout: 6 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("slate api server starting",
		slog.String("addr", config.ListenAddress),
		slog.String("version", sc.Version()),
		slog.String("database_driver", config.DatabaseDriver))

	// Start server in goroutine
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	// Wait for either shutdown signal or server completion
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping http server")
		healthChecker.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()

		// Shutdown metrics server first
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown", logging.Err(err))
			}
		}

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("http server stopped: %w", err)
		}
		logger.Info("http server stopped")
	}

	logger.Info("http server gracefully stopped")
	return nil
}

// startMetricsServer starts the dedicated metrics listener in the
// background. Serving /metrics on its own address keeps it off the public
// ingress.
func startMetricsServer(addr string, provider *instrumentation.Provider, logger *slog.Logger) (*server.MetricsServer, error) {
	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    addr,
		InstrumentationProvider: provider,
	})
	if err != nil {
		return nil, fmt.Errorf("creating metrics server: %w", err)
	}

	go func() {
		if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", logging.Err(err))
		}
	}()

	logger.Info("metrics server started",
		slog.String("addr", metricsServer.Addr()), slog.String("endpoint", provider.MetricsPath()))
	return metricsServer, nil
}
