package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slateci/slate-api-server/internal/instrumentation"
)

// DefaultMetricsAddr is the metrics listen address used when none is
// configured.
const DefaultMetricsAddr = ":9090"

// MetricsServerConfig configures the standalone metrics listener.
type MetricsServerConfig struct {
	// Addr is the listen address. Empty means DefaultMetricsAddr.
	Addr string
	// InstrumentationProvider supplies the scrape path. Its prometheus
	// exporter registers on the default registry that promhttp serves.
	InstrumentationProvider *instrumentation.Provider
}

// MetricsServer serves the Prometheus scrape endpoint on its own
// listener so the public API port never exposes operational data.
type MetricsServer struct {
	addr     string
	provider *instrumentation.Provider

	mu     sync.Mutex
	server *http.Server
}

// NewMetricsServer creates a metrics server from the given config.
func NewMetricsServer(config MetricsServerConfig) (*MetricsServer, error) {
	if config.InstrumentationProvider == nil {
		return nil, errors.New("instrumentation provider is required")
	}

	addr := config.Addr
	if addr == "" {
		addr = DefaultMetricsAddr
	}

	return &MetricsServer{
		addr:     addr,
		provider: config.InstrumentationProvider,
	}, nil
}

// Addr returns the configured listen address.
func (m *MetricsServer) Addr() string {
	return m.addr
}

// Start listens and serves until Shutdown. It always returns a non-nil
// error; after a clean Shutdown that error is http.ErrServerClosed.
func (m *MetricsServer) Start() error {
	path := m.provider.MetricsPath()
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              m.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	m.mu.Lock()
	m.server = srv
	m.mu.Unlock()

	return srv.ListenAndServe()
}

// Shutdown stops the listener gracefully. Calling it before Start is a
// no-op.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	srv := m.server
	m.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
