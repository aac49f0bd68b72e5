package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slateci/slate-api-server/internal/instrumentation"
)

func TestNewMetricsServer(t *testing.T) {
	tests := []struct {
		name     string
		config   MetricsServerConfig
		wantErr  string
		wantAddr string
	}{
		{
			name: "nil instrumentation provider",
			config: MetricsServerConfig{
				Addr: ":9090",
			},
			wantErr: "instrumentation provider is required",
		},
		{
			name: "empty addr uses default",
			config: MetricsServerConfig{
				InstrumentationProvider: createTestProvider(t),
			},
			wantAddr: DefaultMetricsAddr,
		},
		{
			name: "custom addr",
			config: MetricsServerConfig{
				Addr:                    ":9091",
				InstrumentationProvider: createTestProvider(t),
			},
			wantAddr: ":9091",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewMetricsServer(tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, server)
			assert.Equal(t, tt.wantAddr, server.Addr())
		})
	}
}

func TestMetricsServer_StartAndShutdown(t *testing.T) {
	server, err := NewMetricsServer(MetricsServerConfig{
		Addr:                    ":9092",
		InstrumentationProvider: createTestProvider(t),
	})
	require.NoError(t, err)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Give the listener time to come up.
	time.Sleep(100 * time.Millisecond)

	// The prometheus handler may report 500 when the test process has
	// registered conflicting collectors; the routing is what matters here.
	resp, err := http.Get("http://localhost:9092/metrics")
	if assert.NoError(t, err, "reach /metrics endpoint") {
		assert.Contains(t, []int{http.StatusOK, http.StatusInternalServerError}, resp.StatusCode)
		require.NoError(t, resp.Body.Close())
	}

	resp, err = http.Get("http://localhost:9092/healthz")
	if assert.NoError(t, err, "reach /healthz endpoint") {
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, resp.Body.Close())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-serverErr:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for server to stop")
	}
}

func TestMetricsServer_ShutdownWithoutStart(t *testing.T) {
	server, err := NewMetricsServer(MetricsServerConfig{
		Addr:                    ":9093",
		InstrumentationProvider: createTestProvider(t),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, server.Shutdown(ctx))
}

// createTestProvider creates an instrumentation provider for testing.
func createTestProvider(t *testing.T) *instrumentation.Provider {
	t.Helper()
	provider, err := instrumentation.NewProvider(context.Background(), instrumentation.Config{
		Enabled:            true,
		ServiceName:        "slate-api-server-test",
		ServiceVersion:     "test",
		MetricsExporter:    "prometheus",
		TracingExporter:    "none",
		PrometheusEndpoint: "/metrics",
	})
	require.NoError(t, err)
	return provider
}
