package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slateci/slate-api-server/internal/instrumentation"
)

func TestResponseWriter_CapturesStatusCode(t *testing.T) {
	tests := []struct {
		name         string
		statusCode   int
		expectedCode int
	}{
		{
			name:         "captures 200 OK",
			statusCode:   http.StatusOK,
			expectedCode: http.StatusOK,
		},
		{
			name:         "captures 404 Not Found",
			statusCode:   http.StatusNotFound,
			expectedCode: http.StatusNotFound,
		},
		{
			name:         "captures 500 Internal Server Error",
			statusCode:   http.StatusInternalServerError,
			expectedCode: http.StatusInternalServerError,
		},
		{
			name:         "captures 409 Conflict",
			statusCode:   http.StatusConflict,
			expectedCode: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			rw := newResponseWriter(recorder)

			rw.WriteHeader(tt.statusCode)

			assert.Equal(t, tt.expectedCode, rw.statusCode)
			assert.True(t, rw.written)
		})
	}
}

func TestResponseWriter_DefaultsTo200(t *testing.T) {
	recorder := httptest.NewRecorder()
	rw := newResponseWriter(recorder)

	// Write response body without explicitly setting status
	_, err := rw.Write([]byte("hello"))
	assert.NoError(t, err)

	// Default status should be 200 OK
	assert.Equal(t, http.StatusOK, rw.statusCode)
	assert.True(t, rw.written)
}

func TestResponseWriter_OnlyFirstWriteHeaderCounts(t *testing.T) {
	recorder := httptest.NewRecorder()
	rw := newResponseWriter(recorder)

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusBadRequest) // This should be ignored

	assert.Equal(t, http.StatusAccepted, rw.statusCode)
}

func TestResponseWriter_Flush(t *testing.T) {
	recorder := httptest.NewRecorder()
	rw := newResponseWriter(recorder)

	// Should not panic even if underlying doesn't support Flush
	rw.Flush()
}

func TestResponseWriter_Unwrap(t *testing.T) {
	recorder := httptest.NewRecorder()
	rw := newResponseWriter(recorder)

	assert.Equal(t, recorder, rw.Unwrap())
}

func TestHTTPMetrics_NilProvider(t *testing.T) {
	// When provider is nil, the middleware should just pass through
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	})

	middleware := HTTPMetrics(nil)(handler)

	req := httptest.NewRequest("GET", "/v1alpha3/groups", nil)
	rec := httptest.NewRecorder()

	middleware.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
}

func TestHTTPMetrics_DisabledProvider(t *testing.T) {
	provider, err := instrumentation.NewProvider(context.Background(), instrumentation.Config{
		Enabled:         false,
		MetricsExporter: "prometheus",
		TracingExporter: "none",
	})
	require.NoError(t, err)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	middleware := HTTPMetrics(provider)(handler)

	req := httptest.NewRequest("GET", "/v1alpha3/clusters", nil)
	rec := httptest.NewRecorder()

	middleware.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPMetrics_EnabledProviderRecords(t *testing.T) {
	provider, err := instrumentation.NewProvider(context.Background(), instrumentation.Config{
		Enabled:         true,
		ServiceName:     "middleware-test",
		ServiceVersion:  "test",
		MetricsExporter: "prometheus",
		TracingExporter: "none",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"apiVersion":"v1alpha3"}`))
	})

	middleware := HTTPMetrics(provider)(handler)

	req := httptest.NewRequest("GET", "/v1alpha3/instances/Instance_9f0e", nil)
	rec := httptest.NewRecorder()

	middleware.ServeHTTP(rec, req)

	// Recording must never change the response.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"apiVersion":"v1alpha3"}`, rec.Body.String())
}

func TestHTTPMetrics_MiddlewareChaining(t *testing.T) {
	// Test that the middleware properly chains to the next handler
	callOrder := []string{}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callOrder = append(callOrder, "handler")
		w.WriteHeader(http.StatusCreated)
	})

	middleware := HTTPMetrics(nil)(handler)

	req := httptest.NewRequest("POST", "/v1alpha3/groups", nil)
	rec := httptest.NewRecorder()

	middleware.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, callOrder, "handler")
}

func TestHTTPMetrics_PreservesResponseBody(t *testing.T) {
	expectedBody := `{"apiVersion":"v1alpha3","kind":"Group"}`

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(expectedBody))
	})

	middleware := HTTPMetrics(nil)(handler)

	req := httptest.NewRequest("GET", "/v1alpha3/groups/g1", nil)
	rec := httptest.NewRecorder()

	middleware.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, expectedBody, rec.Body.String())
}

func TestHTTPMetrics_CapturesErrorStatus(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	middleware := HTTPMetrics(nil)(handler)

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	rec := httptest.NewRecorder()

	middleware.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
