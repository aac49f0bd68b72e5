package middleware

import (
	"bytes"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSecurityHeaders tests that security headers are properly set
func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name        string
		hstsEnabled bool
		hasTLS      bool
		wantHSTS    bool
	}{
		{
			name:        "HSTS enabled with TLS",
			hstsEnabled: true,
			hasTLS:      true,
			wantHSTS:    true,
		},
		{
			name:        "HSTS enabled without TLS",
			hstsEnabled: true,
			hasTLS:      false,
			wantHSTS:    true,
		},
		{
			name:        "HSTS disabled with TLS",
			hstsEnabled: false,
			hasTLS:      true,
			wantHSTS:    true,
		},
		{
			name:        "HSTS disabled without TLS",
			hstsEnabled: false,
			hasTLS:      false,
			wantHSTS:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			middleware := SecurityHeaders(SecurityHeadersConfig{EnableHSTS: tt.hstsEnabled})(handler)

			req := httptest.NewRequest("GET", "/", nil)
			if tt.hasTLS {
				req.TLS = &tls.ConnectionState{}
			}
			rec := httptest.NewRecorder()

			middleware.ServeHTTP(rec, req)

			// Check common security headers
			assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
			assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
			assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
			assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")

			// Check HSTS header
			if tt.wantHSTS {
				assert.Contains(t, rec.Header().Get("Strict-Transport-Security"), "max-age=31536000")
			} else {
				assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
			}
		})
	}
}

// TestValidateAllowedOrigins tests CORS origin validation
func TestValidateAllowedOrigins(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      []string
		wantError bool
	}{
		{
			name:      "empty string",
			input:     "",
			want:      nil,
			wantError: false,
		},
		{
			name:      "single valid origin",
			input:     "https://portal.slateci.io",
			want:      []string{"https://portal.slateci.io"},
			wantError: false,
		},
		{
			name:      "multiple valid origins",
			input:     "https://portal.slateci.io,https://dev.slateci.io",
			want:      []string{"https://portal.slateci.io", "https://dev.slateci.io"},
			wantError: false,
		},
		{
			name:      "origins with trailing slash normalized",
			input:     "https://portal.slateci.io/",
			want:      []string{"https://portal.slateci.io"},
			wantError: false,
		},
		{
			name:      "whitespace trimmed",
			input:     " https://portal.slateci.io , https://dev.slateci.io ",
			want:      []string{"https://portal.slateci.io", "https://dev.slateci.io"},
			wantError: false,
		},
		{
			name:      "invalid URL format",
			input:     "not-a-url",
			want:      nil,
			wantError: true,
		},
		{
			name:      "missing scheme",
			input:     "portal.slateci.io",
			want:      nil,
			wantError: true,
		},
		{
			name:      "invalid scheme",
			input:     "ftp://portal.slateci.io",
			want:      nil,
			wantError: true,
		},
		{
			name:      "URL with path not allowed",
			input:     "https://portal.slateci.io/path",
			want:      nil,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateAllowedOrigins(tt.input)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

// TestMaxRequestSize tests request body size limiting middleware
func TestMaxRequestSize(t *testing.T) {
	tests := []struct {
		name          string
		maxBytes      int64
		bodySize      int
		wantBodyRead  bool
		wantBytesRead int
	}{
		{
			name:          "request within limit",
			maxBytes:      1024,
			bodySize:      100,
			wantBodyRead:  true,
			wantBytesRead: 100,
		},
		{
			name:          "request exactly at limit",
			maxBytes:      1024,
			bodySize:      1024,
			wantBodyRead:  true,
			wantBytesRead: 1024,
		},
		{
			name:         "request exceeds limit",
			maxBytes:     1024,
			bodySize:     2048,
			wantBodyRead: false,
		},
		{
			name:          "limit disabled with zero",
			maxBytes:      0,
			bodySize:      10000,
			wantBodyRead:  true,
			wantBytesRead: 10000,
		},
		{
			name:          "limit disabled with negative",
			maxBytes:      -1,
			bodySize:      10000,
			wantBodyRead:  true,
			wantBytesRead: 10000,
		},
		{
			name:          "empty body within limit",
			maxBytes:      1024,
			bodySize:      0,
			wantBodyRead:  true,
			wantBytesRead: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var bodyWasRead bool
			var readError error
			var bytesRead int
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, err := io.ReadAll(r.Body)
				readError = err
				if err == nil {
					bodyWasRead = true
					bytesRead = len(body)
					w.WriteHeader(http.StatusOK)
				} else {
					w.WriteHeader(http.StatusRequestEntityTooLarge)
				}
			})

			middleware := MaxRequestSize(tt.maxBytes)(handler)

			body := strings.Repeat("a", tt.bodySize)
			req := httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
			req.ContentLength = int64(tt.bodySize)
			rec := httptest.NewRecorder()

			middleware.ServeHTTP(rec, req)

			if tt.wantBodyRead {
				assert.True(t, bodyWasRead, "expected body to be read successfully")
				assert.NoError(t, readError)
				assert.Equal(t, tt.wantBytesRead, bytesRead)
				assert.Equal(t, http.StatusOK, rec.Code)
			} else {
				assert.Error(t, readError, "expected read error for body exceeding limit")
				assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
			}
		})
	}
}

// TestMaxRequestSizePassthrough tests that middleware passes through when disabled
func TestMaxRequestSizePassthrough(t *testing.T) {
	var handlerCalled bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	})

	middleware := MaxRequestSize(0)(handler)
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()

	middleware.ServeHTTP(rec, req)

	assert.True(t, handlerCalled, "expected handler to be called")
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestMaxRequestSizeChunkedTransfer tests handling of chunked transfer encoding
func TestMaxRequestSizeChunkedTransfer(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	middleware := MaxRequestSize(100)(handler)

	// No ContentLength, as with chunked transfer encoding.
	body := strings.Repeat("a", 200)
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
	req.ContentLength = -1
	rec := httptest.NewRecorder()

	middleware.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
