package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validServeConfig returns a configuration that passes validation; tests
// mutate single fields to probe individual rules.
func validServeConfig() ServeConfig {
	return ServeConfig{
		ListenAddress:     ":18080",
		DatabaseDriver:    "sqlite3",
		DatabaseDSN:       "slate.db",
		EncryptionKeyFile: "encryptionKey",
		BootstrapUserFile: "slate_portal_user",
		LogFormat:         "text",
	}
}

func TestServeConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServeConfig)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *ServeConfig) {},
		},
		{
			name:   "valid postgres driver",
			mutate: func(c *ServeConfig) { c.DatabaseDriver = "pgx" },
		},
		{
			name: "valid dns pair",
			mutate: func(c *ServeConfig) {
				c.DNSServer = "ns1.example.com:53"
				c.DNSZone = "slateci.net."
			},
		},
		{
			name: "valid dns with tsig",
			mutate: func(c *ServeConfig) {
				c.DNSServer = "ns1.example.com:53"
				c.DNSZone = "slateci.net."
				c.DNSTSIGName = "slate-key."
				c.DNSTSIGSecret = "c2VjcmV0"
			},
		},
		{
			name:    "missing listen address",
			mutate:  func(c *ServeConfig) { c.ListenAddress = "" },
			wantErr: true,
			errMsg:  "listen address",
		},
		{
			name:    "unsupported database driver",
			mutate:  func(c *ServeConfig) { c.DatabaseDriver = "oracle" },
			wantErr: true,
			errMsg:  "unsupported database driver",
		},
		{
			name:    "missing database dsn",
			mutate:  func(c *ServeConfig) { c.DatabaseDSN = "" },
			wantErr: true,
			errMsg:  "database DSN",
		},
		{
			name:    "missing encryption key file",
			mutate:  func(c *ServeConfig) { c.EncryptionKeyFile = "" },
			wantErr: true,
			errMsg:  "encryption key file",
		},
		{
			name:    "missing bootstrap user file",
			mutate:  func(c *ServeConfig) { c.BootstrapUserFile = "" },
			wantErr: true,
			errMsg:  "bootstrap user file",
		},
		{
			name:    "unsupported log format",
			mutate:  func(c *ServeConfig) { c.LogFormat = "xml" },
			wantErr: true,
			errMsg:  "unsupported log format",
		},
		{
			name:    "negative cluster cache validity",
			mutate:  func(c *ServeConfig) { c.ClusterCacheValidity = -time.Second },
			wantErr: true,
			errMsg:  "cluster cache validity",
		},
		{
			name:    "negative cascade workers",
			mutate:  func(c *ServeConfig) { c.CascadeWorkers = -1 },
			wantErr: true,
			errMsg:  "cascade workers",
		},
		{
			name:    "dns zone without server",
			mutate:  func(c *ServeConfig) { c.DNSZone = "slateci.net." },
			wantErr: true,
			errMsg:  "configured together",
		},
		{
			name:    "dns server without zone",
			mutate:  func(c *ServeConfig) { c.DNSServer = "ns1.example.com:53" },
			wantErr: true,
			errMsg:  "configured together",
		},
		{
			name: "tsig name without secret",
			mutate: func(c *ServeConfig) {
				c.DNSServer = "ns1.example.com:53"
				c.DNSZone = "slateci.net."
				c.DNSTSIGName = "slate-key."
			},
			wantErr: true,
			errMsg:  "tsig name and secret",
		},
		{
			name: "tsig without dns server",
			mutate: func(c *ServeConfig) {
				c.DNSTSIGName = "slate-key."
				c.DNSTSIGSecret = "c2VjcmV0"
			},
			wantErr: true,
			errMsg:  "require a dns server",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validServeConfig()
			tt.mutate(&config)

			err := config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServeConfigDNSEnabled(t *testing.T) {
	config := validServeConfig()
	assert.False(t, config.DNSEnabled())

	config.DNSServer = "ns1.example.com:53"
	config.DNSZone = "slateci.net."
	assert.True(t, config.DNSEnabled())
}

func TestApplyEnvOverlays(t *testing.T) {
	t.Setenv("SLATE_LISTEN_ADDRESS", ":28080")
	t.Setenv("SLATE_DATABASE_DRIVER", "pgx")
	t.Setenv("SLATE_CLUSTER_CACHE_VALIDITY", "90s")
	t.Setenv("SLATE_CASCADE_WORKERS", "12")
	t.Setenv("SLATE_DEBUG", "true")

	cmd := newServeCmd()
	// An explicitly set flag must win over its environment variable.
	require.NoError(t, cmd.Flags().Set("database-driver", "sqlite3"))

	config := ServeConfig{
		ListenAddress:  ":18080",
		DatabaseDriver: "sqlite3",
	}
	applyEnvOverlays(cmd, &config)

	assert.Equal(t, ":28080", config.ListenAddress)
	assert.Equal(t, "sqlite3", config.DatabaseDriver)
	assert.Equal(t, 90*time.Second, config.ClusterCacheValidity)
	assert.Equal(t, 12, config.CascadeWorkers)
	assert.True(t, config.Debug)
}

func TestApplyEnvOverlaysInvalidValues(t *testing.T) {
	t.Setenv("SLATE_CLUSTER_CACHE_VALIDITY", "ninety seconds")
	t.Setenv("SLATE_CASCADE_WORKERS", "many")
	t.Setenv("SLATE_DEBUG", "1")

	cmd := newServeCmd()
	config := ServeConfig{ClusterCacheValidity: 30 * time.Second, CascadeWorkers: 4}
	applyEnvOverlays(cmd, &config)

	// Unparseable values are ignored and the existing settings survive.
	assert.Equal(t, 30*time.Second, config.ClusterCacheValidity)
	assert.Equal(t, 4, config.CascadeWorkers)
	// Boolean variables only recognize "true".
	assert.False(t, config.Debug)
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected time.Duration
		ok       bool
	}{
		{"empty value", "", 0, false},
		{"valid seconds", "45s", 45 * time.Second, true},
		{"valid composite", "1h30m", 90 * time.Minute, true},
		{"bare number", "60", 0, false},
		{"garbage", "soon", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := parseDurationEnv(tt.value, "SLATE_TEST_DURATION")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected int
		ok       bool
	}{
		{"empty value", "", 0, false},
		{"valid positive", "16", 16, true},
		{"valid negative", "-3", -3, true},
		{"garbage", "lots", 0, false},
		{"float", "2.5", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := parseIntEnv(tt.value, "SLATE_TEST_INT")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, n)
		})
	}
}

func TestReadBootstrapUser(t *testing.T) {
	writeFile := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "slate_portal_user")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	t.Run("six lines", func(t *testing.T) {
		path := writeFile(t, "user_12345\nWebPortal Admin\nadmin@slateci.io\n555-0100\nUniversity of Utah\nportal-token-abc\n")

		user, err := readBootstrapUser(path)
		require.NoError(t, err)
		assert.Equal(t, "user_12345", user.ID)
		assert.Equal(t, "WebPortal Admin", user.Name)
		assert.Equal(t, "admin@slateci.io", user.Email)
		assert.Equal(t, "555-0100", user.Phone)
		assert.Equal(t, "University of Utah", user.Institution)
		assert.Equal(t, "portal-token-abc", user.Token)
		assert.Equal(t, rootGlobusID, user.GlobusID)
		assert.True(t, user.Admin)
	})

	t.Run("trailing blank lines tolerated", func(t *testing.T) {
		path := writeFile(t, "user_12345\nWebPortal Admin\nadmin@slateci.io\n555-0100\nUniversity of Utah\nportal-token-abc\n\n\n")

		user, err := readBootstrapUser(path)
		require.NoError(t, err)
		assert.Equal(t, "portal-token-abc", user.Token)
	})

	t.Run("windows line endings", func(t *testing.T) {
		path := writeFile(t, "user_12345\r\nWebPortal Admin\r\nadmin@slateci.io\r\n555-0100\r\nUniversity of Utah\r\nportal-token-abc\r\n")

		user, err := readBootstrapUser(path)
		require.NoError(t, err)
		assert.Equal(t, "WebPortal Admin", user.Name)
		assert.Equal(t, "portal-token-abc", user.Token)
	})

	t.Run("too few lines", func(t *testing.T) {
		path := writeFile(t, "user_12345\nWebPortal Admin\nadmin@slateci.io\n")

		_, err := readBootstrapUser(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "six lines")
	})

	t.Run("blank line inside", func(t *testing.T) {
		path := writeFile(t, "user_12345\nWebPortal Admin\n\n555-0100\nUniversity of Utah\nportal-token-abc\n")

		_, err := readBootstrapUser(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 3 is empty")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readBootstrapUser(filepath.Join(t.TempDir(), "absent"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "opening bootstrap user file")
	})
}

func TestReadEncryptionKey(t *testing.T) {
	writeFile := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "encryptionKey")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	t.Run("trailing newline stripped", func(t *testing.T) {
		key, err := readEncryptionKey(writeFile(t, "s3cret\n"))
		require.NoError(t, err)
		assert.Equal(t, []byte("s3cret"), key)
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := readEncryptionKey(writeFile(t, ""))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "is empty")
	})

	t.Run("whitespace only", func(t *testing.T) {
		_, err := readEncryptionKey(writeFile(t, " \n\t\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "is empty")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readEncryptionKey(filepath.Join(t.TempDir(), "absent"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading encryption key file")
	})
}
