package cmd

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/slateci/slate-api-server/internal/store"
	"github.com/slateci/slate-api-server/internal/store/sqlstore"
)

// envValueTrue is the string value used to enable boolean environment
// variables.
const envValueTrue = "true"

// Log output formats accepted by --log-format.
const (
	logFormatText = "text"
	logFormatJSON = "json"
)

// rootGlobusID is the federated identity recorded for the bootstrap user.
// The account comes from a file rather than a federated login, so a fixed
// marker stands in and keeps the identity uniqueness check satisfied.
const rootGlobusID = "root"

// ServeConfig holds all configuration for the serve command. Flags fill it
// first; applyEnvOverlays then substitutes SLATE_* environment variables
// for every flag the operator did not set explicitly.
type ServeConfig struct {
	// Listener settings
	ListenAddress string
	MetricsAddr   string

	// Persistence settings
	DatabaseDriver string
	DatabaseDSN    string

	// Boot material
	KubeconfigDir     string
	EncryptionKeyFile string
	BootstrapUserFile string

	// Tuning
	ClusterCacheValidity time.Duration
	CascadeWorkers       int

	// Helm chart repositories. Names without URLs are assumed to be
	// registered with helm out of band.
	HelmMainRepo    string
	HelmDevRepo     string
	HelmTestRepo    string
	HelmMainRepoURL string
	HelmDevRepoURL  string
	HelmTestRepoURL string

	// Optional DNS publication for installed instances
	DNSServer     string
	DNSZone       string
	DNSOwner      string
	DNSTSIGName   string
	DNSTSIGSecret string

	// HTTP surface
	AllowedOrigins string

	// Logging
	LogFormat string
	Debug     bool
}

// Validate reports the first configuration problem that would prevent the
// server from starting.
func (c ServeConfig) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	switch c.DatabaseDriver {
	case sqlstore.DriverSQLite, sqlstore.DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q (supported: %s, %s)",
			c.DatabaseDriver, sqlstore.DriverSQLite, sqlstore.DriverPostgres)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database DSN must not be empty")
	}
	if c.EncryptionKeyFile == "" {
		return fmt.Errorf("encryption key file must not be empty")
	}
	if c.BootstrapUserFile == "" {
		return fmt.Errorf("bootstrap user file must not be empty")
	}
	switch c.LogFormat {
	case logFormatText, logFormatJSON:
	default:
		return fmt.Errorf("unsupported log format %q (supported: %s, %s)",
			c.LogFormat, logFormatText, logFormatJSON)
	}
	if c.ClusterCacheValidity < 0 {
		return fmt.Errorf("cluster cache validity must not be negative")
	}
	if c.CascadeWorkers < 0 {
		return fmt.Errorf("cascade workers must not be negative")
	}
	if (c.DNSServer == "") != (c.DNSZone == "") {
		return fmt.Errorf("dns server and dns zone must be configured together")
	}
	if (c.DNSTSIGName == "") != (c.DNSTSIGSecret == "") {
		return fmt.Errorf("dns tsig name and secret must be configured together")
	}
	if c.DNSTSIGName != "" && c.DNSServer == "" {
		return fmt.Errorf("dns tsig credentials require a dns server")
	}
	return nil
}

// DNSEnabled reports whether instance hostnames should be published.
func (c ServeConfig) DNSEnabled() bool {
	return c.DNSServer != "" && c.DNSZone != ""
}

// applyEnvOverlays fills the configuration from SLATE_* environment
// variables. Environment values only apply to flags the user did not set
// explicitly, so a flag always wins over its variable.
func applyEnvOverlays(cmd *cobra.Command, config *ServeConfig) {
	overlayString(cmd, "listen-address", "SLATE_LISTEN_ADDRESS", &config.ListenAddress)
	overlayString(cmd, "metrics-addr", "SLATE_METRICS_ADDR", &config.MetricsAddr)
	overlayString(cmd, "database-driver", "SLATE_DATABASE_DRIVER", &config.DatabaseDriver)
	overlayString(cmd, "database-dsn", "SLATE_DATABASE_DSN", &config.DatabaseDSN)
	overlayString(cmd, "kubeconfig-dir", "SLATE_KUBECONFIG_DIR", &config.KubeconfigDir)
	overlayString(cmd, "encryption-key-file", "SLATE_ENCRYPTION_KEY_FILE", &config.EncryptionKeyFile)
	overlayString(cmd, "bootstrap-user-file", "SLATE_BOOTSTRAP_USER_FILE", &config.BootstrapUserFile)
	overlayDuration(cmd, "cluster-cache-validity", "SLATE_CLUSTER_CACHE_VALIDITY", &config.ClusterCacheValidity)
	overlayInt(cmd, "cascade-workers", "SLATE_CASCADE_WORKERS", &config.CascadeWorkers)
	overlayString(cmd, "helm-main-repo", "SLATE_HELM_MAIN_REPO", &config.HelmMainRepo)
	overlayString(cmd, "helm-dev-repo", "SLATE_HELM_DEV_REPO", &config.HelmDevRepo)
	overlayString(cmd, "helm-test-repo", "SLATE_HELM_TEST_REPO", &config.HelmTestRepo)
	overlayString(cmd, "helm-main-repo-url", "SLATE_HELM_MAIN_REPO_URL", &config.HelmMainRepoURL)
	overlayString(cmd, "helm-dev-repo-url", "SLATE_HELM_DEV_REPO_URL", &config.HelmDevRepoURL)
	overlayString(cmd, "helm-test-repo-url", "SLATE_HELM_TEST_REPO_URL", &config.HelmTestRepoURL)
	overlayString(cmd, "dns-server", "SLATE_DNS_SERVER", &config.DNSServer)
	overlayString(cmd, "dns-zone", "SLATE_DNS_ZONE", &config.DNSZone)
	overlayString(cmd, "dns-owner", "SLATE_DNS_OWNER", &config.DNSOwner)
	overlayString(cmd, "dns-tsig-name", "SLATE_DNS_TSIG_NAME", &config.DNSTSIGName)
	overlayString(cmd, "dns-tsig-secret", "SLATE_DNS_TSIG_SECRET", &config.DNSTSIGSecret)
	overlayString(cmd, "allowed-origins", "SLATE_ALLOWED_ORIGINS", &config.AllowedOrigins)
	overlayString(cmd, "log-format", "SLATE_LOG_FORMAT", &config.LogFormat)
	overlayBool(cmd, "debug", "SLATE_DEBUG", &config.Debug)
}

// overlayString replaces *target with the environment variable's value when
// the flag was not set explicitly and the variable is non-empty.
func overlayString(cmd *cobra.Command, flag, env string, target *string) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		*target = v
	}
}

// overlayBool enables *target when the flag was not set explicitly and the
// environment variable is "true".
func overlayBool(cmd *cobra.Command, flag, env string, target *bool) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if os.Getenv(env) == envValueTrue {
		*target = true
	}
}

// overlayDuration parses the environment variable as a duration when the
// flag was not set explicitly.
func overlayDuration(cmd *cobra.Command, flag, env string, target *time.Duration) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if d, ok := parseDurationEnv(os.Getenv(env), env); ok {
		*target = d
	}
}

// overlayInt parses the environment variable as an integer when the flag
// was not set explicitly.
func overlayInt(cmd *cobra.Command, flag, env string, target *int) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if n, ok := parseIntEnv(os.Getenv(env), env); ok {
		*target = n
	}
}

// parseDurationEnv parses a duration from an environment variable value.
// Returns the parsed duration and true if successful, or zero and false if
// parsing fails. Logs a warning if the value is present but invalid.
func parseDurationEnv(value, envName string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("ignoring invalid duration", slog.String("env", envName), slog.String("value", value))
		return 0, false
	}
	return d, true
}

// parseIntEnv parses an integer from an environment variable value.
// Returns the parsed int and true if successful, or zero and false if
// parsing fails. Logs a warning if the value is present but invalid.
func parseIntEnv(value, envName string) (int, bool) {
	if value == "" {
		return 0, false
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("ignoring invalid integer", slog.String("env", envName), slog.String("value", value))
		return 0, false
	}
	return n, true
}

// newLogger builds the process logger the serve flags ask for. Logs go to
// stderr so stdout stays clean for tooling.
func newLogger(format string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == logFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// readEncryptionKey loads the password guarding stored secrets.
// Surrounding whitespace is dropped so the file may end in a newline.
func readEncryptionKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading encryption key file: %w", err)
	}
	key := bytes.TrimSpace(raw)
	if len(key) == 0 {
		return nil, fmt.Errorf("encryption key file %s is empty", path)
	}
	return key, nil
}

// readBootstrapUser parses the bootstrap administrator file: six lines
// holding ID, name, email, phone, institution and access token. Trailing
// blank lines are tolerated.
func readBootstrapUser(path string) (store.User, error) {
	f, err := os.Open(path)
	if err != nil {
		return store.User{}, fmt.Errorf("opening bootstrap user file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return store.User{}, fmt.Errorf("reading bootstrap user file: %w", err)
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) != 6 {
		return store.User{}, fmt.Errorf("bootstrap user file must hold six lines (id, name, email, phone, institution, token), got %d", len(lines))
	}
	for i, line := range lines {
		if line == "" {
			return store.User{}, fmt.Errorf("bootstrap user file line %d is empty", i+1)
		}
	}
	return store.User{
		ID:          lines[0],
		Name:        lines[1],
		Email:       lines[2],
		Phone:       lines[3],
		Institution: lines[4],
		Token:       lines[5],
		GlobusID:    rootGlobusID,
		Admin:       true,
	}, nil
}
