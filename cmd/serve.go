package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/slateci/slate-api-server/internal/auth"
	"github.com/slateci/slate-api-server/internal/catalog"
	"github.com/slateci/slate-api-server/internal/commands"
	"github.com/slateci/slate-api-server/internal/dns"
	"github.com/slateci/slate-api-server/internal/dns/rfc2136"
	"github.com/slateci/slate-api-server/internal/instrumentation"
	"github.com/slateci/slate-api-server/internal/kube"
	"github.com/slateci/slate-api-server/internal/logging"
	"github.com/slateci/slate-api-server/internal/proc"
	"github.com/slateci/slate-api-server/internal/server"
	"github.com/slateci/slate-api-server/internal/server/middleware"
	"github.com/slateci/slate-api-server/internal/store"
	"github.com/slateci/slate-api-server/internal/store/sqlstore"
)

// newServeCmd creates the Cobra command for starting the API server.
func newServeCmd() *cobra.Command {
	var config ServeConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the SLATE API server",
		Long: `Start the SLATE API server, the control plane research groups use to
deploy applications across federated Kubernetes clusters.

The server fronts a persistent catalog of users, groups, clusters,
application instances and secrets, and drives every cluster interaction
through helm and kubectl subprocesses under stored kubeconfigs.

Boot material:
  - The encryption key file guards stored secrets at rest.
  - The bootstrap user file (six lines: id, name, email, phone,
    institution, token) is ensured present as an administrator, so a
    fresh database is usable.

DNS publication (--dns-server and --dns-zone):
  When configured, installed instances are published as hostnames in the
  zone via RFC 2136 dynamic updates, optionally TSIG-signed. Records the
  server did not create are never touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load env vars only for flags not explicitly set by user
			applyEnvOverlays(cmd, &config)

			// Security warning: CLI secret flags may be visible in process listings
			if cmd.Flags().Changed("dns-tsig-secret") {
				slog.Warn("TSIG secret provided via CLI flag; it may be visible in process listings (ps aux), prefer SLATE_DNS_TSIG_SECRET")
			}

			return runServe(config)
		},
	}

	// Listener flags
	cmd.Flags().StringVar(&config.ListenAddress, "listen-address", ":18080", "Address the API server listens on (can also be set via SLATE_LISTEN_ADDRESS env var)")
	cmd.Flags().StringVar(&config.MetricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Address the dedicated metrics server listens on (can also be set via SLATE_METRICS_ADDR env var)")
	cmd.Flags().StringVar(&config.AllowedOrigins, "allowed-origins", "", "Comma-separated CORS origins for the web portal; empty disables CORS (can also be set via SLATE_ALLOWED_ORIGINS env var)")

	// Persistence flags
	cmd.Flags().StringVar(&config.DatabaseDriver, "database-driver", sqlstore.DriverSQLite, "Database driver: sqlite3 or pgx (can also be set via SLATE_DATABASE_DRIVER env var)")
	cmd.Flags().StringVar(&config.DatabaseDSN, "database-dsn", "slate.db", "Database DSN; a file path for sqlite3, a connection URL for pgx (can also be set via SLATE_DATABASE_DSN env var)")
	cmd.Flags().StringVar(&config.KubeconfigDir, "kubeconfig-dir", "", "Directory for materialized cluster kubeconfigs; empty means a directory under the system temp dir (can also be set via SLATE_KUBECONFIG_DIR env var)")
	cmd.Flags().DurationVar(&config.ClusterCacheValidity, "cluster-cache-validity", 0, "Cluster cache TTL; zero keeps the store default (can also be set via SLATE_CLUSTER_CACHE_VALIDITY env var)")

	// Boot material flags
	cmd.Flags().StringVar(&config.EncryptionKeyFile, "encryption-key-file", "encryptionKey", "File holding the key that encrypts stored secrets (can also be set via SLATE_ENCRYPTION_KEY_FILE env var)")
	cmd.Flags().StringVar(&config.BootstrapUserFile, "bootstrap-user-file", "slate_portal_user", "File holding the six-line bootstrap administrator record (can also be set via SLATE_BOOTSTRAP_USER_FILE env var)")

	// Helm repository flags
	cmd.Flags().StringVar(&config.HelmMainRepo, "helm-main-repo", catalog.DefaultMainRepo, "Helm repository name for production charts (can also be set via SLATE_HELM_MAIN_REPO env var)")
	cmd.Flags().StringVar(&config.HelmDevRepo, "helm-dev-repo", catalog.DefaultDevRepo, "Helm repository name for development charts (can also be set via SLATE_HELM_DEV_REPO env var)")
	cmd.Flags().StringVar(&config.HelmTestRepo, "helm-test-repo", catalog.DefaultTestRepo, "Helm repository name for test charts (can also be set via SLATE_HELM_TEST_REPO env var)")
	cmd.Flags().StringVar(&config.HelmMainRepoURL, "helm-main-repo-url", "", "URL to register the production chart repository from; empty assumes it is registered out of band (can also be set via SLATE_HELM_MAIN_REPO_URL env var)")
	cmd.Flags().StringVar(&config.HelmDevRepoURL, "helm-dev-repo-url", "", "URL to register the development chart repository from (can also be set via SLATE_HELM_DEV_REPO_URL env var)")
	cmd.Flags().StringVar(&config.HelmTestRepoURL, "helm-test-repo-url", "", "URL to register the test chart repository from (can also be set via SLATE_HELM_TEST_REPO_URL env var)")

	// DNS flags
	cmd.Flags().StringVar(&config.DNSServer, "dns-server", "", "host:port of the authoritative nameserver for instance hostnames; empty disables DNS publication (can also be set via SLATE_DNS_SERVER env var)")
	cmd.Flags().StringVar(&config.DNSZone, "dns-zone", "", "DNS zone instance hostnames are published under (can also be set via SLATE_DNS_ZONE env var)")
	cmd.Flags().StringVar(&config.DNSOwner, "dns-owner", "slate-api-server", "Owner identity stamped into DNS heritage markers so deployments can share a zone (can also be set via SLATE_DNS_OWNER env var)")
	cmd.Flags().StringVar(&config.DNSTSIGName, "dns-tsig-name", "", "TSIG key name for DNS updates (can also be set via SLATE_DNS_TSIG_NAME env var)")
	cmd.Flags().StringVar(&config.DNSTSIGSecret, "dns-tsig-secret", "", "TSIG key secret for DNS updates (can also be set via SLATE_DNS_TSIG_SECRET env var)")

	// Tuning flags
	cmd.Flags().IntVar(&config.CascadeWorkers, "cascade-workers", 0, "Parallelism of cascading deletions; zero keeps the default (can also be set via SLATE_CASCADE_WORKERS env var)")

	// Logging flags
	cmd.Flags().StringVar(&config.LogFormat, "log-format", logFormatText, "Log output format: text or json (can also be set via SLATE_LOG_FORMAT env var)")
	cmd.Flags().BoolVar(&config.Debug, "debug", false, "Enable debug logging (can also be set via SLATE_DEBUG env var)")

	return cmd
}

// runServe assembles the platform and runs the API server until a shutdown
// signal arrives.
func runServe(config ServeConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(config.LogFormat, config.Debug)
	slog.SetDefault(logger)

	corsOrigins, err := middleware.ValidateAllowedOrigins(config.AllowedOrigins)
	if err != nil {
		return fmt.Errorf("invalid allowed origins: %w", err)
	}

	// Setup graceful shutdown - listen for both SIGINT and SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize OpenTelemetry instrumentation
	instrumentationConfig := instrumentation.DefaultConfig()
	instrumentationConfig.ServiceVersion = rootCmd.Version
	provider, err := instrumentation.NewProvider(ctx, instrumentationConfig)
	if err != nil {
		return fmt.Errorf("creating instrumentation provider: %w", err)
	}
	if provider.Enabled() {
		logger.Info("instrumentation enabled",
			slog.String("metrics_exporter", instrumentationConfig.MetricsExporter),
			slog.String("tracing_exporter", instrumentationConfig.TracingExporter))
	}

	secretKey, err := readEncryptionKey(config.EncryptionKeyFile)
	if err != nil {
		return err
	}
	bootstrapUser, err := readBootstrapUser(config.BootstrapUserFile)
	if err != nil {
		return err
	}

	kubeconfigDir := config.KubeconfigDir
	if kubeconfigDir == "" {
		kubeconfigDir = filepath.Join(os.TempDir(), "slate-kubeconfigs")
	}
	if err := os.MkdirAll(kubeconfigDir, 0o700); err != nil {
		return fmt.Errorf("creating kubeconfig directory: %w", err)
	}

	db, err := sqlstore.Open(ctx, config.DatabaseDriver, config.DatabaseDSN, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	storeOpts := []store.Option{store.WithLogger(logger)}
	if provider.Enabled() {
		storeOpts = append(storeOpts, store.WithMetrics(provider.Metrics()))
	}
	if config.ClusterCacheValidity > 0 {
		storeOpts = append(storeOpts, store.WithClusterCacheValidity(config.ClusterCacheValidity))
	}
	st, err := store.New(db, kubeconfigDir, storeOpts...)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("creating store: %w", err)
	}

	supervisorOpts := []proc.SupervisorOption{proc.WithLogger(logger)}
	if provider.Enabled() {
		supervisorOpts = append(supervisorOpts, proc.WithMetrics(provider.Metrics()))
	}
	supervisor := proc.NewSupervisor(supervisorOpts...)

	kubeOpts := []kube.Option{kube.WithLogger(logger)}
	if provider.Enabled() {
		kubeOpts = append(kubeOpts, kube.WithMetrics(provider.Metrics()))
	}
	helm := kube.NewHelm(supervisor, kubeOpts...)
	kubectl := kube.NewKubectl(supervisor, kubeOpts...)

	cat := catalog.New(helm, catalog.Config{
		MainRepo:    config.HelmMainRepo,
		DevRepo:     config.HelmDevRepo,
		TestRepo:    config.HelmTestRepo,
		MainRepoURL: config.HelmMainRepoURL,
		DevRepoURL:  config.HelmDevRepoURL,
		TestRepoURL: config.HelmTestRepoURL,
	}, logger)

	commandOpts := []commands.Option{commands.WithLogger(logger)}
	if config.CascadeWorkers > 0 {
		commandOpts = append(commandOpts, commands.WithFanoutLimit(config.CascadeWorkers))
	}

	var dnsManager *dns.Manager
	if config.DNSEnabled() {
		dnsProvider := rfc2136.New(rfc2136.Config{
			Server:     config.DNSServer,
			Zone:       config.DNSZone,
			TSIGName:   config.DNSTSIGName,
			TSIGSecret: config.DNSTSIGSecret,
		})
		dnsManager = dns.NewManager(dnsProvider, config.DNSZone, config.DNSOwner, logger)
		commandOpts = append(commandOpts, commands.WithDNS(dnsManager))
		logger.Info("dns publication enabled",
			slog.String("zone", config.DNSZone), logging.Host(config.DNSServer))
	}

	az := auth.New(st, logger)
	cmds := commands.New(st, az, helm, kubectl, cat, secretKey, commandOpts...)

	serverContextOptions := []server.Option{
		server.WithStore(st),
		server.WithAuthorizer(az),
		server.WithCommands(cmds),
		server.WithCatalog(cat),
		server.WithSupervisor(supervisor),
		server.WithLogger(logger),
		server.WithVersion(rootCmd.Version),
		server.WithInstrumentationProvider(provider),
	}
	if dnsManager != nil {
		serverContextOptions = append(serverContextOptions, server.WithDNS(dnsManager))
	}
	serverContext, err := server.NewServerContext(ctx, serverContextOptions...)
	if err != nil {
		return fmt.Errorf("creating server context: %w", err)
	}
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Error("server context shutdown", logging.Err(err))
		}
	}()

	if err := cat.Register(ctx); err != nil {
		return fmt.Errorf("registering chart repositories: %w", err)
	}
	if err := ensureBootstrapUser(ctx, st, bootstrapUser, logger); err != nil {
		return err
	}

	return serveHTTP(ctx, config, serverContext, provider, corsOrigins)
}

// ensureBootstrapUser guarantees the administrator from the bootstrap file
// exists, so a fresh database has one usable account.
func ensureBootstrapUser(ctx context.Context, st *store.Store, u store.User, logger *slog.Logger) error {
	existing, err := st.GetUser(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("checking bootstrap user: %w", err)
	}
	if existing.Valid {
		logger.Info("bootstrap user present", logging.UserID(u.ID))
		return nil
	}
	if err := st.AddUser(ctx, u); err != nil {
		return fmt.Errorf("creating bootstrap user: %w", err)
	}
	logger.Info("bootstrap user created", logging.UserID(u.ID), logging.UserHash(u.Email))
	return nil
}
