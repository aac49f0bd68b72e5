package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/slateci/slate-api-server/internal/auth"
	"github.com/slateci/slate-api-server/internal/catalog"
	"github.com/slateci/slate-api-server/internal/commands"
	"github.com/slateci/slate-api-server/internal/dns"
	"github.com/slateci/slate-api-server/internal/instrumentation"
	"github.com/slateci/slate-api-server/internal/proc"
	"github.com/slateci/slate-api-server/internal/store"
)

// DefaultShutdownTimeout bounds graceful HTTP server shutdown at process
// exit. In-flight helm installs can take a while to reach a safe point.
const DefaultShutdownTimeout = 30 * time.Second

// shutdownGrace bounds how long Shutdown waits for helm and kubectl
// subprocesses to drain before they are killed.
const shutdownGrace = 10 * time.Second

// ServerContext bundles the assembled platform behind the HTTP API and
// owns its lifecycle. It holds the persistent store, the authorizer and
// command layer built on top of it, the subprocess supervisor the kube
// clients run through, and the optional DNS and instrumentation
// facilities. Shutdown tears the pieces down in dependency order and is
// safe to call more than once.
type ServerContext struct {
	store      *store.Store
	authorizer *auth.Authorizer
	commands   *commands.Commands
	catalog    *catalog.Catalog
	supervisor *proc.Supervisor
	dns        *dns.Manager

	instrumentationProvider *instrumentation.Provider

	logger  *slog.Logger
	version string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext assembles a server context from the given options.
// The store, authorizer, and command layer are required; everything
// else defaults to off.
func NewServerContext(ctx context.Context, opts ...Option) (*ServerContext, error) {
	serverCtx, cancel := context.WithCancel(ctx)

	sc := &ServerContext{
		ctx:     serverCtx,
		cancel:  cancel,
		logger:  slog.Default(),
		version: "dev",
	}

	for _, opt := range opts {
		if err := opt(sc); err != nil {
			cancel()
			return nil, err
		}
	}

	if err := sc.validate(); err != nil {
		cancel()
		return nil, err
	}

	return sc, nil
}

// Context returns the server's root context. It is cancelled when
// Shutdown begins.
func (sc *ServerContext) Context() context.Context {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.ctx
}

// Store returns the persistent catalog store.
func (sc *ServerContext) Store() *store.Store {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.store
}

// Authorizer returns the token and permission resolver.
func (sc *ServerContext) Authorizer() *auth.Authorizer {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.authorizer
}

// Commands returns the command layer the API handlers call into.
func (sc *ServerContext) Commands() *commands.Commands {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.commands
}

// Catalog returns the application catalog, or nil when none was
// configured.
func (sc *ServerContext) Catalog() *catalog.Catalog {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.catalog
}

// Supervisor returns the subprocess supervisor, or nil when none was
// configured.
func (sc *ServerContext) Supervisor() *proc.Supervisor {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.supervisor
}

// DNS returns the instance hostname manager, or nil when DNS
// publication is disabled.
func (sc *ServerContext) DNS() *dns.Manager {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.dns
}

// DNSEnabled reports whether instance hostnames are published.
func (sc *ServerContext) DNSEnabled() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.dns != nil
}

// InstrumentationProvider returns the OpenTelemetry provider, or nil
// when the server runs without instrumentation.
func (sc *ServerContext) InstrumentationProvider() *instrumentation.Provider {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.instrumentationProvider
}

// Logger returns the server's structured logger.
func (sc *ServerContext) Logger() *slog.Logger {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.logger
}

// Version returns the server version string reported by health
// endpoints and the API root.
func (sc *ServerContext) Version() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.version
}

// ActiveSubprocesses returns the number of helm and kubectl child
// processes currently running under the supervisor.
func (sc *ServerContext) ActiveSubprocesses() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.supervisor == nil {
		return 0
	}
	return sc.supervisor.Children()
}

// Shutdown tears down the platform: it cancels the root context, drains
// the subprocess supervisor, closes the store, and flushes the
// instrumentation provider, in that order. Calling it again is a no-op.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}
	sc.shutdown = true

	sc.logger.Info("shutting down server context")

	if sc.cancel != nil {
		sc.cancel()
	}

	var errs *multierror.Error

	if sc.supervisor != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		if err := sc.supervisor.Shutdown(drainCtx); err != nil {
			errs = multierror.Append(errs, err)
		}
		cancel()
	}

	if sc.store != nil {
		if err := sc.store.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if sc.instrumentationProvider != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		if err := sc.instrumentationProvider.Shutdown(flushCtx); err != nil {
			errs = multierror.Append(errs, err)
		}
		cancel()
	}

	sc.logger.Info("server context shutdown complete")
	return errs.ErrorOrNil()
}

// IsShutdown reports whether Shutdown has been called.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// validate ensures the dependencies every request path needs are set.
func (sc *ServerContext) validate() error {
	if sc.store == nil {
		return ErrMissingStore
	}
	if sc.authorizer == nil {
		return ErrMissingAuthorizer
	}
	if sc.commands == nil {
		return ErrMissingCommands
	}
	if sc.logger == nil {
		return ErrMissingLogger
	}
	return nil
}
