package server

import (
	"errors"
	"log/slog"

	"github.com/slateci/slate-api-server/internal/auth"
	"github.com/slateci/slate-api-server/internal/catalog"
	"github.com/slateci/slate-api-server/internal/commands"
	"github.com/slateci/slate-api-server/internal/dns"
	"github.com/slateci/slate-api-server/internal/instrumentation"
	"github.com/slateci/slate-api-server/internal/proc"
	"github.com/slateci/slate-api-server/internal/store"
)

// Option is a functional option for configuring ServerContext.
type Option func(*ServerContext) error

// WithStore sets the persistent catalog store.
func WithStore(st *store.Store) Option {
	return func(sc *ServerContext) error {
		if st == nil {
			return ErrMissingStore
		}
		sc.store = st
		return nil
	}
}

// WithAuthorizer sets the token and permission resolver.
func WithAuthorizer(az *auth.Authorizer) Option {
	return func(sc *ServerContext) error {
		if az == nil {
			return ErrMissingAuthorizer
		}
		sc.authorizer = az
		return nil
	}
}

// WithCommands sets the command layer the API handlers call into.
func WithCommands(cmds *commands.Commands) Option {
	return func(sc *ServerContext) error {
		if cmds == nil {
			return ErrMissingCommands
		}
		sc.commands = cmds
		return nil
	}
}

// WithCatalog sets the application catalog.
func WithCatalog(cat *catalog.Catalog) Option {
	return func(sc *ServerContext) error {
		sc.catalog = cat
		return nil
	}
}

// WithSupervisor sets the subprocess supervisor so shutdown can drain
// running helm and kubectl children.
func WithSupervisor(sup *proc.Supervisor) Option {
	return func(sc *ServerContext) error {
		sc.supervisor = sup
		return nil
	}
}

// WithDNS enables DNS publication of instance hostnames.
func WithDNS(manager *dns.Manager) Option {
	return func(sc *ServerContext) error {
		sc.dns = manager
		return nil
	}
}

// WithLogger sets the structured logger for the ServerContext.
func WithLogger(logger *slog.Logger) Option {
	return func(sc *ServerContext) error {
		if logger == nil {
			return ErrMissingLogger
		}
		sc.logger = logger
		return nil
	}
}

// WithVersion sets the server version reported by health endpoints and
// the API root.
func WithVersion(version string) Option {
	return func(sc *ServerContext) error {
		if version != "" {
			sc.version = version
		}
		return nil
	}
}

// WithInstrumentationProvider sets the OpenTelemetry instrumentation
// provider. The context takes over flushing it during shutdown.
func WithInstrumentationProvider(provider *instrumentation.Provider) Option {
	return func(sc *ServerContext) error {
		sc.instrumentationProvider = provider
		return nil
	}
}

// Error definitions for ServerContext validation.
var (
	ErrMissingStore      = errors.New("store is required")
	ErrMissingAuthorizer = errors.New("authorizer is required")
	ErrMissingCommands   = errors.New("command layer is required")
	ErrMissingLogger     = errors.New("logger is required")
)
