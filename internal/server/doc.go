// Package server provides the ServerContext pattern and related
// infrastructure for the SLATE API server.
//
// ServerContext bundles the assembled platform: the persistent store,
// the authorizer and command layer on top of it, the subprocess
// supervisor behind the helm and kubectl drivers, and the optional DNS
// and instrumentation facilities. Dependencies are injected through
// functional options, and Shutdown tears everything down in dependency
// order exactly once.
//
// Example usage:
//
//	serverCtx, err := NewServerContext(ctx,
//		WithStore(st),
//		WithAuthorizer(az),
//		WithCommands(cmds),
//		WithSupervisor(sup),
//		WithLogger(logger),
//		WithVersion(version),
//	)
//	if err != nil {
//		return err
//	}
//	defer serverCtx.Shutdown()
//
// The package also ships the Kubernetes probe endpoints (HealthChecker
// with /healthz, /readyz, and /healthz/detailed) and the standalone
// Prometheus listener (MetricsServer) that serves scrapes away from the
// public API port.
package server
