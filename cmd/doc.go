// Package cmd provides the command-line interface for slate-service.
//
// This package implements a Cobra-based CLI with multiple subcommands:
//   - serve: Starts the API server (default behavior when no subcommand is provided)
//   - version: Displays the application version
//   - selfupdate: Updates the binary to the latest GitHub release
//
// The CLI preserves the historical behavior of the service binary by
// running the serve command when no subcommand is specified.
//
// Command Structure:
//
//	slate-service [flags]                # Starts the API server (default)
//	slate-service serve [flags]          # Explicitly starts the API server
//	slate-service version                # Shows version information
//	slate-service selfupdate             # Updates to latest release
//	slate-service help [command]         # Shows help information
//
// Every serve flag has a SLATE_* environment variable overlay that applies
// when the flag is not set explicitly, so containerized deployments can be
// configured entirely through the environment:
//
//	slate-service serve --listen-address :18080 --database-driver sqlite3
//	SLATE_DATABASE_DRIVER=pgx SLATE_DATABASE_DSN=postgres://… slate-service serve
//
// The serve command reads two files at boot: the encryption key guarding
// stored secrets and the six-line bootstrap administrator record that makes
// a fresh database usable.
package cmd
