// Package logging provides structured logging utilities for the SLATE API
// server.
//
// This package centralizes logging patterns to ensure consistent, structured
// logging throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Structured logging with slog
//   - PII sanitization (email anonymization, token hashing)
//   - Host/URL sanitization for stored cluster credentials
//   - Consistent attribute naming across the codebase
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "instance.install")
//	logger.Info("installing application",
//	    logging.Group("my-group"),
//	    logging.Cluster("my-cluster"))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("request authenticated",
//	    logging.UserHash(user.Email),
//	    logging.TokenHash(token))
//
// # Security Considerations
//
//   - User emails are hashed to prevent PII leakage while allowing correlation
//   - Access tokens are never logged; only length markers or hashes appear
//   - Kubeconfig contents and secret payloads must never reach a log call
//   - Cluster API server addresses have IP addresses redacted
package logging
