package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation  = "operation"
	KeyGroup      = "group"
	KeyCluster    = "cluster"
	KeyInstance   = "instance"
	KeyApp        = "application"
	KeyNamespace  = "namespace"
	KeySecret     = "secret"
	KeyUserID     = "user_id"
	KeyUserHash   = "user_hash"
	KeyTokenHash  = "token_hash"
	KeyCommand    = "command"
	KeyExitStatus = "exit_status"
	KeyDuration   = "duration"
	KeyStatus     = "status"
	KeyError      = "error"
	KeyHost       = "host"
)

// Status values for consistent logging.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ipv4Regex matches IPv4 addresses for sanitization.
var ipv4Regex = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)

// ipv6Regex matches IPv6 addresses for sanitization, including bracketed
// forms used in URLs.
var ipv6Regex = regexp.MustCompile(`\[?([0-9a-fA-F]{0,4}:){2,7}[0-9a-fA-F]{0,4}\]?`)

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithGroup returns a logger with the group attribute set.
func WithGroup(logger *slog.Logger, group string) *slog.Logger {
	return logger.With(slog.String(KeyGroup, group))
}

// WithCluster returns a logger with the cluster attribute set.
func WithCluster(logger *slog.Logger, cluster string) *slog.Logger {
	return logger.With(slog.String(KeyCluster, cluster))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Group returns a slog attribute for the group name.
func Group(name string) slog.Attr {
	return slog.String(KeyGroup, name)
}

// Cluster returns a slog attribute for the cluster name or ID.
func Cluster(name string) slog.Attr {
	return slog.String(KeyCluster, name)
}

// Instance returns a slog attribute for the application instance name.
func Instance(name string) slog.Attr {
	return slog.String(KeyInstance, name)
}

// Application returns a slog attribute for the application name.
func Application(name string) slog.Attr {
	return slog.String(KeyApp, name)
}

// Namespace returns a slog attribute for the Kubernetes namespace.
func Namespace(ns string) slog.Attr {
	return slog.String(KeyNamespace, ns)
}

// Secret returns a slog attribute for the secret ID. Only IDs and names are
// ever logged; secret contents must never reach a log call.
func Secret(id string) slog.Attr {
	return slog.String(KeySecret, id)
}

// UserID returns a slog attribute for an entity ID of the acting user.
func UserID(id string) slog.Attr {
	return slog.String(KeyUserID, id)
}

// Command returns a slog attribute for the external command being run
// (helm, kubectl).
func Command(name string) slog.Attr {
	return slog.String(KeyCommand, name)
}

// ExitStatus returns a slog attribute for a child process exit status.
func ExitStatus(code int) slog.Attr {
	return slog.Int(KeyExitStatus, code)
}

// Duration returns a slog attribute for an operation duration.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration(KeyDuration, d)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Err returns a slog attribute for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// SanitizedErr returns a slog attribute for an error with IP addresses
// redacted. Use for errors that may quote cluster API server addresses from
// stored kubeconfigs, which could leak network topology information.
func SanitizedErr(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, SanitizeHost(err.Error()))
}

// Host returns a slog attribute for a host with IP addresses sanitized.
func Host(host string) slog.Attr {
	return slog.String(KeyHost, SanitizeHost(host))
}

// AnonymizeEmail returns a hashed representation of an email for logging
// purposes. This allows correlation of log entries without exposing PII.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(email))
	return "user:" + hex.EncodeToString(hash[:8])
}

// UserHash returns a slog attribute with the anonymized user email.
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}

// AnonymizeToken returns a hashed representation of an access token so that
// repeated uses of the same token can be correlated in logs without ever
// recording token material.
func AnonymizeToken(token string) string {
	if token == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(token))
	return "token:" + hex.EncodeToString(hash[:8])
}

// TokenHash returns a slog attribute with the anonymized access token.
func TokenHash(token string) slog.Attr {
	return slog.String(KeyTokenHash, AnonymizeToken(token))
}

// SanitizeHost returns a sanitized version of the host for logging purposes.
// IP addresses (IPv4 and IPv6) are redacted while hostnames and ports are
// preserved for debugging context.
//
// Examples:
//   - "https://192.168.1.100:6443" -> "https://<redacted-ip>:6443"
//   - "https://api.cluster.example.com:6443" -> unchanged
//   - "2001:db8::1" -> "<redacted-ip>"
//   - "" -> "<empty>"
func SanitizeHost(host string) string {
	if host == "" {
		return "<empty>"
	}

	redactIPs := func(s string) string {
		result := ipv4Regex.ReplaceAllString(s, "<redacted-ip>")
		result = ipv6Regex.ReplaceAllString(result, "<redacted-ip>")
		return result
	}

	if !strings.Contains(host, "://") {
		return redactIPs(host)
	}

	parsed, err := url.Parse(host)
	if err != nil {
		return redactIPs(host)
	}

	if ipv4Regex.MatchString(parsed.Host) || ipv6Regex.MatchString(parsed.Host) {
		parsed.Host = redactIPs(parsed.Host)
		return parsed.String()
	}

	return host
}

// SanitizeToken returns a masked version of a token for logging. It exposes
// only a length indicator; even partial token prefixes can aid attacks.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}
