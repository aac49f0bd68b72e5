package instrumentation

import (
	"regexp"
	"strings"
)

// Cardinality management helpers for metrics.
// These functions reduce high-cardinality label values to prevent metrics explosion.
//
// # Warning
//
// High cardinality in metrics can cause:
// - Increased memory usage in Prometheus/metrics backends
// - Slower query performance
// - Higher storage costs
//
// Always use these helpers before a request path or user identity becomes a
// metric label or an aggregatable log field.

// resourceSegment matches one addressable path segment under a collection.
// Callers may address groups and clusters by either ID or name, so the whole
// segment collapses regardless of shape.
var resourceSegment = regexp.MustCompile(`/(users|groups|clusters|instances|secrets|apps|allowed_groups|applications)/[^/]+`)

// NormalizePath rewrites a request path so that every resource identifier
// becomes the {id} placeholder. Without this, each user, group, cluster,
// instance, secret and application would mint its own http_requests_total
// series.
//
// # Examples
//
//	NormalizePath("/v1alpha3/users/User_1a2b")                       // "/v1alpha3/users/{id}"
//	NormalizePath("/v1alpha3/groups/atlas-analytics")                // "/v1alpha3/groups/{id}"
//	NormalizePath("/v1alpha3/instances/Instance_9f0e/logs")          // "/v1alpha3/instances/{id}/logs"
//	NormalizePath("/v1alpha3/clusters/c1/allowed_groups/g1")         // "/v1alpha3/clusters/{id}/allowed_groups/{id}"
//	NormalizePath("/v1alpha3/find_user")                             // "/v1alpha3/find_user"
//
// The path must already be stripped of its query string; request routers
// hand it over that way.
func NormalizePath(path string) string {
	if path == "" {
		return path
	}
	return resourceSegment.ReplaceAllString(path, "/$1/{id}")
}

// ExtractUserDomain extracts the domain part from an email address.
// This reduces cardinality by using the domain instead of the full email.
//
// Example:
//
//	ExtractUserDomain("jane@uchicago.edu")  // "uchicago.edu"
//	ExtractUserDomain("user@example.com")   // "example.com"
//	ExtractUserDomain("invalid")            // "unknown"
//	ExtractUserDomain("")                   // "unknown"
func ExtractUserDomain(email string) string {
	if email == "" {
		return "unknown"
	}

	parts := strings.Split(email, "@")
	if len(parts) == 2 && parts[1] != "" {
		return parts[1]
	}

	return "unknown"
}
