// Package middleware provides HTTP middleware for the SLATE API server:
// security headers, request size limits, and per-request metrics. CORS
// handling lives with the router, which mounts github.com/go-chi/cors.
package middleware
