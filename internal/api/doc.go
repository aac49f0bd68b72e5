// Package api is the REST surface over the command executors: a chi
// router serving the versioned JSON API, token authentication from the
// token query parameter, and the envelope rendering every route shares.
//
// Versioned routes answer under /v1alpha3 and, for older clients, under
// /v1alpha1 with identical semantics. Only the server info route and
// the health probes are reachable without a token.
package api
