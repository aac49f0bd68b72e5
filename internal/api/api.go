package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/slateci/slate-api-server/internal/apierr"
	"github.com/slateci/slate-api-server/internal/auth"
	"github.com/slateci/slate-api-server/internal/commands"
	"github.com/slateci/slate-api-server/internal/instrumentation"
	"github.com/slateci/slate-api-server/internal/store"
)

// versionPrefixes lists the mounted API generations, newest first. All
// serve the same handlers; /v1alpha1 remains for older clients.
var versionPrefixes = []string{"/v1alpha3", "/v1alpha1"}

// Server is the HTTP front of the platform. It owns no business logic:
// requests are decoded, handed to the command executors and their
// results rendered as envelopes. The store handle is used only to
// resolve IDs to display names.
type Server struct {
	commands *commands.Commands
	auth     *auth.Authorizer
	store    *store.Store

	logger  *slog.Logger
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger

	version     string
	corsOrigins []string
	healthz     http.Handler
	readyz      http.Handler
}

// Option adjusts a Server.
type Option func(*Server)

// WithLogger routes the server's own log lines.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithVersion sets the version string the server info route reports.
func WithVersion(version string) Option {
	return func(s *Server) {
		if version != "" {
			s.version = version
		}
	}
}

// WithInstrumentation adopts the provider's metric and audit sinks.
func WithInstrumentation(p *instrumentation.Provider) Option {
	return func(s *Server) {
		if p != nil {
			s.metrics = p.Metrics()
			s.audit = p.AuditLogger()
		}
	}
}

// WithCORSOrigins enables CORS for the given origins; the web portal
// runs on a different host than the API. Empty leaves CORS off.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithHealthHandlers mounts liveness and readiness probes on the API
// listener, outside the authenticated routes.
func WithHealthHandlers(healthz, readyz http.Handler) Option {
	return func(s *Server) {
		s.healthz = healthz
		s.readyz = readyz
	}
}

// New builds the API server over the given executors. The authorizer
// resolves tokens; the store resolves IDs to names for envelopes.
func New(cmds *commands.Commands, az *auth.Authorizer, st *store.Store, opts ...Option) *Server {
	s := &Server{
		commands: cmds,
		auth:     az,
		store:    st,
		logger:   slog.Default(),
		version:  "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = &instrumentation.Metrics{}
	}
	if s.audit == nil {
		s.audit = instrumentation.NewAuditLogger(s.logger)
	}
	return s
}

// Handler assembles the router: open routes at the root, the versioned
// API behind token authentication.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         300,
		}))
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, apierr.NotFound("endpoint"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Kind: kindError, Message: "Method not allowed"})
	})

	r.Get("/", s.serverInfo)
	if s.healthz != nil {
		r.Method(http.MethodGet, "/healthz", s.healthz)
	}
	if s.readyz != nil {
		r.Method(http.MethodGet, "/readyz", s.readyz)
	}

	for _, prefix := range versionPrefixes {
		r.Route(prefix, func(r chi.Router) {
			r.Use(s.authenticate)
			s.routes(r)
		})
	}
	return r
}

// routes mounts one copy of the versioned API.
func (s *Server) routes(r chi.Router) {
	r.Get("/users", s.listUsers)
	r.Post("/users", s.createUser)
	r.Get("/users/{id}", s.getUser)
	r.Put("/users/{id}", s.updateUser)
	r.Delete("/users/{id}", s.deleteUser)
	r.Get("/users/{id}/groups", s.listUserGroups)
	r.Put("/users/{id}/groups/{group}", s.addUserToGroup)
	r.Delete("/users/{id}/groups/{group}", s.removeUserFromGroup)
	r.Get("/users/{id}/replace_token", s.replaceUserToken)
	r.Get("/find_user", s.findUser)

	r.Get("/groups", s.listGroups)
	r.Post("/groups", s.createGroup)
	r.Get("/groups/{group}", s.getGroup)
	r.Put("/groups/{group}", s.updateGroup)
	r.Delete("/groups/{group}", s.deleteGroup)
	r.Get("/groups/{group}/members", s.listGroupMembers)

	r.Get("/clusters", s.listClusters)
	r.Post("/clusters", s.registerCluster)
	r.Get("/clusters/{cluster}", s.getCluster)
	r.Put("/clusters/{cluster}", s.updateCluster)
	r.Delete("/clusters/{cluster}", s.deleteCluster)
	r.Get("/clusters/{cluster}/ping", s.pingCluster)
	r.Get("/clusters/{cluster}/allowed_groups", s.listAllowedGroups)
	r.Get("/clusters/{cluster}/allowed_groups/{group}", s.getGroupAccess)
	r.Put("/clusters/{cluster}/allowed_groups/{group}", s.grantGroupAccess)
	r.Delete("/clusters/{cluster}/allowed_groups/{group}", s.revokeGroupAccess)
	r.Get("/clusters/{cluster}/allowed_groups/{group}/applications", s.listAllowedApplications)
	r.Get("/clusters/{cluster}/allowed_groups/{group}/applications/{application}", s.getApplicationGrant)
	r.Put("/clusters/{cluster}/allowed_groups/{group}/applications/{application}", s.grantApplication)
	r.Delete("/clusters/{cluster}/allowed_groups/{group}/applications/{application}", s.revokeApplication)

	r.Get("/apps", s.listApplications)
	r.Get("/apps/{name}", s.applicationValues)
	r.Post("/apps/{name}", s.installApplication)

	r.Get("/instances", s.listInstances)
	r.Get("/instances/{id}", s.getInstance)
	r.Delete("/instances/{id}", s.deleteInstance)
	r.Get("/instances/{id}/logs", s.instanceLogs)
	r.Put("/instances/{id}/scale", s.scaleInstance)
	r.Put("/instances/{id}/restart", s.restartInstance)

	r.Get("/secrets", s.listSecrets)
	r.Post("/secrets", s.createSecret)
	r.Get("/secrets/{id}", s.getSecret)
	r.Delete("/secrets/{id}", s.deleteSecret)
}

// serverInfoBody answers the root route, the one response a client can
// fetch without a token.
type serverInfoBody struct {
	APIVersion           string   `json:"apiVersion"`
	ServerVersion        string   `json:"serverVersion"`
	SupportedAPIVersions []string `json:"supportedApiVersions"`
}

func (s *Server) serverInfo(w http.ResponseWriter, _ *http.Request) {
	versions := make([]string, 0, len(versionPrefixes))
	for _, p := range versionPrefixes {
		versions = append(versions, strings.TrimPrefix(p, "/"))
	}
	writeJSON(w, http.StatusOK, serverInfoBody{
		APIVersion:           APIVersion,
		ServerVersion:        s.version,
		SupportedAPIVersions: versions,
	})
}

// pathParam returns a chi route parameter, percent-decoded. The
// wildcard application grant arrives as %2A from strict clients.
func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if dec, err := url.PathUnescape(v); err == nil {
		return dec
	}
	return v
}
