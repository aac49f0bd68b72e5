// Package integration exercises the assembled server end to end: the real
// router, middleware, authorizer, command layer and store wired the way the
// serve command wires them, over an in-memory database and stub helm and
// kubectl clients. Requests travel through a real HTTP listener.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	"github.com/slateci/slate-api-server/internal/api"
	"github.com/slateci/slate-api-server/internal/auth"
	"github.com/slateci/slate-api-server/internal/catalog"
	"github.com/slateci/slate-api-server/internal/commands"
	"github.com/slateci/slate-api-server/internal/kube"
	"github.com/slateci/slate-api-server/internal/server"
	"github.com/slateci/slate-api-server/internal/server/middleware"
	"github.com/slateci/slate-api-server/internal/store"
	"github.com/slateci/slate-api-server/internal/store/storetest"
)

// testKubeconfig parses under clientcmd and names one cluster.
const testKubeconfig = `apiVersion: v1
kind: Config
clusters:
- cluster:
    server: https://cluster.example.edu:6443
  name: test
contexts:
- context:
    cluster: test
    user: admin
  name: test
current-context: test
users:
- name: admin
  user:
    token: abc123
`

// helmStub stands in for the helm subprocess driver. It keeps a release
// table so tests can observe what a cluster would be running.
type helmStub struct {
	mu         sync.Mutex
	releases   map[string]kube.Release
	deletes    []string
	installErr error
}

func (h *helmStub) Install(_ context.Context, _, chart, release, namespace, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.installErr != nil {
		return h.installErr
	}
	if h.releases == nil {
		h.releases = map[string]kube.Release{}
	}
	h.releases[release] = kube.Release{
		Name: release, Revision: "1", Updated: "Tue Aug 25 10:00:00 2026",
		Status: "DEPLOYED", Chart: chart, AppVersion: "1.0", Namespace: namespace,
	}
	return nil
}

func (h *helmStub) Delete(_ context.Context, _, release string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deletes = append(h.deletes, release)
	delete(h.releases, release)
	return nil
}

func (h *helmStub) List(_ context.Context, _, release string) (kube.Release, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rel, ok := h.releases[release]
	return rel, ok, nil
}

func (h *helmStub) deployed(release string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.releases[release]
	return ok
}

func (h *helmStub) deleted() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.deletes...)
}

// kubectlStub stands in for the kubectl subprocess driver, recording the
// cluster mutations the server asks for.
type kubectlStub struct {
	mu                sync.Mutex
	createdNamespaces []string
	deletedNamespaces []string
	deletedObjects    []string
}

func (k *kubectlStub) ApplyManifest(_ context.Context, _, _, _ string) error { return nil }

func (k *kubectlStub) CreateNamespace(_ context.Context, _, name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.createdNamespaces = append(k.createdNamespaces, name)
	return nil
}

func (k *kubectlStub) DeleteNamespace(_ context.Context, _, name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.deletedNamespaces = append(k.deletedNamespaces, name)
	return nil
}

func (k *kubectlStub) Delete(_ context.Context, _, namespace, kind, name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.deletedObjects = append(k.deletedObjects, namespace+"/"+kind+"/"+name)
	return nil
}

func (k *kubectlStub) GetPods(_ context.Context, _, _, _ string) ([]corev1.Pod, error) {
	return nil, nil
}

func (k *kubectlStub) PodLogs(_ context.Context, _, _, _, _ string, _ int, _ bool) (string, error) {
	return "", nil
}

func (k *kubectlStub) DeletePods(_ context.Context, _, _, _ string) error { return nil }

func (k *kubectlStub) ScaleDeployment(_ context.Context, _, _, _ string, _ int) error { return nil }

func (k *kubectlStub) ServiceAddresses(_ context.Context, _, _, _ string) ([]string, error) {
	return nil, nil
}

func (k *kubectlStub) Reachable(_ context.Context, _ string) error { return nil }

func (k *kubectlStub) removedNamespaces() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.deletedNamespaces...)
}

func (k *kubectlStub) removedObjects() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.deletedObjects...)
}

// catalogStub serves a fixed application set regardless of repository tier.
type catalogStub struct {
	apps   map[string]store.Application
	values map[string]string
}

func (c *catalogStub) List(context.Context, catalog.Repository) ([]store.Application, error) {
	var out []store.Application
	for _, app := range c.apps {
		out = append(out, app)
	}
	return out, nil
}

func (c *catalogStub) Find(_ context.Context, _ catalog.Repository, application string) (store.Application, error) {
	return c.apps[application], nil
}

func (c *catalogStub) DefaultValues(_ context.Context, _ catalog.Repository, application string) (string, error) {
	return c.values[application], nil
}

func (c *catalogStub) Chart(_ catalog.Repository, application string) (string, error) {
	return "slate/" + application, nil
}

// env is one running server instance: the handler stack the serve command
// assembles, listening on a real port, with seams for observing cluster
// side effects.
type env struct {
	t *testing.T

	store         *store.Store
	serverContext *server.ServerContext
	health        *server.HealthChecker
	helm          *helmStub
	kubectl       *kubectlStub
	server        *httptest.Server

	admin store.User
	ids   store.IDGenerator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// A long cache validity makes stale reads observable: any value
	// served after an update must come from write-through, not expiry.
	st, err := store.New(storetest.New(), t.TempDir(),
		store.WithLogger(logger),
		store.WithFilesystem(afero.NewMemMapFs()),
		store.WithClusterCacheValidity(time.Hour))
	require.NoError(t, err)

	e := &env{
		t:       t,
		store:   st,
		helm:    &helmStub{},
		kubectl: &kubectlStub{},
	}

	cat := &catalogStub{
		apps: map[string]store.Application{
			"nginx":  {Valid: true, Name: "nginx", ChartVersion: "1.2.3", AppVersion: "1.19", Description: "A basic NGINX HTTP server"},
			"broken": {Valid: true, Name: "broken", ChartVersion: "0.0.1", AppVersion: "0.1", Description: "A chart whose install always fails"},
		},
		values: map[string]string{
			"nginx":  "Instance: default\nreplicaCount: 1\n",
			"broken": "Instance: default\n",
		},
	}

	az := auth.New(st, logger)
	cmds := commands.New(st, az, e.helm, e.kubectl, cat,
		[]byte("integration-test-master-key"),
		commands.WithLogger(logger),
		commands.WithFanoutLimit(4))

	sc, err := server.NewServerContext(context.Background(),
		server.WithStore(st),
		server.WithAuthorizer(az),
		server.WithCommands(cmds),
		server.WithLogger(logger),
		server.WithVersion("integration"))
	require.NoError(t, err)
	e.serverContext = sc
	t.Cleanup(func() { _ = sc.Shutdown() })

	e.health = server.NewHealthChecker(sc)
	apiServer := api.New(cmds, az, st,
		api.WithLogger(logger),
		api.WithVersion(sc.Version()),
		api.WithHealthHandlers(e.health.LivenessHandler(), e.health.ReadinessHandler()))

	var handler http.Handler = apiServer.Handler()
	handler = middleware.MaxRequestSize(4 << 20)(handler)
	handler = middleware.SecurityHeaders(middleware.SecurityHeadersConfig{})(handler)
	handler = middleware.HTTPMetrics(nil)(handler)

	e.server = httptest.NewServer(handler)
	t.Cleanup(e.server.Close)

	e.admin = e.seedAdmin()
	return e
}

// seedAdmin plants the bootstrap administrator the serve command ensures at
// boot; every scenario starts from that account.
func (e *env) seedAdmin() store.User {
	e.t.Helper()
	admin := store.User{
		ID:          e.ids.NewUserID(),
		Name:        "WebPortal Admin",
		Email:       "admin@slateci.io",
		Phone:       "555-0100",
		Institution: "University of Utah",
		Token:       e.ids.NewToken(),
		GlobusID:    "root",
		Admin:       true,
	}
	require.NoError(e.t, e.store.AddUser(context.Background(), admin))
	admin.Valid = true
	return admin
}

// do issues one request. A non-empty token is appended as the token query
// parameter; a non-nil body is marshalled as JSON.
func (e *env) do(method, path, token string, body any) (*http.Response, []byte) {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		rd = bytes.NewReader(raw)
	}
	u := e.server.URL + path
	if token != "" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		u += sep + "token=" + token
	}
	req, err := http.NewRequest(method, u, rd)
	require.NoError(e.t, err)
	resp, err := e.server.Client().Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	return resp, raw
}

// doJSON issues one request and decodes the JSON response body.
func (e *env) doJSON(method, path, token string, body any) (int, map[string]any) {
	e.t.Helper()
	resp, raw := e.do(method, path, token, body)
	if len(raw) == 0 {
		return resp.StatusCode, nil
	}
	var out map[string]any
	require.NoError(e.t, json.Unmarshal(raw, &out), "body: %s", raw)
	return resp.StatusCode, out
}

// meta wraps a request payload the way entity routes expect it.
func meta(m map[string]any) map[string]any {
	return map[string]any{"metadata": m}
}

// metadataOf extracts the metadata object from a response envelope.
func metadataOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	md, ok := body["metadata"].(map[string]any)
	require.True(t, ok, "response carries no metadata object: %v", body)
	return md
}

// itemsOf extracts the items array from a list envelope.
func itemsOf(t *testing.T, body map[string]any) []any {
	t.Helper()
	items, ok := body["items"].([]any)
	require.True(t, ok, "response carries no items array: %v", body)
	return items
}

// createUser registers an account through the API and returns its ID and
// fresh access token.
func (e *env) createUser(name, globusID string) (id, token string) {
	e.t.Helper()
	status, body := e.doJSON(http.MethodPost, "/v1alpha3/users", e.admin.Token, meta(map[string]any{
		"globusID":    globusID,
		"name":        name,
		"email":       strings.ToLower(name) + "@x",
		"admin":       false,
		"institution": "Test University",
	}))
	require.Equal(e.t, http.StatusOK, status, "create user: %v", body)
	md := metadataOf(e.t, body)
	id, _ = md["id"].(string)
	token, _ = md["access_token"].(string)
	require.NotEmpty(e.t, id)
	require.NotEmpty(e.t, token)
	return id, token
}

// createGroup registers a group through the API as the given caller.
func (e *env) createGroup(token, name string) {
	e.t.Helper()
	status, body := e.doJSON(http.MethodPost, "/v1alpha3/groups", token, meta(map[string]any{
		"name":         name,
		"scienceField": "Physics",
		"email":        name + "@x",
	}))
	require.Equal(e.t, http.StatusOK, status, "create group: %v", body)
}

// registerCluster registers a cluster through the API and returns its ID.
func (e *env) registerCluster(token, name, group string) string {
	e.t.Helper()
	status, body := e.doJSON(http.MethodPost, "/v1alpha3/clusters", token, meta(map[string]any{
		"name":         name,
		"group":        group,
		"organization": "Org",
		"kubeconfig":   testKubeconfig,
	}))
	require.Equal(e.t, http.StatusOK, status, "register cluster: %v", body)
	id, _ := metadataOf(e.t, body)["id"].(string)
	require.NotEmpty(e.t, id)
	return id
}

// install deploys an application through the API and returns the response.
func (e *env) install(token, application, group, cluster, configuration string) (int, map[string]any) {
	e.t.Helper()
	return e.doJSON(http.MethodPost, "/v1alpha3/apps/"+application+"?test", token, map[string]any{
		"group":         group,
		"cluster":       cluster,
		"configuration": configuration,
	})
}
