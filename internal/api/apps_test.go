package api_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slateci/slate-api-server/internal/apierr"
)

func TestListApplications(t *testing.T) {
	e := newAPIEnv(t)
	u := e.addUser("alice", false)

	status, body := e.doJSON(http.MethodGet, "/v1alpha3/apps", u.Token, nil)
	require.Equal(t, http.StatusOK, status)
	items := itemsOf(t, body)
	require.Len(t, items, 1)
	it := items[0].(map[string]any)
	require.Equal(t, "Application", it["kind"])
	md := metadataOf(t, it)
	require.Equal(t, "nginx", md["name"])
	require.Equal(t, "1.2.3", md["chartVersion"])
	require.Equal(t, "1.19", md["appVersion"])
}

func TestApplicationDefaultValues(t *testing.T) {
	e := newAPIEnv(t)
	u := e.addUser("alice", false)

	status, body := e.doJSON(http.MethodGet, "/v1alpha3/apps/nginx", u.Token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Configuration", body["kind"])
	require.Equal(t, "Instance: default\nreplicaCount: 1\n", body["spec"])
	require.Equal(t, "nginx", metadataOf(t, body)["name"])

	status, body = e.doJSON(http.MethodGet, "/v1alpha3/apps/unknown", u.Token, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "Application not found", body["message"])
}

func TestInstallApplication(t *testing.T) {
	e := newAPIEnv(t)
	u := e.addUser("alice", false)
	g := e.addGroup("g1", u)
	e.addCluster("c1", g)

	status, body := e.doJSON(http.MethodPost, "/v1alpha3/apps/nginx?test", u.Token, map[string]any{
		"group":         "g1",
		"cluster":       "c1",
		"configuration": "Instance: web\n",
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ApplicationInstance", body["kind"])
	require.Equal(t, "DEPLOYED", body["status"])

	md := metadataOf(t, body)
	id, _ := md["id"].(string)
	require.True(t, strings.HasPrefix(id, "Instance_"), "id %q", id)
	require.Equal(t, "g1-nginx-web", md["name"])
	require.Equal(t, "nginx", md["application"])
	require.Equal(t, "g1", md["group"])
	require.Equal(t, "c1", md["cluster"])

	require.True(t, e.helm.deployed("g1-nginx-web"))
	e.kubectl.mu.Lock()
	created := append([]string(nil), e.kubectl.createdNamespaces...)
	e.kubectl.mu.Unlock()
	require.Contains(t, created, "slate-group-g1")

	// The record is immediately visible.
	status, body = e.doJSON(http.MethodGet, "/v1alpha3/instances/"+id, u.Token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Instance: web\n", metadataOf(t, body)["configuration"])
}

func TestInstallDuplicateNameConflicts(t *testing.T) {
	e := newAPIEnv(t)
	u := e.addUser("alice", false)
	g := e.addGroup("g1", u)
	e.addCluster("c1", g)

	body := map[string]any{"group": "g1", "cluster": "c1", "configuration": "Instance: web\n"}
	status, _ := e.doJSON(http.MethodPost, "/v1alpha3/apps/nginx", u.Token, body)
	require.Equal(t, http.StatusOK, status)

	status, resp := e.doJSON(http.MethodPost, "/v1alpha3/apps/nginx", u.Token, body)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "Error", resp["kind"])
}

func TestInstallRollsBackOnHelmFailure(t *testing.T) {
	e := newAPIEnv(t)
	u := e.addUser("alice", false)
	g := e.addGroup("g1", u)
	e.addCluster("c1", g)
	e.helm.installErr = apierr.Upstream("Error: could not find tiller", nil)

	status, body := e.doJSON(http.MethodPost, "/v1alpha3/apps/nginx", u.Token, map[string]any{
		"group":         "g1",
		"cluster":       "c1",
		"configuration": "Instance: web\n",
	})
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "Error", body["kind"])
	require.Equal(t, "Error: could not find tiller", body["message"])

	// The half-created release was purged and no record survived.
	require.False(t, e.helm.deployed("g1-nginx-web"))
	status, body = e.doJSON(http.MethodGet, "/v1alpha3/instances", u.Token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, itemsOf(t, body))
}

func TestInstallNeedsApplicationGrant(t *testing.T) {
	e := newAPIEnv(t)
	owner := e.addUser("alice", false)
	guest := e.addUser("bob", false)
	g1 := e.addGroup("g1", owner)
	e.addGroup("g2", guest)
	e.addCluster("c1", g1)

	install := map[string]any{"group": "g2", "cluster": "c1", "configuration": "Instance: web\n"}
	status, body := e.doJSON(http.MethodPost, "/v1alpha3/apps/nginx", guest.Token, install)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "Not authorized", body["message"])

	// An access grant carries the wildcard, which is enough to install.
	status, _ = e.doJSON(http.MethodPut, "/v1alpha3/clusters/c1/allowed_groups/g2", owner.Token, nil)
	require.Equal(t, http.StatusOK, status)
	status, body = e.doJSON(http.MethodPost, "/v1alpha3/apps/nginx", guest.Token, install)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "g2-nginx-web", metadataOf(t, body)["name"])
}
