package api_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateGroupAddsCreator(t *testing.T) {
	e := newAPIEnv(t)
	u := e.addUser("alice", false)

	status, body := e.doJSON(http.MethodPost, "/v1alpha3/groups", u.Token, meta(map[string]any{
		"name":         "g1",
		"scienceField": "Physics",
	}))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Group", body["kind"])
	md := metadataOf(t, body)
	id, _ := md["id"].(string)
	require.True(t, strings.HasPrefix(id, "Group_"), "id %q", id)
	require.Equal(t, "g1", md["name"])
	require.Equal(t, "Physics", md["scienceField"])

	status, body = e.doJSON(http.MethodGet, "/v1alpha3/groups/g1/members", u.Token, nil)
	require.Equal(t, http.StatusOK, status)
	items := itemsOf(t, body)
	require.Len(t, items, 1)
	require.Equal(t, u.ID, metadataOf(t, items[0].(map[string]any))["id"])
}

func TestCreateGroupRefusesReservedName(t *testing.T) {
	e := newAPIEnv(t)
	u := e.addUser("alice", false)

	status, _ := e.doJSON(http.MethodPost, "/v1alpha3/groups", u.Token, meta(map[string]any{
		"name":         "slate-system",
		"scienceField": "Physics",
	}))
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = e.doJSON(http.MethodPost, "/v1alpha3/groups", u.Token, meta(map[string]any{
		"name": "g1",
	}))
	require.Equal(t, http.StatusBadRequest, status)
}

func TestGetGroupByNameOrID(t *testing.T) {
	e := newAPIEnv(t)
	u := e.addUser("alice", false)
	g := e.addGroup("g1", u)

	status, body := e.doJSON(http.MethodGet, "/v1alpha3/groups/g1", u.Token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, g.ID, metadataOf(t, body)["id"])

	status, body = e.doJSON(http.MethodGet, "/v1alpha3/groups/"+g.ID, u.Token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "g1", metadataOf(t, body)["name"])

	status, body = e.doJSON(http.MethodGet, "/v1alpha3/groups/nope", u.Token, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "Group not found", body["message"])
}

func TestUpdateGroupVisibleImmediately(t *testing.T) {
	e := newAPIEnv(t)
	u := e.addUser("alice", false)
	e.addGroup("g1", u)

	status, _ := e.doJSON(http.MethodPut, "/v1alpha3/groups/g1", u.Token, meta(map[string]any{
		"description": "dark matter search",
	}))
	require.Equal(t, http.StatusOK, status)

	status, body := e.doJSON(http.MethodGet, "/v1alpha3/groups/g1", u.Token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "dark matter search", metadataOf(t, body)["description"])
}

func TestNonMemberCannotModifyGroup(t *testing.T) {
	e := newAPIEnv(t)
	u := e.addUser("alice", false)
	outsider := e.addUser("bob", false)
	e.addGroup("g1", u)

	status, body := e.doJSON(http.MethodPut, "/v1alpha3/groups/g1", outsider.Token, meta(map[string]any{
		"description": "hijacked",
	}))
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "Not authorized", body["message"])
}

func TestDeleteGroupCascades(t *testing.T) {
	e := newAPIEnv(t)
	u := e.addUser("alice", false)
	g := e.addGroup("g1", u)
	cl := e.addCluster("c1", g)
	inst := e.addInstance("g1-nginx-web", "nginx", g, cl)
	// A secret deployed alongside the instance.
	status, body := e.doJSON(http.MethodPost, "/v1alpha3/secrets", u.Token, meta(map[string]any{
		"name":     "db-creds",
		"group":    "g1",
		"cluster":  "c1",
		"contents": map[string]string{"password": "aHVudGVyMg=="},
	}))
	require.Equal(t, http.StatusOK, status)
	secretID, _ := metadataOf(t, body)["id"].(string)

	status, body = e.doJSON(http.MethodDelete, "/v1alpha3/groups/g1", u.Token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])

	// The instance record and its release are gone.
	status, _ = e.doJSON(http.MethodGet, "/v1alpha3/instances/"+inst.ID, u.Token, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.False(t, e.helm.deployed(inst.Name))

	// The group namespace was removed from the cluster it owned.
	require.Contains(t, e.kubectl.removedNamespaces(), "slate-group-g1")

	// The secret record is gone with its group.
	status, _ = e.doJSON(http.MethodGet, "/v1alpha3/secrets/"+secretID, u.Token, nil)
	require.Equal(t, http.StatusNotFound, status)

	// The owned cluster cascaded away too.
	status, body = e.doJSON(http.MethodGet, "/v1alpha3/clusters", u.Token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, itemsOf(t, body))
}
