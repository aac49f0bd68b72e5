package api_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServerInfoNeedsNoToken(t *testing.T) {
	e := newAPIEnv(t)

	status, body := e.doJSON(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "v1alpha3", body["apiVersion"])
	require.Equal(t, "test", body["serverVersion"])
	require.Equal(t, []any{"v1alpha3", "v1alpha1"}, body["supportedApiVersions"])
}

func TestMissingTokenRejected(t *testing.T) {
	e := newAPIEnv(t)

	status, body := e.doJSON(http.MethodGet, "/v1alpha3/groups", "", nil)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "Error", body["kind"])
	require.Equal(t, "Not authorized", body["message"])
}

func TestUnknownTokenRejected(t *testing.T) {
	e := newAPIEnv(t)

	status, body := e.doJSON(http.MethodGet, "/v1alpha3/groups", "no-such-token", nil)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "Error", body["kind"])
	require.Equal(t, "Not authorized", body["message"])
}

func TestLegacyVersionPrefixServesSameAPI(t *testing.T) {
	e := newAPIEnv(t)
	u := e.addUser("alice", false)
	e.addGroup("g1", u)

	status, body := e.doJSON(http.MethodGet, "/v1alpha1/groups", u.Token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, itemsOf(t, body), 1)
}

func TestUnknownEndpointIsJSON(t *testing.T) {
	e := newAPIEnv(t)
	u := e.addUser("alice", false)

	status, body := e.doJSON(http.MethodGet, "/v1alpha3/nonsense", u.Token, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "Error", body["kind"])
	require.Equal(t, "endpoint not found", body["message"])
}

func TestWrongMethodIsJSON(t *testing.T) {
	e := newAPIEnv(t)
	u := e.addUser("alice", false)

	status, body := e.doJSON(http.MethodPut, "/v1alpha3/groups", u.Token, nil)
	require.Equal(t, http.StatusMethodNotAllowed, status)
	require.Equal(t, "Error", body["kind"])
	require.Equal(t, "Method not allowed", body["message"])
}

func TestMalformedBodyRejected(t *testing.T) {
	e := newAPIEnv(t)
	u := e.addUser("alice", false)

	resp, raw := e.do(http.MethodPost, "/v1alpha3/groups", u.Token, "not an object")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(raw), "malformed request body")
}
