package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/slateci/slate-api-server/internal/apierr"
)

// APIVersion tags every envelope this server produces. The alias routes
// under /v1alpha1 answer with the same envelopes.
const APIVersion = "v1alpha3"

// Envelope kinds.
const (
	kindUser          = "User"
	kindGroup         = "Group"
	kindCluster       = "Cluster"
	kindInstance      = "ApplicationInstance"
	kindSecret        = "Secret"
	kindApplication   = "Application"
	kindConfiguration = "Configuration"
	kindAccessGrant   = "AccessGrant"
	kindAppGrant      = "AppGrant"
	kindError         = "Error"
)

// maxBodyBytes bounds request bodies. Kubeconfigs are the largest
// legitimate payload and stay far under this.
const maxBodyBytes = 1 << 20

// object is the single-entity response shape.
type object struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
	Metadata   any    `json:"metadata"`
}

// item is one element of a list response.
type item struct {
	Kind     string `json:"kind"`
	Metadata any    `json:"metadata"`
}

// list is the collection response shape. Items holds []item for entity
// collections; the allowed-application list is plain strings.
type list struct {
	APIVersion string `json:"apiVersion"`
	Items      any    `json:"items"`
}

// statusBody answers operations with no entity result: deletions,
// grants, scale and restart. Details carries the note of a tolerated
// forced-teardown failure.
type statusBody struct {
	APIVersion string `json:"apiVersion"`
	Status     string `json:"status"`
	Details    string `json:"details,omitempty"`
}

// errorBody is the error envelope: the kind and the user-facing
// message, nothing else.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeList(w http.ResponseWriter, items any) {
	writeJSON(w, http.StatusOK, list{APIVersion: APIVersion, Items: items})
}

func writeOK(w http.ResponseWriter, details string) {
	writeJSON(w, http.StatusOK, statusBody{APIVersion: APIVersion, Status: "ok", Details: details})
}

// writeError converts any error to the wire envelope. Errors outside
// the apierr kinds collapse to a generic 500; internal detail never
// reaches the caller.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apierr.HTTPStatus(err), errorBody{Kind: kindError, Message: apierr.Message(err)})
}

// decodeMetadata reads a {metadata: {...}} request body into dst.
// Entity create and update bodies all use this wrapping.
func decodeMetadata(r *http.Request, dst any) error {
	var body struct {
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	if len(body.Metadata) == 0 {
		return apierr.BadRequest("request body must carry a metadata object")
	}
	if err := json.Unmarshal(body.Metadata, dst); err != nil {
		return apierr.BadRequest("malformed metadata: %v", err)
	}
	return nil
}

// decodeBody reads a flat JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return apierr.BadRequest("malformed request body: %v", err)
	}
	return nil
}
