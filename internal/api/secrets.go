package api

import (
	"encoding/base64"
	"net/http"

	"github.com/slateci/slate-api-server/internal/commands"
	"github.com/slateci/slate-api-server/internal/store"
)

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "list_secrets")
	defer span.End()

	q := r.URL.Query()
	groupRef, clusterRef := q.Get("group"), q.Get("cluster")
	if groupRef != "" {
		rec.WithGroup(groupRef)
	}
	if clusterRef != "" {
		rec.WithCluster(clusterRef)
	}
	secrets, err := s.commands.ListSecrets(ctx, caller(ctx), groupRef, clusterRef)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeList(w, s.secretItems(ctx, secrets))
}

// createSecret handles both fresh secrets and copies. A sourceID in the
// metadata switches the request to copy mode, where contents come from
// the source secret instead of the request.
func (s *Server) createSecret(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "create_secret")
	defer span.End()

	var meta struct {
		Name       string            `json:"name"`
		GroupRef   string            `json:"group"`
		ClusterRef string            `json:"cluster"`
		Contents   map[string]string `json:"contents"`
		SourceID   string            `json:"sourceID"`
	}
	if err := decodeMetadata(r, &meta); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	rec.WithGroup(meta.GroupRef).WithCluster(meta.ClusterRef)

	var sec store.Secret
	var err error
	if meta.SourceID != "" {
		sec, err = s.commands.CopySecret(ctx, caller(ctx), commands.CopySecretRequest{
			Name:       meta.Name,
			GroupRef:   meta.GroupRef,
			ClusterRef: meta.ClusterRef,
			SourceID:   meta.SourceID,
		})
	} else {
		sec, err = s.commands.CreateSecret(ctx, caller(ctx), commands.CreateSecretRequest{
			Name:       meta.Name,
			GroupRef:   meta.GroupRef,
			ClusterRef: meta.ClusterRef,
			Contents:   meta.Contents,
		})
	}
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	rec.WithResource(sec.ID)
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, object{
		APIVersion: APIVersion,
		Kind:       kindSecret,
		Metadata:   s.secretMetadata(ctx, sec),
	})
}

func (s *Server) getSecret(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "get_secret")
	defer span.End()

	id := pathParam(r, "id")
	rec.WithResource(id)
	detail, err := s.commands.GetSecret(ctx, caller(ctx), id)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	defer detail.Wipe()

	contents := make(map[string]string, len(detail.Contents))
	for k, v := range detail.Contents {
		contents[k] = base64.StdEncoding.EncodeToString(v)
	}
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, secretObject{
		APIVersion: APIVersion,
		Kind:       kindSecret,
		Metadata:   s.secretMetadata(ctx, detail.Secret),
		Contents:   contents,
	})
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "delete_secret")
	defer span.End()

	id := pathParam(r, "id")
	rec.WithResource(id)
	if err := s.commands.DeleteSecret(ctx, caller(ctx), id); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeOK(w, "")
}
