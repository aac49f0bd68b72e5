package api

import (
	"net/http"

	"github.com/slateci/slate-api-server/internal/commands"
)

func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "list_clusters")
	defer span.End()

	clusters, err := s.commands.ListClusters(ctx, caller(ctx))
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeList(w, s.clusterItems(ctx, clusters))
}

func (s *Server) registerCluster(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "register_cluster")
	defer span.End()

	var req commands.RegisterClusterRequest
	if err := decodeMetadata(r, &req); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	rec.WithCluster(req.Name).WithGroup(req.GroupRef)
	cl, err := s.commands.RegisterCluster(ctx, caller(ctx), req)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	rec.WithResource(cl.ID)
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, s.clusterEnvelope(ctx, cl))
}

func (s *Server) getCluster(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "get_cluster")
	defer span.End()

	ref := pathParam(r, "cluster")
	rec.WithCluster(ref)
	cl, err := s.commands.GetCluster(ctx, caller(ctx), ref)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	rec.WithResource(cl.ID)
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, s.clusterEnvelope(ctx, cl))
}

func (s *Server) updateCluster(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "update_cluster")
	defer span.End()

	ref := pathParam(r, "cluster")
	rec.WithCluster(ref)
	var req commands.UpdateClusterRequest
	if err := decodeMetadata(r, &req); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	cl, err := s.commands.UpdateCluster(ctx, caller(ctx), ref, req)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	rec.WithResource(cl.ID)
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, s.clusterEnvelope(ctx, cl))
}

func (s *Server) deleteCluster(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "delete_cluster")
	defer span.End()

	ref := pathParam(r, "cluster")
	rec.WithCluster(ref)
	if err := s.commands.DeleteCluster(ctx, caller(ctx), ref); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeOK(w, "")
}

func (s *Server) pingCluster(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "ping_cluster")
	defer span.End()

	ref := pathParam(r, "cluster")
	rec.WithCluster(ref)
	if err := s.commands.PingCluster(ctx, caller(ctx), ref); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeOK(w, "cluster reachable")
}

func (s *Server) listAllowedGroups(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "list_allowed_groups")
	defer span.End()

	ref := pathParam(r, "cluster")
	rec.WithCluster(ref)
	groups, err := s.commands.ListClusterAllowedGroups(ctx, caller(ctx), ref)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeList(w, groupItems(groups))
}

func (s *Server) getGroupAccess(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "get_group_access")
	defer span.End()

	clusterRef, groupRef := pathParam(r, "cluster"), pathParam(r, "group")
	rec.WithCluster(clusterRef).WithGroup(groupRef)
	access, err := s.commands.GroupClusterAccess(ctx, caller(ctx), clusterRef, groupRef)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, object{
		APIVersion: APIVersion,
		Kind:       kindAccessGrant,
		Metadata: accessMeta{
			Cluster: access.Cluster,
			Group:   access.Group,
			Allowed: access.Allowed,
		},
	})
}

func (s *Server) grantGroupAccess(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "grant_group_access")
	defer span.End()

	clusterRef, groupRef := pathParam(r, "cluster"), pathParam(r, "group")
	rec.WithCluster(clusterRef).WithGroup(groupRef)
	if err := s.commands.GrantGroupClusterAccess(ctx, caller(ctx), clusterRef, groupRef); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeOK(w, "")
}

func (s *Server) revokeGroupAccess(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "revoke_group_access")
	defer span.End()

	clusterRef, groupRef := pathParam(r, "cluster"), pathParam(r, "group")
	rec.WithCluster(clusterRef).WithGroup(groupRef)
	if err := s.commands.RevokeGroupClusterAccess(ctx, caller(ctx), clusterRef, groupRef); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeOK(w, "")
}

func (s *Server) listAllowedApplications(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "list_allowed_applications")
	defer span.End()

	clusterRef, groupRef := pathParam(r, "cluster"), pathParam(r, "group")
	rec.WithCluster(clusterRef).WithGroup(groupRef)
	apps, err := s.commands.ListGroupAllowedApplications(ctx, caller(ctx), clusterRef, groupRef)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	if apps == nil {
		apps = []string{}
	}
	s.finish(ctx, span, rec, nil)
	writeList(w, apps)
}

func (s *Server) getApplicationGrant(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "get_application_grant")
	defer span.End()

	clusterRef, groupRef := pathParam(r, "cluster"), pathParam(r, "group")
	application := pathParam(r, "application")
	rec.WithCluster(clusterRef).WithGroup(groupRef)
	apps, err := s.commands.ListGroupAllowedApplications(ctx, caller(ctx), clusterRef, groupRef)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	allowed := false
	for _, a := range apps {
		if a == "*" || a == application {
			allowed = true
			break
		}
	}
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, object{
		APIVersion: APIVersion,
		Kind:       kindAppGrant,
		Metadata: appGrantMeta{
			Cluster:     clusterRef,
			Group:       groupRef,
			Application: application,
			Allowed:     allowed,
		},
	})
}

func (s *Server) grantApplication(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "grant_application")
	defer span.End()

	clusterRef, groupRef := pathParam(r, "cluster"), pathParam(r, "group")
	application := pathParam(r, "application")
	rec.WithCluster(clusterRef).WithGroup(groupRef)
	if err := s.commands.GrantGroupApplication(ctx, caller(ctx), clusterRef, groupRef, application); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeOK(w, "")
}

func (s *Server) revokeApplication(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "revoke_application")
	defer span.End()

	clusterRef, groupRef := pathParam(r, "cluster"), pathParam(r, "group")
	application := pathParam(r, "application")
	rec.WithCluster(clusterRef).WithGroup(groupRef)
	if err := s.commands.RevokeGroupApplication(ctx, caller(ctx), clusterRef, groupRef, application); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeOK(w, "")
}
