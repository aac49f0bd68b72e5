package api

import (
	"net/http"

	"github.com/slateci/slate-api-server/internal/commands"
)

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "list_groups")
	defer span.End()

	groups, err := s.commands.ListGroups(ctx, caller(ctx))
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeList(w, groupItems(groups))
}

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "create_group")
	defer span.End()

	var req commands.CreateGroupRequest
	if err := decodeMetadata(r, &req); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	rec.WithGroup(req.Name)
	g, err := s.commands.CreateGroup(ctx, caller(ctx), req)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	rec.WithResource(g.ID)
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, groupEnvelope(g))
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "get_group")
	defer span.End()

	ref := pathParam(r, "group")
	rec.WithGroup(ref)
	g, err := s.commands.GetGroup(ctx, caller(ctx), ref)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	rec.WithResource(g.ID)
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, groupEnvelope(g))
}

func (s *Server) updateGroup(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "update_group")
	defer span.End()

	ref := pathParam(r, "group")
	rec.WithGroup(ref)
	var req commands.UpdateGroupRequest
	if err := decodeMetadata(r, &req); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	g, err := s.commands.UpdateGroup(ctx, caller(ctx), ref, req)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	rec.WithResource(g.ID)
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, groupEnvelope(g))
}

func (s *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "delete_group")
	defer span.End()

	ref := pathParam(r, "group")
	rec.WithGroup(ref)
	if err := s.commands.DeleteGroup(ctx, caller(ctx), ref); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeOK(w, "")
}

func (s *Server) listGroupMembers(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "list_group_members")
	defer span.End()

	ref := pathParam(r, "group")
	rec.WithGroup(ref)
	members, err := s.commands.ListGroupMembers(ctx, caller(ctx), ref)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeList(w, userItems(members))
}
