package api

import (
	"net/http"

	"github.com/slateci/slate-api-server/internal/apierr"
	"github.com/slateci/slate-api-server/internal/commands"
)

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "list_users")
	defer span.End()

	users, err := s.commands.ListUsers(ctx, caller(ctx))
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeList(w, userItems(users))
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "create_user")
	defer span.End()

	var req commands.CreateUserRequest
	if err := decodeMetadata(r, &req); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	u, err := s.commands.CreateUser(ctx, caller(ctx), req)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	rec.WithResource(u.ID)
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, userEnvelope(u, true))
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "get_user")
	defer span.End()

	id := pathParam(r, "id")
	rec.WithResource(id)
	u, err := s.commands.GetUser(ctx, caller(ctx), id)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, userEnvelope(u, true))
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "update_user")
	defer span.End()

	id := pathParam(r, "id")
	rec.WithResource(id)
	var req commands.UpdateUserRequest
	if err := decodeMetadata(r, &req); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	u, err := s.commands.UpdateUser(ctx, caller(ctx), id, req)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, userEnvelope(u, true))
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "delete_user")
	defer span.End()

	id := pathParam(r, "id")
	rec.WithResource(id)
	if err := s.commands.DeleteUser(ctx, caller(ctx), id); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeOK(w, "")
}

func (s *Server) listUserGroups(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "list_user_groups")
	defer span.End()

	id := pathParam(r, "id")
	rec.WithResource(id)
	groups, err := s.commands.ListUserGroups(ctx, caller(ctx), id)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeList(w, groupItems(groups))
}

func (s *Server) addUserToGroup(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "add_user_to_group")
	defer span.End()

	id, group := pathParam(r, "id"), pathParam(r, "group")
	rec.WithResource(id).WithGroup(group)
	if err := s.commands.AddUserToGroup(ctx, caller(ctx), id, group); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeOK(w, "")
}

func (s *Server) removeUserFromGroup(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "remove_user_from_group")
	defer span.End()

	id, group := pathParam(r, "id"), pathParam(r, "group")
	rec.WithResource(id).WithGroup(group)
	if err := s.commands.RemoveUserFromGroup(ctx, caller(ctx), id, group); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeOK(w, "")
}

func (s *Server) replaceUserToken(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "replace_user_token")
	defer span.End()

	id := pathParam(r, "id")
	rec.WithResource(id)
	u, err := s.commands.ReplaceUserToken(ctx, caller(ctx), id)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, userEnvelope(u, true))
}

func (s *Server) findUser(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "find_user")
	defer span.End()

	globusID := r.URL.Query().Get("globus_id")
	if globusID == "" {
		s.fail(ctx, w, span, rec, apierr.BadRequest("globus_id query parameter is required"))
		return
	}
	u, err := s.commands.FindUserByGlobusID(ctx, caller(ctx), globusID)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	rec.WithResource(u.ID)
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, userEnvelope(u, true))
}
