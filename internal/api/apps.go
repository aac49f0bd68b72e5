package api

import (
	"net/http"

	"github.com/slateci/slate-api-server/internal/catalog"
	"github.com/slateci/slate-api-server/internal/commands"
)

// repoFromQuery maps the ?dev and ?test flags onto a catalog tier.
func repoFromQuery(r *http.Request) catalog.Repository {
	q := r.URL.Query()
	return catalog.Select(q.Has("dev"), q.Has("test"))
}

func (s *Server) listApplications(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "list_applications")
	defer span.End()

	apps, err := s.commands.ListApplications(ctx, caller(ctx), repoFromQuery(r))
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeList(w, applicationItems(apps))
}

func (s *Server) applicationValues(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "get_application")
	defer span.End()

	name := pathParam(r, "name")
	rec.WithResource(name)
	app, values, err := s.commands.ApplicationValues(ctx, caller(ctx), repoFromQuery(r), name)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, configObject{
		APIVersion: APIVersion,
		Kind:       kindConfiguration,
		Metadata: configMeta{
			Name:         app.Name,
			AppVersion:   app.AppVersion,
			ChartVersion: app.ChartVersion,
		},
		Spec: values,
	})
}

func (s *Server) installApplication(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "install_application")
	defer span.End()

	var req commands.InstallRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	req.Application = pathParam(r, "name")
	req.Repository = repoFromQuery(r)
	rec.WithGroup(req.GroupRef).WithCluster(req.ClusterRef)
	result, err := s.commands.Install(ctx, caller(ctx), req)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	rec.WithResource(result.Instance.ID)
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, s.instanceDetailEnvelope(ctx, commands.InstanceDetail{
		Instance: result.Instance,
		Release:  result.Release,
	}))
}
