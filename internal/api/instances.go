package api

import (
	"net/http"
	"strconv"

	"github.com/slateci/slate-api-server/internal/apierr"
	"github.com/slateci/slate-api-server/internal/commands"
)

func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "list_instances")
	defer span.End()

	q := r.URL.Query()
	groupRef, clusterRef := q.Get("group"), q.Get("cluster")
	if groupRef != "" {
		rec.WithGroup(groupRef)
	}
	if clusterRef != "" {
		rec.WithCluster(clusterRef)
	}
	instances, err := s.commands.ListInstances(ctx, caller(ctx), groupRef, clusterRef)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeList(w, s.instanceItems(ctx, instances))
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "get_instance")
	defer span.End()

	id := pathParam(r, "id")
	rec.WithResource(id)
	detail, err := s.commands.GetInstance(ctx, caller(ctx), id)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeJSON(w, http.StatusOK, s.instanceDetailEnvelope(ctx, detail))
}

func (s *Server) deleteInstance(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "delete_instance")
	defer span.End()

	id := pathParam(r, "id")
	rec.WithResource(id)
	note, err := s.commands.DeleteInstance(ctx, caller(ctx), id, r.URL.Query().Has("force"))
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeOK(w, note)
}

// logOptions parses the instance log query parameters. An unparsable or
// negative max_lines is refused rather than silently treated as zero.
func logOptions(r *http.Request) (commands.LogOptions, error) {
	q := r.URL.Query()
	opts := commands.LogOptions{
		Container: q.Get("container"),
		Previous:  q.Has("previous"),
	}
	if raw := q.Get("max_lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return commands.LogOptions{}, apierr.BadRequest("max_lines must be a non-negative integer")
		}
		opts.MaxLines = n
	}
	return opts, nil
}

func (s *Server) instanceLogs(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "instance_logs")
	defer span.End()

	id := pathParam(r, "id")
	rec.WithResource(id)
	opts, err := logOptions(r)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	logs, err := s.commands.InstanceLogs(ctx, caller(ctx), id, opts)
	if err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(logs))
}

func (s *Server) scaleInstance(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "scale_instance")
	defer span.End()

	id := pathParam(r, "id")
	rec.WithResource(id)
	var req commands.ScaleRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	if err := s.commands.ScaleInstance(ctx, caller(ctx), id, req); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeOK(w, "")
}

func (s *Server) restartInstance(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := s.begin(r, "restart_instance")
	defer span.End()

	id := pathParam(r, "id")
	rec.WithResource(id)
	if err := s.commands.RestartInstance(ctx, caller(ctx), id); err != nil {
		s.fail(ctx, w, span, rec, err)
		return
	}
	s.finish(ctx, span, rec, nil)
	writeOK(w, "")
}
