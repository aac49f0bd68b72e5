package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/slateci/slate-api-server/internal/apierr"
	"github.com/slateci/slate-api-server/internal/instrumentation"
	"github.com/slateci/slate-api-server/internal/store"
)

// callerKey carries the authenticated user through the request context.
type callerKey struct{}

// caller returns the user the authenticate middleware stored. Routes
// behind the middleware always see a valid record.
func caller(ctx context.Context) store.User {
	u, _ := ctx.Value(callerKey{}).(store.User)
	return u
}

// authenticate resolves the token query parameter to a user and rejects
// the request otherwise. The envelope is the same for a missing and an
// unknown token so callers cannot probe which tokens exist; the metric
// label still tells the two apart for operators.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		user, err := s.auth.UserForToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, apierr.ErrUnauthenticated) {
				reason := instrumentation.AuthFailureUnknownToken
				if token == "" {
					reason = instrumentation.AuthFailureMissingToken
				}
				s.metrics.RecordAuthFailure(r.Context(), reason)
			}
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, user)))
	})
}
