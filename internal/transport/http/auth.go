package http

import (
	"context"
	"net/http"

	"github.com/helparoservices-sys/helparo-dispatch/internal/domain"
)

// Actor identity arrives as trusted headers set by the edge proxy. The
// engine itself does no credential verification.
const (
	actorIDHeader   = "X-Actor-ID"
	actorRoleHeader = "X-Actor-Role"
)

type actorKey struct{}

// WithActor resolves the actor headers once and rejects requests that
// carry no usable identity. Handlers downstream read the actor from the
// request context.
func WithActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(actorIDHeader)
		role := r.Header.Get(actorRoleHeader)
		if id == "" || !domain.ValidRole(role) {
			writeError(w, http.StatusUnauthorized, codeUnauthenticated, "missing or invalid actor identity")
			return
		}

		ctx := context.WithValue(r.Context(), actorKey{}, domain.Actor{ID: id, Role: domain.Role(role)})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(r *http.Request) (domain.Actor, bool) {
	actor, ok := r.Context().Value(actorKey{}).(domain.Actor)
	return actor, ok
}

// requireActor reads the actor injected by WithActor, writing a 401
// when the route was mounted without it.
func requireActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "missing or invalid actor identity")
	}
	return actor, ok
}
