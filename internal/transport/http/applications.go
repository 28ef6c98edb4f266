package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/helparoservices-sys/helparo-dispatch/internal/app"
	"github.com/helparoservices-sys/helparo-dispatch/internal/domain"
)

// ApplicationAccepter is the minimal interface needed to accept an
// application.
type ApplicationAccepter interface {
	AcceptApplication(ctx context.Context, actor domain.Actor, applicationID string) (app.AcceptResult, error)
}

// ApplicationWithdrawer is the minimal interface needed to withdraw
// one.
type ApplicationWithdrawer interface {
	Withdraw(ctx context.Context, actor domain.Actor, applicationID string) (domain.Application, error)
}

// HandleApplicationActions routes /applications/{id}/{action}.
func HandleApplicationActions(accepter ApplicationAccepter, withdrawer ApplicationWithdrawer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		applicationID, action, ok := parseApplicationPath(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		switch action {
		case "accept":
			res, err := accepter.AcceptApplication(r.Context(), actor, applicationID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(acceptResponse{
				Request:          requestResponseFrom(res.Request),
				Application:      applicationResponseFrom(res.Application),
				RejectedSiblings: res.RejectedSiblings,
			})
		case "withdraw":
			withdrawn, err := withdrawer.Withdraw(r.Context(), actor, applicationID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(applicationResponseFrom(withdrawn))
		default:
			http.NotFound(w, r)
		}
	}
}

func parseApplicationPath(path string) (id, action string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "applications" || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

type acceptResponse struct {
	Request          requestResponse     `json:"request"`
	Application      applicationResponse `json:"application"`
	RejectedSiblings int                 `json:"rejected_siblings"`
}
