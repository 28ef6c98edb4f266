package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/helparoservices-sys/helparo-dispatch/internal/app"
	"github.com/helparoservices-sys/helparo-dispatch/internal/domain"
)

// RequestCreator is the minimal interface needed to create a request.
type RequestCreator interface {
	CreateRequest(ctx context.Context, actor domain.Actor, in app.CreateRequestInput) (domain.ServiceRequest, error)
}

// HandleCreateRequest returns an HTTP handler for POST /requests.
func HandleCreateRequest(svc RequestCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req createRequestRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.Category == "" {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, "category is required")
			return
		}

		created, err := svc.CreateRequest(r.Context(), actor, app.CreateRequestInput{
			Category:    req.Category,
			Description: req.Description,
			Location:    domain.Location{Lat: req.Lat, Lng: req.Lng},
			BudgetMin:   req.BudgetMin,
			BudgetMax:   req.BudgetMax,
			Urgency:     domain.Urgency(req.Urgency),
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(requestResponseFrom(created))
	}
}

// RequestActions bundles the services behind the /requests/{id}/...
// routes.
type RequestActions struct {
	Broadcaster RequestBroadcaster
	Applier     Applier
	Lister      ApplicationLister
	Advancer    TrackingAdvancer
	Canceller   RequestCanceller
	Getter      RequestGetter
}

type RequestBroadcaster interface {
	BroadcastRequest(ctx context.Context, requestID string) (app.BroadcastResult, error)
}

type Applier interface {
	Apply(ctx context.Context, actor domain.Actor, in app.ApplyInput) (domain.Application, error)
}

type ApplicationLister interface {
	ListApplications(ctx context.Context, requestID string) ([]domain.Application, error)
}

type TrackingAdvancer interface {
	AdvanceTracking(ctx context.Context, actor domain.Actor, requestID string, next domain.BroadcastStatus) (domain.ServiceRequest, error)
}

type RequestCanceller interface {
	CancelRequest(ctx context.Context, actor domain.Actor, requestID, reason string) (domain.ServiceRequest, error)
}

type RequestGetter interface {
	GetRequest(ctx context.Context, id string) (domain.ServiceRequest, error)
}

// HandleRequestActions routes /requests/{id}/{action}.
func HandleRequestActions(actions RequestActions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, action, ok := parseRequestPath(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		switch action {
		case "broadcast":
			handleBroadcast(w, r, actions.Broadcaster, requestID)
		case "applications":
			switch r.Method {
			case http.MethodPost:
				handleApply(w, r, actions.Applier, actor, requestID)
			case http.MethodGet:
				handleListApplications(w, r, actions.Lister, requestID)
			default:
				writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			}
		case "advance":
			handleAdvance(w, r, actions.Advancer, actor, requestID)
		case "cancel":
			handleCancelRequest(w, r, actions.Canceller, actor, requestID)
		case "status":
			handleRequestStatus(w, r, actions.Getter, requestID)
		default:
			http.NotFound(w, r)
		}
	}
}

func parseRequestPath(path string) (id, action string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "requests" || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func handleBroadcast(w http.ResponseWriter, r *http.Request, svc RequestBroadcaster, requestID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		return
	}

	res, err := svc.BroadcastRequest(r.Context(), requestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(broadcastResponse{
		Candidates: res.Candidates,
		Notified:   res.Notified,
	})
}

func handleApply(w http.ResponseWriter, r *http.Request, svc Applier, actor domain.Actor, requestID string) {
	var req applyRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}

	created, err := svc.Apply(r.Context(), actor, app.ApplyInput{
		RequestID: requestID,
		Rate:      req.Rate,
		Note:      req.Note,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(applicationResponseFrom(created))
}

func handleListApplications(w http.ResponseWriter, r *http.Request, svc ApplicationLister, requestID string) {
	apps, err := svc.ListApplications(r.Context(), requestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]applicationResponse, 0, len(apps))
	for _, a := range apps {
		out = append(out, applicationResponseFrom(a))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}

func handleAdvance(w http.ResponseWriter, r *http.Request, svc TrackingAdvancer, actor domain.Actor, requestID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		return
	}

	var req advanceRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, codeMissingRequiredField, "status is required")
		return
	}

	updated, err := svc.AdvanceTracking(r.Context(), actor, requestID, domain.BroadcastStatus(req.Status))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(requestResponseFrom(updated))
}

func handleCancelRequest(w http.ResponseWriter, r *http.Request, svc RequestCanceller, actor domain.Actor, requestID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		return
	}

	// The body is optional; cancelling without a reason is fine.
	var req cancelRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}

	updated, err := svc.CancelRequest(r.Context(), actor, requestID, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(requestResponseFrom(updated))
}

func handleRequestStatus(w http.ResponseWriter, r *http.Request, svc RequestGetter, requestID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		return
	}

	req, err := svc.GetRequest(r.Context(), requestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(requestResponseFrom(req))
}

type createRequestRequest struct {
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	BudgetMin   int64   `json:"budget_min"`
	BudgetMax   int64   `json:"budget_max"`
	Urgency     string  `json:"urgency"`
}

type applyRequest struct {
	Rate int64  `json:"rate"`
	Note string `json:"note"`
}

type advanceRequest struct {
	Status string `json:"status"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type broadcastResponse struct {
	Candidates int `json:"candidates"`
	Notified   int `json:"notified"`
}

type requestResponse struct {
	ID               string     `json:"id"`
	CustomerID       string     `json:"customer_id"`
	Category         string     `json:"category"`
	Description      string     `json:"description,omitempty"`
	Lat              float64    `json:"lat"`
	Lng              float64    `json:"lng"`
	BudgetMin        int64      `json:"budget_min"`
	BudgetMax        int64      `json:"budget_max"`
	Urgency          string     `json:"urgency"`
	Status           string     `json:"status"`
	BroadcastStatus  string     `json:"broadcast_status,omitempty"`
	AssignedHelperID string     `json:"assigned_helper_id,omitempty"`
	BroadcastExpires *time.Time `json:"broadcast_expires_at,omitempty"`
	AcceptedAt       *time.Time `json:"accepted_at,omitempty"`
	CancelReason     string     `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func requestResponseFrom(r domain.ServiceRequest) requestResponse {
	resp := requestResponse{
		ID:               r.ID,
		CustomerID:       r.CustomerID,
		Category:         r.Category,
		Description:      r.Description,
		Lat:              r.Location.Lat,
		Lng:              r.Location.Lng,
		BudgetMin:        r.BudgetMin,
		BudgetMax:        r.BudgetMax,
		Urgency:          string(r.Urgency),
		Status:           string(r.Status),
		BroadcastStatus:  string(r.BroadcastStatus),
		AssignedHelperID: r.AssignedHelperID,
		CancelReason:     r.CancelReason,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if !r.BroadcastExpiresAt.IsZero() {
		t := r.BroadcastExpiresAt
		resp.BroadcastExpires = &t
	}
	if !r.AcceptedAt.IsZero() {
		t := r.AcceptedAt
		resp.AcceptedAt = &t
	}
	return resp
}

type applicationResponse struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	HelperID  string    `json:"helper_id"`
	Rate      int64     `json:"rate"`
	Note      string    `json:"note,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func applicationResponseFrom(a domain.Application) applicationResponse {
	return applicationResponse{
		ID:        a.ID,
		RequestID: a.RequestID,
		HelperID:  a.HelperID,
		Rate:      a.Rate,
		Note:      a.Note,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}
