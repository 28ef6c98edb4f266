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

type AlertRaiser interface {
	Raise(ctx context.Context, actor domain.Actor, in app.RaiseAlertInput) (domain.SOSAlert, error)
}

type AlertBroadcaster interface {
	BroadcastAlert(ctx context.Context, alertID string) (app.BroadcastResult, error)
}

// HandleRaiseAlert returns an HTTP handler for POST /alerts. Raising an
// alert immediately fans it out to emergency-ready helpers; there is no
// separate broadcast step for SOS.
func HandleRaiseAlert(raiser AlertRaiser, broadcaster AlertBroadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req raiseAlertRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.Type == "" {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, "type is required")
			return
		}

		alert, err := raiser.Raise(r.Context(), actor, app.RaiseAlertInput{
			Type:         domain.AlertType(req.Type),
			Location:     domain.Location{Lat: req.Lat, Lng: req.Lng},
			ContactPhone: req.ContactPhone,
			Description:  req.Description,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		res, err := broadcaster.BroadcastAlert(r.Context(), alert.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(raiseAlertResponse{
			Alert:      alertResponseFrom(alert),
			Candidates: res.Candidates,
			Notified:   res.Notified,
		})
	}
}

// AlertActions bundles the services behind the /alerts/{id}/... routes.
type AlertActions struct {
	Acknowledger AlertAcknowledger
	Resolver     AlertResolver
	Canceller    AlertCanceller
	Getter       AlertGetter
}

type AlertAcknowledger interface {
	AcknowledgeAlert(ctx context.Context, actor domain.Actor, alertID string) (domain.SOSAlert, error)
}

type AlertResolver interface {
	ResolveAlert(ctx context.Context, actor domain.Actor, in app.ResolveAlertInput) (domain.SOSAlert, error)
}

type AlertCanceller interface {
	CancelAlert(ctx context.Context, actor domain.Actor, alertID, reason string) (domain.SOSAlert, error)
}

type AlertGetter interface {
	GetAlert(ctx context.Context, id string) (domain.SOSAlert, error)
}

// HandleAlertActions routes /alerts/{id}/{action}.
func HandleAlertActions(actions AlertActions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alertID, action, ok := parseAlertPath(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		switch action {
		case "acknowledge":
			handleAcknowledge(w, r, actions.Acknowledger, actor, alertID)
		case "resolve":
			handleResolve(w, r, actions.Resolver, actor, alertID)
		case "cancel":
			handleCancelAlert(w, r, actions.Canceller, actor, alertID)
		case "status":
			handleAlertStatus(w, r, actions.Getter, alertID)
		default:
			http.NotFound(w, r)
		}
	}
}

func parseAlertPath(path string) (id, action string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "alerts" || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func handleAcknowledge(w http.ResponseWriter, r *http.Request, svc AlertAcknowledger, actor domain.Actor, alertID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		return
	}

	alert, err := svc.AcknowledgeAlert(r.Context(), actor, alertID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(alertResponseFrom(alert))
}

func handleResolve(w http.ResponseWriter, r *http.Request, svc AlertResolver, actor domain.Actor, alertID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		return
	}

	var req resolveAlertRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}

	alert, err := svc.ResolveAlert(r.Context(), actor, app.ResolveAlertInput{
		AlertID:    alertID,
		Note:       req.Note,
		FalseAlarm: req.FalseAlarm,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(alertResponseFrom(alert))
}

func handleCancelAlert(w http.ResponseWriter, r *http.Request, svc AlertCanceller, actor domain.Actor, alertID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		return
	}

	var req cancelRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}

	alert, err := svc.CancelAlert(r.Context(), actor, alertID, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(alertResponseFrom(alert))
}

func handleAlertStatus(w http.ResponseWriter, r *http.Request, svc AlertGetter, alertID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		return
	}

	alert, err := svc.GetAlert(r.Context(), alertID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(alertResponseFrom(alert))
}

type raiseAlertRequest struct {
	Type         string  `json:"type"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	ContactPhone string  `json:"contact_phone"`
	Description  string  `json:"description"`
}

type resolveAlertRequest struct {
	Note       string `json:"note"`
	FalseAlarm bool   `json:"false_alarm"`
}

type raiseAlertResponse struct {
	Alert      alertResponse `json:"alert"`
	Candidates int           `json:"candidates"`
	Notified   int           `json:"notified"`
}

type alertResponse struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Type           string     `json:"type"`
	Lat            float64    `json:"lat"`
	Lng            float64    `json:"lng"`
	ContactPhone   string     `json:"contact_phone,omitempty"`
	Description    string     `json:"description,omitempty"`
	Status         string     `json:"status"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
	FalseAlarm     bool       `json:"false_alarm,omitempty"`
	CancelReason   string     `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func alertResponseFrom(a domain.SOSAlert) alertResponse {
	resp := alertResponse{
		ID:             a.ID,
		UserID:         a.UserID,
		Type:           string(a.Type),
		Lat:            a.Location.Lat,
		Lng:            a.Location.Lng,
		ContactPhone:   a.ContactPhone,
		Description:    a.Description,
		Status:         string(a.Status),
		AcknowledgedBy: a.AcknowledgedBy,
		ResolutionNote: a.ResolutionNote,
		FalseAlarm:     a.FalseAlarm,
		CancelReason:   a.CancelReason,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
	if !a.AcknowledgedAt.IsZero() {
		t := a.AcknowledgedAt
		resp.AcknowledgedAt = &t
	}
	if !a.ResolvedAt.IsZero() {
		t := a.ResolvedAt
		resp.ResolvedAt = &t
	}
	return resp
}
