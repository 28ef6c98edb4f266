package app

import (
	"context"
	"fmt"
	"time"

	"github.com/helparoservices-sys/helparo-dispatch/internal/clock"
	"github.com/helparoservices-sys/helparo-dispatch/internal/domain"
)

// AlertRepository is the storage contract for the alert ledger.
type AlertRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateAlert(ctx context.Context, a domain.SOSAlert) error
	GetAlert(ctx context.Context, id string) (domain.SOSAlert, error)
	GetAlertForUpdate(ctx context.Context, id string) (domain.SOSAlert, error)

	// AcknowledgeAlert claims the acknowledgement slot: active -> acknowledged.
	AcknowledgeAlert(ctx context.Context, alertID, helperID string, now time.Time) (bool, error)
	// ResolveAlert transitions acknowledged -> resolved.
	ResolveAlert(ctx context.Context, alertID, note string, falseAlarm bool, now time.Time) (bool, error)
	// CancelAlert transitions active -> cancelled.
	CancelAlert(ctx context.Context, alertID, reason string, now time.Time) (bool, error)

	// ListExpiredActive returns ids of alerts active since before cutoff.
	ListExpiredActive(ctx context.Context, cutoff time.Time) ([]string, error)
}

// AlertService is the SOS alert ledger. It mirrors the request ledger's
// accept-race discipline with a single acknowledgement slot and a
// mandatory alert-level time budget.
type AlertService struct {
	repo     AlertRepository
	clock    clock.Clock
	alertTTL time.Duration
}

// DefaultAlertTTL is how long an unacknowledged alert stays active
// before the expiry sweep cancels it so the raising user is not left
// waiting indefinitely.
const DefaultAlertTTL = 30 * time.Minute

type AlertServiceOption func(*AlertService)

// WithAlertTTL overrides the alert-level time budget.
func WithAlertTTL(d time.Duration) AlertServiceOption {
	return func(s *AlertService) {
		if d > 0 {
			s.alertTTL = d
		}
	}
}

func NewAlertService(repo AlertRepository, clk clock.Clock, opts ...AlertServiceOption) *AlertService {
	svc := &AlertService{repo: repo, clock: clk, alertTTL: DefaultAlertTTL}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type RaiseAlertInput struct {
	Type         domain.AlertType
	Location     domain.Location
	ContactPhone string
	Description  string
}

// Raise creates an active alert. Any authenticated actor may raise one.
func (s *AlertService) Raise(ctx context.Context, actor domain.Actor, in RaiseAlertInput) (domain.SOSAlert, error) {
	if !domain.ValidAlertType(in.Type) {
		return domain.SOSAlert{}, domain.ErrInvalidAlertType
	}
	if !in.Location.Valid() {
		return domain.SOSAlert{}, domain.ErrInvalidLocation
	}

	now := s.clock.Now()
	alert := domain.SOSAlert{
		ID:           newUUID(),
		UserID:       actor.ID,
		Type:         in.Type,
		Location:     in.Location,
		ContactPhone: in.ContactPhone,
		Description:  in.Description,
		Status:       domain.AlertStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateAlert(ctx, alert); err != nil {
		return domain.SOSAlert{}, fmt.Errorf("create alert: %w", err)
	}
	return alert, nil
}

// Acknowledge claims the alert's acknowledgement slot for the helper.
// The slot is set at most once; every later attempt observes
// ErrConflict.
func (s *AlertService) Acknowledge(ctx context.Context, actor domain.Actor, alertID string) (domain.SOSAlert, error) {
	if !actor.IsHelper() {
		return domain.SOSAlert{}, domain.ErrActorNotAllowed
	}

	now := s.clock.Now()
	var result domain.SOSAlert

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		alert, err := s.repo.GetAlertForUpdate(txCtx, alertID)
		if err != nil {
			return err
		}
		if alert.Status != domain.AlertStatusActive {
			return domain.ErrConflict
		}

		ok, err := s.repo.AcknowledgeAlert(txCtx, alertID, actor.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConflict
		}

		alert.Status = domain.AlertStatusAcknowledged
		alert.AcknowledgedBy = actor.ID
		alert.AcknowledgedAt = now
		alert.UpdatedAt = now
		result = alert
		return nil
	})
	if err != nil {
		return domain.SOSAlert{}, err
	}
	return result, nil
}

type ResolveAlertInput struct {
	AlertID    string
	Note       string
	FalseAlarm bool
}

// Resolve closes an acknowledged alert. Allowed for the acknowledging
// helper, the raising user, or an admin.
func (s *AlertService) Resolve(ctx context.Context, actor domain.Actor, in ResolveAlertInput) (domain.SOSAlert, error) {
	now := s.clock.Now()
	var result domain.SOSAlert

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		alert, err := s.repo.GetAlertForUpdate(txCtx, in.AlertID)
		if err != nil {
			return err
		}
		if alert.Status != domain.AlertStatusAcknowledged {
			return domain.ErrAlertNotActive
		}

		allowed := actor.IsAdmin() ||
			(actor.IsHelper() && alert.AcknowledgedBy == actor.ID) ||
			alert.UserID == actor.ID
		if !allowed {
			return domain.ErrNotAlertOwner
		}

		ok, err := s.repo.ResolveAlert(txCtx, in.AlertID, in.Note, in.FalseAlarm, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAlertNotActive
		}

		alert.Status = domain.AlertStatusResolved
		alert.ResolvedAt = now
		alert.ResolutionNote = in.Note
		alert.FalseAlarm = in.FalseAlarm
		alert.UpdatedAt = now
		result = alert
		return nil
	})
	if err != nil {
		return domain.SOSAlert{}, err
	}
	return result, nil
}

// Cancel withdraws an active alert. Allowed for the raising user or an
// admin.
func (s *AlertService) Cancel(ctx context.Context, actor domain.Actor, alertID, reason string) (domain.SOSAlert, error) {
	now := s.clock.Now()
	var result domain.SOSAlert

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		alert, err := s.repo.GetAlertForUpdate(txCtx, alertID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && alert.UserID != actor.ID {
			return domain.ErrNotAlertOwner
		}
		if alert.Status != domain.AlertStatusActive {
			return domain.ErrAlertNotActive
		}

		ok, err := s.repo.CancelAlert(txCtx, alertID, reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConflict
		}

		alert.Status = domain.AlertStatusCancelled
		alert.CancelReason = reason
		alert.UpdatedAt = now
		result = alert
		return nil
	})
	if err != nil {
		return domain.SOSAlert{}, err
	}
	return result, nil
}

// ExpireIfUnacknowledged cancels the alert when it has been active
// longer than the alert-level budget. Reports whether it fired. A lost
// race with a concurrent acknowledge leaves the alert acknowledged and
// reports false.
func (s *AlertService) ExpireIfUnacknowledged(ctx context.Context, alertID string, now time.Time) (bool, error) {
	fired := false
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		alert, err := s.repo.GetAlertForUpdate(txCtx, alertID)
		if err != nil {
			return err
		}
		if alert.Status != domain.AlertStatusActive {
			return nil
		}
		if now.Sub(alert.CreatedAt) < s.alertTTL {
			return nil
		}

		ok, err := s.repo.CancelAlert(txCtx, alertID, "no acknowledgement within alert budget", now)
		if err != nil {
			return err
		}
		fired = ok
		return nil
	})
	return fired, err
}

// ExpireStaleAlerts sweeps every over-budget active alert. Returns how
// many it cancelled.
func (s *AlertService) ExpireStaleAlerts(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repo.ListExpiredActive(ctx, now.Add(-s.alertTTL))
	if err != nil {
		return 0, fmt.Errorf("list expired alerts: %w", err)
	}

	expired := 0
	for _, id := range ids {
		fired, err := s.ExpireIfUnacknowledged(ctx, id, now)
		if err != nil {
			return expired, err
		}
		if fired {
			expired++
		}
	}
	return expired, nil
}

// GetAlert returns the current alert state.
func (s *AlertService) GetAlert(ctx context.Context, id string) (domain.SOSAlert, error) {
	return s.repo.GetAlert(ctx, id)
}
