package app

import (
	"context"
	"fmt"
	"time"

	"github.com/helparoservices-sys/helparo-dispatch/internal/clock"
	"github.com/helparoservices-sys/helparo-dispatch/internal/domain"
)

// RequestRepository is the storage contract for the request ledger.
// Conditional mutations report whether the expected-state guard matched
// so the service can turn a lost race into domain.ErrConflict without
// the repository knowing about races.
type RequestRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateRequest(ctx context.Context, r domain.ServiceRequest) error
	GetRequest(ctx context.Context, id string) (domain.ServiceRequest, error)
	GetRequestForUpdate(ctx context.Context, id string) (domain.ServiceRequest, error)

	// SetBroadcasting transitions (unset) -> broadcasting.
	SetBroadcasting(ctx context.Context, id string, expiresAt, now time.Time) (bool, error)

	CreateApplication(ctx context.Context, a domain.Application) error
	GetApplication(ctx context.Context, id string) (domain.Application, error)
	FindOpenApplication(ctx context.Context, requestID, helperID string) (*domain.Application, error)
	ListApplications(ctx context.Context, requestID string) ([]domain.Application, error)

	// AssignHelper claims the acceptance slot: broadcasting -> accepted.
	AssignHelper(ctx context.Context, requestID, helperID string, now time.Time) (bool, error)
	// AcceptApplication transitions one application applied -> accepted.
	AcceptApplication(ctx context.Context, applicationID string, now time.Time) (bool, error)
	// RejectSiblings closes every other open application on the request.
	RejectSiblings(ctx context.Context, requestID, acceptedID string, now time.Time) (int, error)
	// RejectOpenApplications closes every open application on the request.
	RejectOpenApplications(ctx context.Context, requestID string, now time.Time) (int, error)

	// UpdateTracking performs one conditional tracking step.
	UpdateTracking(ctx context.Context, requestID string, from, to domain.BroadcastStatus, now time.Time) (bool, error)
	// WithdrawApplication transitions applied -> withdrawn for the owner.
	WithdrawApplication(ctx context.Context, applicationID string, now time.Time) (bool, error)
	// CancelRequest moves any non-terminal broadcast state to cancelled.
	CancelRequest(ctx context.Context, requestID, reason string, now time.Time) (bool, error)

	// ListExpiredBroadcasts returns ids still broadcasting past their window.
	ListExpiredBroadcasts(ctx context.Context, now time.Time) ([]string, error)
}

// RequestService is the request ledger: every lifecycle transition of a
// ServiceRequest and its applications goes through here, and the
// underlying conditional updates make it the single arbiter of accept
// races.
type RequestService struct {
	repo   RequestRepository
	clock  clock.Clock
	window time.Duration
}

type RequestServiceOption func(*RequestService)

// WithBroadcastWindow overrides how long broadcasts stay open.
func WithBroadcastWindow(d time.Duration) RequestServiceOption {
	return func(s *RequestService) {
		if d > 0 {
			s.window = d
		}
	}
}

func NewRequestService(repo RequestRepository, clk clock.Clock, opts ...RequestServiceOption) *RequestService {
	svc := &RequestService{repo: repo, clock: clk, window: BroadcastWindow}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type CreateRequestInput struct {
	Category    string
	Description string
	Location    domain.Location
	BudgetMin   int64
	BudgetMax   int64
	Urgency     domain.Urgency
}

func (s *RequestService) CreateRequest(ctx context.Context, actor domain.Actor, in CreateRequestInput) (domain.ServiceRequest, error) {
	if !actor.IsCustomer() {
		return domain.ServiceRequest{}, domain.ErrActorNotAllowed
	}
	if in.Category == "" {
		return domain.ServiceRequest{}, domain.ErrInvalidCategory
	}
	if !in.Location.Valid() {
		return domain.ServiceRequest{}, domain.ErrInvalidLocation
	}
	if in.BudgetMin < 0 || in.BudgetMax < 0 || (in.BudgetMax > 0 && in.BudgetMax < in.BudgetMin) {
		return domain.ServiceRequest{}, domain.ErrInvalidBudget
	}
	if in.Urgency == "" {
		in.Urgency = domain.UrgencyNormal
	}

	now := s.clock.Now()
	req := domain.ServiceRequest{
		ID:          newUUID(),
		CustomerID:  actor.ID,
		Category:    in.Category,
		Description: in.Description,
		Location:    in.Location,
		BudgetMin:   in.BudgetMin,
		BudgetMax:   in.BudgetMax,
		Urgency:     in.Urgency,
		Status:      domain.RequestStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return domain.ServiceRequest{}, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

// BroadcastWindow is how long a request stays broadcasting before the
// expiry sweep cancels it, unless overridden.
const BroadcastWindow = 30 * time.Minute

// BeginBroadcast transitions the request into broadcasting. Calling it
// on an already-broadcasting request is a no-op that returns the
// current state.
func (s *RequestService) BeginBroadcast(ctx context.Context, requestID string) (domain.ServiceRequest, error) {
	return s.beginBroadcast(ctx, requestID, s.window)
}

// BeginBroadcastWithWindow is BeginBroadcast with an explicit window.
func (s *RequestService) BeginBroadcastWithWindow(ctx context.Context, requestID string, window time.Duration) (domain.ServiceRequest, error) {
	if window <= 0 {
		window = s.window
	}
	return s.beginBroadcast(ctx, requestID, window)
}

func (s *RequestService) beginBroadcast(ctx context.Context, requestID string, window time.Duration) (domain.ServiceRequest, error) {
	now := s.clock.Now()
	var result domain.ServiceRequest

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		req, err := s.repo.GetRequestForUpdate(txCtx, requestID)
		if err != nil {
			return err
		}

		switch req.BroadcastStatus {
		case domain.BroadcastNone:
			// fall through to the transition
		case domain.BroadcastBroadcasting:
			result = req
			return nil
		default:
			return domain.ErrRequestNotOpen
		}
		if req.Status != domain.RequestStatusOpen && req.Status != domain.RequestStatusDraft {
			return domain.ErrRequestNotOpen
		}

		ok, err := s.repo.SetBroadcasting(txCtx, requestID, now.Add(window), now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConflict
		}

		req.BroadcastStatus = domain.BroadcastBroadcasting
		req.Status = domain.RequestStatusOpen
		req.BroadcastExpiresAt = now.Add(window)
		req.UpdatedAt = now
		result = req
		return nil
	})
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	return result, nil
}

type ApplyInput struct {
	RequestID string
	Rate      int64
	Note      string
}

func (s *RequestService) Apply(ctx context.Context, actor domain.Actor, in ApplyInput) (domain.Application, error) {
	if !actor.IsHelper() {
		return domain.Application{}, domain.ErrActorNotAllowed
	}
	if in.Rate < 0 {
		return domain.Application{}, domain.ErrInvalidBudget
	}

	now := s.clock.Now()
	var result domain.Application

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		// Lock the request row so a concurrent accept or cancel cannot
		// reject the siblings between this check and the insert,
		// leaving the new application applied forever.
		req, err := s.repo.GetRequestForUpdate(txCtx, in.RequestID)
		if err != nil {
			return err
		}
		if req.BroadcastStatus != domain.BroadcastBroadcasting {
			return domain.ErrRequestNotOpen
		}

		existing, err := s.repo.FindOpenApplication(txCtx, in.RequestID, actor.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrDuplicateApplication
		}

		app := domain.Application{
			ID:        newUUID(),
			RequestID: in.RequestID,
			HelperID:  actor.ID,
			Rate:      in.Rate,
			Note:      in.Note,
			Status:    domain.ApplicationStatusApplied,
			CreatedAt: now,
			UpdatedAt: now,
		}
		// The partial unique index catches the concurrent double-apply
		// the read above cannot see.
		if err := s.repo.CreateApplication(txCtx, app); err != nil {
			return err
		}
		result = app
		return nil
	})
	if err != nil {
		return domain.Application{}, err
	}
	return result, nil
}

// AcceptResult is the authoritative post-transition state returned to
// the winning caller.
type AcceptResult struct {
	Request          domain.ServiceRequest
	Application      domain.Application
	RejectedSiblings int
}

// Accept claims the request's acceptance slot for the application. As
// one atomic unit it verifies the request is still broadcasting and the
// application still applied, then accepts the application, assigns the
// helper, and rejects every sibling. Either guard failing rolls the
// whole transaction back and yields ErrConflict: of N concurrent
// accepts exactly one wins.
func (s *RequestService) Accept(ctx context.Context, actor domain.Actor, applicationID string) (AcceptResult, error) {
	if !actor.IsHelper() {
		return AcceptResult{}, domain.ErrActorNotAllowed
	}

	now := s.clock.Now()
	var result AcceptResult

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		app, err := s.repo.GetApplication(txCtx, applicationID)
		if err != nil {
			return err
		}
		if app.HelperID != actor.ID {
			return domain.ErrNotApplicationOwner
		}

		// Lock the request row first: every multi-row path takes the
		// request lock before touching application rows, so concurrent
		// accepts and cancels serialize per request without deadlock.
		req, err := s.repo.GetRequestForUpdate(txCtx, app.RequestID)
		if err != nil {
			return err
		}
		if req.BroadcastStatus != domain.BroadcastBroadcasting {
			return domain.ErrConflict
		}

		ok, err := s.repo.AssignHelper(txCtx, req.ID, app.HelperID, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConflict
		}

		ok, err = s.repo.AcceptApplication(txCtx, applicationID, now)
		if err != nil {
			return err
		}
		if !ok {
			// Application withdrew or lost between read and update;
			// the rollback undoes the assignment.
			return domain.ErrConflict
		}

		rejected, err := s.repo.RejectSiblings(txCtx, req.ID, applicationID, now)
		if err != nil {
			return err
		}

		req.Status = domain.RequestStatusAssigned
		req.BroadcastStatus = domain.BroadcastAccepted
		req.AssignedHelperID = app.HelperID
		req.AcceptedAt = now
		req.UpdatedAt = now
		app.Status = domain.ApplicationStatusAccepted
		app.UpdatedAt = now

		result = AcceptResult{Request: req, Application: app, RejectedSiblings: rejected}
		return nil
	})
	if err != nil {
		return AcceptResult{}, err
	}
	return result, nil
}

// AdvanceTracking performs one step of the post-acceptance chain
// accepted -> on_way -> arrived -> in_progress -> completed. Only the
// assigned helper may advance, and only to the immediate successor.
func (s *RequestService) AdvanceTracking(ctx context.Context, actor domain.Actor, requestID string, next domain.BroadcastStatus) (domain.ServiceRequest, error) {
	if !actor.IsHelper() {
		return domain.ServiceRequest{}, domain.ErrActorNotAllowed
	}
	if !domain.ValidTrackingTarget(next) {
		return domain.ServiceRequest{}, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	var result domain.ServiceRequest

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		req, err := s.repo.GetRequestForUpdate(txCtx, requestID)
		if err != nil {
			return err
		}
		if req.AssignedHelperID != actor.ID {
			return domain.ErrNotAssignedHelper
		}
		if !req.BroadcastStatus.CanAdvanceTo(next) {
			return domain.ErrInvalidTransition
		}

		ok, err := s.repo.UpdateTracking(txCtx, requestID, req.BroadcastStatus, next, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidTransition
		}

		req.BroadcastStatus = next
		if next == domain.BroadcastCompleted {
			req.Status = domain.RequestStatusCompleted
		}
		req.UpdatedAt = now
		result = req
		return nil
	})
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	return result, nil
}

// Withdraw closes the helper's own still-open application.
func (s *RequestService) Withdraw(ctx context.Context, actor domain.Actor, applicationID string) (domain.Application, error) {
	if !actor.IsHelper() {
		return domain.Application{}, domain.ErrActorNotAllowed
	}

	now := s.clock.Now()
	var result domain.Application

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		app, err := s.repo.GetApplication(txCtx, applicationID)
		if err != nil {
			return err
		}
		if app.HelperID != actor.ID {
			return domain.ErrNotApplicationOwner
		}
		if !app.Open() {
			return domain.ErrApplicationNotOpen
		}

		ok, err := s.repo.WithdrawApplication(txCtx, applicationID, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrApplicationNotOpen
		}

		app.Status = domain.ApplicationStatusWithdrawn
		app.UpdatedAt = now
		result = app
		return nil
	})
	if err != nil {
		return domain.Application{}, err
	}
	return result, nil
}

// Cancel soft-cancels the request and rejects every open application.
// Customers may cancel their own request any time before completion;
// admins may cancel anything non-terminal.
func (s *RequestService) Cancel(ctx context.Context, actor domain.Actor, requestID, reason string) (domain.ServiceRequest, error) {
	now := s.clock.Now()
	var result domain.ServiceRequest

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		req, err := s.repo.GetRequestForUpdate(txCtx, requestID)
		if err != nil {
			return err
		}

		switch {
		case actor.IsAdmin():
		case actor.IsCustomer():
			if req.CustomerID != actor.ID {
				return domain.ErrNotRequestOwner
			}
		default:
			return domain.ErrActorNotAllowed
		}

		if !req.BroadcastStatus.Cancellable() || req.Status == domain.RequestStatusCompleted {
			return domain.ErrInvalidTransition
		}

		ok, err := s.repo.CancelRequest(txCtx, requestID, reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConflict
		}
		if _, err := s.repo.RejectOpenApplications(txCtx, requestID, now); err != nil {
			return err
		}

		req.Status = domain.RequestStatusCancelled
		req.BroadcastStatus = domain.BroadcastCancelled
		req.CancelReason = reason
		req.UpdatedAt = now
		result = req
		return nil
	})
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	return result, nil
}

// ExpireStaleBroadcasts cancels every request still broadcasting past
// its window. Returns how many it cancelled. Run periodically by the
// sweeper; the window itself is policy, not an engine constant.
func (s *RequestService) ExpireStaleBroadcasts(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repo.ListExpiredBroadcasts(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired broadcasts: %w", err)
	}

	expired := 0
	for _, id := range ids {
		err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
			ok, err := s.repo.CancelRequest(txCtx, id, "broadcast window elapsed", now)
			if err != nil {
				return err
			}
			if !ok {
				// Accepted or cancelled since listing; nothing to do.
				return nil
			}
			expired++
			_, err = s.repo.RejectOpenApplications(txCtx, id, now)
			return err
		})
		if err != nil {
			return expired, err
		}
	}
	return expired, nil
}

// GetRequest returns the current request state, for the status-polling
// endpoint.
func (s *RequestService) GetRequest(ctx context.Context, id string) (domain.ServiceRequest, error) {
	return s.repo.GetRequest(ctx, id)
}

// ListApplications returns all applications on a request.
func (s *RequestService) ListApplications(ctx context.Context, requestID string) ([]domain.Application, error) {
	return s.repo.ListApplications(ctx, requestID)
}
