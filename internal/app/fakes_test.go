package app

import (
	"context"
	"sync"
	"time"

	"github.com/helparoservices-sys/helparo-dispatch/internal/domain"
)

// fakeRequestRepo reproduces the repository's conditional-update
// semantics in memory under one mutex, so the race properties the
// service guarantees are testable without Postgres. Row locks taken
// via GetRequestForUpdate are held until the surrounding WithTx
// returns, mirroring FOR UPDATE.
type fakeRequestRepo struct {
	mu       sync.Mutex
	requests map[string]domain.ServiceRequest
	apps     map[string]domain.Application
	rowLocks map[string]*sync.Mutex
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{
		requests: make(map[string]domain.ServiceRequest),
		apps:     make(map[string]domain.Application),
		rowLocks: make(map[string]*sync.Mutex),
	}
}

// fakeTx collects row locks acquired during one WithTx scope.
type fakeTx struct {
	locks []*sync.Mutex
}

type fakeTxKey struct{}

func (f *fakeRequestRepo) seedRequest(r domain.ServiceRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[r.ID] = r
}

func (f *fakeRequestRepo) seedApplication(a domain.Application) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apps[a.ID] = a
}

func (f *fakeRequestRepo) request(id string) domain.ServiceRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[id]
}

func (f *fakeRequestRepo) application(id string) domain.Application {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apps[id]
}

func (f *fakeRequestRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx := &fakeTx{}
	err := fn(context.WithValue(ctx, fakeTxKey{}, tx))
	for i := len(tx.locks) - 1; i >= 0; i-- {
		tx.locks[i].Unlock()
	}
	return err
}

func (f *fakeRequestRepo) CreateRequest(_ context.Context, r domain.ServiceRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[r.ID] = r
	return nil
}

func (f *fakeRequestRepo) GetRequest(_ context.Context, id string) (domain.ServiceRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return domain.ServiceRequest{}, domain.ErrRequestNotFound
	}
	return r, nil
}

func (f *fakeRequestRepo) GetRequestForUpdate(ctx context.Context, id string) (domain.ServiceRequest, error) {
	if tx, ok := ctx.Value(fakeTxKey{}).(*fakeTx); ok {
		f.mu.Lock()
		lock := f.rowLocks[id]
		if lock == nil {
			lock = &sync.Mutex{}
			f.rowLocks[id] = lock
		}
		f.mu.Unlock()

		lock.Lock()
		tx.locks = append(tx.locks, lock)
	}
	return f.GetRequest(ctx, id)
}

func (f *fakeRequestRepo) SetBroadcasting(_ context.Context, id string, expiresAt, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok || r.BroadcastStatus != domain.BroadcastNone {
		return false, nil
	}
	if r.Status != domain.RequestStatusDraft && r.Status != domain.RequestStatusOpen {
		return false, nil
	}
	r.BroadcastStatus = domain.BroadcastBroadcasting
	r.Status = domain.RequestStatusOpen
	r.BroadcastExpiresAt = expiresAt
	r.UpdatedAt = now
	f.requests[id] = r
	return true, nil
}

func (f *fakeRequestRepo) CreateApplication(_ context.Context, a domain.Application) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, other := range f.apps {
		if other.RequestID == a.RequestID && other.HelperID == a.HelperID && other.Status != domain.ApplicationStatusWithdrawn {
			return domain.ErrDuplicateApplication
		}
	}
	f.apps[a.ID] = a
	return nil
}

func (f *fakeRequestRepo) GetApplication(_ context.Context, id string) (domain.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return domain.Application{}, domain.ErrApplicationNotFound
	}
	return a, nil
}

func (f *fakeRequestRepo) FindOpenApplication(_ context.Context, requestID, helperID string) (*domain.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.apps {
		if a.RequestID == requestID && a.HelperID == helperID && a.Status != domain.ApplicationStatusWithdrawn {
			copy := a
			return &copy, nil
		}
	}
	return nil, nil
}

func (f *fakeRequestRepo) ListApplications(_ context.Context, requestID string) ([]domain.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var apps []domain.Application
	for _, a := range f.apps {
		if a.RequestID == requestID {
			apps = append(apps, a)
		}
	}
	return apps, nil
}

func (f *fakeRequestRepo) AssignHelper(_ context.Context, requestID, helperID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[requestID]
	if !ok || r.BroadcastStatus != domain.BroadcastBroadcasting || r.AssignedHelperID != "" {
		return false, nil
	}
	r.BroadcastStatus = domain.BroadcastAccepted
	r.Status = domain.RequestStatusAssigned
	r.AssignedHelperID = helperID
	r.AcceptedAt = now
	r.UpdatedAt = now
	f.requests[requestID] = r
	return true, nil
}

func (f *fakeRequestRepo) AcceptApplication(_ context.Context, applicationID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[applicationID]
	if !ok || a.Status != domain.ApplicationStatusApplied {
		return false, nil
	}
	a.Status = domain.ApplicationStatusAccepted
	a.UpdatedAt = now
	f.apps[applicationID] = a
	return true, nil
}

func (f *fakeRequestRepo) RejectSiblings(_ context.Context, requestID, acceptedID string, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rejected := 0
	for id, a := range f.apps {
		if a.RequestID == requestID && id != acceptedID && a.Status == domain.ApplicationStatusApplied {
			a.Status = domain.ApplicationStatusRejected
			a.UpdatedAt = now
			f.apps[id] = a
			rejected++
		}
	}
	return rejected, nil
}

func (f *fakeRequestRepo) RejectOpenApplications(_ context.Context, requestID string, now time.Time) (int, error) {
	return f.RejectSiblings(nil, requestID, "", now)
}

func (f *fakeRequestRepo) UpdateTracking(_ context.Context, requestID string, from, to domain.BroadcastStatus, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[requestID]
	if !ok || r.BroadcastStatus != from {
		return false, nil
	}
	r.BroadcastStatus = to
	if to == domain.BroadcastCompleted {
		r.Status = domain.RequestStatusCompleted
	}
	r.UpdatedAt = now
	f.requests[requestID] = r
	return true, nil
}

func (f *fakeRequestRepo) WithdrawApplication(_ context.Context, applicationID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[applicationID]
	if !ok || a.Status != domain.ApplicationStatusApplied {
		return false, nil
	}
	a.Status = domain.ApplicationStatusWithdrawn
	a.UpdatedAt = now
	f.apps[applicationID] = a
	return true, nil
}

func (f *fakeRequestRepo) CancelRequest(_ context.Context, requestID, reason string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[requestID]
	if !ok {
		return false, nil
	}
	if r.BroadcastStatus.Terminal() || r.Status == domain.RequestStatusCompleted || r.Status == domain.RequestStatusCancelled {
		return false, nil
	}
	r.BroadcastStatus = domain.BroadcastCancelled
	r.Status = domain.RequestStatusCancelled
	r.CancelReason = reason
	r.UpdatedAt = now
	f.requests[requestID] = r
	return true, nil
}

func (f *fakeRequestRepo) ListExpiredBroadcasts(_ context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, r := range f.requests {
		if r.BroadcastStatus == domain.BroadcastBroadcasting && !r.BroadcastExpiresAt.IsZero() && !r.BroadcastExpiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// fakeAlertRepo mirrors fakeRequestRepo for the alert ledger.
type fakeAlertRepo struct {
	mu     sync.Mutex
	alerts map[string]domain.SOSAlert
}

func newFakeAlertRepo() *fakeAlertRepo {
	return &fakeAlertRepo{alerts: make(map[string]domain.SOSAlert)}
}

func (f *fakeAlertRepo) seed(a domain.SOSAlert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts[a.ID] = a
}

func (f *fakeAlertRepo) alert(id string) domain.SOSAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alerts[id]
}

func (f *fakeAlertRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeAlertRepo) CreateAlert(_ context.Context, a domain.SOSAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts[a.ID] = a
	return nil
}

func (f *fakeAlertRepo) GetAlert(_ context.Context, id string) (domain.SOSAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alerts[id]
	if !ok {
		return domain.SOSAlert{}, domain.ErrAlertNotFound
	}
	return a, nil
}

func (f *fakeAlertRepo) GetAlertForUpdate(ctx context.Context, id string) (domain.SOSAlert, error) {
	return f.GetAlert(ctx, id)
}

func (f *fakeAlertRepo) AcknowledgeAlert(_ context.Context, alertID, helperID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alerts[alertID]
	if !ok || a.Status != domain.AlertStatusActive || a.AcknowledgedBy != "" {
		return false, nil
	}
	a.Status = domain.AlertStatusAcknowledged
	a.AcknowledgedBy = helperID
	a.AcknowledgedAt = now
	a.UpdatedAt = now
	f.alerts[alertID] = a
	return true, nil
}

func (f *fakeAlertRepo) ResolveAlert(_ context.Context, alertID, note string, falseAlarm bool, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alerts[alertID]
	if !ok || a.Status != domain.AlertStatusAcknowledged {
		return false, nil
	}
	a.Status = domain.AlertStatusResolved
	a.ResolvedAt = now
	a.ResolutionNote = note
	a.FalseAlarm = falseAlarm
	a.UpdatedAt = now
	f.alerts[alertID] = a
	return true, nil
}

func (f *fakeAlertRepo) CancelAlert(_ context.Context, alertID, reason string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alerts[alertID]
	if !ok || a.Status != domain.AlertStatusActive {
		return false, nil
	}
	a.Status = domain.AlertStatusCancelled
	a.CancelReason = reason
	a.UpdatedAt = now
	f.alerts[alertID] = a
	return true, nil
}

func (f *fakeAlertRepo) ListExpiredActive(_ context.Context, cutoff time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, a := range f.alerts {
		if a.Status == domain.AlertStatusActive && !a.CreatedAt.After(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
