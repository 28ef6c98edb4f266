package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/helparoservices-sys/helparo-dispatch/internal/clock"
	"github.com/helparoservices-sys/helparo-dispatch/internal/domain"
	"github.com/helparoservices-sys/helparo-dispatch/internal/event"
	"github.com/helparoservices-sys/helparo-dispatch/internal/geo"
	"github.com/helparoservices-sys/helparo-dispatch/internal/notify"
)

// CandidateSource ranks eligible helpers for a job. Satisfied by
// geo.Index.
type CandidateSource interface {
	Candidates(ctx context.Context, job geo.Job) ([]geo.Candidate, error)
}

// HelperFlags marks a helper busy or free. Satisfied by
// postgres.HelperRepository; the geo index skips busy helpers on the
// next wave.
type HelperFlags interface {
	SetOnJob(ctx context.Context, helperID string, onJob bool) error
}

// Dispatcher orchestrates the ledgers, the geo index, the notification
// gateway, and the event bus: it turns ledger transitions into notified
// candidates and reflects race outcomes back into the notification
// records. Notification fan-out always happens after the ledger commits,
// never inside a critical section.
type Dispatcher struct {
	requests *RequestService
	alerts   *AlertService
	geo      CandidateSource
	gateway  notify.Gateway
	registry notify.Registry
	bus      *event.Bus
	flags    HelperFlags
	clock    clock.Clock
	logger   *log.Logger

	recipientTTL time.Duration
}

// DefaultRecipientTTL is the per-recipient SOS countdown: after this
// long without a response the recipient's notification expires and
// stops counting as pending, while the alert itself stays active.
const DefaultRecipientTTL = 60 * time.Second

type DispatcherOption func(*Dispatcher)

// WithRecipientTTL overrides the per-recipient SOS countdown.
func WithRecipientTTL(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.recipientTTL = d
		}
	}
}

// WithHelperFlags wires the busy flag: the winning helper is marked
// on-job on accept and freed when the request reaches a terminal state.
func WithHelperFlags(f HelperFlags) DispatcherOption {
	return func(dp *Dispatcher) {
		dp.flags = f
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *log.Logger) DispatcherOption {
	return func(dp *Dispatcher) {
		if l != nil {
			dp.logger = l
		}
	}
}

func NewDispatcher(
	requests *RequestService,
	alerts *AlertService,
	candidates CandidateSource,
	gateway notify.Gateway,
	registry notify.Registry,
	bus *event.Bus,
	clk clock.Clock,
	opts ...DispatcherOption,
) *Dispatcher {
	dp := &Dispatcher{
		requests:     requests,
		alerts:       alerts,
		geo:          candidates,
		gateway:      gateway,
		registry:     registry,
		bus:          bus,
		clock:        clk,
		logger:       log.Default(),
		recipientTTL: DefaultRecipientTTL,
	}
	for _, opt := range opts {
		opt(dp)
	}
	return dp
}

// BroadcastResult summarizes one notification wave.
type BroadcastResult struct {
	Candidates int
	Notified   int
}

// BroadcastRequest begins (or resumes) broadcasting a request and
// notifies every candidate not already notified. Re-invoking it on an
// already-broadcasting request sends nothing twice: the registry
// dedupes per (job, recipient).
func (d *Dispatcher) BroadcastRequest(ctx context.Context, requestID string) (BroadcastResult, error) {
	req, err := d.requests.BeginBroadcast(ctx, requestID)
	if err != nil {
		return BroadcastResult{}, err
	}

	candidates, err := d.geo.Candidates(ctx, geo.Job{
		Location: req.Location,
		Category: req.Category,
		Urgent:   req.Urgency == domain.UrgencyUrgent,
	})
	if err != nil {
		return BroadcastResult{}, err
	}

	d.publish(event.KindRequest, req.ID, string(domain.BroadcastBroadcasting), "")

	job := notify.JobRef{Kind: notify.JobRequest, ID: req.ID}
	n := notify.Notification{
		Title:   "New service request nearby",
		Body:    req.Description,
		JobKind: string(notify.JobRequest),
		JobID:   req.ID,
	}
	// Ordinary requests carry no per-recipient countdown; the customer
	// or the broadcast-window sweep ends the wave.
	notified := d.fanOut(ctx, job, candidates, n, 0)

	if len(candidates) == 0 {
		// Not an error: "no one available" is a terminal UI state.
		d.publish(event.KindRequest, req.ID, "no_candidates", "")
	}
	return BroadcastResult{Candidates: len(candidates), Notified: notified}, nil
}

// BroadcastAlert notifies emergency-ready candidates about an active
// alert, arming the per-recipient countdown on each record.
func (d *Dispatcher) BroadcastAlert(ctx context.Context, alertID string) (BroadcastResult, error) {
	alert, err := d.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return BroadcastResult{}, err
	}
	if alert.Status != domain.AlertStatusActive {
		return BroadcastResult{}, domain.ErrAlertNotActive
	}

	candidates, err := d.geo.Candidates(ctx, geo.Job{
		Location:  alert.Location,
		Emergency: true,
	})
	if err != nil {
		return BroadcastResult{}, err
	}

	d.publish(event.KindAlert, alert.ID, string(domain.AlertStatusActive), "")

	job := notify.JobRef{Kind: notify.JobAlert, ID: alert.ID}
	n := notify.Notification{
		Title:   fmt.Sprintf("SOS: %s emergency nearby", alert.Type),
		Body:    alert.Description,
		JobKind: string(notify.JobAlert),
		JobID:   alert.ID,
	}
	notified := d.fanOut(ctx, job, candidates, n, d.recipientTTL)

	if len(candidates) == 0 {
		d.publish(event.KindAlert, alert.ID, "no_candidates", "")
	}
	return BroadcastResult{Candidates: len(candidates), Notified: notified}, nil
}

func (d *Dispatcher) fanOut(ctx context.Context, job notify.JobRef, candidates []geo.Candidate, n notify.Notification, ttl time.Duration) int {
	now := d.clock.Now()
	notified := 0
	for _, c := range candidates {
		first, err := d.registry.MarkSent(ctx, job, c.HelperID, now, ttl)
		if err != nil {
			d.logger.Printf("mark sent failed job=%s recipient=%s: %v", job.ID, c.HelperID, err)
			continue
		}
		if !first {
			continue
		}

		cn := n
		cn.DistanceKm = c.DistanceKm
		if err := d.gateway.Notify(ctx, c.HelperID, cn); err != nil {
			// Best-effort fan-out: delivery failures never fail the
			// broadcast, and race correctness does not depend on
			// every candidate hearing about the job.
			d.logger.Printf("notify failed job=%s recipient=%s: %v", job.ID, c.HelperID, err)
			continue
		}
		notified++
	}
	return notified
}

// AcceptApplication runs the ledger accept and reconciles notification
// records with the outcome. A lost race comes back as
// domain.ErrConflict with the caller's record marked
// declined-by-conflict; the dispatcher never retries on the loser's
// behalf.
func (d *Dispatcher) AcceptApplication(ctx context.Context, actor domain.Actor, applicationID string) (AcceptResult, error) {
	res, err := d.requests.Accept(ctx, actor, applicationID)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			d.markConflict(ctx, notify.JobRef{Kind: notify.JobRequest, ID: d.requestIDOf(ctx, applicationID)}, actor.ID)
		}
		return AcceptResult{}, err
	}

	now := d.clock.Now()
	job := notify.JobRef{Kind: notify.JobRequest, ID: res.Request.ID}
	if err := d.registry.MarkResponse(ctx, job, actor.ID, notify.ResponseAccept, now); err != nil {
		d.logger.Printf("mark accept failed job=%s: %v", job.ID, err)
	}
	if _, err := d.registry.ExpireOthers(ctx, job, actor.ID, now); err != nil {
		d.logger.Printf("expire others failed job=%s: %v", job.ID, err)
	}

	d.setOnJob(ctx, res.Application.HelperID, true)

	// "Job taken": unaccepted candidates' UIs retract their offer.
	d.publish(event.KindRequest, res.Request.ID, string(domain.BroadcastAccepted), actor.ID)
	return res, nil
}

// AcknowledgeAlert mirrors AcceptApplication for the alert ledger.
func (d *Dispatcher) AcknowledgeAlert(ctx context.Context, actor domain.Actor, alertID string) (domain.SOSAlert, error) {
	alert, err := d.alerts.Acknowledge(ctx, actor, alertID)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			d.markConflict(ctx, notify.JobRef{Kind: notify.JobAlert, ID: alertID}, actor.ID)
		}
		return domain.SOSAlert{}, err
	}

	now := d.clock.Now()
	job := notify.JobRef{Kind: notify.JobAlert, ID: alertID}
	if err := d.registry.MarkResponse(ctx, job, actor.ID, notify.ResponseAccept, now); err != nil {
		d.logger.Printf("mark acknowledge failed alert=%s: %v", alertID, err)
	}
	if _, err := d.registry.ExpireOthers(ctx, job, actor.ID, now); err != nil {
		d.logger.Printf("expire others failed alert=%s: %v", alertID, err)
	}

	d.publish(event.KindAlert, alertID, string(domain.AlertStatusAcknowledged), actor.ID)
	return alert, nil
}

// AdvanceTracking forwards to the request ledger and publishes the new
// tracking state.
func (d *Dispatcher) AdvanceTracking(ctx context.Context, actor domain.Actor, requestID string, next domain.BroadcastStatus) (domain.ServiceRequest, error) {
	req, err := d.requests.AdvanceTracking(ctx, actor, requestID, next)
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	if req.BroadcastStatus == domain.BroadcastCompleted {
		d.setOnJob(ctx, req.AssignedHelperID, false)
	}
	d.publish(event.KindRequest, req.ID, string(req.BroadcastStatus), req.AssignedHelperID)
	return req, nil
}

// CancelRequest forwards to the request ledger, expires pending
// notification records, and publishes the cancellation.
func (d *Dispatcher) CancelRequest(ctx context.Context, actor domain.Actor, requestID, reason string) (domain.ServiceRequest, error) {
	req, err := d.requests.Cancel(ctx, actor, requestID, reason)
	if err != nil {
		return domain.ServiceRequest{}, err
	}

	now := d.clock.Now()
	if _, err := d.registry.ExpireOthers(ctx, notify.JobRef{Kind: notify.JobRequest, ID: requestID}, "", now); err != nil {
		d.logger.Printf("expire records failed request=%s: %v", requestID, err)
	}
	d.setOnJob(ctx, req.AssignedHelperID, false)
	d.publish(event.KindRequest, requestID, string(domain.BroadcastCancelled), "")
	return req, nil
}

// ResolveAlert forwards to the alert ledger and publishes the
// resolution.
func (d *Dispatcher) ResolveAlert(ctx context.Context, actor domain.Actor, in ResolveAlertInput) (domain.SOSAlert, error) {
	alert, err := d.alerts.Resolve(ctx, actor, in)
	if err != nil {
		return domain.SOSAlert{}, err
	}
	d.publish(event.KindAlert, alert.ID, string(domain.AlertStatusResolved), alert.AcknowledgedBy)
	return alert, nil
}

// CancelAlert forwards to the alert ledger, expires pending records,
// and publishes the cancellation.
func (d *Dispatcher) CancelAlert(ctx context.Context, actor domain.Actor, alertID, reason string) (domain.SOSAlert, error) {
	alert, err := d.alerts.Cancel(ctx, actor, alertID, reason)
	if err != nil {
		return domain.SOSAlert{}, err
	}

	now := d.clock.Now()
	if _, err := d.registry.ExpireOthers(ctx, notify.JobRef{Kind: notify.JobAlert, ID: alertID}, "", now); err != nil {
		d.logger.Printf("expire records failed alert=%s: %v", alertID, err)
	}
	d.publish(event.KindAlert, alertID, string(domain.AlertStatusCancelled), "")
	return alert, nil
}

// ExpireRecipients sweeps per-recipient countdowns. The alert itself
// stays active until someone acknowledges or the alert-level budget
// elapses.
func (d *Dispatcher) ExpireRecipients(ctx context.Context) (int, error) {
	return d.registry.ExpireDue(ctx, d.clock.Now())
}

// ExpireStale runs both ledger-level expiry policies: stale request
// broadcasts and over-budget unacknowledged alerts.
func (d *Dispatcher) ExpireStale(ctx context.Context) error {
	now := d.clock.Now()

	requests, err := d.requests.ExpireStaleBroadcasts(ctx, now)
	if err != nil {
		return fmt.Errorf("expire stale broadcasts: %w", err)
	}
	alerts, err := d.alerts.ExpireStaleAlerts(ctx, now)
	if err != nil {
		return fmt.Errorf("expire stale alerts: %w", err)
	}
	if requests > 0 || alerts > 0 {
		d.logger.Printf("expiry sweep cancelled requests=%d alerts=%d", requests, alerts)
	}
	return nil
}

// Subscribe attaches a new event-stream subscriber.
func (d *Dispatcher) Subscribe() *event.Subscriber {
	return d.bus.Subscribe()
}

func (d *Dispatcher) publish(kind event.Kind, entityID, state, helperID string) {
	d.bus.Publish(event.Event{
		Kind:     kind,
		EntityID: entityID,
		State:    state,
		HelperID: helperID,
		At:       d.clock.Now(),
	})
}

// setOnJob is best effort like the notification fan-out: a stale busy
// flag only delays a helper's next wave, it never corrupts a ledger.
func (d *Dispatcher) setOnJob(ctx context.Context, helperID string, onJob bool) {
	if d.flags == nil || helperID == "" {
		return
	}
	if err := d.flags.SetOnJob(ctx, helperID, onJob); err != nil {
		d.logger.Printf("set on job failed helper=%s: %v", helperID, err)
	}
}

func (d *Dispatcher) markConflict(ctx context.Context, job notify.JobRef, recipient string) {
	if job.ID == "" {
		return
	}
	if err := d.registry.MarkResponse(ctx, job, recipient, notify.ResponseConflict, d.clock.Now()); err != nil {
		d.logger.Printf("mark conflict failed job=%s recipient=%s: %v", job.ID, recipient, err)
	}
}

func (d *Dispatcher) requestIDOf(ctx context.Context, applicationID string) string {
	app, err := d.requests.repo.GetApplication(ctx, applicationID)
	if err != nil {
		return ""
	}
	return app.RequestID
}
