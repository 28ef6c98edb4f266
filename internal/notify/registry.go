package notify

import (
	"context"
	"sync"
	"time"
)

// JobKind distinguishes the two broadcast sources.
type JobKind string

const (
	JobRequest JobKind = "request"
	JobAlert   JobKind = "alert"
)

// JobRef identifies one broadcast (a request or an alert).
type JobRef struct {
	Kind JobKind
	ID   string
}

// Response is a candidate's recorded reaction to a notification.
type Response string

const (
	ResponseAccept   Response = "accept"
	ResponseDecline  Response = "decline"
	ResponseExpired  Response = "expired"
	ResponseConflict Response = "declined_by_conflict"
)

// Record is one candidate-notification entry. Records are ephemeral:
// they exist to suppress duplicate sends and to drive the per-recipient
// countdown, not to be a durable audit trail.
type Record struct {
	Recipient   string
	SentAt      time.Time
	Deadline    time.Time // zero when the job has no per-recipient countdown
	Response    Response  // empty while pending
	RespondedAt time.Time
}

// Pending reports whether the recipient has not yet responded or
// expired.
func (r Record) Pending() bool { return r.Response == "" }

// Registry tracks who has been notified about which job.
type Registry interface {
	// MarkSent records a send and reports whether this is the first
	// send to the recipient for this job. A false return suppresses
	// the duplicate notification. ttl > 0 arms the per-recipient
	// countdown.
	MarkSent(ctx context.Context, job JobRef, recipient string, sentAt time.Time, ttl time.Duration) (bool, error)

	// MarkResponse records the recipient's reaction. Responses on
	// records that already resolved are ignored.
	MarkResponse(ctx context.Context, job JobRef, recipient string, resp Response, at time.Time) error

	// ExpireOthers marks every pending record for the job except the
	// winner's as expired, and returns how many it touched.
	ExpireOthers(ctx context.Context, job JobRef, winner string, at time.Time) (int, error)

	// ExpireDue marks every pending record whose countdown has elapsed
	// as expired, and returns how many it touched.
	ExpireDue(ctx context.Context, now time.Time) (int, error)

	// Pending lists recipients still counting toward "waiting on a
	// response" for the job.
	Pending(ctx context.Context, job JobRef) ([]string, error)
}

// MemoryRegistry is the default in-process Registry.
type MemoryRegistry struct {
	mu   sync.Mutex
	jobs map[JobRef]map[string]*Record
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{jobs: make(map[JobRef]map[string]*Record)}
}

func (m *MemoryRegistry) MarkSent(_ context.Context, job JobRef, recipient string, sentAt time.Time, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.jobs[job]
	if !ok {
		records = make(map[string]*Record)
		m.jobs[job] = records
	}
	if _, exists := records[recipient]; exists {
		return false, nil
	}

	rec := &Record{Recipient: recipient, SentAt: sentAt}
	if ttl > 0 {
		rec.Deadline = sentAt.Add(ttl)
	}
	records[recipient] = rec
	return true, nil
}

func (m *MemoryRegistry) MarkResponse(_ context.Context, job JobRef, recipient string, resp Response, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.jobs[job][recipient]
	if !ok || !rec.Pending() {
		return nil
	}
	rec.Response = resp
	rec.RespondedAt = at
	return nil
}

func (m *MemoryRegistry) ExpireOthers(_ context.Context, job JobRef, winner string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for recipient, rec := range m.jobs[job] {
		if recipient == winner || !rec.Pending() {
			continue
		}
		rec.Response = ResponseExpired
		rec.RespondedAt = at
		expired++
	}
	return expired, nil
}

func (m *MemoryRegistry) ExpireDue(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for _, records := range m.jobs {
		for _, rec := range records {
			if !rec.Pending() || rec.Deadline.IsZero() || now.Before(rec.Deadline) {
				continue
			}
			rec.Response = ResponseExpired
			rec.RespondedAt = now
			expired++
		}
	}
	return expired, nil
}

func (m *MemoryRegistry) Pending(_ context.Context, job JobRef) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []string
	for recipient, rec := range m.jobs[job] {
		if rec.Pending() {
			pending = append(pending, recipient)
		}
	}
	return pending, nil
}

// Get returns a copy of a record, for tests and debugging.
func (m *MemoryRegistry) Get(job JobRef, recipient string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.jobs[job][recipient]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}
