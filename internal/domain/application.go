package domain

import "time"

// ApplicationStatus is the lifecycle of a helper's bid on a request.
type ApplicationStatus string

const (
	ApplicationStatusApplied   ApplicationStatus = "applied"
	ApplicationStatusAccepted  ApplicationStatus = "accepted"
	ApplicationStatusRejected  ApplicationStatus = "rejected"
	ApplicationStatusWithdrawn ApplicationStatus = "withdrawn"
)

// Application is a helper's bid on a service request. At most one
// non-withdrawn application exists per (request, helper), and at most
// one application per request is ever accepted. Applications are never
// physically deleted.
type Application struct {
	ID        string
	RequestID string
	HelperID  string
	Rate      int64
	Note      string
	Status    ApplicationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Open reports whether the application can still be accepted or
// withdrawn.
func (a Application) Open() bool {
	return a.Status == ApplicationStatusApplied
}
