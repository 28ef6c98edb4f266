package domain

import "time"

// AlertType classifies emergencies.
type AlertType string

const (
	AlertTypeSafety  AlertType = "safety"
	AlertTypeMedical AlertType = "medical"
	AlertTypeDispute AlertType = "dispute"
)

// ValidAlertType reports whether s names a known alert type.
func ValidAlertType(s AlertType) bool {
	switch s {
	case AlertTypeSafety, AlertTypeMedical, AlertTypeDispute:
		return true
	}
	return false
}

// AlertStatus is the lifecycle of an SOS alert.
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusCancelled    AlertStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s AlertStatus) Terminal() bool {
	return s == AlertStatusResolved || s == AlertStatusCancelled
}

// SOSAlert is a life-safety alert broadcast to nearby helpers.
// AcknowledgedBy is set at most once, only while the alert is active;
// the acknowledgement slot is one of the two contested resources in the
// engine (the other is a request's assigned helper).
type SOSAlert struct {
	ID             string
	UserID         string
	Type           AlertType
	Location       Location
	ContactPhone   string
	Description    string
	Status         AlertStatus
	AcknowledgedBy string
	AcknowledgedAt time.Time
	ResolvedAt     time.Time
	ResolutionNote string
	FalseAlarm     bool
	CancelReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
