package domain

import "time"

// RequestStatus tracks the commercial lifecycle of a service request.
type RequestStatus string

const (
	RequestStatusDraft     RequestStatus = "draft"
	RequestStatusOpen      RequestStatus = "open"
	RequestStatusAssigned  RequestStatus = "assigned"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusCancelled RequestStatus = "cancelled"
)

// BroadcastStatus tracks the live dispatch/tracking state of a request.
// It is related to RequestStatus but not identical: a request becomes
// "assigned" commercially the moment its broadcast slot is won, while
// the broadcast status keeps advancing through the tracking chain.
type BroadcastStatus string

const (
	// BroadcastNone is the zero value before dispatch begins.
	BroadcastNone         BroadcastStatus = ""
	BroadcastBroadcasting BroadcastStatus = "broadcasting"
	BroadcastAccepted     BroadcastStatus = "accepted"
	BroadcastOnWay        BroadcastStatus = "on_way"
	BroadcastArrived      BroadcastStatus = "arrived"
	BroadcastInProgress   BroadcastStatus = "in_progress"
	BroadcastCompleted    BroadcastStatus = "completed"
	BroadcastCancelled    BroadcastStatus = "cancelled"
)

// trackingNext is the only legal forward step from each post-acceptance
// state. No stage may be skipped and no transition runs backward.
var trackingNext = map[BroadcastStatus]BroadcastStatus{
	BroadcastAccepted:   BroadcastOnWay,
	BroadcastOnWay:      BroadcastArrived,
	BroadcastArrived:    BroadcastInProgress,
	BroadcastInProgress: BroadcastCompleted,
}

// NextTracking returns the single legal tracking successor of cur, or
// false when cur has none (pre-acceptance or terminal).
func NextTracking(cur BroadcastStatus) (BroadcastStatus, bool) {
	next, ok := trackingNext[cur]
	return next, ok
}

// CanAdvanceTo reports whether moving cur -> next is a legal single
// tracking step.
func (s BroadcastStatus) CanAdvanceTo(next BroadcastStatus) bool {
	legal, ok := trackingNext[s]
	return ok && legal == next
}

// Terminal reports whether no further broadcast transitions are allowed.
func (s BroadcastStatus) Terminal() bool {
	return s == BroadcastCompleted || s == BroadcastCancelled
}

// Cancellable reports whether the broadcast may move to cancelled.
// Cancelled is reachable from every non-terminal state.
func (s BroadcastStatus) Cancellable() bool {
	return !s.Terminal()
}

// ValidTrackingTarget reports whether s names a state a helper may
// request via tracking advancement.
func ValidTrackingTarget(s BroadcastStatus) bool {
	switch s {
	case BroadcastOnWay, BroadcastArrived, BroadcastInProgress, BroadcastCompleted:
		return true
	}
	return false
}

// Urgency of a service request. Urgent requests broadcast with a wider
// candidate radius.
type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyUrgent Urgency = "urgent"
)

// ServiceRequest is a customer job offered to nearby helpers.
type ServiceRequest struct {
	ID                 string
	CustomerID         string
	Category           string
	Description        string
	Location           Location
	BudgetMin          int64
	BudgetMax          int64
	Urgency            Urgency
	Status             RequestStatus
	BroadcastStatus    BroadcastStatus
	AssignedHelperID   string
	BroadcastExpiresAt time.Time
	AcceptedAt         time.Time
	CancelReason       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Assigned reports whether a helper currently owns the job.
func (r ServiceRequest) Assigned() bool {
	switch r.BroadcastStatus {
	case BroadcastAccepted, BroadcastOnWay, BroadcastArrived, BroadcastInProgress:
		return true
	}
	return false
}
