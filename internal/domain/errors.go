package domain

import "errors"

var (
	// ErrConflict means another actor won the race for a contested slot.
	// Expected outcome of concurrent accepts, not a fault.
	ErrConflict = errors.New("conflict: another actor won the race")

	ErrInvalidTransition    = errors.New("invalid tracking transition")
	ErrRequestNotOpen       = errors.New("request is not open for applications")
	ErrAlertNotActive       = errors.New("alert is not active")
	ErrDuplicateApplication = errors.New("helper already applied to this request")
	ErrApplicationNotOpen   = errors.New("application is not open")

	ErrNotAssignedHelper   = errors.New("caller is not the assigned helper")
	ErrNotApplicationOwner = errors.New("caller does not own this application")
	ErrNotRequestOwner     = errors.New("caller does not own this request")
	ErrNotAlertOwner       = errors.New("caller does not own this alert")
	ErrActorNotAllowed     = errors.New("actor role not allowed for this action")

	ErrInvalidLocation  = errors.New("invalid or missing coordinates")
	ErrInvalidCategory  = errors.New("invalid service category")
	ErrInvalidAlertType = errors.New("invalid alert type")
	ErrInvalidBudget    = errors.New("invalid budget range")
	ErrInvalidID        = errors.New("invalid id")

	ErrRequestNotFound     = errors.New("request not found")
	ErrApplicationNotFound = errors.New("application not found")
	ErrAlertNotFound       = errors.New("alert not found")
	ErrHelperNotFound      = errors.New("helper not found")
)
