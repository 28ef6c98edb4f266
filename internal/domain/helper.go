package domain

import "time"

// DefaultServiceRadiusKm applies when a helper profile has no radius
// configured.
const DefaultServiceRadiusKm = 50.0

// HelperProfile is the read model the geo index ranks candidates from.
// Profile CRUD lives in the surrounding application; the engine only
// reads these rows.
type HelperProfile struct {
	ID              string
	FullName        string
	Approved        bool
	Available       bool
	OnJob           bool
	EmergencyReady  bool
	Categories      []string
	Location        Location
	ServiceRadiusKm float64
	UpdatedAt       time.Time
}

// ServesCategory reports whether the helper covers the category. A
// helper with no categories configured covers everything, so newly
// onboarded helpers are reachable before they pick specialties.
func (h HelperProfile) ServesCategory(category string) bool {
	if len(h.Categories) == 0 {
		return true
	}
	for _, c := range h.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Radius returns the helper's configured service radius with the
// default applied.
func (h HelperProfile) Radius() float64 {
	if h.ServiceRadiusKm <= 0 {
		return DefaultServiceRadiusKm
	}
	return h.ServiceRadiusKm
}
