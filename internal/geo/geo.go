// Package geo ranks eligible helpers by proximity to a job. It is
// side-effect free: the index reads helper profiles through a source
// interface and never mutates anything.
package geo

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/helparoservices-sys/helparo-dispatch/internal/domain"
)

// ProfileSource lists helper profiles that already pass the cheap
// filters (approved, category coverage). Distance and availability
// filtering happens in the index.
type ProfileSource interface {
	ListEligibleHelpers(ctx context.Context, category string) ([]domain.HelperProfile, error)
}

// Job is the dispatch target candidates are ranked for.
type Job struct {
	Location  domain.Location
	Category  string
	Urgent    bool
	Emergency bool
}

// Candidate is a ranked helper with the distance that ranked it.
type Candidate struct {
	HelperID   string
	DistanceKm float64
	Available  bool
}

// Index ranks candidates for a job.
type Index struct {
	source ProfileSource

	radiusKm          float64
	emergencyRadiusKm float64
}

// Option configures an Index.
type Option func(*Index)

// WithRadius sets the base candidate radius for ordinary jobs.
func WithRadius(km float64) Option {
	return func(ix *Index) {
		if km > 0 {
			ix.radiusKm = km
		}
	}
}

// WithEmergencyRadius sets the widened radius used for urgent jobs and
// SOS alerts.
func WithEmergencyRadius(km float64) Option {
	return func(ix *Index) {
		if km > 0 {
			ix.emergencyRadiusKm = km
		}
	}
}

const (
	defaultRadiusKm          = domain.DefaultServiceRadiusKm
	defaultEmergencyRadiusKm = 100.0
)

func NewIndex(source ProfileSource, opts ...Option) *Index {
	ix := &Index{
		source:            source,
		radiusKm:          defaultRadiusKm,
		emergencyRadiusKm: defaultEmergencyRadiusKm,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Candidates returns helpers eligible for the job, ranked by
// availability (available-now first), then distance, then helper id for
// a deterministic order. The effective radius per helper is the smaller
// of the job radius and the helper's own service radius.
func (ix *Index) Candidates(ctx context.Context, job Job) ([]Candidate, error) {
	if !job.Location.Valid() {
		return nil, domain.ErrInvalidLocation
	}

	profiles, err := ix.source.ListEligibleHelpers(ctx, job.Category)
	if err != nil {
		return nil, fmt.Errorf("list eligible helpers: %w", err)
	}

	jobRadius := ix.radiusKm
	if job.Urgent || job.Emergency {
		jobRadius = ix.emergencyRadiusKm
	}

	candidates := make([]Candidate, 0, len(profiles))
	for _, p := range profiles {
		if !p.Approved || p.OnJob {
			continue
		}
		if job.Emergency && !p.EmergencyReady {
			continue
		}
		if !p.ServesCategory(job.Category) {
			continue
		}
		if !p.Location.Valid() {
			continue
		}

		dist := DistanceKm(job.Location, p.Location)
		if dist > math.Min(jobRadius, p.Radius()) {
			continue
		}
		candidates = append(candidates, Candidate{
			HelperID:   p.ID,
			DistanceKm: dist,
			Available:  p.Available,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Available != b.Available {
			return a.Available
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.HelperID < b.HelperID
	})
	return candidates, nil
}

const earthRadiusKm = 6371.0

// DistanceKm is the Haversine great-circle distance between two points.
func DistanceKm(a, b domain.Location) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
