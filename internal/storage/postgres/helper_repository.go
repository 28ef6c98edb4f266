package postgres

import (
	"context"
	"fmt"

	"github.com/helparoservices-sys/helparo-dispatch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HelperRepository reads helper profiles for the geo index. Profile
// writes belong to the surrounding application; the engine only lists
// candidates. Category coverage and distance are filtered by the index,
// which also handles the empty-categories-means-everything rule; this
// query only drops unapproved rows.
type HelperRepository struct {
	pool *pgxpool.Pool
}

func NewHelperRepository(pool *pgxpool.Pool) *HelperRepository {
	return &HelperRepository{pool: pool}
}

func (r *HelperRepository) ListEligibleHelpers(ctx context.Context, category string) ([]domain.HelperProfile, error) {
	const query = `
SELECT id, full_name, approved, available, on_job, emergency_ready,
       categories, COALESCE(lat, 0), COALESCE(lng, 0), service_radius_km, updated_at
FROM helper_profiles
WHERE approved = TRUE
  AND (cardinality(categories) = 0 OR $1 = ANY(categories) OR $1 = '')
ORDER BY id`

	rows, err := r.query(ctx, query, category)
	if err != nil {
		return nil, fmt.Errorf("list eligible helpers: %w", err)
	}
	defer rows.Close()

	var helpers []domain.HelperProfile
	for rows.Next() {
		var h domain.HelperProfile
		if err := rows.Scan(
			&h.ID, &h.FullName, &h.Approved, &h.Available, &h.OnJob, &h.EmergencyReady,
			&h.Categories, &h.Location.Lat, &h.Location.Lng, &h.ServiceRadiusKm, &h.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan helper: %w", err)
		}
		helpers = append(helpers, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list eligible helpers: %w", err)
	}
	return helpers, nil
}

// SetOnJob flips the helper's on-job flag, mirroring the assignment
// outcome so future candidate waves skip busy helpers.
func (r *HelperRepository) SetOnJob(ctx context.Context, helperID string, onJob bool) error {
	const stmt = `UPDATE helper_profiles SET on_job = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.exec(ctx, stmt, helperID, onJob)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("set on job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrHelperNotFound
	}
	return nil
}

func (r *HelperRepository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}

func (r *HelperRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}
