package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/helparoservices-sys/helparo-dispatch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RequestRepository persists service requests and applications. Every
// contested transition is a conditional UPDATE whose affected-row count
// tells the service whether the expected-state guard held; the request
// row itself is the only lock scope, so two requests never block each
// other.
type RequestRepository struct {
	pool *pgxpool.Pool
}

func NewRequestRepository(pool *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{pool: pool}
}

func (r *RequestRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

const requestColumns = `id, customer_id, category, description, lat, lng, budget_min, budget_max,
	urgency, status, broadcast_status, assigned_helper_id, broadcast_expires_at, accepted_at,
	cancel_reason, created_at, updated_at`

func (r *RequestRepository) CreateRequest(ctx context.Context, req domain.ServiceRequest) error {
	const stmt = `
INSERT INTO service_requests
	(id, customer_id, category, description, lat, lng, budget_min, budget_max, urgency, status, broadcast_status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.exec(ctx, stmt,
		req.ID, req.CustomerID, req.Category, req.Description,
		req.Location.Lat, req.Location.Lng, req.BudgetMin, req.BudgetMax,
		req.Urgency, req.Status, req.BroadcastStatus, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func (r *RequestRepository) GetRequest(ctx context.Context, id string) (domain.ServiceRequest, error) {
	return r.getRequest(ctx, id, false)
}

func (r *RequestRepository) GetRequestForUpdate(ctx context.Context, id string) (domain.ServiceRequest, error) {
	return r.getRequest(ctx, id, true)
}

func (r *RequestRepository) getRequest(ctx context.Context, id string, forUpdate bool) (domain.ServiceRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM service_requests WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		req          domain.ServiceRequest
		assignedTo   sql.NullString
		expiresAt    sql.NullTime
		acceptedAt   sql.NullTime
		cancelReason sql.NullString
	)
	err := r.queryRow(ctx, query, id).Scan(
		&req.ID, &req.CustomerID, &req.Category, &req.Description,
		&req.Location.Lat, &req.Location.Lng, &req.BudgetMin, &req.BudgetMax,
		&req.Urgency, &req.Status, &req.BroadcastStatus, &assignedTo,
		&expiresAt, &acceptedAt, &cancelReason, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ServiceRequest{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.ServiceRequest{}, domain.ErrRequestNotFound
		}
		return domain.ServiceRequest{}, fmt.Errorf("get request: %w", err)
	}
	req.AssignedHelperID = assignedTo.String
	req.BroadcastExpiresAt = expiresAt.Time
	req.AcceptedAt = acceptedAt.Time
	req.CancelReason = cancelReason.String
	return req, nil
}

func (r *RequestRepository) SetBroadcasting(ctx context.Context, id string, expiresAt, now time.Time) (bool, error) {
	const stmt = `
UPDATE service_requests
SET broadcast_status = 'broadcasting', status = 'open', broadcast_expires_at = $2, updated_at = $3
WHERE id = $1 AND broadcast_status = '' AND status IN ('draft', 'open')`

	tag, err := r.exec(ctx, stmt, id, expiresAt, now)
	if err != nil {
		return false, fmt.Errorf("set broadcasting: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RequestRepository) CreateApplication(ctx context.Context, a domain.Application) error {
	const stmt = `
INSERT INTO applications (id, request_id, helper_id, rate, note, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.exec(ctx, stmt, a.ID, a.RequestID, a.HelperID, a.Rate, a.Note, a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateApplication
		}
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

const applicationColumns = `id, request_id, helper_id, rate, note, status, created_at, updated_at`

func (r *RequestRepository) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1`

	var a domain.Application
	err := r.queryRow(ctx, query, id).Scan(
		&a.ID, &a.RequestID, &a.HelperID, &a.Rate, &a.Note, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Application{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Application{}, domain.ErrApplicationNotFound
		}
		return domain.Application{}, fmt.Errorf("get application: %w", err)
	}
	return a, nil
}

func (r *RequestRepository) FindOpenApplication(ctx context.Context, requestID, helperID string) (*domain.Application, error) {
	query := `SELECT ` + applicationColumns + `
FROM applications
WHERE request_id = $1 AND helper_id = $2 AND status <> 'withdrawn'`

	var a domain.Application
	err := r.queryRow(ctx, query, requestID, helperID).Scan(
		&a.ID, &a.RequestID, &a.HelperID, &a.Rate, &a.Note, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find open application: %w", err)
	}
	return &a, nil
}

func (r *RequestRepository) ListApplications(ctx context.Context, requestID string) ([]domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE request_id = $1 ORDER BY created_at, id`

	rows, err := r.query(ctx, query, requestID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []domain.Application
	for rows.Next() {
		var a domain.Application
		if err := rows.Scan(&a.ID, &a.RequestID, &a.HelperID, &a.Rate, &a.Note, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return apps, nil
}

func (r *RequestRepository) AssignHelper(ctx context.Context, requestID, helperID string, now time.Time) (bool, error) {
	const stmt = `
UPDATE service_requests
SET broadcast_status = 'accepted', status = 'assigned', assigned_helper_id = $2, accepted_at = $3, updated_at = $3
WHERE id = $1 AND broadcast_status = 'broadcasting' AND assigned_helper_id IS NULL`

	tag, err := r.exec(ctx, stmt, requestID, helperID, now)
	if err != nil {
		return false, fmt.Errorf("assign helper: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RequestRepository) AcceptApplication(ctx context.Context, applicationID string, now time.Time) (bool, error) {
	const stmt = `
UPDATE applications
SET status = 'accepted', updated_at = $2
WHERE id = $1 AND status = 'applied'`

	tag, err := r.exec(ctx, stmt, applicationID, now)
	if err != nil {
		return false, fmt.Errorf("accept application: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RequestRepository) RejectSiblings(ctx context.Context, requestID, acceptedID string, now time.Time) (int, error) {
	const stmt = `
UPDATE applications
SET status = 'rejected', updated_at = $3
WHERE request_id = $1 AND id <> $2 AND status = 'applied'`

	tag, err := r.exec(ctx, stmt, requestID, acceptedID, now)
	if err != nil {
		return 0, fmt.Errorf("reject siblings: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *RequestRepository) RejectOpenApplications(ctx context.Context, requestID string, now time.Time) (int, error) {
	const stmt = `
UPDATE applications
SET status = 'rejected', updated_at = $2
WHERE request_id = $1 AND status = 'applied'`

	tag, err := r.exec(ctx, stmt, requestID, now)
	if err != nil {
		return 0, fmt.Errorf("reject open applications: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *RequestRepository) UpdateTracking(ctx context.Context, requestID string, from, to domain.BroadcastStatus, now time.Time) (bool, error) {
	const stmt = `
UPDATE service_requests
SET broadcast_status = $3,
    status = CASE WHEN $3 = 'completed' THEN 'completed' ELSE status END,
    updated_at = $4
WHERE id = $1 AND broadcast_status = $2`

	tag, err := r.exec(ctx, stmt, requestID, from, to, now)
	if err != nil {
		return false, fmt.Errorf("update tracking: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RequestRepository) WithdrawApplication(ctx context.Context, applicationID string, now time.Time) (bool, error) {
	const stmt = `
UPDATE applications
SET status = 'withdrawn', updated_at = $2
WHERE id = $1 AND status = 'applied'`

	tag, err := r.exec(ctx, stmt, applicationID, now)
	if err != nil {
		return false, fmt.Errorf("withdraw application: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RequestRepository) CancelRequest(ctx context.Context, requestID, reason string, now time.Time) (bool, error) {
	const stmt = `
UPDATE service_requests
SET broadcast_status = 'cancelled', status = 'cancelled', cancel_reason = $2, updated_at = $3
WHERE id = $1
  AND broadcast_status NOT IN ('completed', 'cancelled')
  AND status NOT IN ('completed', 'cancelled')`

	tag, err := r.exec(ctx, stmt, requestID, reason, now)
	if err != nil {
		return false, fmt.Errorf("cancel request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RequestRepository) ListExpiredBroadcasts(ctx context.Context, now time.Time) ([]string, error) {
	const query = `
SELECT id FROM service_requests
WHERE broadcast_status = 'broadcasting' AND broadcast_expires_at IS NOT NULL AND broadcast_expires_at <= $1
ORDER BY broadcast_expires_at`

	rows, err := r.query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list expired broadcasts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired broadcast: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expired broadcasts: %w", err)
	}
	return ids, nil
}

func (r *RequestRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *RequestRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}

func (r *RequestRepository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}
