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

// AlertRepository persists SOS alerts. The acknowledgement slot is
// claimed by a conditional UPDATE guarded on status = 'active'.
type AlertRepository struct {
	pool *pgxpool.Pool
}

func NewAlertRepository(pool *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{pool: pool}
}

func (r *AlertRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *AlertRepository) CreateAlert(ctx context.Context, a domain.SOSAlert) error {
	const stmt = `
INSERT INTO sos_alerts
	(id, user_id, alert_type, lat, lng, contact_phone, description, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.exec(ctx, stmt,
		a.ID, a.UserID, a.Type, a.Location.Lat, a.Location.Lng,
		a.ContactPhone, a.Description, a.Status, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

const alertColumns = `id, user_id, alert_type, lat, lng, contact_phone, description, status,
	acknowledged_by, acknowledged_at, resolved_at, resolution_note, false_alarm, cancel_reason,
	created_at, updated_at`

func (r *AlertRepository) GetAlert(ctx context.Context, id string) (domain.SOSAlert, error) {
	return r.getAlert(ctx, id, false)
}

func (r *AlertRepository) GetAlertForUpdate(ctx context.Context, id string) (domain.SOSAlert, error) {
	return r.getAlert(ctx, id, true)
}

func (r *AlertRepository) getAlert(ctx context.Context, id string, forUpdate bool) (domain.SOSAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM sos_alerts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		a              domain.SOSAlert
		acknowledgedBy sql.NullString
		acknowledgedAt sql.NullTime
		resolvedAt     sql.NullTime
		resolutionNote sql.NullString
		cancelReason   sql.NullString
	)
	err := r.queryRow(ctx, query, id).Scan(
		&a.ID, &a.UserID, &a.Type, &a.Location.Lat, &a.Location.Lng,
		&a.ContactPhone, &a.Description, &a.Status,
		&acknowledgedBy, &acknowledgedAt, &resolvedAt, &resolutionNote,
		&a.FalseAlarm, &cancelReason, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.SOSAlert{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.SOSAlert{}, domain.ErrAlertNotFound
		}
		return domain.SOSAlert{}, fmt.Errorf("get alert: %w", err)
	}
	a.AcknowledgedBy = acknowledgedBy.String
	a.AcknowledgedAt = acknowledgedAt.Time
	a.ResolvedAt = resolvedAt.Time
	a.ResolutionNote = resolutionNote.String
	a.CancelReason = cancelReason.String
	return a, nil
}

func (r *AlertRepository) AcknowledgeAlert(ctx context.Context, alertID, helperID string, now time.Time) (bool, error) {
	const stmt = `
UPDATE sos_alerts
SET status = 'acknowledged', acknowledged_by = $2, acknowledged_at = $3, updated_at = $3
WHERE id = $1 AND status = 'active' AND acknowledged_by IS NULL`

	tag, err := r.exec(ctx, stmt, alertID, helperID, now)
	if err != nil {
		return false, fmt.Errorf("acknowledge alert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *AlertRepository) ResolveAlert(ctx context.Context, alertID, note string, falseAlarm bool, now time.Time) (bool, error) {
	const stmt = `
UPDATE sos_alerts
SET status = 'resolved', resolved_at = $4, resolution_note = $2, false_alarm = $3, updated_at = $4
WHERE id = $1 AND status = 'acknowledged'`

	tag, err := r.exec(ctx, stmt, alertID, note, falseAlarm, now)
	if err != nil {
		return false, fmt.Errorf("resolve alert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *AlertRepository) CancelAlert(ctx context.Context, alertID, reason string, now time.Time) (bool, error) {
	const stmt = `
UPDATE sos_alerts
SET status = 'cancelled', cancel_reason = $2, updated_at = $3
WHERE id = $1 AND status = 'active'`

	tag, err := r.exec(ctx, stmt, alertID, reason, now)
	if err != nil {
		return false, fmt.Errorf("cancel alert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *AlertRepository) ListExpiredActive(ctx context.Context, cutoff time.Time) ([]string, error) {
	const query = `
SELECT id FROM sos_alerts
WHERE status = 'active' AND created_at <= $1
ORDER BY created_at`

	rows, err := r.query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired alerts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired alert: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expired alerts: %w", err)
	}
	return ids, nil
}

func (r *AlertRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *AlertRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}

func (r *AlertRepository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}
