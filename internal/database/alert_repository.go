package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/citysense/citysense/internal/domain"
)

// alertColumns must match the Scan order in scanAlert.
const alertColumns = `a.id, a.alert_id, a.sensor_id, s.name, a.metric_type, a.category,
	a.severity, a.status, a.title, a.message, a.trigger_value, a.threshold_value,
	a.location_lat, a.location_lng, a.location_address, a.created_at,
	a.acknowledged_by, a.acknowledged_at, a.acknowledged_notes,
	a.resolved_by, a.resolved_at, a.resolution, a.resolution_notes`

// AlertRepo implements domain.AlertRepository backed by PostgreSQL.
type AlertRepo struct {
	pool *pgxpool.Pool
}

func NewAlertRepo(pool *pgxpool.Pool) *AlertRepo {
	return &AlertRepo{pool: pool}
}

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var a domain.Alert
	err := row.Scan(
		&a.ID, &a.AlertID, &a.SensorID, &a.SensorName, &a.MetricType, &a.Category,
		&a.Severity, &a.Status, &a.Title, &a.Message, &a.TriggerValue, &a.ThresholdValue,
		&a.Location.Lat, &a.Location.Lng, &a.Location.Address, &a.CreatedAt,
		&a.AcknowledgedBy, &a.AcknowledgedAt, &a.AcknowledgedNotes,
		&a.ResolvedBy, &a.ResolvedAt, &a.Resolution, &a.ResolutionNotes,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AlertRepo) Create(ctx context.Context, alert *domain.Alert) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO alerts (alert_id, sensor_id, metric_type, category, severity, status,
			title, message, trigger_value, threshold_value,
			location_lat, location_lng, location_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		alert.AlertID, alert.SensorID, alert.MetricType, alert.Category,
		alert.Severity, alert.Status, alert.Title, alert.Message,
		alert.TriggerValue, alert.ThresholdValue,
		alert.Location.Lat, alert.Location.Lng, alert.Location.Address, alert.CreatedAt,
	).Scan(&alert.ID)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (r *AlertRepo) GetByAlertID(ctx context.Context, alertID string) (*domain.Alert, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+alertColumns+`
		FROM alerts a JOIN sensors s ON s.id = a.sensor_id
		WHERE a.alert_id = $1`, alertID)
	alert, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %s: %w", alertID, err)
	}
	return alert, nil
}

func (r *AlertRepo) List(ctx context.Context, skip, limit int) ([]domain.Alert, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+alertColumns+`
		FROM alerts a JOIN sensors s ON s.id = a.sensor_id
		ORDER BY a.created_at DESC
		OFFSET $1 LIMIT $2`, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

func (r *AlertRepo) ListFiltered(ctx context.Context, filter domain.AlertFilter) ([]domain.Alert, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses = append(statuses, string(s))
	}
	severities := make([]string, 0, len(filter.Severities))
	for _, s := range filter.Severities {
		severities = append(severities, string(s))
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+alertColumns+`
		FROM alerts a JOIN sensors s ON s.id = a.sensor_id
		WHERE (cardinality($1::text[]) = 0 OR a.status = ANY($1))
		  AND (cardinality($2::text[]) = 0 OR a.severity = ANY($2))
		ORDER BY a.created_at DESC
		LIMIT $3`, statuses, severities, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list filtered alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

func collectAlerts(rows pgx.Rows) ([]domain.Alert, error) {
	var alerts []domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}

func (r *AlertRepo) Update(ctx context.Context, alert *domain.Alert) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE alerts SET
			status = $2,
			acknowledged_by = $3, acknowledged_at = $4, acknowledged_notes = $5,
			resolved_by = $6, resolved_at = $7, resolution = $8, resolution_notes = $9
		WHERE id = $1`,
		alert.ID, alert.Status,
		alert.AcknowledgedBy, alert.AcknowledgedAt, alert.AcknowledgedNotes,
		alert.ResolvedBy, alert.ResolvedAt, alert.Resolution, alert.ResolutionNotes,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert %s: %w", alert.AlertID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlertNotFound
	}
	return nil
}

func (r *AlertRepo) AppendAction(ctx context.Context, action *domain.AlertAction) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO alert_actions (alert_id, user_id, action, notes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		action.AlertID, action.UserID, action.Action, action.Notes, action.CreatedAt,
	).Scan(&action.ID)
	if err != nil {
		return fmt.Errorf("failed to insert alert action: %w", err)
	}
	return nil
}

func (r *AlertRepo) CountActiveBySeverity(ctx context.Context) (map[domain.AlertSeverity]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT severity, COUNT(*)
		FROM alerts
		WHERE status = 'active'
		GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts by severity: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.AlertSeverity]int)
	for rows.Next() {
		var severity domain.AlertSeverity
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan severity count: %w", err)
		}
		counts[severity] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate severity counts: %w", err)
	}
	return counts, nil
}
