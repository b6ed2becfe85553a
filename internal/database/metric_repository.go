package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/citysense/citysense/internal/domain"
)

// MetricRepo implements domain.MetricRepository backed by PostgreSQL.
type MetricRepo struct {
	pool *pgxpool.Pool
}

func NewMetricRepo(pool *pgxpool.Pool) *MetricRepo {
	return &MetricRepo{pool: pool}
}

func (r *MetricRepo) Insert(ctx context.Context, metric *domain.Metric) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO metrics (sensor_id, metric_type, value, ts)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		metric.SensorID, metric.MetricType, metric.Value, metric.Timestamp,
	).Scan(&metric.ID)
	if err != nil {
		return fmt.Errorf("failed to insert metric: %w", err)
	}
	return nil
}

func (r *MetricRepo) ListLatest(ctx context.Context, sensorTypes []string, limit int) ([]domain.Metric, error) {
	if sensorTypes == nil {
		sensorTypes = []string{}
	}
	rows, err := r.pool.Query(ctx, `
		SELECT m.id, m.sensor_id, s.name, m.metric_type, m.value, m.ts,
			s.location_lat, s.location_lng, s.location_address
		FROM metrics m JOIN sensors s ON s.id = m.sensor_id
		WHERE (cardinality($1::text[]) = 0 OR s.type = ANY($1))
		ORDER BY m.ts DESC
		LIMIT $2`, sensorTypes, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest metrics: %w", err)
	}
	defer rows.Close()
	return collectMetrics(rows)
}

func (r *MetricRepo) ListSince(ctx context.Context, since time.Time, metricType string) ([]domain.Metric, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT m.id, m.sensor_id, s.name, m.metric_type, m.value, m.ts,
			s.location_lat, s.location_lng, s.location_address
		FROM metrics m JOIN sensors s ON s.id = m.sensor_id
		WHERE m.ts >= $1 AND ($2 = '' OR m.metric_type = $2)
		ORDER BY m.ts DESC`, since, metricType)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics since %s: %w", since, err)
	}
	defer rows.Close()
	return collectMetrics(rows)
}

func collectMetrics(rows pgx.Rows) ([]domain.Metric, error) {
	var out []domain.Metric
	for rows.Next() {
		var m domain.Metric
		err := rows.Scan(&m.ID, &m.SensorID, &m.SensorName, &m.MetricType, &m.Value, &m.Timestamp,
			&m.Location.Lat, &m.Location.Lng, &m.Location.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate metrics: %w", err)
	}
	return out, nil
}
