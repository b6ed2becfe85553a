package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/citysense/citysense/internal/domain"
)

// SensorRepo implements domain.SensorRepository backed by PostgreSQL.
type SensorRepo struct {
	pool *pgxpool.Pool
}

func NewSensorRepo(pool *pgxpool.Pool) *SensorRepo {
	return &SensorRepo{pool: pool}
}

func (r *SensorRepo) GetByID(ctx context.Context, id int64) (*domain.Sensor, error) {
	var s domain.Sensor
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, type, status, location_lat, location_lng, location_address
		FROM sensors
		WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.Type, &s.Status, &s.Location.Lat, &s.Location.Lng, &s.Location.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSensorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sensor %d: %w", id, err)
	}
	return &s, nil
}

func (r *SensorRepo) CountByStatus(ctx context.Context) (map[domain.SensorStatus]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM sensors
		GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sensors by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SensorStatus]int)
	for rows.Next() {
		var status domain.SensorStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan sensor count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sensor counts: %w", err)
	}
	return counts, nil
}
