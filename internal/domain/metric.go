package domain

import (
	"context"
	"time"
)

// Metric is a single sensor reading. SensorName and Location are denormalized
// from the owning sensor when read through the list queries.
type Metric struct {
	ID         int64
	SensorID   int64
	SensorName string
	MetricType string
	Value      float64
	Timestamp  time.Time
	Location   Location
}

// MetricRepository is the persistence boundary for sensor readings.
type MetricRepository interface {
	Insert(ctx context.Context, metric *Metric) error
	// ListLatest returns up to limit readings, newest first, optionally
	// filtered by sensor type names.
	ListLatest(ctx context.Context, sensorTypes []string, limit int) ([]Metric, error)
	// ListSince returns readings with Timestamp >= since, optionally filtered
	// by metric type.
	ListSince(ctx context.Context, since time.Time, metricType string) ([]Metric, error)
}
