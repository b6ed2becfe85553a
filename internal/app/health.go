// Package app holds background loops that drive the realtime plane from the
// outside, currently the periodic system health broadcast.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/citysense/citysense/internal/domain"
	"github.com/citysense/citysense/internal/realtime"
)

// HealthTicker periodically computes a system health snapshot from storage
// and publishes it to every connected observer.
type HealthTicker struct {
	sensors   domain.SensorRepository
	alerts    domain.AlertRepository
	publisher *realtime.Publisher
	clock     clockwork.Clock
	interval  time.Duration
}

func NewHealthTicker(
	sensors domain.SensorRepository,
	alerts domain.AlertRepository,
	publisher *realtime.Publisher,
	clock clockwork.Clock,
	interval time.Duration,
) *HealthTicker {
	return &HealthTicker{
		sensors:   sensors,
		alerts:    alerts,
		publisher: publisher,
		clock:     clock,
		interval:  interval,
	}
}

// Run publishes on every tick until ctx is cancelled.
func (t *HealthTicker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.publish(ctx)
		}
	}
}

func (t *HealthTicker) publish(ctx context.Context) {
	snap, err := t.snapshot(ctx)
	if err != nil {
		slog.Warn("Health snapshot failed, skipping broadcast", "error", err)
		return
	}
	t.publisher.PublishSystemHealth(ctx, snap)
}

func (t *HealthTicker) snapshot(ctx context.Context) (realtime.HealthSnapshot, error) {
	sensorCounts, err := t.sensors.CountByStatus(ctx)
	if err != nil {
		return realtime.HealthSnapshot{}, err
	}
	alertCounts, err := t.alerts.CountActiveBySeverity(ctx)
	if err != nil {
		return realtime.HealthSnapshot{}, err
	}

	total := 0
	for _, n := range sensorCounts {
		total += n
	}
	activeAlerts := 0
	for _, n := range alertCounts {
		activeAlerts += n
	}

	status := "healthy"
	if alertCounts[domain.SeverityCritical] > 0 {
		status = "degraded"
	}

	return realtime.HealthSnapshot{
		Status:        status,
		ActiveSensors: sensorCounts[domain.SensorStatusActive],
		TotalSensors:  total,
		ActiveAlerts:  activeAlerts,
	}, nil
}
