package realtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/citysense/citysense/internal/domain"
)

// TopicSensorUpdates carries every sensor reading; per-sensor topics carry
// only that sensor's readings. Both are opt-in via subscription: readings are
// the volume-sensitive path and are never broadcast to everyone.
const TopicSensorUpdates = "sensor_updates"

// SensorTopic names the per-sensor subscription topic.
func SensorTopic(sensorID int64) string {
	return fmt.Sprintf("sensor_%d", sensorID)
}

// Publisher formats domain events and hands them to the broadcast engine
// with the right selector. External collaborators (alert creation, metric
// ingestion, the health ticker) call it; it never reads storage itself.
type Publisher struct {
	broadcaster   *Broadcaster
	categoryRoles map[string]string
	clock         clockwork.Clock
}

// NewPublisher builds a publisher with the given category-to-role routing
// table. Pass domain.DefaultCategoryRoles() for the stock deployment; the
// table is injectable so new categories are additive configuration.
func NewPublisher(broadcaster *Broadcaster, categoryRoles map[string]string, clock clockwork.Clock) *Publisher {
	return &Publisher{
		broadcaster:   broadcaster,
		categoryRoles: categoryRoles,
		clock:         clock,
	}
}

// PublishNewAlert broadcasts a freshly created alert to everyone, and
// additionally to the role responsible for the alert's category. Role members
// therefore see the event twice; every other connection sees it exactly once.
func (p *Publisher) PublishNewAlert(ctx context.Context, alert *domain.Alert) {
	event := NewAlertEvent{
		baseEvent: newBase("new_alert", p.clock.Now()),
		Alert:     alertPayload(alert),
	}
	p.broadcaster.Deliver(ctx, event, All())

	if role, ok := p.categoryRoles[alert.Category]; ok {
		p.broadcaster.Deliver(ctx, event, ToRole(role))
	}

	slog.Info("Published new alert",
		"alert_id", alert.AlertID, "category", alert.Category, "severity", alert.Severity)
}

// PublishSensorUpdate delivers a reading to subscribers of the generic
// sensor_updates topic and the reading's per-sensor topic.
func (p *Publisher) PublishSensorUpdate(ctx context.Context, metric *domain.Metric) {
	event := SensorUpdateEvent{
		baseEvent:  baseEvent{Type: "sensor_update", Timestamp: metric.Timestamp.UTC()},
		SensorID:   metric.SensorID,
		SensorName: metric.SensorName,
		MetricType: metric.MetricType,
		Value:      metric.Value,
	}
	p.broadcaster.Deliver(ctx, event, ToTopic(TopicSensorUpdates))
	p.broadcaster.Deliver(ctx, event, ToTopic(SensorTopic(metric.SensorID)))
}

// HealthSnapshot is the point-in-time status the health ticker computes.
type HealthSnapshot struct {
	Status        string
	ActiveSensors int
	TotalSensors  int
	ActiveAlerts  int
}

// PublishSystemHealth broadcasts a health snapshot to everyone, augmented
// with the live connection statistics.
func (p *Publisher) PublishSystemHealth(ctx context.Context, snap HealthSnapshot) {
	p.broadcaster.Deliver(ctx, SystemHealthEvent{
		baseEvent:     newBase("system_health", p.clock.Now()),
		Status:        snap.Status,
		ActiveSensors: snap.ActiveSensors,
		TotalSensors:  snap.TotalSensors,
		ActiveAlerts:  snap.ActiveAlerts,
		Connections:   p.broadcaster.Stats(),
	}, All())
}
