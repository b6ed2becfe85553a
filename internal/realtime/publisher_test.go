package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citysense/citysense/internal/domain"
)

func testPublisher(t *testing.T) (*Publisher, *Registry) {
	t.Helper()
	registry := NewRegistry()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	broadcaster := NewBroadcaster(registry, clock)
	return NewPublisher(broadcaster, domain.DefaultCategoryRoles(), clock), registry
}

func TestPublisher_NewAlertReachesEveryoneAndResponsibleRole(t *testing.T) {
	publisher, registry := testPublisher(t)

	_, trafficSender := connect(t, registry, 7, domain.RoleTrafficControl)
	_, viewerSender := connect(t, registry, 9, domain.RoleViewer)
	_, envSender := connect(t, registry, 11, domain.RoleEnvironmentOfficer)

	alert := activeAlert("ALERT-FLOW-1234ABCD")
	publisher.PublishNewAlert(context.Background(), alert)

	// The responsible role sees the broadcast plus the targeted copy.
	assert.Equal(t, []string{"new_alert", "new_alert"}, trafficSender.eventTypes(t))
	assert.Equal(t, []string{"new_alert"}, viewerSender.eventTypes(t))
	assert.Equal(t, []string{"new_alert"}, envSender.eventTypes(t))

	event := viewerSender.lastEvent(t)
	payload := event["alert"].(map[string]any)
	assert.Equal(t, "ALERT-FLOW-1234ABCD", payload["alert_id"])
	assert.Equal(t, "high", payload["severity"])
	assert.Equal(t, "traffic", payload["category"])
}

func TestPublisher_NewAlertUnmappedCategoryBroadcastsOnce(t *testing.T) {
	publisher, registry := testPublisher(t)
	_, trafficSender := connect(t, registry, 7, domain.RoleTrafficControl)

	alert := activeAlert("ALERT-MISC-1234ABCD")
	alert.Category = "seismic"
	publisher.PublishNewAlert(context.Background(), alert)

	assert.Equal(t, []string{"new_alert"}, trafficSender.eventTypes(t))
}

func TestPublisher_SensorUpdateTopicRouting(t *testing.T) {
	publisher, registry := testPublisher(t)

	everything, everythingSender := connect(t, registry, 1, domain.RoleViewer)
	registry.Subscribe(everything, TopicSensorUpdates)
	one, oneSender := connect(t, registry, 2, domain.RoleViewer)
	registry.Subscribe(one, SensorTopic(3))
	_, unsubscribedSender := connect(t, registry, 3, domain.RoleViewer)

	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	publisher.PublishSensorUpdate(context.Background(), &domain.Metric{
		SensorID:   3,
		SensorName: "Main St flow",
		MetricType: "flow",
		Value:      118,
		Timestamp:  ts,
	})

	assert.Equal(t, []string{"sensor_update"}, everythingSender.eventTypes(t))
	assert.Equal(t, []string{"sensor_update"}, oneSender.eventTypes(t))
	assert.Empty(t, unsubscribedSender.received(), "readings are opt-in")

	event := oneSender.lastEvent(t)
	assert.Equal(t, float64(3), event["sensor_id"])
	assert.Equal(t, 118.0, event["value"])
	assert.Equal(t, ts.Format(time.RFC3339), event["timestamp"], "event carries the reading's timestamp")
}

func TestPublisher_SensorUpdateOtherSensorNotDelivered(t *testing.T) {
	publisher, registry := testPublisher(t)
	one, oneSender := connect(t, registry, 2, domain.RoleViewer)
	registry.Subscribe(one, SensorTopic(3))

	publisher.PublishSensorUpdate(context.Background(), &domain.Metric{
		SensorID: 99, MetricType: "flow", Value: 1, Timestamp: time.Now(),
	})

	assert.Empty(t, oneSender.received())
}

func TestPublisher_SystemHealthBroadcast(t *testing.T) {
	publisher, registry := testPublisher(t)
	c, sender := connect(t, registry, 7, domain.RoleViewer)
	registry.Subscribe(c, TopicSensorUpdates)

	publisher.PublishSystemHealth(context.Background(), HealthSnapshot{
		Status:        "degraded",
		ActiveSensors: 4,
		TotalSensors:  6,
		ActiveAlerts:  2,
	})

	event := sender.lastEvent(t)
	require.Equal(t, "system_health", event["type"])
	assert.Equal(t, "degraded", event["status"])
	assert.Equal(t, 4.0, event["active_sensors"])
	assert.Equal(t, 6.0, event["total_sensors"])
	assert.Equal(t, 2.0, event["active_alerts"])

	connections := event["connections"].(map[string]any)
	assert.Equal(t, 1.0, connections["total_connections"])
}
