package realtime

import (
	"time"

	"github.com/citysense/citysense/internal/domain"
)

// --- Inbound messages ---

// Recognized inbound message types. Every inbound frame is an envelope
// {"type": ...} followed by a type-specific payload, decoded in two phases so
// each handler sees a strongly-typed struct.
const (
	TypeSubscribe        = "subscribe"
	TypeUnsubscribe      = "unsubscribe"
	TypeAcknowledgeAlert = "acknowledge_alert"
	TypeResolveAlert     = "resolve_alert"
	TypeRequestData      = "request_data"
	TypePing             = "ping"
)

type inboundEnvelope struct {
	Type string `json:"type"`
}

type subscribePayload struct {
	Channels []string `json:"channels"`
}

type acknowledgeAlertPayload struct {
	AlertID string `json:"alert_id"`
	Notes   string `json:"notes"`
}

type resolveAlertPayload struct {
	AlertID    string `json:"alert_id"`
	Resolution string `json:"resolution"`
	Notes      string `json:"notes"`
}

type requestDataPayload struct {
	DataType   string            `json:"data_type"`
	Parameters requestParameters `json:"parameters"`
}

type requestParameters struct {
	SensorTypes []string `json:"sensor_types"`
	Limit       int      `json:"limit"`
	Status      []string `json:"status"`
	Severity    []string `json:"severity"`
	MetricType  string   `json:"metric_type"`
	TimeRange   string   `json:"time_range"`
}

// --- Outbound events ---

// Event is an immutable outbound payload. EventType labels metrics and the
// relay; the concrete struct carries everything the observer needs to render
// without a follow-up query.
type Event interface {
	EventType() string
}

type baseEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e baseEvent) EventType() string { return e.Type }

func newBase(typ string, now time.Time) baseEvent {
	return baseEvent{Type: typ, Timestamp: now.UTC()}
}

type ConnectionStatusEvent struct {
	baseEvent
	Status string `json:"status"`
	UserID int    `json:"user_id"`
	Role   string `json:"role"`
}

func NewConnectionStatus(now time.Time, userID int, role string) ConnectionStatusEvent {
	return ConnectionStatusEvent{
		baseEvent: newBase("connection_status", now),
		Status:    "connected",
		UserID:    userID,
		Role:      role,
	}
}

type SubscriptionConfirmedEvent struct {
	baseEvent
	Channels []string `json:"channels"`
}

type UnsubscriptionConfirmedEvent struct {
	baseEvent
	Channels []string `json:"channels"`
}

type ActionSuccessEvent struct {
	baseEvent
	Action  string `json:"action"`
	AlertID string `json:"alert_id"`
}

type ErrorEvent struct {
	baseEvent
	Message string `json:"message"`
}

func NewErrorEvent(now time.Time, message string) ErrorEvent {
	return ErrorEvent{baseEvent: newBase("error", now), Message: message}
}

type PongEvent struct {
	baseEvent
}

type AlertAcknowledgedEvent struct {
	baseEvent
	AlertID        string `json:"alert_id"`
	AcknowledgedBy int    `json:"acknowledged_by"`
}

type AlertResolvedEvent struct {
	baseEvent
	AlertID    string `json:"alert_id"`
	ResolvedBy int    `json:"resolved_by"`
	Resolution string `json:"resolution"`
}

// AlertPayload is the full alert rendering embedded in new_alert broadcasts
// and alerts_response results.
type AlertPayload struct {
	ID         int64                `json:"id"`
	AlertID    string               `json:"alert_id"`
	SensorID   int64                `json:"sensor_id"`
	SensorName string               `json:"sensor_name,omitempty"`
	Title      string               `json:"title"`
	Message    string               `json:"message"`
	Category   string               `json:"category,omitempty"`
	Severity   domain.AlertSeverity `json:"severity"`
	Status     domain.AlertStatus   `json:"status"`
	CreatedAt  time.Time            `json:"created_at"`
	Location   domain.Location      `json:"location"`
}

func alertPayload(a *domain.Alert) AlertPayload {
	return AlertPayload{
		ID:         a.ID,
		AlertID:    a.AlertID,
		SensorID:   a.SensorID,
		SensorName: a.SensorName,
		Title:      a.Title,
		Message:    a.Message,
		Category:   a.Category,
		Severity:   a.Severity,
		Status:     a.Status,
		CreatedAt:  a.CreatedAt.UTC(),
		Location:   a.Location,
	}
}

type NewAlertEvent struct {
	baseEvent
	Alert AlertPayload `json:"alert"`
}

type SensorUpdateEvent struct {
	baseEvent
	SensorID   int64   `json:"sensor_id"`
	SensorName string  `json:"sensor_name,omitempty"`
	MetricType string  `json:"metric_type"`
	Value      float64 `json:"value"`
}

type SystemHealthEvent struct {
	baseEvent
	Status        string          `json:"status"`
	ActiveSensors int             `json:"active_sensors"`
	TotalSensors  int             `json:"total_sensors"`
	ActiveAlerts  int             `json:"active_alerts"`
	Connections   ConnectionStats `json:"connections"`
}

// MetricPoint is one reading in a sensor_data_response.
type MetricPoint struct {
	ID         int64           `json:"id"`
	SensorID   int64           `json:"sensor_id"`
	SensorName string          `json:"sensor_name,omitempty"`
	MetricType string          `json:"metric_type"`
	Value      float64         `json:"value"`
	Timestamp  time.Time       `json:"timestamp"`
	Location   domain.Location `json:"location"`
}

type SensorDataResponseEvent struct {
	baseEvent
	Data []MetricPoint `json:"data"`
}

type AlertsResponseEvent struct {
	baseEvent
	Data []AlertPayload `json:"data"`
}

// SystemStats aggregates storage counts with the live connection statistics.
type SystemStats struct {
	Sensors     map[domain.SensorStatus]int  `json:"sensors"`
	Alerts      map[domain.AlertSeverity]int `json:"alerts"`
	Connections ConnectionStats              `json:"connections"`
}

type SystemStatsResponseEvent struct {
	baseEvent
	Data SystemStats `json:"data"`
}

// AnalyticsBucket is one fixed one-hour bucket of readings, keyed by the
// reading timestamps truncated to the hour.
type AnalyticsBucket struct {
	Timestamp string  `json:"timestamp"`
	Avg       float64 `json:"avg"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Count     int     `json:"count"`
}

type AnalyticsSeries struct {
	MetricType string            `json:"metric_type,omitempty"`
	TimeRange  string            `json:"time_range"`
	TimeSeries []AnalyticsBucket `json:"time_series"`
}

type AnalyticsResponseEvent struct {
	baseEvent
	Data AnalyticsSeries `json:"data"`
}
