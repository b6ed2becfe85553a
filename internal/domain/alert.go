package domain

import (
	"context"
	"time"
)

// AlertStatus is the lifecycle state of an alert. Transitions are monotonic:
// active -> acknowledged -> resolved, or active -> dismissed. A resolved or
// dismissed alert never becomes active again.
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusDismissed    AlertStatus = "dismissed"
)

// AlertSeverity orders alerts by urgency.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Priority maps a severity to its numeric priority (1..4).
func (s AlertSeverity) Priority() int {
	switch s {
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 1
	}
}

// Alert is a triggered condition on a sensor reading. AlertID is the public
// identifier used on the wire; ID is the database key.
type Alert struct {
	ID             int64
	AlertID        string
	SensorID       int64
	SensorName     string
	MetricType     string
	Category       string
	Severity       AlertSeverity
	Status         AlertStatus
	Title          string
	Message        string
	TriggerValue   float64
	ThresholdValue float64
	Location       Location
	CreatedAt      time.Time

	AcknowledgedBy    *int
	AcknowledgedAt    *time.Time
	AcknowledgedNotes string

	ResolvedBy      *int
	ResolvedAt      *time.Time
	Resolution      string
	ResolutionNotes string
}

// CanAcknowledge reports whether the alert may transition to acknowledged.
func (a *Alert) CanAcknowledge() bool {
	return a.Status == AlertStatusActive
}

// CanResolve reports whether the alert may transition to resolved.
func (a *Alert) CanResolve() bool {
	return a.Status == AlertStatusActive || a.Status == AlertStatusAcknowledged
}

// AlertAction is an audit record of a lifecycle transition: who acted, when,
// and with what notes.
type AlertAction struct {
	ID        int64
	AlertID   int64
	UserID    int
	Action    string
	Notes     string
	CreatedAt time.Time
}

// AlertFilter narrows ListFiltered results. Empty slices mean no filter on
// that axis.
type AlertFilter struct {
	Statuses   []AlertStatus
	Severities []AlertSeverity
	Limit      int
}

// AlertRepository is the persistence boundary for alerts and their audit
// trail.
type AlertRepository interface {
	Create(ctx context.Context, alert *Alert) error
	GetByAlertID(ctx context.Context, alertID string) (*Alert, error)
	List(ctx context.Context, skip, limit int) ([]Alert, error)
	ListFiltered(ctx context.Context, filter AlertFilter) ([]Alert, error)
	Update(ctx context.Context, alert *Alert) error
	AppendAction(ctx context.Context, action *AlertAction) error
	CountActiveBySeverity(ctx context.Context) (map[AlertSeverity]int, error)
}
