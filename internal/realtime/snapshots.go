package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/citysense/citysense/internal/domain"
)

const (
	defaultSensorDataLimit = 100
	alertsResponseLimit    = 50
	defaultTimeRange       = "24h"
	bucketKeyFormat        = "2006-01-02 15:00:00"
)

func (d *Dispatcher) handleRequestData(ctx context.Context, c *Client, raw []byte) error {
	var p requestDataPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return userErrorf("malformed request_data payload")
	}

	switch p.DataType {
	case "sensor_data":
		return d.sendSensorData(ctx, c, p.Parameters)
	case "alerts":
		return d.sendAlerts(ctx, c, p.Parameters)
	case "system_stats":
		return d.sendSystemStats(ctx, c)
	case "analytics":
		return d.sendAnalytics(ctx, c, p.Parameters)
	default:
		return userErrorf("unknown data_type: %s", p.DataType)
	}
}

func (d *Dispatcher) sendSensorData(ctx context.Context, c *Client, params requestParameters) error {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSensorDataLimit
	}

	readings, err := d.metricsRepo.ListLatest(ctx, params.SensorTypes, limit)
	if err != nil {
		return fmt.Errorf("list latest metrics: %w", err)
	}

	points := make([]MetricPoint, 0, len(readings))
	for _, m := range readings {
		points = append(points, MetricPoint{
			ID:         m.ID,
			SensorID:   m.SensorID,
			SensorName: m.SensorName,
			MetricType: m.MetricType,
			Value:      m.Value,
			Timestamp:  m.Timestamp.UTC(),
			Location:   m.Location,
		})
	}

	d.broadcaster.SendPersonal(SensorDataResponseEvent{
		baseEvent: newBase("sensor_data_response", d.clock.Now()),
		Data:      points,
	}, c)
	return nil
}

func (d *Dispatcher) sendAlerts(ctx context.Context, c *Client, params requestParameters) error {
	statuses := make([]domain.AlertStatus, 0, len(params.Status))
	for _, s := range params.Status {
		statuses = append(statuses, domain.AlertStatus(s))
	}
	if len(statuses) == 0 {
		statuses = []domain.AlertStatus{domain.AlertStatusActive}
	}
	severities := make([]domain.AlertSeverity, 0, len(params.Severity))
	for _, s := range params.Severity {
		severities = append(severities, domain.AlertSeverity(s))
	}

	alerts, err := d.alerts.ListFiltered(ctx, domain.AlertFilter{
		Statuses:   statuses,
		Severities: severities,
		Limit:      alertsResponseLimit,
	})
	if err != nil {
		return fmt.Errorf("list alerts: %w", err)
	}

	payloads := make([]AlertPayload, 0, len(alerts))
	for i := range alerts {
		payloads = append(payloads, alertPayload(&alerts[i]))
	}

	d.broadcaster.SendPersonal(AlertsResponseEvent{
		baseEvent: newBase("alerts_response", d.clock.Now()),
		Data:      payloads,
	}, c)
	return nil
}

func (d *Dispatcher) sendSystemStats(ctx context.Context, c *Client) error {
	sensorCounts, err := d.sensors.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count sensors: %w", err)
	}
	alertCounts, err := d.alerts.CountActiveBySeverity(ctx)
	if err != nil {
		return fmt.Errorf("count alerts: %w", err)
	}

	d.broadcaster.SendPersonal(SystemStatsResponseEvent{
		baseEvent: newBase("system_stats_response", d.clock.Now()),
		Data: SystemStats{
			Sensors:     sensorCounts,
			Alerts:      alertCounts,
			Connections: d.broadcaster.Stats(),
		},
	}, c)
	return nil
}

func (d *Dispatcher) sendAnalytics(ctx context.Context, c *Client, params requestParameters) error {
	timeRange, window := parseTimeRange(params.TimeRange)
	since := d.clock.Now().UTC().Add(-window)

	readings, err := d.metricsRepo.ListSince(ctx, since, params.MetricType)
	if err != nil {
		return fmt.Errorf("list metrics since %s: %w", since, err)
	}

	d.broadcaster.SendPersonal(AnalyticsResponseEvent{
		baseEvent: newBase("analytics_response", d.clock.Now()),
		Data: AnalyticsSeries{
			MetricType: params.MetricType,
			TimeRange:  timeRange,
			TimeSeries: bucketMetrics(readings),
		},
	}, c)
	return nil
}

// parseTimeRange maps the wire value to a window. Unrecognized values fall
// back to 24h.
func parseTimeRange(value string) (string, time.Duration) {
	switch value {
	case "1h":
		return value, time.Hour
	case "7d":
		return value, 7 * 24 * time.Hour
	case "24h":
		return value, 24 * time.Hour
	default:
		return defaultTimeRange, 24 * time.Hour
	}
}

// bucketMetrics groups readings into fixed one-hour buckets keyed by each
// timestamp truncated to the hour, reporting avg/min/max/count per bucket,
// sorted ascending by bucket key.
func bucketMetrics(readings []domain.Metric) []AnalyticsBucket {
	type acc struct {
		sum, min, max float64
		count         int
	}
	buckets := make(map[string]*acc)

	for _, m := range readings {
		key := m.Timestamp.UTC().Truncate(time.Hour).Format(bucketKeyFormat)
		b, ok := buckets[key]
		if !ok {
			buckets[key] = &acc{sum: m.Value, min: m.Value, max: m.Value, count: 1}
			continue
		}
		b.sum += m.Value
		b.count++
		if m.Value < b.min {
			b.min = m.Value
		}
		if m.Value > b.max {
			b.max = m.Value
		}
	}

	series := make([]AnalyticsBucket, 0, len(buckets))
	for key, b := range buckets {
		series = append(series, AnalyticsBucket{
			Timestamp: key,
			Avg:       b.sum / float64(b.count),
			Min:       b.min,
			Max:       b.max,
			Count:     b.count,
		})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Timestamp < series[j].Timestamp })
	return series
}
