package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/citysense/citysense/internal/domain"
)

type createAlertRequest struct {
	SensorID       int64   `json:"sensor_id"`
	MetricType     string  `json:"metric_type"`
	Category       string  `json:"category"`
	Severity       string  `json:"severity"`
	Title          string  `json:"title"`
	Message        string  `json:"message"`
	TriggerValue   float64 `json:"trigger_value"`
	ThresholdValue float64 `json:"threshold_value"`
}

type alertResponse struct {
	ID         int64           `json:"id"`
	AlertID    string          `json:"alert_id"`
	SensorID   int64           `json:"sensor_id"`
	SensorName string          `json:"sensor_name,omitempty"`
	MetricType string          `json:"metric_type"`
	Category   string          `json:"category,omitempty"`
	Severity   string          `json:"severity"`
	Status     string          `json:"status"`
	Title      string          `json:"title"`
	Message    string          `json:"message"`
	CreatedAt  time.Time       `json:"created_at"`
	Location   domain.Location `json:"location"`
}

func toAlertResponse(a *domain.Alert) alertResponse {
	return alertResponse{
		ID:         a.ID,
		AlertID:    a.AlertID,
		SensorID:   a.SensorID,
		SensorName: a.SensorName,
		MetricType: a.MetricType,
		Category:   a.Category,
		Severity:   string(a.Severity),
		Status:     string(a.Status),
		Title:      a.Title,
		Message:    a.Message,
		CreatedAt:  a.CreatedAt.UTC(),
		Location:   a.Location,
	}
}

// handleCreateAlert persists a new alert and publishes it to every connected
// observer plus the role responsible for its category.
func (s *Server) handleCreateAlert(c echo.Context) error {
	var req createAlertRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request body"})
	}
	if req.SensorID == 0 || req.MetricType == "" || req.Severity == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "sensor_id, metric_type and severity are required"})
	}

	ctx := c.Request().Context()

	sensor, err := s.sensors.GetByID(ctx, req.SensorID)
	if errors.Is(err, domain.ErrSensorNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "sensor not found"})
	}
	if err != nil {
		slog.Error("Sensor lookup failed", "sensor_id", req.SensorID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	alert := &domain.Alert{
		AlertID:        newAlertID(req.MetricType),
		SensorID:       sensor.ID,
		SensorName:     sensor.Name,
		MetricType:     req.MetricType,
		Category:       req.Category,
		Severity:       domain.AlertSeverity(req.Severity),
		Status:         domain.AlertStatusActive,
		Title:          req.Title,
		Message:        req.Message,
		TriggerValue:   req.TriggerValue,
		ThresholdValue: req.ThresholdValue,
		Location:       sensor.Location,
		CreatedAt:      s.clock.Now().UTC(),
	}

	if err := s.alerts.Create(ctx, alert); err != nil {
		slog.Error("Alert creation failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	s.publisher.PublishNewAlert(ctx, alert)

	return c.JSON(http.StatusCreated, toAlertResponse(alert))
}

// newAlertID generates the public alert identifier, e.g. ALERT-TRAFFIC-1A2B3C4D.
func newAlertID(metricType string) string {
	suffix := strings.ToUpper(uuid.NewString()[:8])
	return fmt.Sprintf("ALERT-%s-%s", strings.ToUpper(metricType), suffix)
}

func (s *Server) handleListAlerts(c echo.Context) error {
	skip, _ := strconv.Atoi(c.QueryParam("skip"))
	if skip < 0 {
		skip = 0
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	alerts, err := s.alerts.List(c.Request().Context(), skip, limit)
	if err != nil {
		slog.Error("Alert listing failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	out := make([]alertResponse, 0, len(alerts))
	for i := range alerts {
		out = append(out, toAlertResponse(&alerts[i]))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetAlert(c echo.Context) error {
	alert, err := s.alerts.GetByAlertID(c.Request().Context(), c.Param("alert_id"))
	if errors.Is(err, domain.ErrAlertNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "alert not found"})
	}
	if err != nil {
		slog.Error("Alert lookup failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, toAlertResponse(alert))
}

type ingestMetricRequest struct {
	SensorID   int64     `json:"sensor_id"`
	MetricType string    `json:"metric_type"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// handleIngestMetric persists one sensor reading and publishes it to the
// sensor update topics.
func (s *Server) handleIngestMetric(c echo.Context) error {
	var req ingestMetricRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request body"})
	}
	if req.SensorID == 0 || req.MetricType == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "sensor_id and metric_type are required"})
	}

	ctx := c.Request().Context()

	sensor, err := s.sensors.GetByID(ctx, req.SensorID)
	if errors.Is(err, domain.ErrSensorNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "sensor not found"})
	}
	if err != nil {
		slog.Error("Sensor lookup failed", "sensor_id", req.SensorID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	metric := &domain.Metric{
		SensorID:   sensor.ID,
		SensorName: sensor.Name,
		MetricType: req.MetricType,
		Value:      req.Value,
		Timestamp:  ts.UTC(),
		Location:   sensor.Location,
	}

	if err := s.metrics.Insert(ctx, metric); err != nil {
		slog.Error("Metric insert failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	s.publisher.PublishSensorUpdate(ctx, metric)

	return c.JSON(http.StatusAccepted, map[string]int64{"id": metric.ID})
}
