package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/citysense/citysense/internal/domain"
)

// fakeSender captures enqueued payloads in memory. Setting failWith makes
// every enqueue fail, simulating a saturated send buffer.
type fakeSender struct {
	mu       sync.Mutex
	messages [][]byte
	failWith error
	stopped  bool
}

func (f *fakeSender) enqueue(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSender) stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeSender) stopGraceful(string) { f.stop() }

func (f *fakeSender) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.messages))
	copy(out, f.messages)
	return out
}

// eventTypes decodes the type field of every captured payload, in order.
func (f *fakeSender) eventTypes(t *testing.T) []string {
	t.Helper()
	var types []string
	for _, msg := range f.received() {
		var env inboundEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("captured payload is not JSON: %v", err)
		}
		types = append(types, env.Type)
	}
	return types
}

// lastEvent decodes the most recent captured payload into a generic map.
func (f *fakeSender) lastEvent(t *testing.T) map[string]any {
	t.Helper()
	msgs := f.received()
	if len(msgs) == 0 {
		t.Fatal("no payload captured")
	}
	var out map[string]any
	if err := json.Unmarshal(msgs[len(msgs)-1], &out); err != nil {
		t.Fatalf("captured payload is not JSON: %v", err)
	}
	return out
}

func newTestClient(userID int, role string) (*Client, *fakeSender) {
	sender := &fakeSender{}
	return &Client{UserID: userID, Role: role, id: uuid.New(), writer: sender}, sender
}

// --- in-memory repositories ---

type fakeAlertRepo struct {
	mu      sync.Mutex
	alerts  map[string]*domain.Alert
	actions []domain.AlertAction
}

func newFakeAlertRepo(alerts ...*domain.Alert) *fakeAlertRepo {
	repo := &fakeAlertRepo{alerts: make(map[string]*domain.Alert)}
	for _, a := range alerts {
		repo.alerts[a.AlertID] = a
	}
	return repo
}

func (r *fakeAlertRepo) Create(_ context.Context, alert *domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts[alert.AlertID] = alert
	return nil
}

func (r *fakeAlertRepo) GetByAlertID(_ context.Context, alertID string) (*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[alertID]
	if !ok {
		return nil, domain.ErrAlertNotFound
	}
	copied := *alert
	return &copied, nil
}

func (r *fakeAlertRepo) List(_ context.Context, _, _ int) ([]domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Alert, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, *a)
	}
	return out, nil
}

func (r *fakeAlertRepo) ListFiltered(_ context.Context, filter domain.AlertFilter) ([]domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Alert
	for _, a := range r.alerts {
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, a.Status) {
			continue
		}
		if len(filter.Severities) > 0 && !containsSeverity(filter.Severities, a.Severity) {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func containsStatus(haystack []domain.AlertStatus, needle domain.AlertStatus) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsSeverity(haystack []domain.AlertSeverity, needle domain.AlertSeverity) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func (r *fakeAlertRepo) Update(_ context.Context, alert *domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alert.AlertID]; !ok {
		return domain.ErrAlertNotFound
	}
	copied := *alert
	r.alerts[alert.AlertID] = &copied
	return nil
}

func (r *fakeAlertRepo) AppendAction(_ context.Context, action *domain.AlertAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, *action)
	return nil
}

func (r *fakeAlertRepo) CountActiveBySeverity(_ context.Context) (map[domain.AlertSeverity]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[domain.AlertSeverity]int)
	for _, a := range r.alerts {
		if a.Status == domain.AlertStatusActive {
			counts[a.Severity]++
		}
	}
	return counts, nil
}

func (r *fakeAlertRepo) get(alertID string) *domain.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alerts[alertID]
}

func (r *fakeAlertRepo) recordedActions() []domain.AlertAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AlertAction, len(r.actions))
	copy(out, r.actions)
	return out
}

type fakeSensorRepo struct {
	sensors map[int64]*domain.Sensor
}

func newFakeSensorRepo(sensors ...*domain.Sensor) *fakeSensorRepo {
	repo := &fakeSensorRepo{sensors: make(map[int64]*domain.Sensor)}
	for _, s := range sensors {
		repo.sensors[s.ID] = s
	}
	return repo
}

func (r *fakeSensorRepo) GetByID(_ context.Context, id int64) (*domain.Sensor, error) {
	sensor, ok := r.sensors[id]
	if !ok {
		return nil, domain.ErrSensorNotFound
	}
	return sensor, nil
}

func (r *fakeSensorRepo) CountByStatus(_ context.Context) (map[domain.SensorStatus]int, error) {
	counts := make(map[domain.SensorStatus]int)
	for _, s := range r.sensors {
		counts[s.Status]++
	}
	return counts, nil
}

type fakeMetricRepo struct {
	metrics []domain.Metric
}

func (r *fakeMetricRepo) Insert(_ context.Context, metric *domain.Metric) error {
	r.metrics = append(r.metrics, *metric)
	return nil
}

func (r *fakeMetricRepo) ListLatest(_ context.Context, _ []string, limit int) ([]domain.Metric, error) {
	if limit > len(r.metrics) {
		limit = len(r.metrics)
	}
	out := make([]domain.Metric, limit)
	copy(out, r.metrics[:limit])
	return out, nil
}

func (r *fakeMetricRepo) ListSince(_ context.Context, since time.Time, metricType string) ([]domain.Metric, error) {
	var out []domain.Metric
	for _, m := range r.metrics {
		if m.Timestamp.Before(since) {
			continue
		}
		if metricType != "" && m.MetricType != metricType {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
