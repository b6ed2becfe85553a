package server

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/citysense/citysense/internal/config"
	"github.com/citysense/citysense/internal/domain"
	"github.com/citysense/citysense/internal/realtime"
)

// --- Mock implementations ---

type mockIdentityResolver struct {
	identities map[string]domain.Identity
}

func (m *mockIdentityResolver) Resolve(_ context.Context, token string) (domain.Identity, error) {
	identity, ok := m.identities[token]
	if !ok {
		return domain.Identity{}, domain.ErrIdentityNotFound
	}
	return identity, nil
}

type mockAlertRepo struct {
	mu      sync.Mutex
	created []*domain.Alert

	getByAlertIDFn func(ctx context.Context, alertID string) (*domain.Alert, error)
	listFn         func(ctx context.Context, skip, limit int) ([]domain.Alert, error)
	createErr      error
}

func (m *mockAlertRepo) Create(_ context.Context, alert *domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	alert.ID = int64(len(m.created) + 1)
	m.created = append(m.created, alert)
	return nil
}

func (m *mockAlertRepo) GetByAlertID(ctx context.Context, alertID string) (*domain.Alert, error) {
	if m.getByAlertIDFn != nil {
		return m.getByAlertIDFn(ctx, alertID)
	}
	return nil, domain.ErrAlertNotFound
}

func (m *mockAlertRepo) List(ctx context.Context, skip, limit int) ([]domain.Alert, error) {
	if m.listFn != nil {
		return m.listFn(ctx, skip, limit)
	}
	return nil, nil
}

func (m *mockAlertRepo) ListFiltered(context.Context, domain.AlertFilter) ([]domain.Alert, error) {
	return nil, fmt.Errorf("not implemented")
}

func (m *mockAlertRepo) Update(context.Context, *domain.Alert) error { return nil }

func (m *mockAlertRepo) AppendAction(context.Context, *domain.AlertAction) error { return nil }

func (m *mockAlertRepo) CountActiveBySeverity(context.Context) (map[domain.AlertSeverity]int, error) {
	return map[domain.AlertSeverity]int{}, nil
}

func (m *mockAlertRepo) lastCreated() *domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.created) == 0 {
		return nil
	}
	return m.created[len(m.created)-1]
}

type mockSensorRepo struct {
	sensors map[int64]*domain.Sensor
}

func (m *mockSensorRepo) GetByID(_ context.Context, id int64) (*domain.Sensor, error) {
	sensor, ok := m.sensors[id]
	if !ok {
		return nil, domain.ErrSensorNotFound
	}
	return sensor, nil
}

func (m *mockSensorRepo) CountByStatus(context.Context) (map[domain.SensorStatus]int, error) {
	counts := make(map[domain.SensorStatus]int)
	for _, s := range m.sensors {
		counts[s.Status]++
	}
	return counts, nil
}

type mockMetricRepo struct {
	mu       sync.Mutex
	inserted []*domain.Metric
}

func (m *mockMetricRepo) Insert(_ context.Context, metric *domain.Metric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	metric.ID = int64(len(m.inserted) + 1)
	m.inserted = append(m.inserted, metric)
	return nil
}

func (m *mockMetricRepo) ListLatest(context.Context, []string, int) ([]domain.Metric, error) {
	return nil, nil
}

func (m *mockMetricRepo) ListSince(context.Context, time.Time, string) ([]domain.Metric, error) {
	return nil, nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error { return m.err }

// --- Server fixture ---

type testServerOption func(*Server)

func withPool(p pinger) testServerOption {
	return func(s *Server) { s.pool = p }
}

func withRedis(p pinger) testServerOption {
	return func(s *Server) { s.redisClient = p }
}

type testFixture struct {
	server   *Server
	alerts   *mockAlertRepo
	sensors  *mockSensorRepo
	metrics  *mockMetricRepo
	registry *realtime.Registry
}

func newTestServer(t *testing.T, opts ...testServerOption) *testFixture {
	t.Helper()

	clock := clockwork.NewRealClock()
	registry := realtime.NewRegistry()
	broadcaster := realtime.NewBroadcaster(registry, clock)
	publisher := realtime.NewPublisher(broadcaster, domain.DefaultCategoryRoles(), clock)

	alerts := &mockAlertRepo{}
	sensors := &mockSensorRepo{sensors: map[int64]*domain.Sensor{
		3: {ID: 3, Name: "Main St flow", Type: "traffic_flow", Status: domain.SensorStatusActive,
			Location: domain.Location{Lat: 52.52, Lng: 13.4, Address: "Main St"}},
	}}
	metricsRepo := &mockMetricRepo{}
	dispatcher := realtime.NewDispatcher(registry, broadcaster, alerts, sensors, metricsRepo, clock)

	cfg := &config.Config{
		Port:           "0",
		WSMessageRate:  100,
		WSMessageBurst: 100,
	}

	srv := NewServer(cfg, Deps{
		Registry:    registry,
		Broadcaster: broadcaster,
		Dispatcher:  dispatcher,
		Publisher:   publisher,
		Identity: &mockIdentityResolver{identities: map[string]domain.Identity{
			"token-7": {UserID: 7, Role: domain.RoleTrafficControl},
			"token-9": {UserID: 9, Role: domain.RoleViewer},
		}},
		Alerts:  alerts,
		Sensors: sensors,
		Metrics: metricsRepo,
		Clock:   clock,
	})
	for _, opt := range opts {
		opt(srv)
	}

	return &testFixture{
		server:   srv,
		alerts:   alerts,
		sensors:  sensors,
		metrics:  metricsRepo,
		registry: registry,
	}
}
