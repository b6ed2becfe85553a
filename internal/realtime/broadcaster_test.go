package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citysense/citysense/internal/domain"
)

func TestBroadcaster_DeliverToSelector(t *testing.T) {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, clockwork.NewFakeClock())

	traffic, trafficSender := newTestClient(7, domain.RoleTrafficControl)
	viewer, viewerSender := newTestClient(9, domain.RoleViewer)
	require.NoError(t, registry.Register(traffic))
	require.NoError(t, registry.Register(viewer))

	broadcaster.Deliver(context.Background(), NewErrorEvent(time.Now(), "test"), ToRole(domain.RoleTrafficControl))

	assert.Len(t, trafficSender.received(), 1)
	assert.Empty(t, viewerSender.received())

	broadcaster.Deliver(context.Background(), NewErrorEvent(time.Now(), "test"), All())
	assert.Len(t, trafficSender.received(), 2)
	assert.Len(t, viewerSender.received(), 1)
}

func TestBroadcaster_DeliverNoMatchIsNoop(t *testing.T) {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, clockwork.NewFakeClock())

	// Must not panic or block with nothing registered.
	broadcaster.Deliver(context.Background(), NewErrorEvent(time.Now(), "test"), All())
	broadcaster.Deliver(context.Background(), NewErrorEvent(time.Now(), "test"), ToTopic("sensor_updates"))
}

func TestBroadcaster_FailedSendEvictsOnlyThatClient(t *testing.T) {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, clockwork.NewFakeClock())

	var senders []*fakeSender
	for i := 1; i <= 5; i++ {
		c, sender := newTestClient(i, domain.RoleViewer)
		require.NoError(t, registry.Register(c))
		senders = append(senders, sender)
	}
	dead, deadSender := newTestClient(99, domain.RoleViewer)
	deadSender.failWith = ErrSendBufferFull
	require.NoError(t, registry.Register(dead))

	broadcaster.Deliver(context.Background(), NewErrorEvent(time.Now(), "test"), All())

	for _, sender := range senders {
		assert.Len(t, sender.received(), 1)
	}
	assert.True(t, deadSender.stopped, "dead peer closed")
	assert.Len(t, registry.Snapshot(All()), 5, "dead peer removed from registry")

	// Later deliveries no longer see the evicted client.
	broadcaster.Deliver(context.Background(), NewErrorEvent(time.Now(), "test"), All())
	for _, sender := range senders {
		assert.Len(t, sender.received(), 2)
	}
}

func TestBroadcaster_SendPersonalEvictsOnFailure(t *testing.T) {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, clockwork.NewFakeClock())

	c, sender := newTestClient(1, domain.RoleViewer)
	sender.failWith = ErrSendBufferFull
	require.NoError(t, registry.Register(c))

	broadcaster.SendPersonal(NewErrorEvent(time.Now(), "test"), c)

	assert.True(t, sender.stopped)
	assert.Empty(t, registry.Snapshot(All()))
}

// fakeRelay records relayed payloads and optionally fails.
type fakeRelay struct {
	calls   []WireSelector
	failure error
}

func (f *fakeRelay) Relay(_ context.Context, sel Selector, _ []byte) error {
	f.calls = append(f.calls, sel.Wire())
	return f.failure
}

func TestBroadcaster_RelayReceivesEveryDeliver(t *testing.T) {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, clockwork.NewFakeClock())
	relay := &fakeRelay{}
	broadcaster.SetRelay(relay)

	broadcaster.Deliver(context.Background(), NewErrorEvent(time.Now(), "test"), ToUser(7))

	require.Len(t, relay.calls, 1)
	assert.Equal(t, WireSelector{Scope: "user", UserID: 7}, relay.calls[0])
}

func TestBroadcaster_RelayFailureStillDeliversLocally(t *testing.T) {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, clockwork.NewFakeClock())
	broadcaster.SetRelay(&fakeRelay{failure: assert.AnError})

	c, sender := newTestClient(1, domain.RoleViewer)
	require.NoError(t, registry.Register(c))

	broadcaster.Deliver(context.Background(), NewErrorEvent(time.Now(), "test"), All())
	assert.Len(t, sender.received(), 1)
}

func TestBroadcaster_DeliverRawSkipsRelay(t *testing.T) {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, clockwork.NewFakeClock())
	relay := &fakeRelay{}
	broadcaster.SetRelay(relay)

	c, sender := newTestClient(1, domain.RoleViewer)
	require.NoError(t, registry.Register(c))

	broadcaster.DeliverRaw(All(), []byte(`{"type":"new_alert"}`))

	assert.Len(t, sender.received(), 1)
	assert.Empty(t, relay.calls, "re-injected events never echo back out")
}

// testRealtimeServer upgrades connections, registers a client per dial, and
// subscribes it to the topics named in the query string.
func testRealtimeServer(t *testing.T, registry *Registry) func(userID int, role string, topics ...string) *ws.Conn {
	t.Helper()

	clock := clockwork.NewRealClock()
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		userID, _ := strconv.Atoi(r.URL.Query().Get("user"))
		client := NewClient(conn, userID, r.URL.Query().Get("role"), clock)
		if err := registry.Register(client); err != nil {
			t.Errorf("register failed: %v", err)
			return
		}
		for _, topic := range r.URL.Query()["topic"] {
			registry.Subscribe(client, topic)
		}

		go func() {
			defer func() {
				if registry.Unregister(client) {
					client.Close()
				}
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(server.Close)

	return func(userID int, role string, topics ...string) *ws.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http") +
			"?user=" + strconv.Itoa(userID) + "&role=" + role
		for _, topic := range topics {
			url += "&topic=" + topic
		}
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}
}

func waitForConnections(registry *Registry, expected int) bool {
	for i := 0; i < 100; i++ {
		if registry.Stats().TotalConnections == expected {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestBroadcaster_EndToEndTopicDelivery(t *testing.T) {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, clockwork.NewRealClock())
	dial := testRealtimeServer(t, registry)

	subscriber := dial(7, domain.RoleTrafficControl, SensorTopic(42))
	bystander := dial(9, domain.RoleViewer)
	require.True(t, waitForConnections(registry, 2))

	broadcaster.Deliver(context.Background(), SensorUpdateEvent{
		baseEvent:  newBase("sensor_update", time.Now()),
		SensorID:   42,
		MetricType: "flow",
		Value:      118,
	}, ToTopic(SensorTopic(42)))

	subscriber.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := subscriber.ReadMessage()
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(msg, &result))
	assert.Equal(t, "sensor_update", result["type"])
	assert.Equal(t, float64(42), result["sensor_id"])
	assert.Equal(t, 118.0, result["value"])

	// An update for another sensor reaches nobody.
	broadcaster.Deliver(context.Background(), SensorUpdateEvent{
		baseEvent: newBase("sensor_update", time.Now()),
		SensorID:  99,
		Value:     1,
	}, ToTopic(SensorTopic(99)))

	bystander.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = bystander.ReadMessage()
	assert.Error(t, err, "unsubscribed connection receives nothing")
}

func TestBroadcaster_EndToEndDisconnectDuringChurn(t *testing.T) {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, clockwork.NewRealClock())
	dial := testRealtimeServer(t, registry)

	conn1 := dial(1, domain.RoleViewer)
	conn2 := dial(2, domain.RoleViewer)
	require.True(t, waitForConnections(registry, 2))

	conn1.Close()
	require.True(t, waitForConnections(registry, 1))

	broadcaster.Deliver(context.Background(), NewErrorEvent(time.Now(), "still here"), All())

	conn2.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn2.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "still here")
}
