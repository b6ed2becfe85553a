package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/citysense/citysense/internal/metrics"
)

// Relay forwards an event to peer instances. The local delivery path never
// depends on it; a relay failure degrades to local-only delivery.
type Relay interface {
	Relay(ctx context.Context, sel Selector, payload []byte) error
}

// Broadcaster resolves a selector against the registry and delivers a
// serialized event to every matching connection. Delivery is best-effort and
// at most once per connection: a failed send evicts that connection only and
// never aborts the rest of the fan-out. Sends are enqueued to per-connection
// writer goroutines, so actual network writes run concurrently and a slow
// peer degrades only its own throughput. Events enqueued by one publishing
// call keep per-connection FIFO order.
type Broadcaster struct {
	registry *Registry
	clock    clockwork.Clock
	relay    Relay
}

func NewBroadcaster(registry *Registry, clock clockwork.Clock) *Broadcaster {
	return &Broadcaster{registry: registry, clock: clock}
}

// SetRelay attaches the cross-instance relay. Called once during wiring,
// before the server starts accepting connections.
func (b *Broadcaster) SetRelay(relay Relay) { b.relay = relay }

// Deliver fans the event out to every connection matching the selector, then
// forwards it to peer instances when a relay is attached.
func (b *Broadcaster) Deliver(ctx context.Context, event Event, sel Selector) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal event", "event", event.EventType(), "error", err)
		return
	}

	b.deliverLocal(payload, event.EventType(), sel)

	if b.relay != nil {
		if err := b.relay.Relay(ctx, sel, payload); err != nil {
			slog.Warn("Event relay failed, delivered locally only",
				"event", event.EventType(), "selector", sel.String(), "error", err)
		}
	}
}

// DeliverRaw delivers an already-serialized event to local connections only.
// The relay uses it to re-inject events received from peer instances without
// echoing them back out.
func (b *Broadcaster) DeliverRaw(sel Selector, payload []byte) {
	b.deliverLocal(payload, "relayed", sel)
}

// SendPersonal delivers one event to one connection, with the same failure
// handling as a broadcast: a failed send evicts the connection.
func (b *Broadcaster) SendPersonal(event Event, c *Client) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal event", "event", event.EventType(), "error", err)
		return
	}
	if err := c.Send(payload); err != nil {
		b.evict(c, err)
		return
	}
	metrics.EventsDeliveredTotal.WithLabelValues(event.EventType()).Inc()
}

// Stats exposes the registry's connection statistics to the read path.
func (b *Broadcaster) Stats() ConnectionStats { return b.registry.Stats() }

func (b *Broadcaster) deliverLocal(payload []byte, eventType string, sel Selector) {
	start := b.clock.Now()
	clients := b.registry.Snapshot(sel)
	if len(clients) == 0 {
		return
	}

	var failed []*Client
	for _, c := range clients {
		if err := c.Send(payload); err != nil {
			failed = append(failed, c)
			continue
		}
		metrics.EventsDeliveredTotal.WithLabelValues(eventType).Inc()
	}

	for _, c := range failed {
		b.evict(c, ErrSendBufferFull)
	}

	metrics.BroadcastDuration.Observe(b.clock.Since(start).Seconds())
}

// evict unregisters and closes a connection whose send failed. Unregister is
// idempotent, so racing with the read pump's own cleanup is harmless; only
// the caller that actually removed the client closes it.
func (b *Broadcaster) evict(c *Client, cause error) {
	metrics.SendFailuresTotal.Inc()
	if b.registry.Unregister(c) {
		slog.Warn("Evicting unresponsive client",
			"connection_id", c.ID(), "user_id", c.UserID, "role", c.Role, "error", cause)
		metrics.EvictedClientsTotal.Inc()
		c.Close()
	}
}
