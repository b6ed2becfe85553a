package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/citysense/citysense/internal/metrics"
	"github.com/citysense/citysense/internal/realtime"
)

const relayChannel = "citysense:events"

// relayMessage is the wire form of a relayed event. Origin carries the
// publishing instance's id so an instance never re-delivers its own events.
type relayMessage struct {
	Origin   string                `json:"origin"`
	Selector realtime.WireSelector `json:"selector"`
	Payload  json.RawMessage       `json:"payload"`
}

// localDeliverer is the slice of the broadcast engine the relay needs.
type localDeliverer interface {
	DeliverRaw(sel realtime.Selector, payload []byte)
}

// EventRelay fans domain events out across instances via Redis Pub/Sub. Each
// instance publishes every locally produced event and re-injects events from
// peers into its own broadcast engine, so a client is reached no matter which
// instance it is connected to.
type EventRelay struct {
	rdb        *goredis.Client
	instanceID string
	local      localDeliverer
}

func NewEventRelay(client *Client, local localDeliverer) *EventRelay {
	return &EventRelay{
		rdb:        client.rdb,
		instanceID: uuid.NewString(),
		local:      local,
	}
}

// Relay publishes one serialized event for peer instances. Implements
// realtime.Relay.
func (r *EventRelay) Relay(ctx context.Context, sel realtime.Selector, payload []byte) error {
	msg := relayMessage{
		Origin:   r.instanceID,
		Selector: sel.Wire(),
		Payload:  payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}
	if err := r.rdb.Publish(ctx, relayChannel, data).Err(); err != nil {
		metrics.RelayErrorsTotal.Inc()
		return fmt.Errorf("failed to publish relay message: %w", err)
	}
	metrics.RelayPublishedTotal.Inc()
	return nil
}

// Run subscribes to the relay channel and re-delivers peer events locally.
// It blocks until ctx is cancelled.
func (r *EventRelay) Run(ctx context.Context) {
	sub := r.rdb.Subscribe(ctx, relayChannel)
	defer func() { _ = sub.Close() }()

	msgCh := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgCh:
			if !ok {
				return
			}
			var msg relayMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				metrics.RelayErrorsTotal.Inc()
				slog.Warn("Failed to unmarshal relay message", "error", err)
				continue
			}
			if msg.Origin == r.instanceID {
				continue
			}
			metrics.RelayReceivedTotal.Inc()
			r.local.DeliverRaw(msg.Selector.Selector(), msg.Payload)
		}
	}
}
