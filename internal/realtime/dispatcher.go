package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/citysense/citysense/internal/domain"
	"github.com/citysense/citysense/internal/metrics"
)

// Dispatcher routes one decoded inbound message to its handler. It keeps no
// state between messages beyond what lives in the registry. Handler faults
// never take the connection down: storage errors and malformed payloads are
// caught at the dispatch boundary and answered with a personal error event.
//
// An acknowledge or resolve naming an unknown alert id, or an alert whose
// lifecycle forbids the transition, is answered with a personal error event;
// state is never changed and no broadcast is emitted.
type Dispatcher struct {
	registry    *Registry
	broadcaster *Broadcaster
	alerts      domain.AlertRepository
	sensors     domain.SensorRepository
	metricsRepo domain.MetricRepository
	clock       clockwork.Clock
}

func NewDispatcher(
	registry *Registry,
	broadcaster *Broadcaster,
	alerts domain.AlertRepository,
	sensors domain.SensorRepository,
	metricsRepo domain.MetricRepository,
	clock clockwork.Clock,
) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		broadcaster: broadcaster,
		alerts:      alerts,
		sensors:     sensors,
		metricsRepo: metricsRepo,
		clock:       clock,
	}
}

// errUserFacing marks handler failures whose message is safe to echo back to
// the originating connection. Everything else is reported as a generic
// internal error.
type errUserFacing struct{ msg string }

func (e errUserFacing) Error() string { return e.msg }

func userErrorf(format string, args ...any) error {
	return errUserFacing{msg: fmt.Sprintf(format, args...)}
}

// Dispatch handles one raw inbound frame from the given connection.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, raw []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.sendError(c, "malformed message")
		return
	}

	metrics.MessagesReceivedTotal.WithLabelValues(env.Type).Inc()

	var err error
	switch env.Type {
	case TypeSubscribe:
		err = d.handleSubscribe(c, raw)
	case TypeUnsubscribe:
		err = d.handleUnsubscribe(c, raw)
	case TypeAcknowledgeAlert:
		err = d.handleAcknowledgeAlert(ctx, c, raw)
	case TypeResolveAlert:
		err = d.handleResolveAlert(ctx, c, raw)
	case TypeRequestData:
		err = d.handleRequestData(ctx, c, raw)
	case TypePing:
		d.broadcaster.SendPersonal(PongEvent{baseEvent: newBase("pong", d.clock.Now())}, c)
	default:
		d.sendError(c, fmt.Sprintf("Unknown message type: %s", env.Type))
	}

	if err == nil {
		return
	}
	var userErr errUserFacing
	if errors.As(err, &userErr) {
		d.sendError(c, userErr.msg)
		return
	}
	slog.Error("Message handler failed",
		"type", env.Type, "connection_id", c.ID(), "user_id", c.UserID, "error", err)
	d.sendError(c, "Internal server error")
}

func (d *Dispatcher) sendError(c *Client, message string) {
	d.broadcaster.SendPersonal(NewErrorEvent(d.clock.Now(), message), c)
}

func (d *Dispatcher) handleSubscribe(c *Client, raw []byte) error {
	var p subscribePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return userErrorf("malformed subscribe payload")
	}
	for _, topic := range p.Channels {
		d.registry.Subscribe(c, topic)
	}
	d.broadcaster.SendPersonal(SubscriptionConfirmedEvent{
		baseEvent: newBase("subscription_confirmed", d.clock.Now()),
		Channels:  p.Channels,
	}, c)
	return nil
}

func (d *Dispatcher) handleUnsubscribe(c *Client, raw []byte) error {
	var p subscribePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return userErrorf("malformed unsubscribe payload")
	}
	for _, topic := range p.Channels {
		d.registry.Unsubscribe(c, topic)
	}
	d.broadcaster.SendPersonal(UnsubscriptionConfirmedEvent{
		baseEvent: newBase("unsubscription_confirmed", d.clock.Now()),
		Channels:  p.Channels,
	}, c)
	return nil
}

func (d *Dispatcher) handleAcknowledgeAlert(ctx context.Context, c *Client, raw []byte) error {
	var p acknowledgeAlertPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.AlertID == "" {
		return userErrorf("acknowledge_alert requires alert_id")
	}

	alert, err := d.alerts.GetByAlertID(ctx, p.AlertID)
	if errors.Is(err, domain.ErrAlertNotFound) {
		return userErrorf("unknown alert id: %s", p.AlertID)
	}
	if err != nil {
		return fmt.Errorf("load alert %s: %w", p.AlertID, err)
	}
	if !alert.CanAcknowledge() {
		return userErrorf("alert %s cannot be acknowledged from status %s", alert.AlertID, alert.Status)
	}

	now := d.clock.Now().UTC()
	alert.Status = domain.AlertStatusAcknowledged
	alert.AcknowledgedBy = &c.UserID
	alert.AcknowledgedAt = &now
	alert.AcknowledgedNotes = p.Notes

	if err := d.alerts.Update(ctx, alert); err != nil {
		return fmt.Errorf("persist acknowledge of %s: %w", alert.AlertID, err)
	}
	if err := d.alerts.AppendAction(ctx, &domain.AlertAction{
		AlertID:   alert.ID,
		UserID:    c.UserID,
		Action:    "acknowledge",
		Notes:     p.Notes,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("record acknowledge action for %s: %w", alert.AlertID, err)
	}

	slog.Info("Alert acknowledged", "alert_id", alert.AlertID, "user_id", c.UserID)

	d.broadcaster.Deliver(ctx, AlertAcknowledgedEvent{
		baseEvent:      newBase("alert_acknowledged", now),
		AlertID:        alert.AlertID,
		AcknowledgedBy: c.UserID,
	}, All())
	d.broadcaster.SendPersonal(ActionSuccessEvent{
		baseEvent: newBase("action_success", now),
		Action:    TypeAcknowledgeAlert,
		AlertID:   alert.AlertID,
	}, c)
	return nil
}

func (d *Dispatcher) handleResolveAlert(ctx context.Context, c *Client, raw []byte) error {
	var p resolveAlertPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.AlertID == "" {
		return userErrorf("resolve_alert requires alert_id")
	}

	alert, err := d.alerts.GetByAlertID(ctx, p.AlertID)
	if errors.Is(err, domain.ErrAlertNotFound) {
		return userErrorf("unknown alert id: %s", p.AlertID)
	}
	if err != nil {
		return fmt.Errorf("load alert %s: %w", p.AlertID, err)
	}
	if !alert.CanResolve() {
		return userErrorf("alert %s cannot be resolved from status %s", alert.AlertID, alert.Status)
	}

	now := d.clock.Now().UTC()
	alert.Status = domain.AlertStatusResolved
	alert.ResolvedBy = &c.UserID
	alert.ResolvedAt = &now
	alert.Resolution = p.Resolution
	alert.ResolutionNotes = p.Notes

	if err := d.alerts.Update(ctx, alert); err != nil {
		return fmt.Errorf("persist resolve of %s: %w", alert.AlertID, err)
	}
	if err := d.alerts.AppendAction(ctx, &domain.AlertAction{
		AlertID:   alert.ID,
		UserID:    c.UserID,
		Action:    "resolve",
		Notes:     fmt.Sprintf("Resolution: %s. Notes: %s", p.Resolution, p.Notes),
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("record resolve action for %s: %w", alert.AlertID, err)
	}

	slog.Info("Alert resolved", "alert_id", alert.AlertID, "user_id", c.UserID)

	d.broadcaster.Deliver(ctx, AlertResolvedEvent{
		baseEvent:  newBase("alert_resolved", now),
		AlertID:    alert.AlertID,
		ResolvedBy: c.UserID,
		Resolution: p.Resolution,
	}, All())
	d.broadcaster.SendPersonal(ActionSuccessEvent{
		baseEvent: newBase("action_success", now),
		Action:    TypeResolveAlert,
		AlertID:   alert.AlertID,
	}, c)
	return nil
}
