// Package relay fans live events out across service instances over Redis pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"fyzo-chat/internal/observability"
	"fyzo-chat/internal/ws"
)

// Deliverer hands an envelope to the connections held by this instance.
type Deliverer interface {
	Deliver(env ws.Envelope)
}

type message struct {
	Origin string      `json:"origin"`
	Env    ws.Envelope `json:"env"`
}

// Relay implements service.Broadcaster by publishing every event to a Redis
// channel that all instances, including this one, subscribe to.
type Relay struct {
	client   *redis.Client
	channel  string
	local    Deliverer
	instance string
	logger   *slog.Logger
	timeout  time.Duration
}

// New builds a relay. Run must be started for remote and local events to be delivered.
func New(client *redis.Client, channel string, local Deliverer, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		client:   client,
		channel:  channel,
		local:    local,
		instance: uuid.NewString(),
		logger:   logger,
		timeout:  2 * time.Second,
	}
}

// ToRoom publishes a room-scoped event.
func (r *Relay) ToRoom(ctx context.Context, chatID, event string, payload any, exceptConnID string) {
	r.publish(ctx, chatID, event, payload, exceptConnID)
}

// ToAll publishes an event for every connection on every instance.
func (r *Relay) ToAll(ctx context.Context, event string, payload any, exceptConnID string) {
	r.publish(ctx, "", event, payload, exceptConnID)
}

func (r *Relay) publish(ctx context.Context, room, event string, payload any, except string) {
	env, err := ws.NewEnvelope(room, event, payload, except)
	if err != nil {
		observability.IncRelayError("encode")
		r.logger.Error("relay encode failed", "event", event, "error", err)
		return
	}
	body, err := json.Marshal(message{Origin: r.instance, Env: env})
	if err != nil {
		observability.IncRelayError("encode")
		r.logger.Error("relay encode failed", "event", event, "error", err)
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.client.Publish(pctx, r.channel, body).Err(); err != nil {
		// Local subscribers still get the event when Redis is unreachable.
		observability.IncRelayError("publish")
		r.logger.Warn("relay publish failed, delivering locally", "event", event, "error", err)
		r.local.Deliver(env)
	}
}

// Run subscribes to the relay channel and delivers envelopes until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.logger.Info("relay subscribed", "channel", r.channel, "instance", r.instance)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay: subscription closed")
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *Relay) handle(payload string) {
	var m message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		observability.IncRelayError("decode")
		r.logger.Warn("relay decode failed", "error", err)
		return
	}
	r.logger.Debug("relay event", "origin", m.Origin, "event", m.Env.Event, "room", m.Env.Room)
	r.local.Deliver(m.Env)
}
