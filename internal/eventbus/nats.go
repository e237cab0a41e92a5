/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/rideatlas/rideatlas/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus fans events out over core NATS subjects. Like RedisBus it keeps an
// in-process bus for local subscribers.
type NATSBus struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	local  *events.Bus
	nodeID string
	logger zerolog.Logger
}

// NewNATSBus connects to NATS. An unreachable server leaves the bus local-only.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) *NATSBus {
	logger = logger.With().Str("component", "eventbus").Str("backend", "nats").Logger()
	nb := &NATSBus{
		local:  events.NewBus(),
		nodeID: nodeID,
		logger: logger,
	}

	opts := []nats.Option{
		nats.Name("rideatlas-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		logger.Warn().Err(err).Str("url", cfg.URL).Msg("nats unavailable, events stay in-process")
		return nb
	}

	sub, err := conn.Subscribe(subjectPrefix+">", nb.relay)
	if err != nil {
		logger.Warn().Err(err).Msg("nats subscribe failed, events stay in-process")
		conn.Close()
		return nb
	}

	nb.conn = conn
	nb.sub = sub
	logger.Info().Str("url", cfg.URL).Str("node_id", nodeID).Msg("nats event bus initialized")
	return nb
}

func (nb *NATSBus) relay(msg *nats.Msg) {
	env, err := decodeEnvelope(msg.Data)
	if err != nil {
		nb.logger.Error().Err(err).Str("subject", msg.Subject).Msg("dropping malformed event")
		return
	}
	if env.NodeID == nb.nodeID {
		return
	}
	nb.local.Publish(env.EventType, env.Payload)
}

// Subscribe registers a local subscriber.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	return nb.local.Subscribe(eventType)
}

// Unsubscribe removes and closes a subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// Publish delivers locally and to the NATS subject for the event type.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)
	if nb.conn == nil {
		return
	}

	data, err := encodeEnvelope(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to encode event")
		return
	}
	if err := nb.conn.Publish(subject(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to nats")
	}
}

// Degraded reports whether cross-instance delivery is off.
func (nb *NATSBus) Degraded() bool {
	return nb.conn == nil || !nb.conn.IsConnected()
}

// Close drains the subscription and closes the connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}
	if nb.sub != nil {
		_ = nb.sub.Unsubscribe()
	}
	return nb.conn.Drain()
}
