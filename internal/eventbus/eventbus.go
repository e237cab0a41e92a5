/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus selects the transport that carries batch job and trip
// events between instances.
package eventbus

import (
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rideatlas/rideatlas/internal/config"
	"github.com/rideatlas/rideatlas/internal/events"
)

const subjectPrefix = "rideatlas.events."

// Bus is an events.Broker that owns a connection.
type Bus interface {
	events.Broker
	Close() error
}

type memoryBus struct {
	*events.Bus
}

func (memoryBus) Close() error { return nil }

// New builds the bus named by cfg.EventBus. Remote backends never fail
// construction; they degrade to in-process delivery.
func New(cfg *config.Config, logger zerolog.Logger) (Bus, error) {
	nodeID := NodeID(cfg.InstanceID)

	switch cfg.EventBus {
	case config.EventBusMemory, "":
		return memoryBus{events.NewBus()}, nil
	case config.EventBusRedis:
		rc := DefaultRedisConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		return NewRedisBus(rc, nodeID, logger), nil
	case config.EventBusNATS:
		nc := DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		nc.Token = cfg.NATSToken
		return NewNATSBus(nc, nodeID, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus %q", cfg.EventBus)
	}
}

// NodeID returns configured, or hostname plus a random suffix.
func NodeID(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "rideatlas"
	}
	return host + "-" + uuid.NewString()[:8]
}

func subject(eventType events.EventType) string {
	return subjectPrefix + string(eventType)
}

type envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

func encodeEnvelope(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(envelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
	})
}

func decodeEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if env.EventType == "" {
		return nil, fmt.Errorf("decode event: missing event type")
	}
	return &env, nil
}
