/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rideatlas/rideatlas/internal/events"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxFailures consecutive publish errors switch the bus to local-only delivery.
	MaxFailures int
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxFailures:  5,
	}
}

// RedisBus fans events out to other instances over Redis pub/sub. Local
// subscribers are always served by an in-process bus, so a Redis outage only
// costs cross-instance delivery.
type RedisBus struct {
	client *redis.Client
	local  *events.Bus
	nodeID string
	logger zerolog.Logger

	degraded  atomic.Bool
	failCount atomic.Int32
	maxFails  int32

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBus connects to Redis and starts relaying remote events. When Redis
// cannot be reached the bus starts degraded instead of failing.
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisBus {
	logger = logger.With().Str("component", "eventbus").Str("backend", "redis").Logger()
	rb := &RedisBus{
		local:    events.NewBus(),
		nodeID:   nodeID,
		logger:   logger,
		maxFails: int32(cfg.MaxFailures),
	}
	if rb.maxFails <= 0 {
		rb.maxFails = 5
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unavailable, events stay in-process")
		_ = client.Close()
		rb.degraded.Store(true)
		return rb
	}

	ctx, cancel := context.WithCancel(context.Background())
	rb.client = client
	rb.cancel = cancel

	pubsub := client.PSubscribe(ctx, subjectPrefix+"*")
	rb.wg.Add(1)
	go rb.relay(ctx, pubsub)

	logger.Info().Str("addr", cfg.Addr).Str("node_id", nodeID).Msg("redis event bus initialized")
	return rb
}

func (rb *RedisBus) relay(ctx context.Context, pubsub *redis.PubSub) {
	defer rb.wg.Done()
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				rb.logger.Warn().Msg("redis subscription closed")
				return
			}
			env, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				rb.logger.Error().Err(err).Str("channel", msg.Channel).Msg("dropping malformed event")
				continue
			}
			if env.NodeID == rb.nodeID {
				continue
			}
			rb.local.Publish(env.EventType, env.Payload)
		}
	}
}

// Subscribe registers a local subscriber. Events from other instances are
// delivered to it as well.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	return rb.local.Subscribe(eventType)
}

// Unsubscribe removes and closes a subscriber.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.local.Unsubscribe(eventType, sub)
}

// Publish delivers locally and, unless degraded, to every other instance.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)
	if rb.degraded.Load() {
		return
	}

	data, err := encodeEnvelope(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to encode event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rb.client.Publish(ctx, subject(eventType), data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to redis")
		if rb.failCount.Add(1) >= rb.maxFails && rb.degraded.CompareAndSwap(false, true) {
			rb.logger.Warn().Msg("redis failure threshold reached, events stay in-process")
		}
		return
	}
	rb.failCount.Store(0)
}

// Degraded reports whether cross-instance delivery is off.
func (rb *RedisBus) Degraded() bool {
	return rb.degraded.Load()
}

// Close stops the relay and closes the Redis client.
func (rb *RedisBus) Close() error {
	if rb.cancel != nil {
		rb.cancel()
	}
	rb.wg.Wait()
	if rb.client != nil {
		return rb.client.Close()
	}
	return nil
}
