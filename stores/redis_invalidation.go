package stores

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/logger"
)

// DefaultInvalidationChannel is the pub/sub channel mutations are sent on.
const DefaultInvalidationChannel = "permit:invalidate"

// Invalidator is anything holding a compiled index, usually a
// permit.CompiledCache or a permit.Engine.
type Invalidator interface {
	Invalidate()
}

type invalidationMessage struct {
	Origin string            `json:"origin"`
	Entity permit.Entity     `json:"entity"`
	Op     permit.MutationOp `json:"op"`
	ID     int64             `json:"id"`
}

// RedisInvalidationBus fans committed writes out to other processes. Register
// it as an Admin listener on the writing side and Subscribe each reader's
// cache. Messages a bus published itself are ignored by its own
// subscriptions since the local listener already invalidated.
type RedisInvalidationBus struct {
	client  redis.UniversalClient
	channel string
	origin  string
	logger  logger.Logger
}

type BusOption func(*RedisInvalidationBus)

func WithBusChannel(channel string) BusOption {
	return func(b *RedisInvalidationBus) { b.channel = channel }
}

func WithBusLogger(l logger.Logger) BusOption {
	return func(b *RedisInvalidationBus) { b.logger = l }
}

func NewRedisInvalidationBus(client redis.UniversalClient, opts ...BusOption) *RedisInvalidationBus {
	b := &RedisInvalidationBus{
		client:  client,
		channel: DefaultInvalidationChannel,
		origin:  uuid.NewString(),
		logger:  logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OnMutation publishes m. A failed publish is logged; other processes then
// converge when their index TTL expires.
func (b *RedisInvalidationBus) OnMutation(ctx context.Context, m permit.Mutation) {
	payload, err := json.Marshal(invalidationMessage{Origin: b.origin, Entity: m.Entity, Op: m.Op, ID: m.ID})
	if err != nil {
		b.logger.Error("permit invalidation encode failed", "err", err)
		return
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.Warn("permit invalidation publish failed", "err", err, "channel", b.channel)
	}
}

// Subscribe invalidates target for every mutation published by another
// bus. It returns once the subscription is confirmed; call stop to end it.
func (b *RedisInvalidationBus) Subscribe(ctx context.Context, target Invalidator) (stop func() error, err error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	ch := ps.Channel()
	go func() {
		for msg := range ch {
			var m invalidationMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				b.logger.Warn("permit invalidation decode failed", "err", err)
				continue
			}
			if m.Origin == b.origin {
				continue
			}
			target.Invalidate()
			b.logger.Debug("permit index invalidated remotely", "entity", string(m.Entity), "op", string(m.Op), "id", m.ID)
		}
	}()
	return ps.Close, nil
}

var _ permit.MutationListener = (*RedisInvalidationBus)(nil)
