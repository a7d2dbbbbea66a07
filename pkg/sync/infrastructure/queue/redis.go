// Package queue implements the inbound event source on Redis. Messages wait
// on a ready list; a dequeue moves the message id into an inflight sorted set
// scored by its lease deadline. Ack removes the lease and the payload, Nack
// returns the id to the ready list, and expired leases can be swept back for
// redelivery.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
	"github.com/tigerroll/famsync/pkg/sync/support/util/exception"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

const (
	// HeaderAfterUpdatedAt carries the source timestamp of the payload.
	HeaderAfterUpdatedAt = "afterUpdatedAt"

	defaultVisibilityTimeout = 60 * time.Second
	pollInterval             = 100 * time.Millisecond
)

// envelope is the wire format of one queued message.
type envelope struct {
	Payload model.FamilyDocument `json:"payload"`
	Headers map[string]string    `json:"headers,omitempty"`
}

// RedisEventSource is the Redis implementation of port.EventSource.
type RedisEventSource struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	payloadPrefix string
	visibilityTTL time.Duration
}

// NewRedisEventSource creates an event source from the queue configuration.
func NewRedisEventSource(cfg config.QueueConfig) *RedisEventSource {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newWithClient(client, cfg)
}

func newWithClient(client *redis.Client, cfg config.QueueConfig) *RedisEventSource {
	visibility := time.Duration(cfg.VisibilityTimeoutSeconds) * time.Second
	if visibility <= 0 {
		visibility = defaultVisibilityTimeout
	}
	return &RedisEventSource{
		client:        client,
		readyKey:      cfg.StreamKey,
		inflightKey:   cfg.StreamKey + ":inflight",
		payloadPrefix: cfg.StreamKey + ":msg:",
		visibilityTTL: visibility,
	}
}

// dequeueScript atomically pops the next ready message id and records its
// lease deadline in the inflight set.
var dequeueScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if id then
  redis.call('ZADD', KEYS[2], ARGV[1], id)
  return id
end
return false
`)

// Publish enqueues one family document with its headers. The message id is
// returned for correlation.
func (s *RedisEventSource) Publish(ctx context.Context, payload model.FamilyDocument, headers map[string]string) (string, error) {
	const op = "queue.RedisEventSource.Publish"

	id := model.NewMessageID()
	data, err := json.Marshal(envelope{Payload: payload, Headers: headers})
	if err != nil {
		return "", exception.NewSyncError(op, "failed to encode message envelope", err, false, false)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.payloadKey(id), data, 0)
	pipe.RPush(ctx, s.readyKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", exception.NewSyncError(op, "failed to enqueue message", err, false, true)
	}
	return id, nil
}

// Receive implements port.EventSource. It polls the ready list until a
// message arrives or the timeout elapses.
func (s *RedisEventSource) Receive(ctx context.Context, timeout time.Duration) (*port.InboundMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		msg, err := s.tryReceive(ctx)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
		if time.Now().After(deadline) {
			return nil, port.ErrNoMessage
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (s *RedisEventSource) tryReceive(ctx context.Context) (*port.InboundMessage, error) {
	const op = "queue.RedisEventSource.tryReceive"

	leaseDeadline := time.Now().Add(s.visibilityTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, s.client, []string{s.readyKey, s.inflightKey}, leaseDeadline).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, exception.NewSyncError(op, "failed to dequeue message", err, false, true)
	}
	id, ok := res.(string)
	if !ok {
		return nil, exception.NewSyncError(op, fmt.Sprintf("unexpected type from dequeue script: %T", res), nil, false, false)
	}

	data, err := s.client.Get(ctx, s.payloadKey(id)).Bytes()
	if err == redis.Nil {
		// The payload expired or was removed underneath the lease. Drop the
		// orphaned lease and keep polling.
		logger.Warnf("queue: dropping message '%s' with no payload", id)
		s.client.ZRem(ctx, s.inflightKey, id)
		return nil, nil
	}
	if err != nil {
		return nil, exception.NewSyncError(op, fmt.Sprintf("failed to load payload for message '%s'", id), err, false, true)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, exception.NewSyncError(op, fmt.Sprintf("failed to decode message '%s'", id), err, true, false)
	}

	msg := &port.InboundMessage{
		ID:      id,
		Payload: env.Payload,
		Headers: env.Headers,
	}
	if raw, ok := env.Headers[HeaderAfterUpdatedAt]; ok {
		ts, perr := time.Parse(time.RFC3339Nano, raw)
		if perr != nil {
			logger.Warnf("queue: message '%s' carries an unparsable %s header: %v", id, HeaderAfterUpdatedAt, perr)
		} else {
			msg.AfterUpdatedAt = ts
		}
	}
	return msg, nil
}

// Ack implements port.EventSource. The lease and the payload are removed
// together.
func (s *RedisEventSource) Ack(ctx context.Context, msg *port.InboundMessage) error {
	const op = "queue.RedisEventSource.Ack"

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.inflightKey, msg.ID)
	pipe.Del(ctx, s.payloadKey(msg.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return exception.NewSyncError(op, fmt.Sprintf("failed to ack message '%s'", msg.ID), err, false, true)
	}
	return nil
}

// Nack implements port.EventSource. The message id returns to the ready list
// for redelivery; the payload stays in place.
func (s *RedisEventSource) Nack(ctx context.Context, msg *port.InboundMessage) error {
	const op = "queue.RedisEventSource.Nack"

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.inflightKey, msg.ID)
	pipe.RPush(ctx, s.readyKey, msg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return exception.NewSyncError(op, fmt.Sprintf("failed to nack message '%s'", msg.ID), err, false, true)
	}
	return nil
}

// RequeueExpired returns messages whose lease deadline has passed to the
// ready list and reports how many were reclaimed. Run it periodically to
// recover messages held by a crashed consumer.
func (s *RedisEventSource) RequeueExpired(ctx context.Context) (int, error) {
	const op = "queue.RedisEventSource.RequeueExpired"

	now := time.Now().UnixMilli()
	ids, err := s.client.ZRangeByScore(ctx, s.inflightKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return 0, exception.NewSyncError(op, "failed to scan expired leases", err, false, true)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, s.inflightKey, id)
		pipe.RPush(ctx, s.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, exception.NewSyncError(op, "failed to requeue expired messages", err, false, true)
	}
	return len(ids), nil
}

// ReadyDepth reports the number of messages waiting on the ready list.
func (s *RedisEventSource) ReadyDepth(ctx context.Context) (int64, error) {
	const op = "queue.RedisEventSource.ReadyDepth"

	depth, err := s.client.LLen(ctx, s.readyKey).Result()
	if err != nil {
		return 0, exception.NewSyncError(op, "failed to read queue depth", err, false, true)
	}
	return depth, nil
}

// Close implements port.EventSource.
func (s *RedisEventSource) Close() error {
	return s.client.Close()
}

func (s *RedisEventSource) payloadKey(id string) string {
	return s.payloadPrefix + id
}
