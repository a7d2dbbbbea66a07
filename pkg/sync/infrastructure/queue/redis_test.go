package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
)

func newTestSource(t *testing.T) (*RedisEventSource, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	src := newWithClient(client, config.QueueConfig{
		StreamKey:                "famsync:inbound",
		VisibilityTimeoutSeconds: 60,
	})
	t.Cleanup(func() { src.Close() })
	return src, mr
}

func samplePayload() model.FamilyDocument {
	return model.FamilyDocument{
		"familyExternalId": "fam-100",
		"members": []interface{}{
			map[string]interface{}{"externalId": "per-1", "primary": true},
		},
	}
}

func TestPublishReceiveRoundTrip(t *testing.T) {
	src, _ := newTestSource(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	id, err := src.Publish(ctx, samplePayload(), map[string]string{
		HeaderAfterUpdatedAt: ts.Format(time.RFC3339Nano),
		"source":             "crm-webhook",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msg, err := src.Receive(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, "fam-100", msg.Payload["familyExternalId"])
	assert.True(t, ts.Equal(msg.AfterUpdatedAt))
	assert.Equal(t, "crm-webhook", msg.Headers["source"])
}

func TestReceiveTimesOutWithoutMessages(t *testing.T) {
	src, _ := newTestSource(t)

	_, err := src.Receive(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, port.ErrNoMessage)
}

func TestReceiveMovesMessageInflight(t *testing.T) {
	src, mr := newTestSource(t)
	ctx := context.Background()

	id, err := src.Publish(ctx, samplePayload(), nil)
	require.NoError(t, err)

	_, err = src.Receive(ctx, time.Second)
	require.NoError(t, err)

	members, err := mr.ZMembers("famsync:inbound:inflight")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, members)
	assert.False(t, mr.Exists("famsync:inbound"), "ready list should be drained")
}

func TestAckRemovesLeaseAndPayload(t *testing.T) {
	src, mr := newTestSource(t)
	ctx := context.Background()

	id, err := src.Publish(ctx, samplePayload(), nil)
	require.NoError(t, err)
	msg, err := src.Receive(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, src.Ack(ctx, msg))

	members, _ := mr.ZMembers("famsync:inbound:inflight")
	assert.Empty(t, members)
	assert.False(t, mr.Exists("famsync:inbound:msg:"+id))

	_, err = src.Receive(ctx, 50*time.Millisecond)
	assert.ErrorIs(t, err, port.ErrNoMessage)
}

func TestNackRedeliversMessage(t *testing.T) {
	src, _ := newTestSource(t)
	ctx := context.Background()

	id, err := src.Publish(ctx, samplePayload(), nil)
	require.NoError(t, err)
	msg, err := src.Receive(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, src.Nack(ctx, msg))

	redelivered, err := src.Receive(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, redelivered.ID)
	assert.Equal(t, "fam-100", redelivered.Payload["familyExternalId"])
}

func TestRequeueExpiredReclaimsTimedOutLeases(t *testing.T) {
	src, mr := newTestSource(t)
	ctx := context.Background()

	// A lease whose deadline already passed, as left behind by a crashed
	// consumer.
	mr.ZAdd("famsync:inbound:inflight", float64(time.Now().Add(-time.Minute).UnixMilli()), "orphan-1")
	mr.Set("famsync:inbound:msg:orphan-1", `{"payload":{"familyExternalId":"fam-200"}}`)

	reclaimed, err := src.RequeueExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	msg, err := src.Receive(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "orphan-1", msg.ID)
	assert.Equal(t, "fam-200", msg.Payload["familyExternalId"])
}

func TestRequeueExpiredLeavesLiveLeases(t *testing.T) {
	src, _ := newTestSource(t)
	ctx := context.Background()

	_, err := src.Publish(ctx, samplePayload(), nil)
	require.NoError(t, err)
	_, err = src.Receive(ctx, time.Second)
	require.NoError(t, err)

	reclaimed, err := src.RequeueExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, reclaimed)
}

func TestReceiveDropsOrphanedLease(t *testing.T) {
	src, mr := newTestSource(t)
	ctx := context.Background()

	// Ready entry without a payload key behind it.
	mr.Lpush("famsync:inbound", "ghost-1")

	_, err := src.Receive(ctx, 50*time.Millisecond)
	assert.ErrorIs(t, err, port.ErrNoMessage)

	members, _ := mr.ZMembers("famsync:inbound:inflight")
	assert.Empty(t, members)
}

func TestReadyDepth(t *testing.T) {
	src, _ := newTestSource(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := src.Publish(ctx, samplePayload(), nil)
		require.NoError(t, err)
	}

	depth, err := src.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), depth)
}
