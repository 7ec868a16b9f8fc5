package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"fablepress/pkg/domain"
)

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, jobID, job := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, jobID, job); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["job_id"] != jobID || got.Values["project_id"] != job.ProjectID {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
	if got.Values["unit_index"] != "3" {
		t.Fatalf("unit index lost on requeue: %+v", got.Values)
	}
}

func TestRedisJobQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, jobID, job := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, jobID, job); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}

	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func TestJobClassesUseSeparateStreams(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	ctx := context.Background()

	seq, err := NewRedisJobQueue(RedisQueueConfig{Client: client, JobType: domain.JobSequentialUnit})
	if err != nil {
		t.Fatalf("new sequential queue: %v", err)
	}
	fan, err := NewRedisJobQueue(RedisQueueConfig{Client: client, JobType: domain.JobFanOutUnit})
	if err != nil {
		t.Fatalf("new fan-out queue: %v", err)
	}
	if seq.stream == fan.stream {
		t.Fatalf("expected distinct streams per job class, both %q", seq.stream)
	}

	if _, err := seq.Enqueue(ctx, domain.Job{ProjectID: "p1", OwnerID: "u1", UnitIndex: 1}); err != nil {
		t.Fatalf("enqueue sequential: %v", err)
	}
	fanLen, err := client.XLen(ctx, fan.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if fanLen != 0 {
		t.Fatalf("sequential enqueue leaked into fan-out stream, len=%d", fanLen)
	}
}

func TestEnqueueRejectsInvalidJob(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	q, err := NewRedisJobQueue(RedisQueueConfig{Client: client, JobType: domain.JobSequentialUnit})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, domain.Job{OwnerID: "u1", UnitIndex: 1}); err == nil {
		t.Fatalf("expected enqueue without projectId to fail")
	}
	if _, err := q.Enqueue(ctx, domain.Job{ProjectID: "p1", OwnerID: "u1", UnitIndex: 0}); err == nil {
		t.Fatalf("expected enqueue with zero unitIndex to fail")
	}
}

func newPendingQueueMessage(t *testing.T) (*RedisJobQueue, context.Context, string, string, domain.Job) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Client:     client,
		JobType:    domain.JobSequentialUnit,
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	ctx := context.Background()
	q.ensureGroup(ctx)

	status, err := q.Enqueue(ctx, domain.Job{ProjectID: "project-1", OwnerID: "owner-1", UnitIndex: 3})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}

	msg := streams[0].Messages[0]
	return q, ctx, msg.ID, status.ID, status.Job
}
