// Package queue implements a durable job queue on redis streams. Each job
// class gets its own stream and consumer group so its concurrency can be
// bounded independently: sequential chapter generation runs with exactly one
// consumer, fan-out page generation with a small pool.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"fablepress/internal/util"
	"fablepress/pkg/domain"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// JobStatus tracks one queued job's lifecycle in a redis hash.
type JobStatus struct {
	ID           string     `json:"id"`
	Job          domain.Job `json:"job"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Attempts     int        `json:"attempts"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// RedisJobQueue is a consumer-group backed queue for one job class.
type RedisJobQueue struct {
	client       *redis.Client
	jobType      domain.JobType
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type RedisQueueConfig struct {
	Addr       string
	Password   string
	JobType    domain.JobType
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64

	// Client overrides Addr/Password when set; used by tests.
	Client *redis.Client
}

// NewRedisJobQueue builds a queue for one job class.
func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	client := cfg.Client
	if client == nil {
		addr := strings.TrimSpace(cfg.Addr)
		if addr == "" {
			return nil, errors.New("redis addr required")
		}
		client = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password})
	}
	if cfg.JobType == "" {
		return nil, errors.New("queue job type required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "workers"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	jobTTL := cfg.JobTTL
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisJobQueue{
		client:       client,
		jobType:      cfg.JobType,
		stream:       "jobs:" + string(cfg.JobType),
		group:        group,
		consumerBase: consumer,
		jobTTL:       jobTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Enqueue appends a job to the class stream and records its status hash.
func (q *RedisJobQueue) Enqueue(ctx context.Context, job domain.Job) (JobStatus, error) {
	if strings.TrimSpace(job.ProjectID) == "" {
		return JobStatus{}, errors.New("projectId required")
	}
	if job.UnitIndex < 1 {
		return JobStatus{}, errors.New("unitIndex must be >= 1")
	}
	job.Type = q.jobType
	status := JobStatus{
		ID:        util.NewID(),
		Job:       job,
		Status:    StatusQueued,
		Attempts:  0,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := q.writeStatus(ctx, status); err != nil {
		return JobStatus{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: jobValues(status.ID, job),
	}).Err(); err != nil {
		return JobStatus{}, err
	}
	return status, nil
}

// GetJob fetches a job's status hash.
func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (JobStatus, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return JobStatus{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return JobStatus{}, false, err
	}
	if len(data) == 0 {
		return JobStatus{}, false, nil
	}
	return decodeJobStatus(jobID, data), true, nil
}

// Start launches concurrency consumers for this job class.
func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handler func(context.Context, JobStatus) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			// best-effort; errors will surface on consume
		}
	})
}

func (q *RedisJobQueue) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, JobStatus) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisJobQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, JobStatus) error) {
	jobID, _ := msg.Values["job_id"].(string)
	job, ok := jobFromValues(q.jobType, msg.Values)
	if jobID == "" || !ok {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	status, err := q.markProcessing(ctx, jobID, job)
	if err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if err := handler(ctx, status); err == nil {
		_ = q.markDone(ctx, jobID)
		q.ackAndDel(ctx, msg.ID)
		return
	} else if !domain.Retryable(err) || status.Attempts >= q.maxRetries {
		_ = q.markFailed(ctx, jobID, err.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	} else {
		_ = q.markQueued(ctx, jobID, err.Error())
	}
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	_ = q.requeueAndAck(ctx, msg.ID, jobID, job)
}

func (q *RedisJobQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *RedisJobQueue) requeueAndAck(ctx context.Context, msgID, jobID string, job domain.Job) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: jobValues(jobID, job),
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) markProcessing(ctx context.Context, jobID string, job domain.Job) (JobStatus, error) {
	status, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return JobStatus{}, err
	}
	if status.ID == "" {
		status = JobStatus{ID: jobID}
	}
	status.Job = job
	status.Attempts++
	status.Status = StatusProcessing
	status.UpdatedAt = time.Now().UTC()
	if status.CreatedAt.IsZero() {
		status.CreatedAt = status.UpdatedAt
	}
	if err := q.writeStatus(ctx, status); err != nil {
		return JobStatus{}, err
	}
	return status, nil
}

func (q *RedisJobQueue) markQueued(ctx context.Context, jobID, errMsg string) error {
	status, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	status.Status = StatusQueued
	status.ErrorMessage = errMsg
	status.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, status)
}

func (q *RedisJobQueue) markDone(ctx context.Context, jobID string) error {
	status, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	status.Status = StatusDone
	status.ErrorMessage = ""
	status.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, status)
}

func (q *RedisJobQueue) markFailed(ctx context.Context, jobID, errMsg string) error {
	status, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	status.Status = StatusFailed
	status.ErrorMessage = errMsg
	status.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, status)
}

func (q *RedisJobQueue) writeStatus(ctx context.Context, status JobStatus) error {
	key := q.jobKey(status.ID)
	payload := map[string]any{
		"id":        status.ID,
		"projectId": status.Job.ProjectID,
		"ownerId":   status.Job.OwnerID,
		"unitIndex": strconv.Itoa(status.Job.UnitIndex),
		"guidance":  status.Job.Guidance,
		"status":    status.Status,
		"error":     status.ErrorMessage,
		"attempts":  strconv.Itoa(status.Attempts),
		"createdAt": status.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": status.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

func (q *RedisJobQueue) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func jobValues(jobID string, job domain.Job) map[string]any {
	return map[string]any{
		"job_id":     jobID,
		"project_id": job.ProjectID,
		"owner_id":   job.OwnerID,
		"unit_index": strconv.Itoa(job.UnitIndex),
		"guidance":   job.Guidance,
	}
}

func jobFromValues(jobType domain.JobType, values map[string]any) (domain.Job, bool) {
	projectID, _ := values["project_id"].(string)
	ownerID, _ := values["owner_id"].(string)
	rawIndex, _ := values["unit_index"].(string)
	guidance, _ := values["guidance"].(string)
	index, err := strconv.Atoi(rawIndex)
	if projectID == "" || err != nil || index < 1 {
		return domain.Job{}, false
	}
	return domain.Job{
		Type:      jobType,
		ProjectID: projectID,
		OwnerID:   ownerID,
		UnitIndex: index,
		Guidance:  guidance,
	}, true
}

func decodeJobStatus(jobID string, data map[string]string) JobStatus {
	status := JobStatus{ID: jobID}
	status.Job.ProjectID = data["projectId"]
	status.Job.OwnerID = data["ownerId"]
	status.Job.Guidance = data["guidance"]
	if v := data["unitIndex"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			status.Job.UnitIndex = n
		}
	}
	status.Status = data["status"]
	status.ErrorMessage = data["error"]
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			status.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			status.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			status.UpdatedAt = t
		}
	}
	return status
}
