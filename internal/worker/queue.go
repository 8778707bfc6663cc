package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"kairon-backend/internal/database"
	"kairon-backend/internal/models"
)

// JobStore is implemented by repository.JobRepo and MemoryJobStore.
type JobStore interface {
	Create(ctx context.Context, j *models.Job) error
	GetByID(ctx context.Context, userID, id uuid.UUID) (*models.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
	UpdateError(ctx context.Context, id uuid.UUID, errMsg string) error
}

// RedisQueue records jobs and pushes them onto the generation queue.
type RedisQueue struct {
	redis *redis.Client
	jobs  JobStore
}

func NewRedisQueue(redisClient *redis.Client, jobs JobStore) *RedisQueue {
	return &RedisQueue{redis: redisClient, jobs: jobs}
}

// Submit stores job as pending and queues it. On return job carries its id.
func (q *RedisQueue) Submit(ctx context.Context, job *models.Job) error {
	if err := q.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.redis.LPush(ctx, database.GenerationQueueKey, payload).Err(); err != nil {
		msg := "failed to queue job"
		q.jobs.UpdateStatus(ctx, job.ID, models.JobFailed)
		q.jobs.UpdateError(ctx, job.ID, msg)
		return fmt.Errorf("%s: %w", msg, err)
	}
	return nil
}

// Publisher delivers realtime updates to every socket of a user.
type Publisher interface {
	PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error
}

// RedisPublisher publishes on the per-user channel the websocket hub
// subscribes to.
type RedisPublisher struct {
	redis *redis.Client
}

func NewRedisPublisher(redisClient *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: redisClient}
}

func (p *RedisPublisher) PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.redis.Publish(ctx, database.UserUpdatesChannel(userID), data).Err()
}
