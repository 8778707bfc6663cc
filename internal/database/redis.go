package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis key layout shared by the queue, the worker pool, the websocket hub
// and the auth token store.
const (
	GenerationQueueKey = "queue:generation"

	jobLockPrefix      = "job_lock:"
	userUpdatesPrefix  = "user_updates:"
	verifyTokenPrefix  = "email_verify:"
	resetTokenPrefix   = "password_reset:"
	refreshTokenPrefix = "refresh:"
	resendLimitPrefix  = "resend_limit:"
)

func JobLockKey(jobID uuid.UUID) string { return jobLockPrefix + jobID.String() }

func UserUpdatesChannel(userID uuid.UUID) string { return userUpdatesPrefix + userID.String() }

func VerifyTokenKey(token string) string  { return verifyTokenPrefix + token }
func ResetTokenKey(token string) string   { return resetTokenPrefix + token }
func RefreshTokenKey(token string) string { return refreshTokenPrefix + token }

func ResendLimitKey(userID uuid.UUID) string { return resendLimitPrefix + userID.String() }

// RedisClients keeps blocking queue reads off the connection used for
// publish/subscribe.
type RedisClients struct {
	Queue  *redis.Client
	PubSub *redis.Client
}

func NewRedisClients(redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queueClient := redis.NewClient(opt)
	if err := queueClient.Ping(ctx).Err(); err != nil {
		queueClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (queue): %w", err)
	}

	pubsubOpt := *opt
	pubsubClient := redis.NewClient(&pubsubOpt)
	if err := pubsubClient.Ping(ctx).Err(); err != nil {
		queueClient.Close()
		pubsubClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (pubsub): %w", err)
	}

	return &RedisClients{
		Queue:  queueClient,
		PubSub: pubsubClient,
	}, nil
}

func (r *RedisClients) Close() error {
	return errors.Join(r.Queue.Close(), r.PubSub.Close())
}
