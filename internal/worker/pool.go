package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"kairon-backend/internal/database"
	"kairon-backend/internal/logger"
	"kairon-backend/internal/models"
	"kairon-backend/internal/services"
)

const (
	pollTimeout = 5 * time.Second
	lockTTL     = 10 * time.Minute
)

// Runner is the part of services.GenerationService the pool drives.
type Runner interface {
	RunMany(ctx context.Context, userID, projectID uuid.UUID, reqs []services.GenerationRequest) []services.GenerationOutcome
	ProcessInitial(ctx context.Context, userID, projectID uuid.UUID, opts services.GenerateOptions) (*models.StudyProject, error)
}

// Pool pops generation jobs off Redis and runs them. A failed job is
// reported and left failed; nothing is retried.
type Pool struct {
	redis       *redis.Client
	jobs        JobStore
	runner      Runner
	publisher   Publisher
	workerCount int
	log         *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(redisClient *redis.Client, jobs JobStore, runner Runner, publisher Publisher, workerCount int, log *logger.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		redis:       redisClient,
		jobs:        jobs,
		runner:      runner,
		publisher:   publisher,
		workerCount: workerCount,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info("started worker goroutines", "count", p.workerCount)
}

// Stop stops taking new jobs and waits for the ones in flight.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.With("worker", id)

	for {
		if p.ctx.Err() != nil {
			log.Debug("worker shutting down")
			return
		}

		result, err := p.redis.BLPop(p.ctx, pollTimeout, database.GenerationQueueKey).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && p.ctx.Err() == nil {
				log.Warn("queue pop failed", "error", err)
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job models.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Error("failed to parse job", "error", err)
			continue
		}

		// in-flight jobs finish even when the pool is stopping
		ctx := context.Background()
		lockKey := database.JobLockKey(job.ID)
		locked, err := p.redis.SetNX(ctx, lockKey, id, lockTTL).Result()
		if err != nil || !locked {
			continue
		}

		log.Info("processing job", "job_id", job.ID, "kinds", job.Kinds, "initial", job.Initial)
		p.Process(ctx, &job)

		p.redis.Del(ctx, lockKey)
	}
}

// Process runs one job to completion and records its final status.
func (p *Pool) Process(ctx context.Context, job *models.Job) {
	p.jobs.UpdateStatus(ctx, job.ID, models.JobProcessing)
	p.publish(ctx, job.UserID, models.WSStatusUpdate, models.StatusUpdate{
		JobID:     job.ID,
		ProjectID: job.ProjectID,
		Step:      1,
		TotalStep: 2,
		StepName:  "Generating " + strings.Join(job.Kinds, ", "),
	})

	var err error
	if job.Initial {
		err = p.processInitial(ctx, job)
	} else {
		err = p.processKinds(ctx, job)
	}

	if err != nil {
		p.handleFailure(ctx, job, err)
		return
	}
	p.jobs.UpdateStatus(ctx, job.ID, models.JobCompleted)
}

func (p *Pool) processInitial(ctx context.Context, job *models.Job) error {
	var opts services.GenerateOptions
	if len(job.RequestJSON) > 0 {
		if err := json.Unmarshal(job.RequestJSON, &opts); err != nil {
			return fmt.Errorf("invalid job request: %w", err)
		}
	}

	project, err := p.runner.ProcessInitial(ctx, job.UserID, job.ProjectID, opts)
	if project != nil {
		p.publish(ctx, job.UserID, models.WSProjectUpdated, project)
	}
	if err != nil {
		return err
	}

	p.publish(ctx, job.UserID, models.WSArtifactReady, models.ArtifactReadyEvent{
		JobID:     job.ID,
		ProjectID: job.ProjectID,
		Kind:      string(services.KindSummary),
	})
	p.publish(ctx, job.UserID, models.WSJobCompleted, models.CompletedEvent{
		JobID:     job.ID,
		ProjectID: job.ProjectID,
		Status:    project.Status,
	})
	return nil
}

// processKinds runs every requested kind. The job fails only when all of
// them fail; partial failures are listed on the completion event.
func (p *Pool) processKinds(ctx context.Context, job *models.Job) error {
	var reqs []services.GenerationRequest
	if err := json.Unmarshal(job.RequestJSON, &reqs); err != nil {
		return fmt.Errorf("invalid job request: %w", err)
	}
	if len(reqs) == 0 {
		return fmt.Errorf("job has no generation requests")
	}

	outcomes := p.runner.RunMany(ctx, job.UserID, job.ProjectID, reqs)

	var failed []string
	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, string(o.Kind))
			errs = append(errs, o.Err)
			p.publish(ctx, job.UserID, models.WSJobFailed, models.ErrorEvent{
				JobID:        job.ID,
				ProjectID:    job.ProjectID,
				Kind:         string(o.Kind),
				ErrorCode:    errorCode(o.Err),
				ErrorMessage: o.Err.Error(),
			})
			continue
		}
		p.publish(ctx, job.UserID, models.WSArtifactReady, models.ArtifactReadyEvent{
			JobID:     job.ID,
			ProjectID: job.ProjectID,
			Kind:      string(o.Kind),
		})
	}

	if len(failed) == len(outcomes) {
		return errors.Join(errs...)
	}
	if len(failed) > 0 {
		p.jobs.UpdateError(ctx, job.ID, "failed kinds: "+strings.Join(failed, ", "))
	}
	p.publish(ctx, job.UserID, models.WSJobCompleted, models.CompletedEvent{
		JobID:     job.ID,
		ProjectID: job.ProjectID,
		Failed:    failed,
	})
	return nil
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, err error) {
	errMsg := err.Error()
	p.log.Warn("job failed", "job_id", job.ID, "error", errMsg)

	p.jobs.UpdateStatus(ctx, job.ID, models.JobFailed)
	p.jobs.UpdateError(ctx, job.ID, errMsg)

	event := models.ErrorEvent{
		JobID:        job.ID,
		ProjectID:    job.ProjectID,
		ErrorCode:    errorCode(err),
		ErrorMessage: errMsg,
	}
	var gerr *services.GenerationError
	if errors.As(err, &gerr) {
		event.Kind = string(gerr.Kind)
	}
	p.publish(ctx, job.UserID, models.WSJobFailed, event)
}

func errorCode(err error) string {
	var gerr *services.GenerationError
	var nf *services.NotFoundError
	var verr *services.ValidationError
	switch {
	case errors.As(err, &gerr):
		return "GENERATION_FAILED"
	case errors.As(err, &nf):
		return "NOT_FOUND"
	case errors.As(err, &verr):
		return "VALIDATION_ERROR"
	default:
		return "JOB_FAILED"
	}
}

func (p *Pool) publish(ctx context.Context, userID uuid.UUID, msgType string, payload interface{}) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishUpdate(ctx, userID, models.WSMessage{Type: msgType, Payload: payload}); err != nil {
		p.log.Warn("failed to publish update", "user_id", userID, "type", msgType, "error", err)
	}
}
