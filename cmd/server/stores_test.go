package main

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairon-backend/internal/models"
	"kairon-backend/internal/repository"
	"kairon-backend/internal/worker"
)

func TestSelectStores(t *testing.T) {
	tests := []struct {
		mode   string
		memory bool
	}{
		{mode: "memory", memory: true},
		{mode: "postgres", memory: false},
		{mode: "", memory: false},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			s := selectStores(tt.mode, nil)
			assert.Equal(t, tt.memory, s.memory)
			if tt.memory {
				assert.IsType(t, &repository.MemoryProjectStore{}, s.projects)
				assert.IsType(t, &repository.MemoryJobStore{}, s.jobs)
			} else {
				assert.IsType(t, &repository.ProjectRepo{}, s.projects)
				assert.IsType(t, &repository.JobRepo{}, s.jobs)
			}
		})
	}
}

func TestSelectStores_MemoryJobsFollowMemoryProjects(t *testing.T) {
	ctx := context.Background()
	s := selectStores("memory", nil)

	owner := uuid.New()
	project := &models.StudyProject{OwnerID: owner, Name: "Optics"}
	require.NoError(t, s.projects.Create(ctx, project))

	// Nothing listens on port 1, so the push fails after the job is recorded.
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })

	job := &models.Job{UserID: owner, ProjectID: project.ID, Kinds: []string{"summary"}, Initial: true}
	err := worker.NewRedisQueue(rdb, s.jobs).Submit(ctx, job)
	require.Error(t, err)
	require.NotEqual(t, uuid.Nil, job.ID)

	stored, err := s.jobs.GetByID(ctx, owner, job.ID)
	require.NoError(t, err)
	assert.Equal(t, project.ID, stored.ProjectID)
	assert.Equal(t, models.JobFailed, stored.Status)
}
