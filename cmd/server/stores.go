package main

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"kairon-backend/internal/repository"
	"kairon-backend/internal/services"
	"kairon-backend/internal/worker"
)

type stores struct {
	projects services.ProjectStore
	jobs     worker.JobStore
	memory   bool
}

// selectStores picks the project and job stores for mode. Jobs reference
// projects, so both live in the same place.
func selectStores(mode string, pool *pgxpool.Pool) stores {
	if mode == "memory" {
		return stores{
			projects: repository.NewMemoryProjectStore(),
			jobs:     repository.NewMemoryJobStore(),
			memory:   true,
		}
	}
	return stores{
		projects: repository.NewProjectRepo(pool),
		jobs:     repository.NewJobRepo(pool),
	}
}
