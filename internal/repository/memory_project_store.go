package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kairon-backend/internal/models"
)

// MemoryProjectStore keeps projects in process memory. It honours the same
// contract as ProjectRepo and backs STORE=memory runs and tests.
type MemoryProjectStore struct {
	mu       sync.RWMutex
	projects map[uuid.UUID]*models.StudyProject
	now      func() time.Time
}

func NewMemoryProjectStore() *MemoryProjectStore {
	return &MemoryProjectStore{
		projects: make(map[uuid.UUID]*models.StudyProject),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryProjectStore) owned(ownerID, id uuid.UUID) (*models.StudyProject, bool) {
	p, ok := s.projects[id]
	if !ok || p.OwnerID != ownerID {
		return nil, false
	}
	return p, true
}

func (s *MemoryProjectStore) Create(_ context.Context, p *models.StudyProject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = uuid.New()
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Artifacts == nil {
		p.Artifacts = make(models.Artifacts)
	}
	s.projects[p.ID] = p.Clone()
	return nil
}

func (s *MemoryProjectStore) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]*models.StudyProject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projects := make([]*models.StudyProject, 0)
	for _, p := range s.projects {
		if p.OwnerID == ownerID {
			projects = append(projects, p.Clone())
		}
	}
	sort.Slice(projects, func(i, j int) bool {
		if projects[i].CreatedAt.Equal(projects[j].CreatedAt) {
			return projects[i].ID.String() < projects[j].ID.String()
		}
		return projects[i].CreatedAt.Before(projects[j].CreatedAt)
	})
	return projects, nil
}

func (s *MemoryProjectStore) Get(_ context.Context, ownerID, id uuid.UUID) (*models.StudyProject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.owned(ownerID, id)
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryProjectStore) Update(_ context.Context, ownerID, id uuid.UUID, patch models.ProjectPatch) (*models.StudyProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.owned(ownerID, id)
	if !ok {
		return nil, ErrNotFound
	}
	patch.Apply(p)
	p.UpdatedAt = s.now()
	return p.Clone(), nil
}

func (s *MemoryProjectStore) Mutate(_ context.Context, ownerID, id uuid.UUID, fn MutateFunc) (*models.StudyProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.owned(ownerID, id)
	if !ok {
		return nil, ErrNotFound
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID = current.ID
	working.OwnerID = current.OwnerID
	working.IngestedText = current.IngestedText
	working.CreatedAt = current.CreatedAt
	working.UpdatedAt = s.now()

	s.projects[id] = working
	return working.Clone(), nil
}

func (s *MemoryProjectStore) Delete(_ context.Context, ownerID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.owned(ownerID, id); !ok {
		return ErrNotFound
	}
	delete(s.projects, id)
	return nil
}
