package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kairon-backend/internal/models"
)

// MemoryUserStore mirrors UserRepo for STORE=memory runs.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*models.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[uuid.UUID]*models.User)}
}

func (s *MemoryUserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.ID = uuid.New()
	user.IsActive = true
	user.CreatedAt = time.Now().UTC()
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *MemoryUserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryUserStore) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryUserStore) update(id uuid.UUID, fn func(u *models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	return nil
}

func (s *MemoryUserStore) VerifyEmail(_ context.Context, userID uuid.UUID) error {
	return s.update(userID, func(u *models.User) { u.IsVerified = true })
}

func (s *MemoryUserStore) UpdateLastLogin(_ context.Context, userID uuid.UUID) error {
	now := time.Now().UTC()
	return s.update(userID, func(u *models.User) { u.LastLoginAt = &now })
}

func (s *MemoryUserStore) UpdatePassword(_ context.Context, userID uuid.UUID, passwordHash string) error {
	return s.update(userID, func(u *models.User) { u.PasswordHash = passwordHash })
}

// MemoryJobStore mirrors JobRepo for STORE=memory runs.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*models.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (s *MemoryJobStore) Create(_ context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j.ID = uuid.New()
	j.Status = models.JobPending
	j.CreatedAt = time.Now().UTC()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *MemoryJobStore) GetByID(_ context.Context, userID, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok || j.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id uuid.UUID, status models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = status
	if status == models.JobCompleted || status == models.JobFailed {
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
	return nil
}

func (s *MemoryJobStore) UpdateError(_ context.Context, id uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.ErrorMessage = &errMsg
	return nil
}
