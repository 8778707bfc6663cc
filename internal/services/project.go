package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"kairon-backend/internal/models"
	"kairon-backend/internal/repository"
	"kairon-backend/internal/srs"
)

// MaxIngestedRunes caps the stored source text of a project. Longer input is
// truncated, never rejected.
const MaxIngestedRunes = 100000

const ingestValidationMessage = "Please provide a name and some text for your study."

// ProjectStore persists projects scoped to their owner. Update and Mutate
// must be atomic per project.
type ProjectStore interface {
	Create(ctx context.Context, p *models.StudyProject) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.StudyProject, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*models.StudyProject, error)
	Update(ctx context.Context, ownerID, id uuid.UUID, patch models.ProjectPatch) (*models.StudyProject, error)
	Mutate(ctx context.Context, ownerID, id uuid.UUID, fn repository.MutateFunc) (*models.StudyProject, error)
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
}

type ProjectService struct {
	store    ProjectStore
	validate *validator.Validate
	now      func() time.Time
}

func NewProjectService(store ProjectStore) *ProjectService {
	return &ProjectService{
		store:    store,
		validate: newValidator(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// truncateRunes cuts s to at most n code points without splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// TruncateIngested applies the ingestion cap and reports whether text was cut.
func TruncateIngested(text string) (string, bool) {
	out := truncateRunes(text, MaxIngestedRunes)
	return out, len(out) != len(text)
}

func mapStoreErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return errProjectNotFound
	}
	return err
}

func (s *ProjectService) List(ctx context.Context, userID uuid.UUID) ([]*models.StudyProject, error) {
	return s.store.ListByOwner(ctx, userID)
}

func (s *ProjectService) Get(ctx context.Context, userID, projectID uuid.UUID) (*models.StudyProject, error) {
	p, err := s.store.Get(ctx, userID, projectID)
	return p, mapStoreErr(err)
}

type createInput struct {
	Name string `json:"name" validate:"required"`
	Text string `json:"ingested_text" validate:"required"`
}

// Create validates and stores a new project in the processing state.
func (s *ProjectService) Create(ctx context.Context, userID uuid.UUID, name, ingestedText string) (*models.StudyProject, error) {
	in := createInput{Name: strings.TrimSpace(name), Text: ingestedText}
	if strings.TrimSpace(in.Text) == "" {
		in.Text = ""
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, &ValidationError{
			Message: ingestValidationMessage,
			Fields: fieldErrors(err, map[string]string{
				"name":          "Please provide a name for your study.",
				"ingested_text": "Please provide some text for your study.",
			}),
		}
	}

	text, _ := TruncateIngested(in.Text)
	p := &models.StudyProject{
		OwnerID:      userID,
		Name:         in.Name,
		IngestedText: text,
		Status:       models.StatusProcessing,
		Artifacts:    make(models.Artifacts),
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

// validatePatch checks every named field against the entity invariants.
func (s *ProjectService) validatePatch(req models.UpdateProjectRequest) (models.ProjectPatch, error) {
	fields := make(map[string]string)
	patch := models.ProjectPatch{Status: req.Status, Artifacts: req.Artifacts}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			fields["name"] = "Name cannot be empty"
		}
		patch.Name = &name
	}
	if req.Status != nil && !req.Status.Valid() {
		fields["status"] = "Status must be one of processing, ready, error"
	}
	for slot, raw := range req.Artifacts {
		key := "artifacts." + string(slot)
		if !slot.Known() {
			fields[key] = "Unknown artifact"
			continue
		}
		if models.IsJSONNull(raw) {
			if slot == models.SlotMCQAttempts {
				fields[key] = "Attempt history cannot be removed"
			}
			continue
		}
		if err := validateSlot(slot, raw); err != nil {
			fields[key] = err.Error()
		}
	}

	if len(fields) > 0 {
		return patch, &ValidationError{Message: "Some fields are invalid", Fields: fields}
	}
	if patch.Empty() {
		return patch, &ValidationError{
			Message: "Nothing to update",
			Fields:  map[string]string{"_": "Provide name, status or artifacts"},
		}
	}
	return patch, nil
}

// Update merges the named fields into the project and leaves every other
// field untouched. Attempt history may only grow.
func (s *ProjectService) Update(ctx context.Context, userID, projectID uuid.UUID, req models.UpdateProjectRequest) (*models.StudyProject, error) {
	patch, err := s.validatePatch(req)
	if err != nil {
		return nil, err
	}

	if !patch.Artifacts.Has(models.SlotMCQAttempts) {
		p, err := s.store.Update(ctx, userID, projectID, patch)
		return p, mapStoreErr(err)
	}

	p, err := s.store.Mutate(ctx, userID, projectID, func(p *models.StudyProject) error {
		if err := checkAttemptsExtend(p.Artifacts[models.SlotMCQAttempts], patch.Artifacts[models.SlotMCQAttempts]); err != nil {
			return err
		}
		patch.Apply(p)
		return nil
	})
	return p, mapStoreErr(err)
}

func checkAttemptsExtend(current, next json.RawMessage) error {
	var before, after []models.MCQAttempt
	if len(current) > 0 {
		if err := json.Unmarshal(current, &before); err != nil {
			return fmt.Errorf("stored attempts are corrupt: %w", err)
		}
	}
	if err := json.Unmarshal(next, &after); err != nil {
		return err
	}
	if len(after) < len(before) {
		return newValidationError("artifacts.mcq_attempts", "Attempt history is append-only")
	}
	for i := range before {
		if !before[i].Date.Equal(after[i].Date) || before[i].Score != after[i].Score || before[i].Total != after[i].Total {
			return newValidationError("artifacts.mcq_attempts", "Attempt history is append-only")
		}
	}
	return nil
}

// Delete removes the project. Deleting twice fails the second time.
func (s *ProjectService) Delete(ctx context.Context, userID, projectID uuid.UUID) error {
	return mapStoreErr(s.store.Delete(ctx, userID, projectID))
}

type MCQAttemptInput struct {
	Score              int      `json:"score" validate:"min=0"`
	Total              int      `json:"total" validate:"min=1"`
	IncorrectQuestions []string `json:"incorrect_questions"`
}

// RecordMCQAttempt appends one attempt to the project's history.
func (s *ProjectService) RecordMCQAttempt(ctx context.Context, userID, projectID uuid.UUID, in MCQAttemptInput) (*models.MCQAttempt, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, &ValidationError{Message: "Invalid attempt", Fields: fieldErrors(err, nil)}
	}
	attempt := models.MCQAttempt{
		Date:               s.now(),
		Score:              in.Score,
		Total:              in.Total,
		IncorrectQuestions: in.IncorrectQuestions,
	}
	if attempt.IncorrectQuestions == nil {
		attempt.IncorrectQuestions = []string{}
	}
	if err := validateAttempt(attempt); err != nil {
		return nil, newValidationError("score", err.Error())
	}

	_, err := s.store.Mutate(ctx, userID, projectID, func(p *models.StudyProject) error {
		return appendSlot(p, models.SlotMCQAttempts, attempt)
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return &attempt, nil
}

// ReviewFlashcard applies an SM-2 rating to one card of the project.
func (s *ProjectService) ReviewFlashcard(ctx context.Context, userID, projectID uuid.UUID, cardID string, rating srs.Rating) (*models.SRFlashcard, error) {
	if !rating.Valid() {
		return nil, newValidationError("rating", "Rating must be between 0 and 3")
	}

	var reviewed models.SRFlashcard
	_, err := s.store.Mutate(ctx, userID, projectID, func(p *models.StudyProject) error {
		var cards []models.SRFlashcard
		if raw, ok := p.Artifacts[models.SlotSRSFlashcards]; ok {
			if err := json.Unmarshal(raw, &cards); err != nil {
				return fmt.Errorf("stored flashcards are corrupt: %w", err)
			}
		}
		for i := range cards {
			if cards[i].ID != cardID {
				continue
			}
			next, err := srs.Review(cards[i], rating, s.now())
			if err != nil {
				return newValidationError("rating", err.Error())
			}
			cards[i] = next
			reviewed = next

			raw, err := encodeSlot(cards)
			if err != nil {
				return err
			}
			p.Artifacts[models.SlotSRSFlashcards] = raw
			return nil
		}
		return &NotFoundError{Message: "Flashcard not found"}
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return &reviewed, nil
}

// DueFlashcards lists the project's cards due for review now.
func (s *ProjectService) DueFlashcards(ctx context.Context, userID, projectID uuid.UUID) ([]models.SRFlashcard, error) {
	p, err := s.Get(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	var cards []models.SRFlashcard
	if raw, ok := p.Artifacts[models.SlotSRSFlashcards]; ok {
		if err := json.Unmarshal(raw, &cards); err != nil {
			return nil, fmt.Errorf("stored flashcards are corrupt: %w", err)
		}
	}
	return srs.Due(cards, s.now()), nil
}

// appendSlot decodes a list slot, appends items and stores it back.
func appendSlot[T any](p *models.StudyProject, slot models.Slot, items ...T) error {
	var list []T
	if raw, ok := p.Artifacts[slot]; ok {
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("stored %s is corrupt: %w", slot, err)
		}
	}
	list = append(list, items...)
	raw, err := encodeSlot(list)
	if err != nil {
		return err
	}
	if p.Artifacts == nil {
		p.Artifacts = make(models.Artifacts)
	}
	p.Artifacts[slot] = raw
	return nil
}
