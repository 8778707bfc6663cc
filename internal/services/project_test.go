package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairon-backend/internal/models"
	"kairon-backend/internal/repository"
	"kairon-backend/internal/srs"
)

func newProjectService(t *testing.T) (*ProjectService, *repository.MemoryProjectStore) {
	t.Helper()
	store := repository.NewMemoryProjectStore()
	return NewProjectService(store), store
}

func createProject(t *testing.T, s *ProjectService, owner uuid.UUID) *models.StudyProject {
	t.Helper()
	p, err := s.Create(context.Background(), owner, "Cell Biology", "The mitochondria is the powerhouse of the cell.")
	require.NoError(t, err)
	return p
}

func raw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestProjectService_CreateValidation(t *testing.T) {
	s, _ := newProjectService(t)
	owner := uuid.New()

	_, err := s.Create(context.Background(), owner, "   ", "   ")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ingestValidationMessage, verr.Message)
	assert.Contains(t, verr.Fields, "name")
	assert.Contains(t, verr.Fields, "ingested_text")

	p, err := s.Create(context.Background(), owner, "  Chapter 1  ", "text")
	require.NoError(t, err)
	assert.Equal(t, "Chapter 1", p.Name)
	assert.Equal(t, models.StatusProcessing, p.Status)
	assert.Empty(t, p.Artifacts)
}

func TestProjectService_LongNamesAreKept(t *testing.T) {
	ctx := context.Background()
	s, _ := newProjectService(t)
	owner := uuid.New()
	long := strings.Repeat("n", 500)

	p, err := s.Create(ctx, owner, long, "some text")
	require.NoError(t, err)
	assert.Equal(t, long, p.Name)

	longer := strings.Repeat("m", 1000)
	updated, err := s.Update(ctx, owner, p.ID, models.UpdateProjectRequest{Name: &longer})
	require.NoError(t, err)
	assert.Equal(t, longer, updated.Name)
}

func TestProjectService_CreateTruncates(t *testing.T) {
	s, _ := newProjectService(t)

	p, err := s.Create(context.Background(), uuid.New(), "Long", strings.Repeat("é", MaxIngestedRunes+10))
	require.NoError(t, err)
	assert.Equal(t, MaxIngestedRunes, len([]rune(p.IngestedText)))
}

func TestProjectService_OtherOwnersSeeNotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newProjectService(t)
	p := createProject(t, s, uuid.New())
	stranger := uuid.New()

	_, err := s.Get(ctx, stranger, p.ID)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)

	name := "mine now"
	_, err = s.Update(ctx, stranger, p.ID, models.UpdateProjectRequest{Name: &name})
	assert.ErrorAs(t, err, &nf)

	assert.ErrorAs(t, s.Delete(ctx, stranger, p.ID), &nf)

	list, err := s.List(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestProjectService_UpdateMergesOnlyNamedFields(t *testing.T) {
	ctx := context.Background()
	s, _ := newProjectService(t)
	owner := uuid.New()
	p := createProject(t, s, owner)

	_, err := s.Update(ctx, owner, p.ID, models.UpdateProjectRequest{
		Artifacts: models.Artifacts{
			models.SlotSummary:    raw(t, "A summary"),
			models.SlotEssayTopic: raw(t, "Energy"),
		},
	})
	require.NoError(t, err)

	name := "Renamed"
	got, err := s.Update(ctx, owner, p.ID, models.UpdateProjectRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.JSONEq(t, `"A summary"`, string(got.Artifacts[models.SlotSummary]))
	assert.JSONEq(t, `"Energy"`, string(got.Artifacts[models.SlotEssayTopic]))
	assert.Equal(t, p.IngestedText, got.IngestedText)

	got, err = s.Update(ctx, owner, p.ID, models.UpdateProjectRequest{
		Artifacts: models.Artifacts{models.SlotEssayTopic: json.RawMessage("null")},
	})
	require.NoError(t, err)
	assert.False(t, got.Artifacts.Has(models.SlotEssayTopic))
	assert.True(t, got.Artifacts.Has(models.SlotSummary))
}

func TestProjectService_UpdateRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	s, _ := newProjectService(t)
	owner := uuid.New()
	p := createProject(t, s, owner)

	empty := " "
	bogus := models.ProjectStatus("archived")
	tests := []struct {
		name  string
		req   models.UpdateProjectRequest
		field string
	}{
		{"blank name", models.UpdateProjectRequest{Name: &empty}, "name"},
		{"unknown status", models.UpdateProjectRequest{Status: &bogus}, "status"},
		{"unknown slot", models.UpdateProjectRequest{Artifacts: models.Artifacts{"mood": raw(t, "happy")}}, "artifacts.mood"},
		{"wrong shape", models.UpdateProjectRequest{Artifacts: models.Artifacts{models.SlotSummary: raw(t, 42)}}, "artifacts.summary"},
		{"remove attempts", models.UpdateProjectRequest{Artifacts: models.Artifacts{models.SlotMCQAttempts: json.RawMessage("null")}}, "artifacts.mcq_attempts"},
		{"nothing", models.UpdateProjectRequest{}, "_"},
		{"broken card", models.UpdateProjectRequest{Artifacts: models.Artifacts{
			models.SlotSRSFlashcards: raw(t, []models.SRFlashcard{{ID: "x", Question: "q", Answer: "a", EaseFactor: 0.5}}),
		}}, "artifacts.srs_flashcards"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Update(ctx, owner, p.ID, tc.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
		})
	}

	got, err := s.Get(ctx, owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, models.StatusProcessing, got.Status)
}

func TestProjectService_AttemptsAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	s, _ := newProjectService(t)
	owner := uuid.New()
	p := createProject(t, s, owner)

	first, err := s.RecordMCQAttempt(ctx, owner, p.ID, MCQAttemptInput{Score: 1, Total: 2, IncorrectQuestions: []string{"Q2"}})
	require.NoError(t, err)
	_, err = s.RecordMCQAttempt(ctx, owner, p.ID, MCQAttemptInput{Score: 2, Total: 2})
	require.NoError(t, err)

	// dropping the first attempt is rejected
	second := models.MCQAttempt{Date: time.Now().UTC(), Score: 2, Total: 2, IncorrectQuestions: []string{}}
	_, err = s.Update(ctx, owner, p.ID, models.UpdateProjectRequest{
		Artifacts: models.Artifacts{models.SlotMCQAttempts: raw(t, []models.MCQAttempt{second})},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	got, err := s.Get(ctx, owner, p.ID)
	require.NoError(t, err)
	var attempts []models.MCQAttempt
	require.NoError(t, json.Unmarshal(got.Artifacts[models.SlotMCQAttempts], &attempts))
	require.Len(t, attempts, 2)
	assert.Equal(t, first.Score, attempts[0].Score)
	assert.Equal(t, []string{"Q2"}, attempts[0].IncorrectQuestions)

	// appending through Update is accepted
	_, err = s.Update(ctx, owner, p.ID, models.UpdateProjectRequest{
		Artifacts: models.Artifacts{models.SlotMCQAttempts: raw(t, append(attempts, second))},
	})
	require.NoError(t, err)
}

func TestProjectService_RecordMCQAttemptValidation(t *testing.T) {
	s, _ := newProjectService(t)
	owner := uuid.New()
	p := createProject(t, s, owner)

	_, err := s.RecordMCQAttempt(context.Background(), owner, p.ID, MCQAttemptInput{Score: 3, Total: 2})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = s.RecordMCQAttempt(context.Background(), owner, p.ID, MCQAttemptInput{Score: 0, Total: 0})
	assert.ErrorAs(t, err, &verr)
}

func TestProjectService_ReviewFlashcard(t *testing.T) {
	ctx := context.Background()
	s, _ := newProjectService(t)
	owner := uuid.New()
	p := createProject(t, s, owner)

	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	card := srs.NewCard("What is ATP?", "The energy currency of the cell", created)
	_, err := s.Update(ctx, owner, p.ID, models.UpdateProjectRequest{
		Artifacts: models.Artifacts{models.SlotSRSFlashcards: raw(t, []models.SRFlashcard{card})},
	})
	require.NoError(t, err)

	now := created.Add(time.Hour)
	s.now = func() time.Time { return now }

	reviewed, err := s.ReviewFlashcard(ctx, owner, p.ID, card.ID, srs.Good)
	require.NoError(t, err)
	assert.Equal(t, 1, reviewed.IntervalDays)
	assert.Equal(t, 1, reviewed.Repetitions)
	assert.True(t, reviewed.DueDate.Equal(now.AddDate(0, 0, 1)))

	due, err := s.DueFlashcards(ctx, owner, p.ID)
	require.NoError(t, err)
	assert.Empty(t, due)

	_, err = s.ReviewFlashcard(ctx, owner, p.ID, "missing", srs.Good)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)

	_, err = s.ReviewFlashcard(ctx, owner, p.ID, card.ID, srs.Rating(7))
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestProjectService_DeleteTwice(t *testing.T) {
	ctx := context.Background()
	s, _ := newProjectService(t)
	owner := uuid.New()
	p := createProject(t, s, owner)

	require.NoError(t, s.Delete(ctx, owner, p.ID))
	var nf *NotFoundError
	assert.ErrorAs(t, s.Delete(ctx, owner, p.ID), &nf)
}
