package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kairon-backend/internal/models"
)

// Kind names one artifact the Generator can produce.
type Kind string

const (
	KindSummary        Kind = "summary"
	KindFlashcards     Kind = "flashcards"
	KindMCQs           Kind = "mcqs"
	KindStudyGuide     Kind = "study_guide"
	KindTranscription  Kind = "transcription"
	KindSemanticSearch Kind = "semantic_search"
	KindTutorAnswer    Kind = "tutor_answer"
	KindEssayOutline   Kind = "essay_outline"
	KindEssayArguments Kind = "essay_arguments"
	KindConceptMap     Kind = "concept_map"
	KindLessonPlan     Kind = "lesson_plan"
	KindStudyPlan      Kind = "study_plan"
)

// GenerateOptions are shared by every generation call.
type GenerateOptions struct {
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
}

func (o GenerateOptions) language() string {
	if strings.TrimSpace(o.Language) == "" {
		return "English"
	}
	return o.Language
}

// Generator produces study artifacts from source text. Implementations must
// be safe for concurrent use, must not modify their inputs and must return an
// error rather than a partially built artifact.
type Generator interface {
	Summarize(ctx context.Context, opts GenerateOptions, text string) (string, error)
	Flashcards(ctx context.Context, opts GenerateOptions, text string, count int) ([]models.Flashcard, error)
	MCQs(ctx context.Context, opts GenerateOptions, text, difficulty string, count int) ([]models.MCQ, error)
	StudyGuide(ctx context.Context, opts GenerateOptions, text string, missed []models.MCQ) (string, error)
	Transcribe(ctx context.Context, opts GenerateOptions, audio []byte, mimeType string) (string, error)
	SemanticSearch(ctx context.Context, opts GenerateOptions, text, query string, topK int) ([]string, error)
	Answer(ctx context.Context, opts GenerateOptions, text, question string, history []models.ChatMessage) (string, error)
	EssayOutline(ctx context.Context, opts GenerateOptions, text, topic string) (*models.EssayOutline, error)
	EssayArguments(ctx context.Context, opts GenerateOptions, text, topic string) (string, error)
	ConceptMap(ctx context.Context, opts GenerateOptions, text string) (*models.ConceptMap, error)
	LessonPlan(ctx context.Context, opts GenerateOptions, text string) (*models.LessonPlan, error)
	StudyPlan(ctx context.Context, opts GenerateOptions, text string, days int) (*models.StudyPlan, error)
}

var errEmptyResult = errors.New("model returned an empty result")

func requireText(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errEmptyResult
	}
	return s, nil
}

func validateFlashcards(cards []models.Flashcard) error {
	if len(cards) == 0 {
		return errEmptyResult
	}
	for i, c := range cards {
		if strings.TrimSpace(c.Question) == "" || strings.TrimSpace(c.Answer) == "" {
			return fmt.Errorf("flashcard %d is missing a question or answer", i+1)
		}
	}
	return nil
}

func validateMCQs(mcqs []models.MCQ) error {
	if len(mcqs) == 0 {
		return errEmptyResult
	}
	for i, q := range mcqs {
		if strings.TrimSpace(q.Question) == "" || len(q.Options) < 2 {
			return fmt.Errorf("question %d needs text and at least two options", i+1)
		}
		found := false
		for _, o := range q.Options {
			if o == q.CorrectAnswer {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("question %d: correct answer is not one of the options", i+1)
		}
	}
	return nil
}

func validateEssayOutline(o *models.EssayOutline) error {
	if o == nil || strings.TrimSpace(o.Title) == "" || len(o.Body) == 0 {
		return fmt.Errorf("essay outline needs a title and at least one body section")
	}
	for i, s := range o.Body {
		if strings.TrimSpace(s.Heading) == "" {
			return fmt.Errorf("essay section %d has no heading", i+1)
		}
	}
	return nil
}

// validateConceptMap checks that every link refers to a node id that exists.
func validateConceptMap(m *models.ConceptMap) error {
	if m == nil || len(m.Nodes) == 0 {
		return fmt.Errorf("concept map has no nodes")
	}
	ids := make(map[string]struct{}, len(m.Nodes))
	for _, n := range m.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return fmt.Errorf("concept map node has an empty id")
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("concept map node %q appears twice", n.ID)
		}
		ids[n.ID] = struct{}{}
	}
	for _, l := range m.Links {
		if _, ok := ids[l.Source]; !ok {
			return fmt.Errorf("concept map link source %q is not a node", l.Source)
		}
		if _, ok := ids[l.Target]; !ok {
			return fmt.Errorf("concept map link target %q is not a node", l.Target)
		}
		if l.Value <= 0 {
			return fmt.Errorf("concept map link %s-%s needs a positive weight", l.Source, l.Target)
		}
	}
	return nil
}

func validateLessonPlan(p *models.LessonPlan) error {
	if p == nil || strings.TrimSpace(p.Title) == "" || len(p.Activities) == 0 {
		return fmt.Errorf("lesson plan needs a title and at least one activity")
	}
	return nil
}

func validateStudyPlan(p *models.StudyPlan) error {
	if p == nil || strings.TrimSpace(p.Title) == "" || len(p.Schedule) == 0 {
		return fmt.Errorf("study plan needs a title and a schedule")
	}
	if p.DurationDays != len(p.Schedule) {
		return fmt.Errorf("study plan lasts %d days but schedules %d", p.DurationDays, len(p.Schedule))
	}
	for i, d := range p.Schedule {
		if d.Day != i+1 {
			return fmt.Errorf("study plan day %d is out of order", i+1)
		}
	}
	return nil
}
