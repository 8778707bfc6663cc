package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kairon-backend/internal/logger"
	"kairon-backend/internal/models"
	"kairon-backend/internal/srs"
)

// GenerationRequest selects one artifact kind plus its options. Fields that
// do not apply to the kind are ignored.
type GenerationRequest struct {
	Kind       Kind         `json:"kind"`
	Model      string       `json:"model,omitempty"`
	Language   string       `json:"language,omitempty"`
	Difficulty string       `json:"difficulty,omitempty"`
	Count      int          `json:"count,omitempty"`
	Query      string       `json:"query,omitempty"`
	TopK       int          `json:"top_k,omitempty"`
	Question   string       `json:"question,omitempty"`
	Topic      string       `json:"topic,omitempty"`
	Days       int          `json:"days,omitempty"`
	Missed     []models.MCQ `json:"missed,omitempty"`
}

func (r GenerationRequest) options() GenerateOptions {
	return GenerateOptions{Model: r.Model, Language: r.Language}
}

type GenerationResult struct {
	Kind     Kind          `json:"kind"`
	Slots    []models.Slot `json:"slots,omitempty"`
	Artifact interface{}   `json:"artifact"`
}

// GenerationOutcome is the per-kind result of RunMany. Exactly one of
// Result and Err is set.
type GenerationOutcome struct {
	Kind   Kind
	Result *GenerationResult
	Err    error
}

// kindDef holds the per-kind hooks used by Run.
type kindDef struct {
	prepare func(v *validator.Validate, r *GenerationRequest) map[string]string
	run     func(ctx context.Context, g Generator, p *models.StudyProject, r GenerationRequest) (interface{}, error)
	// store writes the artifact into p; nil means the artifact is only
	// returned to the caller.
	store func(p *models.StudyProject, r GenerationRequest, artifact interface{}) ([]models.Slot, error)
}

type GenerationService struct {
	store     ProjectStore
	generator Generator
	timeout   time.Duration
	validate  *validator.Validate
	log       *logger.Logger
	now       func() time.Time
	kinds     map[Kind]kindDef
}

func NewGenerationService(store ProjectStore, generator Generator, timeout time.Duration, log *logger.Logger) *GenerationService {
	s := &GenerationService{
		store:     store,
		generator: generator,
		timeout:   timeout,
		validate:  newValidator(),
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
	s.kinds = generationKinds(func() time.Time { return s.now() })
	return s
}

// SupportedKinds lists the kinds Run accepts.
func (s *GenerationService) SupportedKinds() []Kind {
	out := make([]Kind, 0, len(s.kinds))
	for _, k := range []Kind{
		KindSummary, KindFlashcards, KindMCQs, KindStudyGuide, KindSemanticSearch, KindTutorAnswer,
		KindEssayOutline, KindEssayArguments, KindConceptMap, KindLessonPlan, KindStudyPlan,
	} {
		if _, ok := s.kinds[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Prepare applies defaults and validates r without running anything.
func (s *GenerationService) Prepare(r *GenerationRequest) error {
	def, ok := s.kinds[r.Kind]
	if !ok {
		if r.Kind == KindTranscription {
			return newValidationError("kind", "Transcription takes an audio upload; use the transcribe endpoint")
		}
		return newValidationError("kind", fmt.Sprintf("Unknown artifact kind %q", r.Kind))
	}
	if def.prepare == nil {
		return nil
	}
	if fields := def.prepare(s.validate, r); len(fields) > 0 {
		return &ValidationError{Message: "Invalid generation options", Fields: fields}
	}
	return nil
}

// Run produces one artifact for the project and, for kinds with a slot,
// writes it into the project. Failures never touch the project status.
func (s *GenerationService) Run(ctx context.Context, userID, projectID uuid.UUID, req GenerationRequest) (*GenerationResult, error) {
	if err := s.Prepare(&req); err != nil {
		return nil, err
	}
	def := s.kinds[req.Kind]

	project, err := s.store.Get(ctx, userID, projectID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	artifact, err := s.generate(ctx, req.Kind, func(ctx context.Context) (interface{}, error) {
		return def.run(ctx, s.generator, project, req)
	})
	if err != nil {
		return nil, err
	}

	result := &GenerationResult{Kind: req.Kind, Artifact: artifact}
	if def.store == nil {
		return result, nil
	}

	var written []models.Slot
	_, err = s.store.Mutate(ctx, userID, projectID, func(p *models.StudyProject) error {
		slots, err := def.store(p, req, artifact)
		written = slots
		return err
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	result.Slots = written
	return result, nil
}

// generate runs fn under the per-operation timeout and wraps any failure in
// a GenerationError for kind.
func (s *GenerationService) generate(ctx context.Context, kind Kind, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	artifact, err := fn(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", s.timeout, err)
		}
		s.log.Warn("generation failed", "kind", string(kind), "error", err)
		return nil, &GenerationError{Kind: kind, Err: err}
	}
	s.log.Debug("generation finished", "kind", string(kind), "took", time.Since(started).String())
	return artifact, nil
}

// RunMany runs several requests concurrently. A failing kind does not stop
// or affect the others; outcomes come back in request order.
func (s *GenerationService) RunMany(ctx context.Context, userID, projectID uuid.UUID, reqs []GenerationRequest) []GenerationOutcome {
	outcomes := make([]GenerationOutcome, len(reqs))

	var g errgroup.Group
	for i, req := range reqs {
		g.Go(func() error {
			res, err := s.Run(ctx, userID, projectID, req)
			outcomes[i] = GenerationOutcome{Kind: req.Kind, Result: res, Err: err}
			return nil
		})
	}
	g.Wait()

	return outcomes
}

// ProcessInitial generates the first summary of a freshly ingested project.
// Success stores the summary and marks the project ready in one write;
// failure marks it error.
func (s *GenerationService) ProcessInitial(ctx context.Context, userID, projectID uuid.UUID, opts GenerateOptions) (*models.StudyProject, error) {
	project, err := s.store.Get(ctx, userID, projectID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	artifact, genErr := s.generate(ctx, KindSummary, func(ctx context.Context) (interface{}, error) {
		return summarize(ctx, s.generator, opts, project.IngestedText)
	})

	var patch models.ProjectPatch
	if genErr != nil {
		status := models.StatusError
		patch.Status = &status
	} else {
		raw, err := encodeSlot(artifact)
		if err != nil {
			return nil, err
		}
		status := models.StatusReady
		patch.Status = &status
		patch.Artifacts = models.Artifacts{models.SlotSummary: raw}
	}

	updated, err := s.store.Update(ctx, userID, projectID, patch)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return updated, genErr
}

// Transcribe converts audio to text for an owned project. The transcript is
// returned, not stored.
func (s *GenerationService) Transcribe(ctx context.Context, userID, projectID uuid.UUID, audio []byte, mimeType string, opts GenerateOptions) (string, error) {
	if len(audio) == 0 {
		return "", newValidationError("file", "Please upload an audio file.")
	}
	if !strings.HasPrefix(mimeType, "audio/") && !strings.HasPrefix(mimeType, "video/") {
		return "", newValidationError("file", "The upload is not an audio file.")
	}
	if _, err := s.store.Get(ctx, userID, projectID); err != nil {
		return "", mapStoreErr(err)
	}

	artifact, err := s.generate(ctx, KindTranscription, func(ctx context.Context) (interface{}, error) {
		text, err := s.generator.Transcribe(ctx, opts, audio, mimeType)
		if err != nil {
			return nil, err
		}
		return requireText(text)
	})
	if err != nil {
		return "", err
	}
	return artifact.(string), nil
}

func summarize(ctx context.Context, g Generator, opts GenerateOptions, text string) (interface{}, error) {
	summary, err := g.Summarize(ctx, opts, text)
	if err != nil {
		return nil, err
	}
	return requireText(summary)
}

func scheduledCards(cards []models.Flashcard, now time.Time) []models.SRFlashcard {
	out := make([]models.SRFlashcard, len(cards))
	for i, c := range cards {
		out[i] = srs.NewCard(c.Question, c.Answer, now)
	}
	return out
}

func setSlot(p *models.StudyProject, slot models.Slot, v interface{}) error {
	raw, err := encodeSlot(v)
	if err != nil {
		return err
	}
	if p.Artifacts == nil {
		p.Artifacts = make(models.Artifacts)
	}
	p.Artifacts[slot] = raw
	return nil
}

func replaceSlot(slot models.Slot) func(*models.StudyProject, GenerationRequest, interface{}) ([]models.Slot, error) {
	return func(p *models.StudyProject, _ GenerationRequest, artifact interface{}) ([]models.Slot, error) {
		return []models.Slot{slot}, setSlot(p, slot, artifact)
	}
}

func requireField(fields map[string]string, name, value, message string) {
	if strings.TrimSpace(value) == "" {
		fields[name] = message
	}
}

func clampDefault(v *int, def, max int) {
	if *v <= 0 {
		*v = def
	}
	if *v > max {
		*v = max
	}
}

func generationKinds(now func() time.Time) map[Kind]kindDef {
	return map[Kind]kindDef{
		KindSummary: {
			run: func(ctx context.Context, g Generator, p *models.StudyProject, r GenerationRequest) (interface{}, error) {
				return summarize(ctx, g, r.options(), p.IngestedText)
			},
			store: replaceSlot(models.SlotSummary),
		},

		KindFlashcards: {
			prepare: func(_ *validator.Validate, r *GenerationRequest) map[string]string {
				clampDefault(&r.Count, 10, 50)
				return nil
			},
			run: func(ctx context.Context, g Generator, p *models.StudyProject, r GenerationRequest) (interface{}, error) {
				cards, err := g.Flashcards(ctx, r.options(), p.IngestedText, r.Count)
				if err != nil {
					return nil, err
				}
				if err := validateFlashcards(cards); err != nil {
					return nil, err
				}
				return scheduledCards(cards, now()), nil
			},
			store: replaceSlot(models.SlotSRSFlashcards),
		},

		KindMCQs: {
			prepare: func(v *validator.Validate, r *GenerationRequest) map[string]string {
				clampDefault(&r.Count, 5, 20)
				if r.Difficulty == "" {
					r.Difficulty = "medium"
				}
				if err := v.Var(r.Difficulty, "oneof=easy medium hard"); err != nil {
					return map[string]string{"difficulty": "Difficulty must be easy, medium or hard"}
				}
				return nil
			},
			run: func(ctx context.Context, g Generator, p *models.StudyProject, r GenerationRequest) (interface{}, error) {
				mcqs, err := g.MCQs(ctx, r.options(), p.IngestedText, r.Difficulty, r.Count)
				if err != nil {
					return nil, err
				}
				if err := validateMCQs(mcqs); err != nil {
					return nil, err
				}
				return mcqs, nil
			},
		},

		KindStudyGuide: {
			prepare: func(_ *validator.Validate, r *GenerationRequest) map[string]string {
				if len(r.Missed) == 0 {
					return map[string]string{"missed": "Provide the questions that were answered incorrectly"}
				}
				return nil
			},
			run: func(ctx context.Context, g Generator, p *models.StudyProject, r GenerationRequest) (interface{}, error) {
				missed := make([]models.MCQ, len(r.Missed))
				copy(missed, r.Missed)
				guide, err := g.StudyGuide(ctx, r.options(), p.IngestedText, missed)
				if err != nil {
					return nil, err
				}
				return requireText(guide)
			},
		},

		KindSemanticSearch: {
			prepare: func(_ *validator.Validate, r *GenerationRequest) map[string]string {
				fields := map[string]string{}
				requireField(fields, "query", r.Query, "Please enter a search query")
				clampDefault(&r.TopK, 3, 10)
				return fields
			},
			run: func(ctx context.Context, g Generator, p *models.StudyProject, r GenerationRequest) (interface{}, error) {
				results, err := g.SemanticSearch(ctx, r.options(), p.IngestedText, r.Query, r.TopK)
				if err != nil {
					return nil, err
				}
				if len(results) == 0 {
					return nil, errEmptyResult
				}
				return results, nil
			},
			store: func(p *models.StudyProject, r GenerationRequest, _ interface{}) ([]models.Slot, error) {
				return []models.Slot{models.SlotSemanticSearchHistory}, appendSlot(p, models.SlotSemanticSearchHistory, strings.TrimSpace(r.Query))
			},
		},

		KindTutorAnswer: {
			prepare: func(_ *validator.Validate, r *GenerationRequest) map[string]string {
				fields := map[string]string{}
				requireField(fields, "question", r.Question, "Please ask a question")
				return fields
			},
			run: func(ctx context.Context, g Generator, p *models.StudyProject, r GenerationRequest) (interface{}, error) {
				var history []models.ChatMessage
				if raw, ok := p.Artifacts[models.SlotAITutorHistory]; ok {
					if err := json.Unmarshal(raw, &history); err != nil {
						return nil, fmt.Errorf("stored tutor history is corrupt: %w", err)
					}
				}
				answer, err := g.Answer(ctx, r.options(), p.IngestedText, r.Question, history)
				if err != nil {
					return nil, err
				}
				return requireText(answer)
			},
			store: func(p *models.StudyProject, r GenerationRequest, artifact interface{}) ([]models.Slot, error) {
				return []models.Slot{models.SlotAITutorHistory}, appendSlot(p, models.SlotAITutorHistory,
					models.ChatMessage{Role: models.ChatRoleUser, Content: strings.TrimSpace(r.Question)},
					models.ChatMessage{Role: models.ChatRoleModel, Content: artifact.(string)},
				)
			},
		},

		KindEssayOutline: {
			prepare: func(_ *validator.Validate, r *GenerationRequest) map[string]string {
				fields := map[string]string{}
				requireField(fields, "topic", r.Topic, "Please enter an essay topic")
				return fields
			},
			run: func(ctx context.Context, g Generator, p *models.StudyProject, r GenerationRequest) (interface{}, error) {
				outline, err := g.EssayOutline(ctx, r.options(), p.IngestedText, r.Topic)
				if err != nil {
					return nil, err
				}
				if err := validateEssayOutline(outline); err != nil {
					return nil, err
				}
				return outline, nil
			},
			store: func(p *models.StudyProject, r GenerationRequest, artifact interface{}) ([]models.Slot, error) {
				if err := setSlot(p, models.SlotEssayTopic, strings.TrimSpace(r.Topic)); err != nil {
					return nil, err
				}
				return []models.Slot{models.SlotEssayTopic, models.SlotEssayOutline}, setSlot(p, models.SlotEssayOutline, artifact)
			},
		},

		KindEssayArguments: {
			prepare: func(_ *validator.Validate, r *GenerationRequest) map[string]string {
				fields := map[string]string{}
				requireField(fields, "topic", r.Topic, "Please enter an essay topic")
				return fields
			},
			run: func(ctx context.Context, g Generator, p *models.StudyProject, r GenerationRequest) (interface{}, error) {
				args, err := g.EssayArguments(ctx, r.options(), p.IngestedText, r.Topic)
				if err != nil {
					return nil, err
				}
				return requireText(args)
			},
			store: func(p *models.StudyProject, r GenerationRequest, artifact interface{}) ([]models.Slot, error) {
				if err := setSlot(p, models.SlotEssayTopic, strings.TrimSpace(r.Topic)); err != nil {
					return nil, err
				}
				return []models.Slot{models.SlotEssayTopic, models.SlotEssayArguments}, setSlot(p, models.SlotEssayArguments, artifact)
			},
		},

		KindConceptMap: {
			run: func(ctx context.Context, g Generator, p *models.StudyProject, r GenerationRequest) (interface{}, error) {
				m, err := g.ConceptMap(ctx, r.options(), p.IngestedText)
				if err != nil {
					return nil, err
				}
				if err := validateConceptMap(m); err != nil {
					return nil, err
				}
				return m, nil
			},
			store: replaceSlot(models.SlotConceptMap),
		},

		KindLessonPlan: {
			run: func(ctx context.Context, g Generator, p *models.StudyProject, r GenerationRequest) (interface{}, error) {
				plan, err := g.LessonPlan(ctx, r.options(), p.IngestedText)
				if err != nil {
					return nil, err
				}
				if err := validateLessonPlan(plan); err != nil {
					return nil, err
				}
				return plan, nil
			},
			store: replaceSlot(models.SlotLessonPlan),
		},

		KindStudyPlan: {
			prepare: func(_ *validator.Validate, r *GenerationRequest) map[string]string {
				clampDefault(&r.Days, 7, 60)
				return nil
			},
			run: func(ctx context.Context, g Generator, p *models.StudyProject, r GenerationRequest) (interface{}, error) {
				plan, err := g.StudyPlan(ctx, r.options(), p.IngestedText, r.Days)
				if err != nil {
					return nil, err
				}
				if err := validateStudyPlan(plan); err != nil {
					return nil, err
				}
				return plan, nil
			},
			store: replaceSlot(models.SlotStudyPlan),
		},
	}
}
