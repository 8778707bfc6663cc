package services

import (
	"context"
	"errors"
	"sync"

	"kairon-backend/internal/logger"
	"kairon-backend/internal/models"
)

var errModelDown = errors.New("model unavailable")

// brokenGenerator fails the kinds listed in fail and delegates the rest to
// the simulated generator. Kinds in block wait for the context instead.
type brokenGenerator struct {
	*SimulatedGenerator
	fail  map[Kind]bool
	block map[Kind]bool
}

func newBrokenGenerator(kinds ...Kind) *brokenGenerator {
	g := &brokenGenerator{
		SimulatedGenerator: NewSimulatedGenerator(0, logger.Nop()),
		fail:               make(map[Kind]bool),
		block:              make(map[Kind]bool),
	}
	for _, k := range kinds {
		g.fail[k] = true
	}
	return g
}

func (g *brokenGenerator) check(ctx context.Context, kind Kind) error {
	if g.block[kind] {
		<-ctx.Done()
		return ctx.Err()
	}
	if g.fail[kind] {
		return errModelDown
	}
	return nil
}

func (g *brokenGenerator) Summarize(ctx context.Context, opts GenerateOptions, text string) (string, error) {
	if err := g.check(ctx, KindSummary); err != nil {
		return "", err
	}
	return g.SimulatedGenerator.Summarize(ctx, opts, text)
}

func (g *brokenGenerator) Flashcards(ctx context.Context, opts GenerateOptions, text string, count int) ([]models.Flashcard, error) {
	if err := g.check(ctx, KindFlashcards); err != nil {
		return nil, err
	}
	return g.SimulatedGenerator.Flashcards(ctx, opts, text, count)
}

func (g *brokenGenerator) ConceptMap(ctx context.Context, opts GenerateOptions, text string) (*models.ConceptMap, error) {
	if err := g.check(ctx, KindConceptMap); err != nil {
		return nil, err
	}
	return g.SimulatedGenerator.ConceptMap(ctx, opts, text)
}

func (g *brokenGenerator) Transcribe(ctx context.Context, opts GenerateOptions, audio []byte, mimeType string) (string, error) {
	if err := g.check(ctx, KindTranscription); err != nil {
		return "", err
	}
	return g.SimulatedGenerator.Transcribe(ctx, opts, audio, mimeType)
}

type recordingSubmitter struct {
	mu   sync.Mutex
	jobs []*models.Job
	err  error
}

func (r *recordingSubmitter) Submit(_ context.Context, job *models.Job) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

type fakeVideos struct {
	transcript    string
	transcriptErr error
	title         string
	audio         []byte
}

func (f *fakeVideos) GetTranscript(context.Context, string) (string, error) {
	return f.transcript, f.transcriptErr
}

func (f *fakeVideos) DownloadAudio(context.Context, string) ([]byte, string, error) {
	if len(f.audio) == 0 {
		return nil, "", errors.New("no audio stream")
	}
	return f.audio, "audio/mp4", nil
}

func (f *fakeVideos) VideoTitle(context.Context, string) (string, error) {
	if f.title == "" {
		return "", errors.New("title unavailable")
	}
	return f.title, nil
}
