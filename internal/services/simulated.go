package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"kairon-backend/internal/logger"
	"kairon-backend/internal/models"
)

// SimulatedGenerator returns fixed, deterministic artifacts after a fixed
// delay. It needs no credentials and backs local development and tests.
type SimulatedGenerator struct {
	delay time.Duration
	log   *logger.Logger
}

func NewSimulatedGenerator(delay time.Duration, log *logger.Logger) *SimulatedGenerator {
	return &SimulatedGenerator{delay: delay, log: log}
}

func (g *SimulatedGenerator) wait(ctx context.Context, kind Kind, opts GenerateOptions) error {
	g.log.Debug("simulating generation", "kind", string(kind), "model", opts.Model, "language", opts.language())
	if g.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(g.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *SimulatedGenerator) Summarize(ctx context.Context, opts GenerateOptions, text string) (string, error) {
	if err := g.wait(ctx, KindSummary, opts); err != nil {
		return "", err
	}
	return fmt.Sprintf("This is a simulated summary of the provided text, generated in %s. The text covers several key areas, and this summary provides a high-level overview of the most critical points, making it easier to digest and review the material.", opts.language()), nil
}

var simulatedFlashcards = []models.Flashcard{
	{Question: "What is the primary subject of the text?", Answer: "The text is about the power of simulation in software development."},
	{Question: "What is a key benefit mentioned in the transcription?", Answer: "A key benefit is faster development cycles and easier testing of complex systems."},
}

func (g *SimulatedGenerator) Flashcards(ctx context.Context, opts GenerateOptions, text string, count int) ([]models.Flashcard, error) {
	if err := g.wait(ctx, KindFlashcards, opts); err != nil {
		return nil, err
	}
	n := min(count, len(simulatedFlashcards))
	cards := make([]models.Flashcard, n)
	copy(cards, simulatedFlashcards)
	return cards, nil
}

func simulatedMCQs() []models.MCQ {
	return []models.MCQ{
		{
			Question:      "Based on the text, what is the 'powerhouse of the cell'?",
			Options:       []string{"Mitochondria", "Nucleus", "Ribosome", "Chloroplast"},
			CorrectAnswer: "Mitochondria",
			Explanation:   "Mitochondria are responsible for generating most of the cell's supply of adenosine triphosphate (ATP), used as a source of chemical energy.",
		},
		{
			Question:      "According to the material, what is the capital of France?",
			Options:       []string{"London", "Berlin", "Paris", "Madrid"},
			CorrectAnswer: "Paris",
			Explanation:   "Paris is the capital and most populous city of France, as stated in the geographical section.",
		},
	}
}

func (g *SimulatedGenerator) MCQs(ctx context.Context, opts GenerateOptions, text, difficulty string, count int) ([]models.MCQ, error) {
	if err := g.wait(ctx, KindMCQs, opts); err != nil {
		return nil, err
	}
	all := simulatedMCQs()
	return all[:min(count, len(all))], nil
}

func (g *SimulatedGenerator) StudyGuide(ctx context.Context, opts GenerateOptions, text string, missed []models.MCQ) (string, error) {
	if err := g.wait(ctx, KindStudyGuide, opts); err != nil {
		return "", err
	}
	topics := make([]string, len(missed))
	for i, q := range missed {
		topics[i] = q.Question
	}
	return fmt.Sprintf("Based on your incorrect answers to questions like \"%s\", you should focus on the following topics:\n\n"+
		"- **Review Core Concepts**: Re-read the sections of your notes related to these questions. Pay close attention to the definitions and examples provided.\n\n"+
		"- **Practice Application**: Try to create your own examples or scenarios where these concepts apply. This will help solidify your understanding.\n\n"+
		"- **General Tip**: Re-read the summary to get a better overview of how these concepts connect to the broader subject.",
		strings.Join(topics, `", "`)), nil
}

func (g *SimulatedGenerator) Transcribe(ctx context.Context, opts GenerateOptions, audio []byte, mimeType string) (string, error) {
	if err := g.wait(ctx, KindTranscription, opts); err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("audio payload is empty")
	}
	return "This is a simulated transcription of the provided audio file. It discusses various important topics that can be summarized or turned into flashcards. The main point is that simulation is a powerful tool for development, and transcribing audio allows for deeper analysis of spoken content.", nil
}

func (g *SimulatedGenerator) SemanticSearch(ctx context.Context, opts GenerateOptions, text, query string, topK int) ([]string, error) {
	if err := g.wait(ctx, KindSemanticSearch, opts); err != nil {
		return nil, err
	}
	results := make([]string, topK)
	for i := range results {
		results[i] = fmt.Sprintf("This is simulated search result #%d for your query %q. It has been identified as highly relevant to the context of your document based on semantic meaning, not just keywords.", i+1, query)
	}
	return results, nil
}

func (g *SimulatedGenerator) Answer(ctx context.Context, opts GenerateOptions, text, question string, history []models.ChatMessage) (string, error) {
	if err := g.wait(ctx, KindTutorAnswer, opts); err != nil {
		return "", err
	}
	return fmt.Sprintf("Based on the provided text, the answer to your question %q is that simulation is indeed a very powerful and effective tool for analysis.", question), nil
}

func (g *SimulatedGenerator) EssayOutline(ctx context.Context, opts GenerateOptions, text, topic string) (*models.EssayOutline, error) {
	if err := g.wait(ctx, KindEssayOutline, opts); err != nil {
		return nil, err
	}
	return &models.EssayOutline{
		Title:        "An Essay on " + topic,
		Introduction: fmt.Sprintf("Introduce %s and state the thesis the essay will defend.", topic),
		Body: []models.EssaySection{
			{Heading: "Background", Points: []string{"Define the key terms", "Summarise what the material says"}},
			{Heading: "Main argument", Points: []string{"Present the strongest evidence", "Connect it back to the thesis"}},
			{Heading: "Counterpoints", Points: []string{"Acknowledge opposing views", "Explain why the thesis still holds"}},
		},
		Conclusion: "Restate the thesis and summarise how the evidence supports it.",
	}, nil
}

func (g *SimulatedGenerator) EssayArguments(ctx context.Context, opts GenerateOptions, text, topic string) (string, error) {
	if err := g.wait(ctx, KindEssayArguments, opts); err != nil {
		return "", err
	}
	return fmt.Sprintf("**For %s**\n- The material provides direct evidence in support.\n\n**Against %s**\n- Some points in the material could be read differently.", topic, topic), nil
}

// ConceptMap links the most frequent content words of the text in order of
// frequency.
func (g *SimulatedGenerator) ConceptMap(ctx context.Context, opts GenerateOptions, text string) (*models.ConceptMap, error) {
	if err := g.wait(ctx, KindConceptMap, opts); err != nil {
		return nil, err
	}

	terms := topTerms(text, 6)
	if len(terms) == 0 {
		terms = []string{"main topic"}
	}

	m := &models.ConceptMap{}
	for i, t := range terms {
		m.Nodes = append(m.Nodes, models.ConceptNode{ID: t, Group: i%3 + 1})
		if i > 0 {
			m.Links = append(m.Links, models.ConceptLink{Source: terms[0], Target: t, Value: float64(len(terms) - i)})
		}
	}
	return m, nil
}

func (g *SimulatedGenerator) LessonPlan(ctx context.Context, opts GenerateOptions, text string) (*models.LessonPlan, error) {
	if err := g.wait(ctx, KindLessonPlan, opts); err != nil {
		return nil, err
	}
	subject := "the material"
	if terms := topTerms(text, 1); len(terms) > 0 {
		subject = terms[0]
	}
	return &models.LessonPlan{
		Title:     "Lesson: " + subject,
		Objective: fmt.Sprintf("Students will be able to explain %s in their own words.", subject),
		Duration:  "45 minutes",
		Materials: []string{"Study notes", "Whiteboard"},
		Activities: []models.LessonActivity{
			{Name: "Warm-up", Duration: "5 minutes", Description: "Ask what students already know."},
			{Name: "Direct instruction", Duration: "20 minutes", Description: "Walk through the key concepts."},
			{Name: "Practice", Duration: "15 minutes", Description: "Students answer review questions in pairs."},
		},
		Assessment: "Exit ticket with three short questions.",
	}, nil
}

func (g *SimulatedGenerator) StudyPlan(ctx context.Context, opts GenerateOptions, text string, days int) (*models.StudyPlan, error) {
	if err := g.wait(ctx, KindStudyPlan, opts); err != nil {
		return nil, err
	}
	plan := &models.StudyPlan{
		Title:        fmt.Sprintf("%d-Day Study Plan", days),
		DurationDays: days,
	}
	for d := 1; d <= days; d++ {
		topic := "Review and practice"
		if d == 1 {
			topic = "Read the material and the summary"
		}
		plan.Schedule = append(plan.Schedule, models.StudyDay{
			Day:   d,
			Topic: topic,
			Tasks: []string{"Review due flashcards", fmt.Sprintf("Study session %d", d)},
		})
	}
	return plan, nil
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "that": {}, "this": {}, "with": {}, "from": {}, "for": {}, "are": {},
	"was": {}, "were": {}, "which": {}, "their": {}, "have": {}, "has": {}, "into": {}, "also": {},
	"they": {}, "them": {}, "there": {}, "these": {}, "those": {}, "been": {}, "being": {}, "its": {},
}

// topTerms returns up to n of the most frequent words longer than three
// letters, ties broken alphabetically.
func topTerms(text string, n int) []string {
	counts := make(map[string]int)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if len([]rune(w)) <= 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		counts[w]++
	}

	terms := make([]string, 0, len(counts))
	for w := range counts {
		terms = append(terms, w)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}
