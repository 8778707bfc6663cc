package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"kairon-backend/internal/logger"
	"kairon-backend/internal/models"
)

// maxPromptRunes bounds how much source text is sent with one prompt.
const maxPromptRunes = 60000

// GeminiGenerator implements Generator on the Gemini API.
type GeminiGenerator struct {
	client       *genai.Client
	defaultModel string
	log          *logger.Logger
	rateChan     chan struct{} // Token bucket
}

func NewGeminiGenerator(ctx context.Context, apiKey, defaultModel string, concurrentReqs int, log *logger.Logger) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if concurrentReqs < 1 {
		concurrentReqs = 1
	}
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiGenerator{
		client:       client,
		defaultModel: defaultModel,
		log:          log,
		rateChan:     rateChan,
	}, nil
}

func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

// acquireRate blocks until a rate slot is available
func (g *GeminiGenerator) acquireRate(ctx context.Context) error {
	select {
	case <-g.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (g *GeminiGenerator) releaseRate() {
	g.rateChan <- struct{}{}
}

func (g *GeminiGenerator) model(opts GenerateOptions, jsonOut bool) *genai.GenerativeModel {
	name := opts.Model
	if name == "" {
		name = g.defaultModel
	}
	m := g.client.GenerativeModel(name)
	m.SetTemperature(0.3)
	m.SetTopP(0.95)
	if jsonOut {
		m.ResponseMIMEType = "application/json"
	}
	return m
}

func (g *GeminiGenerator) generate(ctx context.Context, opts GenerateOptions, jsonOut bool, parts ...genai.Part) (string, error) {
	if err := g.acquireRate(ctx); err != nil {
		return "", err
	}
	defer g.releaseRate()

	resp, err := g.model(opts, jsonOut).GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}

	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop {
			g.log.Warn("gemini candidate stopped early", "candidate", i, "reason", cand.FinishReason.String())
		}
	}

	return requireText(extractText(resp))
}

func (g *GeminiGenerator) generateText(ctx context.Context, opts GenerateOptions, prompt string) (string, error) {
	return g.generate(ctx, opts, false, genai.Text(prompt))
}

// generateJSON asks for JSON and decodes it into out, tolerating fenced
// output and surrounding prose.
func (g *GeminiGenerator) generateJSON(ctx context.Context, opts GenerateOptions, prompt string, out interface{}) error {
	raw, err := g.generate(ctx, opts, true, genai.Text(prompt))
	if err != nil {
		return err
	}
	return decodeModelJSON(raw, out)
}

func decodeModelJSON(raw string, out interface{}) error {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}

	for _, pair := range [][2]string{{"[", "]"}, {"{", "}"}} {
		start := strings.Index(raw, pair[0])
		end := strings.LastIndex(raw, pair[1])
		if start >= 0 && end > start {
			if err := json.Unmarshal([]byte(raw[start:end+1]), out); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("model response is not valid JSON")
}

func (g *GeminiGenerator) Summarize(ctx context.Context, opts GenerateOptions, text string) (string, error) {
	var b strings.Builder
	b.WriteString("You are an expert educational content analyst. Write a clear, well structured summary of the study material below.\n")
	b.WriteString("Cover the most important concepts and how they connect. Use short paragraphs and bullet points where helpful.\n")
	writeLanguage(&b, opts)
	writeSource(&b, text)
	return g.generateText(ctx, opts, b.String())
}

func (g *GeminiGenerator) Flashcards(ctx context.Context, opts GenerateOptions, text string, count int) ([]models.Flashcard, error) {
	var b strings.Builder
	b.WriteString("You are an expert flashcard creator. Generate high-quality flashcards from the content below.\n\n")
	b.WriteString("CRITICAL: Return ONLY a valid JSON array. No preamble, no markdown, no backticks.\n\n")
	fmt.Fprintf(&b, "Generate exactly %d flashcards.\n", count)
	b.WriteString(`
Rules:
- Question must be under 20 words
- Answer must be under 60 words and self-contained
- No two cards may test the same concept

JSON schema per card:
{"question": "string", "answer": "string"}
`)
	writeLanguage(&b, opts)
	writeSource(&b, text)

	var cards []models.Flashcard
	if err := g.generateJSON(ctx, opts, b.String(), &cards); err != nil {
		return nil, err
	}
	if err := validateFlashcards(cards); err != nil {
		return nil, err
	}
	return cards, nil
}

func (g *GeminiGenerator) MCQs(ctx context.Context, opts GenerateOptions, text, difficulty string, count int) ([]models.MCQ, error) {
	var b strings.Builder
	b.WriteString("You are an expert educational assessor. Generate multiple choice questions based on the following content.\n\n")
	b.WriteString("CRITICAL: Return ONLY a valid JSON array. No preamble, no markdown, no backticks.\n\n")
	fmt.Fprintf(&b, "Generate exactly %d questions.\nDifficulty: %s\n", count, difficulty)

	switch difficulty {
	case "easy":
		b.WriteString("Easy = direct recall from text.\n")
	case "medium":
		b.WriteString("Medium = application of concepts.\n")
	case "hard":
		b.WriteString("Hard = analysis, synthesis, or inference beyond what is explicitly stated.\n")
	}

	b.WriteString(`
JSON schema per question:
{"question": "string", "options": ["string","string","string","string"], "correct_answer": "string (must equal one option)", "explanation": "string"}
`)
	writeLanguage(&b, opts)
	writeSource(&b, text)

	var mcqs []models.MCQ
	if err := g.generateJSON(ctx, opts, b.String(), &mcqs); err != nil {
		return nil, err
	}
	if err := validateMCQs(mcqs); err != nil {
		return nil, err
	}
	return mcqs, nil
}

func (g *GeminiGenerator) StudyGuide(ctx context.Context, opts GenerateOptions, text string, missed []models.MCQ) (string, error) {
	var b strings.Builder
	b.WriteString("You are a supportive tutor. The student answered the following questions incorrectly:\n\n")
	for i, q := range missed {
		fmt.Fprintf(&b, "%d. %s (correct answer: %s)\n", i+1, q.Question, q.CorrectAnswer)
	}
	b.WriteString("\nWrite a personalised study guide in markdown that explains the underlying concepts they missed, using the source material, and suggests concrete practice.\n")
	writeLanguage(&b, opts)
	writeSource(&b, text)
	return g.generateText(ctx, opts, b.String())
}

// Transcribe uploads audio through the File API and asks for a verbatim
// transcript.
func (g *GeminiGenerator) Transcribe(ctx context.Context, opts GenerateOptions, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("audio payload is empty")
	}

	file, err := g.client.UploadFile(ctx, "", bytes.NewReader(audio), &genai.UploadFileOptions{
		DisplayName: "study-audio",
		MIMEType:    mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload audio to Gemini: %w", err)
	}
	defer g.client.DeleteFile(context.Background(), file.Name)

	for i := 0; i < 20 && file.State != genai.FileStateActive; i++ {
		current, getErr := g.client.GetFile(ctx, file.Name)
		if getErr != nil {
			return "", fmt.Errorf("failed to get uploaded file status: %w", getErr)
		}
		if current.State == genai.FileStateFailed {
			return "", fmt.Errorf("Gemini failed to process uploaded audio file")
		}
		file = current
		if file.State == genai.FileStateActive {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	if file.State != genai.FileStateActive {
		return "", fmt.Errorf("audio file did not become active in time")
	}

	prompt := "Transcribe the provided audio verbatim. Return plain text only, without markdown, headers, or explanations."
	return g.generate(ctx, opts, false, genai.Text(prompt), genai.FileData{MIMEType: mimeType, URI: file.URI})
}

func (g *GeminiGenerator) SemanticSearch(ctx context.Context, opts GenerateOptions, text, query string, topK int) ([]string, error) {
	var b strings.Builder
	b.WriteString("Act as a semantic search engine over the document below.\n")
	fmt.Fprintf(&b, "Return ONLY a JSON array of at most %d strings: the passages of the document most relevant to the query, by meaning rather than keywords, most relevant first. Quote passages verbatim.\n", topK)
	fmt.Fprintf(&b, "Query: %s\n", query)
	writeSource(&b, text)

	var results []string
	if err := g.generateJSON(ctx, opts, b.String(), &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errEmptyResult
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (g *GeminiGenerator) Answer(ctx context.Context, opts GenerateOptions, text, question string, history []models.ChatMessage) (string, error) {
	var b strings.Builder
	b.WriteString("You are an AI tutor. Answer the student's question using the study material below. If the material does not contain the answer, say so.\n")
	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", question)
	writeLanguage(&b, opts)
	writeSource(&b, text)
	return g.generateText(ctx, opts, b.String())
}

func (g *GeminiGenerator) EssayOutline(ctx context.Context, opts GenerateOptions, text, topic string) (*models.EssayOutline, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Create an essay outline on the topic %q, grounded in the study material below.\n", topic)
	b.WriteString(`Return ONLY a JSON object:
{"title": "string", "introduction": "string", "body": [{"heading": "string", "points": ["string"]}], "conclusion": "string"}
`)
	writeLanguage(&b, opts)
	writeSource(&b, text)

	var outline models.EssayOutline
	if err := g.generateJSON(ctx, opts, b.String(), &outline); err != nil {
		return nil, err
	}
	if err := validateEssayOutline(&outline); err != nil {
		return nil, err
	}
	return &outline, nil
}

func (g *GeminiGenerator) EssayArguments(ctx context.Context, opts GenerateOptions, text, topic string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "List the strongest arguments for and against the position %q, each supported by evidence from the study material below. Use markdown.\n", topic)
	writeLanguage(&b, opts)
	writeSource(&b, text)
	return g.generateText(ctx, opts, b.String())
}

func (g *GeminiGenerator) ConceptMap(ctx context.Context, opts GenerateOptions, text string) (*models.ConceptMap, error) {
	var b strings.Builder
	b.WriteString("Extract the key concepts of the study material below and how strongly they relate.\n")
	b.WriteString(`Return ONLY a JSON object:
{"nodes": [{"id": "concept name", "group": 1}], "links": [{"source": "concept name", "target": "concept name", "value": 1}]}
Every link source and target must be the id of a node. Use between 5 and 20 nodes. group clusters related concepts; value is a positive strength from 1 to 10.
`)
	writeLanguage(&b, opts)
	writeSource(&b, text)

	var m models.ConceptMap
	if err := g.generateJSON(ctx, opts, b.String(), &m); err != nil {
		return nil, err
	}
	if err := validateConceptMap(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (g *GeminiGenerator) LessonPlan(ctx context.Context, opts GenerateOptions, text string) (*models.LessonPlan, error) {
	var b strings.Builder
	b.WriteString("Design a single lesson plan that teaches the study material below.\n")
	b.WriteString(`Return ONLY a JSON object:
{"title": "string", "objective": "string", "duration": "string", "materials": ["string"], "activities": [{"name": "string", "duration": "string", "description": "string"}], "assessment": "string"}
`)
	writeLanguage(&b, opts)
	writeSource(&b, text)

	var p models.LessonPlan
	if err := g.generateJSON(ctx, opts, b.String(), &p); err != nil {
		return nil, err
	}
	if err := validateLessonPlan(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (g *GeminiGenerator) StudyPlan(ctx context.Context, opts GenerateOptions, text string, days int) (*models.StudyPlan, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a %d-day study plan for mastering the material below.\n", days)
	fmt.Fprintf(&b, `Return ONLY a JSON object:
{"title": "string", "duration_days": %d, "schedule": [{"day": 1, "topic": "string", "tasks": ["string"]}]}
The schedule must contain exactly %d entries numbered from 1.
`, days, days)
	writeLanguage(&b, opts)
	writeSource(&b, text)

	var p models.StudyPlan
	if err := g.generateJSON(ctx, opts, b.String(), &p); err != nil {
		return nil, err
	}
	if err := validateStudyPlan(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Helper functions

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

func writeLanguage(b *strings.Builder, opts GenerateOptions) {
	if lang := opts.language(); !strings.EqualFold(lang, "english") && !strings.EqualFold(lang, "en") {
		fmt.Fprintf(b, "\nLanguage: Respond entirely in %s.\n", lang)
	}
}

func writeSource(b *strings.Builder, text string) {
	b.WriteString("\n---CONTENT---\n")
	b.WriteString(truncateRunes(text, maxPromptRunes))
	b.WriteString("\n---END---\n")
}
