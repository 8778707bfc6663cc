package models

import "time"

type Flashcard struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// SRFlashcard is a flashcard scheduled with spaced repetition.
type SRFlashcard struct {
	ID             string     `json:"id"`
	Question       string     `json:"question"`
	Answer         string     `json:"answer"`
	EaseFactor     float64    `json:"ease_factor"`
	IntervalDays   int        `json:"interval_days"`
	Repetitions    int        `json:"repetitions"`
	DueDate        time.Time  `json:"due_date"`
	LastReviewedAt *time.Time `json:"last_reviewed_at,omitempty"`
}

type MCQ struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
}

type MCQAttempt struct {
	Date               time.Time `json:"date"`
	Score              int       `json:"score"`
	Total              int       `json:"total"`
	IncorrectQuestions []string  `json:"incorrect_questions"`
}

type EssaySection struct {
	Heading string   `json:"heading"`
	Points  []string `json:"points"`
}

type EssayOutline struct {
	Title        string         `json:"title"`
	Introduction string         `json:"introduction"`
	Body         []EssaySection `json:"body"`
	Conclusion   string         `json:"conclusion"`
}

type ConceptNode struct {
	ID    string `json:"id"`
	Group int    `json:"group"`
}

// ConceptLink references its endpoints by node id.
type ConceptLink struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Value  float64 `json:"value"`
}

type ConceptMap struct {
	Nodes []ConceptNode `json:"nodes"`
	Links []ConceptLink `json:"links"`
}

type LessonActivity struct {
	Name        string `json:"name"`
	Duration    string `json:"duration"`
	Description string `json:"description"`
}

type LessonPlan struct {
	Title      string           `json:"title"`
	Objective  string           `json:"objective"`
	Duration   string           `json:"duration"`
	Materials  []string         `json:"materials"`
	Activities []LessonActivity `json:"activities"`
	Assessment string           `json:"assessment"`
}

type StudyDay struct {
	Day   int      `json:"day"`
	Topic string   `json:"topic"`
	Tasks []string `json:"tasks"`
}

type StudyPlan struct {
	Title        string     `json:"title"`
	DurationDays int        `json:"duration_days"`
	Schedule     []StudyDay `json:"schedule"`
}
