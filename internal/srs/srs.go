// Package srs schedules flashcard reviews with the SM-2 algorithm.
package srs

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"kairon-backend/internal/models"
)

const (
	InitialEase = 2.5
	MinEase     = 1.3
	MaxEase     = 5.0

	// MaxIntervalDays caps how far out a card can be scheduled.
	MaxIntervalDays = 36500
)

// Rating is the learner's recall quality: 0 (forgot) to 3 (easy).
type Rating int

const (
	Again Rating = iota
	Hard
	Good
	Easy
)

func (r Rating) Valid() bool { return r >= Again && r <= Easy }

// NewCard returns a card that is due immediately.
func NewCard(question, answer string, now time.Time) models.SRFlashcard {
	return models.SRFlashcard{
		ID:           uuid.NewString(),
		Question:     question,
		Answer:       answer,
		EaseFactor:   InitialEase,
		IntervalDays: 0,
		Repetitions:  0,
		DueDate:      now.UTC(),
	}
}

// Review applies one rating to card and returns the rescheduled copy.
func Review(card models.SRFlashcard, rating Rating, now time.Time) (models.SRFlashcard, error) {
	if !rating.Valid() {
		return card, fmt.Errorf("rating must be between %d and %d", Again, Easy)
	}

	next := card
	reviewed := now.UTC()

	q := float64(3 - rating)
	next.EaseFactor = ClampEase(card.EaseFactor + (0.1 - q*(0.08+q*0.02)))

	if rating == Again {
		next.Repetitions = 0
		next.IntervalDays = 1
	} else {
		next.Repetitions = card.Repetitions + 1
		switch next.Repetitions {
		case 1:
			next.IntervalDays = 1
		case 2:
			next.IntervalDays = 6
		default:
			interval := math.Round(float64(card.IntervalDays) * next.EaseFactor)
			next.IntervalDays = int(math.Max(1, math.Min(MaxIntervalDays, interval)))
		}
	}

	next.LastReviewedAt = &reviewed
	next.DueDate = dueAfter(reviewed, next.IntervalDays)
	return next, nil
}

// dueAfter adds whole calendar days in UTC.
func dueAfter(reviewed time.Time, days int) time.Time {
	return reviewed.UTC().AddDate(0, 0, days)
}

func ClampEase(ef float64) float64 {
	return math.Max(MinEase, math.Min(MaxEase, ef))
}

// Validate reports whether card is internally consistent.
func Validate(card models.SRFlashcard) error {
	switch {
	case card.ID == "":
		return fmt.Errorf("id is required")
	case card.Question == "" || card.Answer == "":
		return fmt.Errorf("question and answer are required")
	case card.EaseFactor < MinEase || card.EaseFactor > MaxEase:
		return fmt.Errorf("ease_factor must be between %.1f and %.1f", MinEase, MaxEase)
	case card.IntervalDays < 0 || card.Repetitions < 0:
		return fmt.Errorf("interval_days and repetitions must not be negative")
	case card.IntervalDays > MaxIntervalDays:
		return fmt.Errorf("interval_days must be at most %d", MaxIntervalDays)
	}
	if card.LastReviewedAt != nil {
		want := dueAfter(*card.LastReviewedAt, card.IntervalDays)
		if !want.Equal(card.DueDate) {
			return fmt.Errorf("due_date must equal last_reviewed_at plus interval_days")
		}
	}
	return nil
}

// Due filters the cards due at or before now.
func Due(cards []models.SRFlashcard, now time.Time) []models.SRFlashcard {
	due := make([]models.SRFlashcard, 0, len(cards))
	for _, c := range cards {
		if !c.DueDate.After(now) {
			due = append(due, c)
		}
	}
	return due
}
