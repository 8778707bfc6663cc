package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairon-backend/internal/models"
)

func TestDecodeModelJSON(t *testing.T) {
	var cards []models.Flashcard
	require.NoError(t, decodeModelJSON("```json\n[{\"question\":\"Q\",\"answer\":\"A\"}]\n```", &cards))
	require.Len(t, cards, 1)
	assert.Equal(t, "Q", cards[0].Question)

	var plan models.StudyPlan
	require.NoError(t, decodeModelJSON(`Sure! Here is your plan: {"title":"Plan","duration_days":1,"schedule":[{"day":1,"topic":"x","tasks":[]}]} Good luck.`, &plan))
	assert.Equal(t, "Plan", plan.Title)

	assert.Error(t, decodeModelJSON("no json here", &plan))
}

func TestWriteSourceTruncates(t *testing.T) {
	var b strings.Builder
	writeSource(&b, strings.Repeat("x", maxPromptRunes+500))
	assert.Equal(t, maxPromptRunes, strings.Count(b.String(), "x"))
}
