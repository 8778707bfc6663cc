package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"kairon-backend/internal/models"
	"kairon-backend/internal/srs"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldErrors converts validator output into field → message pairs. messages
// overrides the generic text for specific fields.
func fieldErrors(err error, messages map[string]string) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if msg, ok := messages[field]; ok {
			out[field] = msg
			continue
		}
		switch fe.Tag() {
		case "required":
			out[field] = "This field is required"
		case "max":
			out[field] = fmt.Sprintf("Must be at most %s", fe.Param())
		case "min":
			out[field] = fmt.Sprintf("Must be at least %s", fe.Param())
		case "oneof":
			out[field] = fmt.Sprintf("Must be one of: %s", fe.Param())
		default:
			out[field] = "Invalid value"
		}
	}
	return out
}

// decodeSlot decodes raw strictly: unknown fields and trailing data are
// rejected.
func decodeSlot(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after value")
	}
	return nil
}

func encodeSlot(v interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// validateSlot checks that raw has the shape slot requires.
func validateSlot(slot models.Slot, raw json.RawMessage) error {
	switch slot {
	case models.SlotSummary, models.SlotEssayTopic, models.SlotEssayArguments:
		var s string
		return decodeSlot(raw, &s)

	case models.SlotSRSFlashcards:
		var cards []models.SRFlashcard
		if err := decodeSlot(raw, &cards); err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(cards))
		for i, c := range cards {
			if err := srs.Validate(c); err != nil {
				return fmt.Errorf("card %d: %w", i+1, err)
			}
			if _, dup := seen[c.ID]; dup {
				return fmt.Errorf("card id %q appears twice", c.ID)
			}
			seen[c.ID] = struct{}{}
		}
		return nil

	case models.SlotMCQAttempts:
		var attempts []models.MCQAttempt
		if err := decodeSlot(raw, &attempts); err != nil {
			return err
		}
		for i, a := range attempts {
			if err := validateAttempt(a); err != nil {
				return fmt.Errorf("attempt %d: %w", i+1, err)
			}
		}
		return nil

	case models.SlotSemanticSearchHistory:
		var queries []string
		return decodeSlot(raw, &queries)

	case models.SlotAITutorHistory:
		var msgs []models.ChatMessage
		if err := decodeSlot(raw, &msgs); err != nil {
			return err
		}
		for i, m := range msgs {
			if m.Role != models.ChatRoleUser && m.Role != models.ChatRoleModel {
				return fmt.Errorf("message %d: role must be user or model", i+1)
			}
		}
		return nil

	case models.SlotEssayOutline:
		var o models.EssayOutline
		if err := decodeSlot(raw, &o); err != nil {
			return err
		}
		return validateEssayOutline(&o)

	case models.SlotConceptMap:
		var m models.ConceptMap
		if err := decodeSlot(raw, &m); err != nil {
			return err
		}
		return validateConceptMap(&m)

	case models.SlotLessonPlan:
		var p models.LessonPlan
		if err := decodeSlot(raw, &p); err != nil {
			return err
		}
		return validateLessonPlan(&p)

	case models.SlotStudyPlan:
		var p models.StudyPlan
		if err := decodeSlot(raw, &p); err != nil {
			return err
		}
		return validateStudyPlan(&p)
	}
	return fmt.Errorf("unknown artifact")
}

func validateAttempt(a models.MCQAttempt) error {
	switch {
	case a.Total < 0 || a.Score < 0:
		return fmt.Errorf("score and total must not be negative")
	case a.Score > a.Total:
		return fmt.Errorf("score cannot exceed total")
	case len(a.IncorrectQuestions) > a.Total-a.Score:
		return fmt.Errorf("more incorrect questions than missed answers")
	case a.Date.IsZero():
		return fmt.Errorf("date is required")
	}
	return nil
}
