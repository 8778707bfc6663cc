package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ProjectStatus string

const (
	StatusProcessing ProjectStatus = "processing"
	StatusReady      ProjectStatus = "ready"
	StatusError      ProjectStatus = "error"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusReady, StatusError:
		return true
	}
	return false
}

// Slot names one optional artifact stored on a project.
type Slot string

const (
	SlotSummary               Slot = "summary"
	SlotSRSFlashcards         Slot = "srs_flashcards"
	SlotMCQAttempts           Slot = "mcq_attempts"
	SlotSemanticSearchHistory Slot = "semantic_search_history"
	SlotAITutorHistory        Slot = "ai_tutor_history"
	SlotEssayTopic            Slot = "essay_topic"
	SlotEssayOutline          Slot = "essay_outline"
	SlotEssayArguments        Slot = "essay_arguments"
	SlotConceptMap            Slot = "concept_map"
	SlotLessonPlan            Slot = "lesson_plan"
	SlotStudyPlan             Slot = "study_plan"
)

var AllSlots = []Slot{
	SlotSummary,
	SlotSRSFlashcards,
	SlotMCQAttempts,
	SlotSemanticSearchHistory,
	SlotAITutorHistory,
	SlotEssayTopic,
	SlotEssayOutline,
	SlotEssayArguments,
	SlotConceptMap,
	SlotLessonPlan,
	SlotStudyPlan,
}

func (s Slot) Known() bool {
	for _, known := range AllSlots {
		if s == known {
			return true
		}
	}
	return false
}

// Artifacts is the sparse slot → value mapping of a project. Absent keys are
// slots that were never generated.
type Artifacts map[Slot]json.RawMessage

func (a Artifacts) Has(slot Slot) bool {
	_, ok := a[slot]
	return ok
}

// Clone returns a deep copy.
func (a Artifacts) Clone() Artifacts {
	out := make(Artifacts, len(a))
	for k, v := range a {
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

type StudyProject struct {
	ID           uuid.UUID     `json:"id"`
	OwnerID      uuid.UUID     `json:"owner_id"`
	Name         string        `json:"name"`
	IngestedText string        `json:"ingested_text"`
	Status       ProjectStatus `json:"status"`
	Artifacts    Artifacts     `json:"artifacts"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (p *StudyProject) Clone() *StudyProject {
	cp := *p
	cp.Artifacts = p.Artifacts.Clone()
	return &cp
}

// ProjectPatch carries the fields of a partial update. Nil fields are left
// untouched. An artifact whose value is JSON null removes that slot.
type ProjectPatch struct {
	Name      *string        `json:"name,omitempty"`
	Status    *ProjectStatus `json:"status,omitempty"`
	Artifacts Artifacts      `json:"artifacts,omitempty"`
}

func (p ProjectPatch) Empty() bool {
	return p.Name == nil && p.Status == nil && len(p.Artifacts) == 0
}

// Split separates slots being written from slots being removed.
func (p ProjectPatch) Split() (set Artifacts, removed []Slot) {
	set = make(Artifacts)
	for slot, raw := range p.Artifacts {
		if IsJSONNull(raw) {
			removed = append(removed, slot)
			continue
		}
		set[slot] = raw
	}
	return set, removed
}

// Apply merges the patch into p in place.
func (p ProjectPatch) Apply(project *StudyProject) {
	if p.Name != nil {
		project.Name = *p.Name
	}
	if p.Status != nil {
		project.Status = *p.Status
	}
	if project.Artifacts == nil {
		project.Artifacts = make(Artifacts)
	}
	set, removed := p.Split()
	for slot, raw := range set {
		cp := make(json.RawMessage, len(raw))
		copy(cp, raw)
		project.Artifacts[slot] = cp
	}
	for _, slot := range removed {
		delete(project.Artifacts, slot)
	}
}

func IsJSONNull(raw json.RawMessage) bool {
	trimmed := string(raw)
	for len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\n' || trimmed[0] == '\t' || trimmed[0] == '\r') {
		trimmed = trimmed[1:]
	}
	return len(raw) == 0 || trimmed == "null"
}

type CreateProjectRequest struct {
	Name         string `json:"name" validate:"required"`
	IngestedText string `json:"ingested_text" validate:"required"`
}

type UpdateProjectRequest struct {
	Name      *string        `json:"name"`
	Status    *ProjectStatus `json:"status"`
	Artifacts Artifacts      `json:"artifacts"`
}
