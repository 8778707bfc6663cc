package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"kairon-backend/internal/middleware"
	"kairon-backend/internal/models"
	"kairon-backend/internal/repository"
	"kairon-backend/internal/services"
)

// JobReader looks up a job owned by a user.
type JobReader interface {
	GetByID(ctx context.Context, userID, id uuid.UUID) (*models.Job, error)
}

type GenerationHandler struct {
	generation     *services.GenerationService
	projects       *services.ProjectService
	queue          services.JobSubmitter
	jobs           JobReader
	maxUploadBytes int64
}

func NewGenerationHandler(generation *services.GenerationService, projects *services.ProjectService, queue services.JobSubmitter, jobs JobReader, maxUploadBytes int64) *GenerationHandler {
	return &GenerationHandler{
		generation:     generation,
		projects:       projects,
		queue:          queue,
		jobs:           jobs,
		maxUploadBytes: maxUploadBytes,
	}
}

// generateRequest accepts either one inline request or a "requests" list.
type generateRequest struct {
	services.GenerationRequest
	Requests []services.GenerationRequest `json:"requests"`
}

func (g generateRequest) all() []services.GenerationRequest {
	if len(g.Requests) > 0 {
		return g.Requests
	}
	return []services.GenerationRequest{g.GenerationRequest}
}

type kindOutcome struct {
	Kind   services.Kind              `json:"kind"`
	Result *services.GenerationResult `json:"result,omitempty"`
	Error  *models.APIError           `json:"error,omitempty"`
}

func (h *GenerationHandler) Kinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"kinds": h.generation.SupportedKinds()})
}

// Generate runs one or more kinds synchronously. A single kind answers with
// its result or the usual error envelope; several kinds run concurrently and
// answer 200 with an outcome per kind.
func (h *GenerationHandler) Generate(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}

	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	userID := middleware.GetUserID(r.Context())
	reqs := body.all()

	if len(reqs) == 1 {
		res, err := h.generation.Run(r.Context(), userID, id, reqs[0])
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	for i := range reqs {
		if err := h.generation.Prepare(&reqs[i]); err != nil {
			handleServiceError(w, r, err)
			return
		}
	}
	// Ownership is checked once up front so an unknown project is a 404
	// rather than one failure per kind.
	if _, err := h.projects.Get(r.Context(), userID, id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	outcomes := h.generation.RunMany(r.Context(), userID, id, reqs)
	out := make([]kindOutcome, len(outcomes))
	for i, o := range outcomes {
		out[i] = kindOutcome{Kind: o.Kind, Result: o.Result}
		if o.Err != nil {
			apiErr := outcomeError(o.Kind, o.Err, r)
			out[i].Error = &apiErr
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": out})
}

func outcomeError(kind services.Kind, err error, r *http.Request) models.APIError {
	var gerr *services.GenerationError
	if errors.As(err, &gerr) {
		resp := errorResp("GENERATION_FAILED", generationMessage(gerr), r)
		resp.Error.Kind = string(gerr.Kind)
		return resp.Error
	}
	resp := errorResp("INTERNAL_ERROR", "An unexpected error occurred", r)
	resp.Error.Kind = string(kind)
	return resp.Error
}

// Enqueue hands the requested kinds to the workers and answers 202 with the
// job; progress arrives over the websocket.
func (h *GenerationHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}

	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	userID := middleware.GetUserID(r.Context())
	reqs := body.all()

	kinds := make([]string, len(reqs))
	for i := range reqs {
		if err := h.generation.Prepare(&reqs[i]); err != nil {
			handleServiceError(w, r, err)
			return
		}
		kinds[i] = string(reqs[i].Kind)
	}
	if _, err := h.projects.Get(r.Context(), userID, id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	payload, err := json.Marshal(reqs)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	job := &models.Job{
		UserID:      userID,
		ProjectID:   id,
		Kinds:       kinds,
		RequestJSON: payload,
	}
	if err := h.queue.Submit(r.Context(), job); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// Transcribe takes a multipart "file" part holding audio or video and
// returns the transcript without storing it.
func (h *GenerationHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}

	data, _, mimeType, ok := readUpload(w, r, h.maxUploadBytes)
	if !ok {
		return
	}
	opts := services.GenerateOptions{Model: r.FormValue("model"), Language: r.FormValue("language")}

	text, err := h.generation.Transcribe(r.Context(), middleware.GetUserID(r.Context()), id, data, mimeType, opts)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"kind": string(services.KindTranscription), "text": text})
}

func (h *GenerationHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Job not found", r))
		return
	}

	job, err := h.jobs.GetByID(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Job not found", r))
			return
		}
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
