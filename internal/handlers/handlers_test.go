package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairon-backend/internal/logger"
	"kairon-backend/internal/middleware"
	"kairon-backend/internal/models"
	"kairon-backend/internal/repository"
	"kairon-backend/internal/services"
)

// failingGenerator fails summaries and answers everything else like the
// simulated generator.
type failingGenerator struct {
	*services.SimulatedGenerator
}

func (failingGenerator) Summarize(context.Context, services.GenerateOptions, string) (string, error) {
	return "", errors.New("model unavailable")
}

type memoryQueue struct {
	mu   sync.Mutex
	jobs *repository.MemoryJobStore
	sent []*models.Job
}

func (q *memoryQueue) Submit(ctx context.Context, job *models.Job) error {
	if err := q.jobs.Create(ctx, job); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, job)
	return nil
}

type testEnv struct {
	projects   *ProjectHandler
	ingest     *IngestHandler
	generation *GenerationHandler
	service    *services.ProjectService
	queue      *memoryQueue
}

func newTestEnv(t *testing.T, generator services.Generator) *testEnv {
	t.Helper()
	log := logger.Nop()
	store := repository.NewMemoryProjectStore()
	projects := services.NewProjectService(store)
	jobs := repository.NewMemoryJobStore()
	queue := &memoryQueue{jobs: jobs}
	gen := services.NewGenerationService(store, generator, 0, log)
	ingest := services.NewIngestionService(projects, services.NewFileExtractService(), nil, generator, queue, log)

	return &testEnv{
		projects:   NewProjectHandler(projects, ingest),
		ingest:     NewIngestHandler(ingest, 1024*1024),
		generation: NewGenerationHandler(gen, projects, queue, jobs, 1024*1024),
		service:    projects,
		queue:      queue,
	}
}

func simulated() services.Generator {
	return services.NewSimulatedGenerator(0, logger.Nop())
}

// call invokes h as userID with the given chi URL parameters.
func call(h http.HandlerFunc, method, target string, body io.Reader, userID uuid.UUID, params map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set(middleware.RequestIDHeader, "req-test")
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	req = req.WithContext(middleware.WithUserID(ctx, userID))

	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out), rr.Body.String())
	return out
}

func seedProject(t *testing.T, env *testEnv, owner uuid.UUID) *models.StudyProject {
	t.Helper()
	p, err := env.service.Create(context.Background(), owner, "Photosynthesis",
		"Photosynthesis converts light energy into chemical energy. Chloroplasts hold chlorophyll. Photosynthesis releases oxygen.")
	require.NoError(t, err)
	return p
}

func TestProjectHandler_Lifecycle(t *testing.T) {
	env := newTestEnv(t, simulated())
	owner := uuid.New()

	rr := call(env.projects.List, http.MethodGet, "/api/v1/projects", nil, owner, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = call(env.projects.Create, http.MethodPost, "/api/v1/projects",
		jsonBody(t, map[string]string{"name": "Cells", "ingested_text": "Cells are the unit of life."}), owner, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[models.StudyProject](t, rr)
	id := created.ID.String()
	require.Len(t, env.queue.sent, 1)
	assert.Equal(t, created.ID, env.queue.sent[0].ProjectID)
	assert.True(t, env.queue.sent[0].Initial)

	rr = call(env.projects.List, http.MethodGet, "/api/v1/projects", nil, owner, nil)
	listed := decode[[]models.StudyProject](t, rr)
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	rr = call(env.projects.Get, http.MethodGet, "/api/v1/projects/"+id, nil, owner, map[string]string{"id": id})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = call(env.projects.Get, http.MethodGet, "/api/v1/projects/"+id, nil, uuid.New(), map[string]string{"id": id})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = call(env.projects.Update, http.MethodPut, "/api/v1/projects/"+id,
		jsonBody(t, map[string]string{"name": "Cell Biology"}), owner, map[string]string{"id": id})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Cell Biology", decode[models.StudyProject](t, rr).Name)

	rr = call(env.projects.Delete, http.MethodDelete, "/api/v1/projects/"+id, nil, owner, map[string]string{"id": id})
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = call(env.projects.Delete, http.MethodDelete, "/api/v1/projects/"+id, nil, owner, map[string]string{"id": id})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestProjectHandler_MalformedIDIsNotFound(t *testing.T) {
	env := newTestEnv(t, simulated())

	rr := call(env.projects.Get, http.MethodGet, "/api/v1/projects/abc", nil, uuid.New(), map[string]string{"id": "abc"})
	require.Equal(t, http.StatusNotFound, rr.Code)
	resp := decode[models.ErrorResponse](t, rr)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "req-test", resp.Error.RequestID)
}

func TestProjectHandler_CreateRejectsMissingFields(t *testing.T) {
	env := newTestEnv(t, simulated())

	rr := call(env.projects.Create, http.MethodPost, "/api/v1/projects",
		jsonBody(t, map[string]string{"name": ""}), uuid.New(), nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode[models.ErrorResponse](t, rr).Error.Code)

	rr = call(env.projects.Create, http.MethodPost, "/api/v1/projects", strings.NewReader("{"), uuid.New(), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProjectHandler_ReviewCardRequiresRating(t *testing.T) {
	env := newTestEnv(t, simulated())
	owner := uuid.New()
	p := seedProject(t, env, owner)

	params := map[string]string{"id": p.ID.String(), "cardId": "card-1"}
	rr := call(env.projects.ReviewCard, http.MethodPost, "/", jsonBody(t, map[string]string{}), owner, params)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decode[models.ErrorResponse](t, rr).Error.Fields, "rating")
}

func TestProjectHandler_RecordAttempt(t *testing.T) {
	env := newTestEnv(t, simulated())
	owner := uuid.New()
	p := seedProject(t, env, owner)
	params := map[string]string{"id": p.ID.String()}

	rr := call(env.projects.RecordAttempt, http.MethodPost, "/",
		jsonBody(t, map[string]interface{}{"score": 3, "total": 5, "incorrect_questions": []string{"q1", "q2"}}), owner, params)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	attempt := decode[models.MCQAttempt](t, rr)
	assert.Equal(t, 3, attempt.Score)

	rr = call(env.projects.RecordAttempt, http.MethodPost, "/",
		jsonBody(t, map[string]interface{}{"score": 1, "total": 0}), owner, params)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestIngestHandler_TextTruncates(t *testing.T) {
	env := newTestEnv(t, simulated())
	owner := uuid.New()
	text := strings.Repeat("é", services.MaxIngestedRunes+10)

	rr := call(env.ingest.Text, http.MethodPost, "/api/v1/ingest/text",
		jsonBody(t, map[string]string{"name": "Long", "text": text}), owner, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	res := decode[services.IngestResult](t, rr)
	assert.True(t, res.Truncated)
	assert.Equal(t, "Text was truncated to 100,000 characters.", res.Notice)
	assert.Equal(t, services.MaxIngestedRunes, len([]rune(res.Project.IngestedText)))
	assert.Equal(t, models.StatusProcessing, res.Project.Status)
	assert.Len(t, env.queue.sent, 1)
}

func multipartUpload(t *testing.T, filename, contentType string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func upload(h http.HandlerFunc, body io.Reader, contentType string, userID uuid.UUID, params map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", contentType)
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	req = req.WithContext(middleware.WithUserID(context.WithValue(req.Context(), chi.RouteCtxKey, rctx), userID))
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func TestIngestHandler_File(t *testing.T) {
	env := newTestEnv(t, simulated())
	owner := uuid.New()

	body, ct := multipartUpload(t, "notes.txt", "text/plain", []byte("Mitosis has four phases."))
	rr := upload(env.ingest.File, body, ct, owner, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decode[services.IngestResult](t, rr)
	assert.Equal(t, "Mitosis has four phases.", res.Project.IngestedText)

	body, ct = multipartUpload(t, "big.txt", "text/plain", bytes.Repeat([]byte("a"), 1024*1024+1))
	rr = upload(env.ingest.File, body, ct, owner, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, "FILE_TOO_LARGE", decode[models.ErrorResponse](t, rr).Error.Code)
}

func TestIngestHandler_FileMissing(t *testing.T) {
	env := newTestEnv(t, simulated())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "nothing"))
	require.NoError(t, mw.Close())

	rr := upload(env.ingest.File, &buf, mw.FormDataContentType(), uuid.New(), nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decode[models.ErrorResponse](t, rr).Error.Fields, "file")
}

func TestGenerationHandler_SingleKind(t *testing.T) {
	env := newTestEnv(t, simulated())
	owner := uuid.New()
	p := seedProject(t, env, owner)
	params := map[string]string{"id": p.ID.String()}

	rr := call(env.generation.Generate, http.MethodPost, "/", jsonBody(t, map[string]interface{}{"kind": "flashcards", "count": 2}), owner, params)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res struct {
		Kind     string               `json:"kind"`
		Artifact []models.SRFlashcard `json:"artifact"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Equal(t, "flashcards", res.Kind)
	assert.Len(t, res.Artifact, 2)
}

func TestGenerationHandler_FailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t, failingGenerator{services.NewSimulatedGenerator(0, logger.Nop())})
	owner := uuid.New()
	p := seedProject(t, env, owner)

	rr := call(env.generation.Generate, http.MethodPost, "/", jsonBody(t, map[string]string{"kind": "summary"}), owner,
		map[string]string{"id": p.ID.String()})
	require.Equal(t, http.StatusBadGateway, rr.Code)

	resp := decode[models.ErrorResponse](t, rr)
	assert.Equal(t, "GENERATION_FAILED", resp.Error.Code)
	assert.Equal(t, "summary", resp.Error.Kind)
	assert.NotContains(t, resp.Error.Message, "model unavailable")
}

func TestGenerationHandler_ManyKindsReportEachOutcome(t *testing.T) {
	env := newTestEnv(t, failingGenerator{services.NewSimulatedGenerator(0, logger.Nop())})
	owner := uuid.New()
	p := seedProject(t, env, owner)

	body := map[string]interface{}{"requests": []map[string]interface{}{
		{"kind": "summary"},
		{"kind": "concept_map"},
	}}
	rr := call(env.generation.Generate, http.MethodPost, "/", jsonBody(t, body), owner, map[string]string{"id": p.ID.String()})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res struct {
		Results []struct {
			Kind   string           `json:"kind"`
			Result json.RawMessage  `json:"result"`
			Error  *models.APIError `json:"error"`
		} `json:"results"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	require.Len(t, res.Results, 2)

	assert.Equal(t, "summary", res.Results[0].Kind)
	require.NotNil(t, res.Results[0].Error)
	assert.Equal(t, "GENERATION_FAILED", res.Results[0].Error.Code)

	assert.Equal(t, "concept_map", res.Results[1].Kind)
	assert.Nil(t, res.Results[1].Error)
	assert.NotEmpty(t, res.Results[1].Result)
}

func TestGenerationHandler_InvalidRequests(t *testing.T) {
	env := newTestEnv(t, simulated())
	owner := uuid.New()
	p := seedProject(t, env, owner)
	params := map[string]string{"id": p.ID.String()}

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"unknown kind", map[string]string{"kind": "poem"}, http.StatusBadRequest},
		{"transcription needs upload", map[string]string{"kind": "transcription"}, http.StatusBadRequest},
		{"search without query", map[string]string{"kind": "semantic_search"}, http.StatusBadRequest},
		{"one bad request in many", map[string]interface{}{"requests": []map[string]string{{"kind": "summary"}, {"kind": "tutor_answer"}}}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := call(env.generation.Generate, http.MethodPost, "/", jsonBody(t, tc.body), owner, params)
			assert.Equal(t, tc.status, rr.Code, rr.Body.String())
		})
	}

	rr := call(env.generation.Generate, http.MethodPost, "/", jsonBody(t, map[string]string{"kind": "summary"}), uuid.New(), params)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGenerationHandler_EnqueueAndGetJob(t *testing.T) {
	env := newTestEnv(t, simulated())
	owner := uuid.New()
	p := seedProject(t, env, owner)

	body := map[string]interface{}{"requests": []map[string]interface{}{
		{"kind": "mcqs", "difficulty": "hard"},
		{"kind": "lesson_plan"},
	}}
	rr := call(env.generation.Enqueue, http.MethodPost, "/", jsonBody(t, body), owner, map[string]string{"id": p.ID.String()})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	job := decode[models.Job](t, rr)
	assert.Equal(t, []string{"mcqs", "lesson_plan"}, job.Kinds)
	assert.Equal(t, models.JobPending, job.Status)

	var queued []services.GenerationRequest
	require.NoError(t, json.Unmarshal(job.RequestJSON, &queued))
	require.Len(t, queued, 2)
	assert.Equal(t, 5, queued[0].Count)

	id := job.ID.String()
	rr = call(env.generation.GetJob, http.MethodGet, "/api/v1/jobs/"+id, nil, owner, map[string]string{"id": id})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = call(env.generation.GetJob, http.MethodGet, "/api/v1/jobs/"+id, nil, uuid.New(), map[string]string{"id": id})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = call(env.generation.Enqueue, http.MethodPost, "/", jsonBody(t, body), uuid.New(), map[string]string{"id": p.ID.String()})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Len(t, env.queue.sent, 1)
}

func TestGenerationHandler_Transcribe(t *testing.T) {
	env := newTestEnv(t, simulated())
	owner := uuid.New()
	p := seedProject(t, env, owner)
	params := map[string]string{"id": p.ID.String()}

	body, ct := multipartUpload(t, "lecture.mp3", "audio/mpeg", []byte("ID3 fake audio"))
	rr := upload(env.generation.Transcribe, body, ct, owner, params)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[map[string]string](t, rr)
	assert.Equal(t, "transcription", res["kind"])
	assert.NotEmpty(t, res["text"])

	body, ct = multipartUpload(t, "notes.txt", "text/plain", []byte("not audio"))
	rr = upload(env.generation.Transcribe, body, ct, owner, params)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFlow(t *testing.T) {
	tests := []struct {
		name   string
		target string
		view   string
		status int
		want   string
	}{
		{"describe view", "/api/v1/auth/flow/login", "login", http.StatusOK, "login"},
		{"follow event", "/api/v1/auth/flow/signup?event=signup_succeeded&email=ana@example.com", "signup", http.StatusOK, "verify-email"},
		{"unknown view", "/api/v1/auth/flow/home", "home", http.StatusNotFound, ""},
		{"event not allowed", "/api/v1/auth/flow/login?event=password_reset_succeeded", "login", http.StatusBadRequest, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := call(Flow, http.MethodGet, tc.target, nil, uuid.Nil, map[string]string{"view": tc.view})
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			if tc.want != "" {
				assert.Equal(t, tc.want, decode[models.FlowState](t, rr).View)
			}
		})
	}
}

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &services.ValidationError{Fields: map[string]string{"name": "required"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"conflict", &services.ConflictError{Message: "taken"}, http.StatusConflict, "CONFLICT"},
		{"not found", &services.NotFoundError{Message: "gone"}, http.StatusNotFound, "NOT_FOUND"},
		{"unauthorized", &services.UnauthorizedError{Message: "no"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"forbidden", &services.ForbiddenError{Message: "verify first"}, http.StatusForbidden, "FORBIDDEN"},
		{"rate limited", &services.RateLimitError{Message: "slow down"}, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"generation", &services.GenerationError{Kind: services.KindStudyPlan, Err: errors.New("boom")}, http.StatusBadGateway, "GENERATION_FAILED"},
		{"unknown", errors.New("db exploded"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rr := httptest.NewRecorder()
			handleServiceError(rr, req, tc.err)

			require.Equal(t, tc.status, rr.Code)
			resp := decode[models.ErrorResponse](t, rr)
			assert.Equal(t, tc.code, resp.Error.Code)
			assert.NotContains(t, resp.Error.Message, "exploded")
		})
	}
}
