package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairon-backend/internal/handlers"
	"kairon-backend/internal/logger"
	"kairon-backend/internal/middleware"
	"kairon-backend/internal/repository"
	"kairon-backend/internal/services"
	"kairon-backend/internal/websocket"
)

func newTestRouter(t *testing.T) (http.Handler, *middleware.JWTAuth) {
	t.Helper()
	log := logger.Nop()
	jwtAuth := middleware.NewJWTAuth("router-secret")

	store := repository.NewMemoryProjectStore()
	jobs := repository.NewMemoryJobStore()
	projects := services.NewProjectService(store)
	generator := services.NewSimulatedGenerator(0, log)
	generation := services.NewGenerationService(store, generator, time.Second, log)
	ingest := services.NewIngestionService(projects, services.NewFileExtractService(), nil, generator, nil, log)

	limiter := middleware.NewRateLimiter(100, time.Minute)
	hub := websocket.NewHub(nil, jwtAuth, "*", log)
	t.Cleanup(func() {
		limiter.Stop()
		hub.Close()
	})

	h := New(
		jwtAuth,
		handlers.NewAuthHandler(nil),
		handlers.NewProjectHandler(projects, ingest),
		handlers.NewIngestHandler(ingest, 1024*1024),
		handlers.NewGenerationHandler(generation, projects, nil, jobs, 1024*1024),
		limiter,
		hub,
		"http://localhost:5173",
	)
	return h, jwtAuth
}

func TestRouter_Health(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get(middleware.RequestIDHeader))
}

func TestRouter_ProjectsRequireAuth(t *testing.T) {
	h, jwtAuth := newTestRouter(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := jwtAuth.GenerateAccessToken(uuid.New(), "ana@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects",
		strings.NewReader(`{"name":"Optics","ingested_text":"Light bends when it enters glass."}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Body.String(), "["), rr.Body.String())
	assert.Contains(t, rr.Body.String(), "Optics")
}

func TestRouter_PublicRoutes(t *testing.T) {
	h, _ := newTestRouter(t)

	for _, path := range []string{"/api/v1/auth/flow/signup", "/api/v1/ingest/formats", "/api/v1/generation/kinds"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}
