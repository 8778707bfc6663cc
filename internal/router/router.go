package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"kairon-backend/internal/handlers"
	"kairon-backend/internal/middleware"
	"kairon-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	authHandler *handlers.AuthHandler,
	projectHandler *handlers.ProjectHandler,
	ingestHandler *handlers.IngestHandler,
	generationHandler *handlers.GenerationHandler,
	authLimiter *middleware.RateLimiter,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes (public) ────
		r.Route("/auth", func(r chi.Router) {
			r.Get("/flow/{view}", handlers.Flow)

			r.Group(func(r chi.Router) {
				r.Use(authLimiter.Middleware)
				r.Post("/register", authHandler.Register)
				r.Post("/login", authHandler.Login)
				r.Post("/refresh", authHandler.Refresh)
				r.Post("/forgot-password", authHandler.ForgotPassword)
				r.Post("/reset-password", authHandler.ResetPassword)
				r.Get("/verify-email", authHandler.VerifyEmail)
				r.Post("/resend-verification", authHandler.ResendVerification)
			})

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/logout", authHandler.Logout)
			})
		})

		r.Route("/user", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/me", authHandler.Me)
		})

		// ──── Ingestion ────
		r.Route("/ingest", func(r chi.Router) {
			r.Get("/formats", ingestHandler.SupportedFormats)

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/text", ingestHandler.Text)
				r.Post("/file", ingestHandler.File)
				r.Post("/youtube", ingestHandler.YouTube)
			})
		})

		// ──── Projects ────
		r.Route("/projects", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", projectHandler.List)
			r.Post("/", projectHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", projectHandler.Get)
				r.Put("/", projectHandler.Update)
				r.Delete("/", projectHandler.Delete)

				r.Post("/generate", generationHandler.Generate)
				r.Post("/jobs", generationHandler.Enqueue)
				r.Post("/transcribe", generationHandler.Transcribe)
				r.Post("/mcq-attempts", projectHandler.RecordAttempt)
				r.Get("/flashcards/due", projectHandler.DueCards)
				r.Post("/flashcards/{cardId}/review", projectHandler.ReviewCard)
			})
		})

		r.Get("/generation/kinds", generationHandler.Kinds)

		r.Route("/jobs", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/{id}", generationHandler.GetJob)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
