package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kairon-backend/internal/authflow"
	"kairon-backend/internal/middleware"
	"kairon-backend/internal/models"
	"kairon-backend/internal/services"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	user, flow, err := h.authService.Register(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Check your email to verify your account.",
		"user_id": user.ID,
		"flow":    flow,
	})
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Token is required", r))
		return
	}

	tokens, err := h.authService.VerifyEmail(r.Context(), token)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	tokens, err := h.authService.Login(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	tokens, err := h.authService.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if err := h.authService.Logout(r.Context(), req.RefreshToken); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	flow, err := h.authService.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "If an account exists for that address, a reset link is on its way.",
		"flow":    flow,
	})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	flow, err := h.authService.ResetPassword(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Your password has been reset. You can sign in now.",
		"flow":    flow,
	})
}

func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if err := h.authService.ResendVerification(r.Context(), req.Email); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "If the account is awaiting verification, a new email has been sent"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.authService.Me(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Flow describes an auth view, or the view reached from it when the event
// query parameter is set.
func Flow(w http.ResponseWriter, r *http.Request) {
	view, ok := authflow.Parse(chi.URLParam(r, "view"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Unknown view", r))
		return
	}

	event := r.URL.Query().Get("event")
	if event == "" {
		writeJSON(w, http.StatusOK, services.FlowFor(view, ""))
		return
	}

	state, err := services.Flow(view, authflow.Event(event), r.URL.Query().Get("email"))
	if err != nil {
		if errors.Is(err, authflow.ErrInvalidTransition) {
			writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Event not allowed here",
				map[string]string{"event": err.Error()}, r))
			return
		}
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get(middleware.RequestIDHeader),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	resp := errorResp(code, message, r)
	resp.Error.Fields = fields
	return resp
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr     *services.ValidationError
		conflict *services.ConflictError
		nf       *services.NotFoundError
		unauth   *services.UnauthorizedError
		forbid   *services.ForbiddenError
		limited  *services.RateLimitError
		gerr     *services.GenerationError
	)
	switch {
	case errors.As(err, &verr):
		msg := verr.Message
		if msg == "" {
			msg = "Validation failed"
		}
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", msg, verr.Fields, r))
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResp("CONFLICT", conflict.Message, r))
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", nf.Message, r))
	case errors.As(err, &unauth):
		writeJSON(w, http.StatusUnauthorized, errorResp("UNAUTHORIZED", unauth.Message, r))
	case errors.As(err, &forbid):
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", forbid.Message, r))
	case errors.As(err, &limited):
		writeJSON(w, http.StatusTooManyRequests, errorResp("RATE_LIMITED", limited.Message, r))
	case errors.As(err, &gerr):
		resp := errorResp("GENERATION_FAILED", generationMessage(gerr), r)
		resp.Error.Kind = string(gerr.Kind)
		writeJSON(w, http.StatusBadGateway, resp)
	default:
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}

func generationMessage(gerr *services.GenerationError) string {
	return "We could not generate the " + humanKind(gerr.Kind) + ". Please try again."
}

func humanKind(k services.Kind) string {
	switch k {
	case services.KindMCQs:
		return "quiz"
	case services.KindSemanticSearch:
		return "search results"
	case services.KindTutorAnswer:
		return "tutor answer"
	case services.KindStudyGuide:
		return "study guide"
	case services.KindEssayOutline:
		return "essay outline"
	case services.KindEssayArguments:
		return "essay arguments"
	case services.KindConceptMap:
		return "concept map"
	case services.KindLessonPlan:
		return "lesson plan"
	case services.KindStudyPlan:
		return "study plan"
	}
	return string(k)
}
