package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"kairon-backend/internal/authflow"
	"kairon-backend/internal/database"
	"kairon-backend/internal/logger"
	"kairon-backend/internal/middleware"
	"kairon-backend/internal/models"
	"kairon-backend/internal/repository"
)

const (
	verifyTokenTTL  = 24 * time.Hour
	resetTokenTTL   = time.Hour
	refreshTokenTTL = 7 * 24 * time.Hour
	resendCooldown  = 60 * time.Second
	bcryptCost      = 12
)

// UserStore is implemented by repository.UserRepo and MemoryUserStore.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	VerifyEmail(ctx context.Context, userID uuid.UUID) error
	UpdateLastLogin(ctx context.Context, userID uuid.UUID) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
}

type AuthService struct {
	users UserStore
	redis *redis.Client
	jwt   *middleware.JWTAuth
	email *EmailService
	log   *logger.Logger
}

func NewAuthService(users UserStore, redisClient *redis.Client, jwt *middleware.JWTAuth, email *EmailService, log *logger.Logger) *AuthService {
	return &AuthService{
		users: users,
		redis: redisClient,
		jwt:   jwt,
		email: email,
		log:   log,
	}
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an unverified account and mails a verification link.
// The returned flow state points the client at the verify-email view.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, *models.FlowState, error) {
	req.Email = normalizeEmail(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)

	fieldErrors := make(map[string]string)
	if req.FullName == "" {
		fieldErrors["full_name"] = "Full name is required"
	}
	if !emailRegex.MatchString(req.Email) {
		fieldErrors["email"] = "Invalid email format"
	}
	if err := validatePassword(req.Password); err != nil {
		fieldErrors["password"] = err.Error()
	}
	if len(fieldErrors) > 0 {
		return nil, nil, &ValidationError{Message: "Please check the highlighted fields", Fields: fieldErrors}
	}

	_, err := s.users.GetByEmail(ctx, req.Email)
	if err == nil {
		return nil, nil, &ConflictError{Message: "Email already in use"}
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	if err := s.sendVerification(ctx, user); err != nil {
		return nil, nil, err
	}

	flow, err := Flow(authflow.SignUp, authflow.SignUpSucceeded, user.Email)
	if err != nil {
		return nil, nil, err
	}
	return user, flow, nil
}

func (s *AuthService) sendVerification(ctx context.Context, user *models.User) error {
	token, err := generateToken(32)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, database.VerifyTokenKey(token), user.ID.String(), verifyTokenTTL).Err(); err != nil {
		return fmt.Errorf("failed to store verification token: %w", err)
	}

	go func() {
		if err := s.email.SendVerificationEmail(user.Email, token); err != nil {
			s.log.Error("failed to send verification email", "user_id", user.ID, "error", err)
		}
	}()
	return nil
}

// VerifyEmail consumes a verification token and signs the user in.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*models.AuthTokens, error) {
	if strings.TrimSpace(token) == "" {
		return nil, newValidationError("token", "Verification token is required")
	}
	userID, err := s.consumeToken(ctx, database.VerifyTokenKey(token))
	if err != nil {
		return nil, &NotFoundError{Message: "Invalid or expired verification token"}
	}

	if err := s.users.VerifyEmail(ctx, userID); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.issueTokens(ctx, user)
}

func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthTokens, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &UnauthorizedError{Message: "Invalid email or password"}
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, &UnauthorizedError{Message: "Invalid email or password"}
	}
	if !user.IsVerified {
		return nil, &ForbiddenError{Message: "Please verify your email before signing in."}
	}
	if !user.IsActive {
		return nil, &UnauthorizedError{Message: "Account is deactivated"}
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		s.log.Warn("failed to record last login", "user_id", user.ID, "error", err)
	}
	return s.issueTokens(ctx, user)
}

// ForgotPassword mails a reset link when the address belongs to an account.
// The response is the same either way so the endpoint cannot be used to
// probe for registered addresses.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (*models.FlowState, error) {
	email = normalizeEmail(email)
	if !emailRegex.MatchString(email) {
		return nil, newValidationError("email", "Invalid email format")
	}

	flow, err := Flow(authflow.ForgotPassword, authflow.ForgotPasswordSucceeded, email)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return flow, nil
		}
		return nil, err
	}

	token, err := generateToken(32)
	if err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, database.ResetTokenKey(token), user.ID.String(), resetTokenTTL).Err(); err != nil {
		return nil, fmt.Errorf("failed to store reset token: %w", err)
	}

	go func() {
		if err := s.email.SendPasswordResetEmail(user.Email, token); err != nil {
			s.log.Error("failed to send password reset email", "user_id", user.ID, "error", err)
		}
	}()
	return flow, nil
}

// ResetPassword sets a new password from a reset token. Every refresh token
// issued before stays valid until it expires.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) (*models.FlowState, error) {
	if err := validatePassword(req.Password); err != nil {
		return nil, newValidationError("password", err.Error())
	}
	if strings.TrimSpace(req.Token) == "" {
		return nil, newValidationError("token", "Reset token is required")
	}

	userID, err := s.consumeToken(ctx, database.ResetTokenKey(req.Token))
	if err != nil {
		return nil, &NotFoundError{Message: "Invalid or expired reset token"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return nil, err
	}

	return Flow(authflow.ResetPassword, authflow.PasswordResetSucceeded, "")
}

// RefreshToken rotates a refresh token: the old one is consumed.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*models.AuthTokens, error) {
	userID, err := s.consumeToken(ctx, database.RefreshTokenKey(refreshToken))
	if err != nil {
		return nil, &UnauthorizedError{Message: "Invalid or expired refresh token. Please log in again."}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &UnauthorizedError{Message: "Invalid or expired refresh token. Please log in again."}
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, &UnauthorizedError{Message: "Account is deactivated"}
	}
	return s.issueTokens(ctx, user)
}

func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	return s.redis.Del(ctx, database.RefreshTokenKey(refreshToken)).Err()
}

func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Message: "User not found"}
		}
		return nil, err
	}
	return user, nil
}

func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if user.IsVerified {
		return &ConflictError{Message: "Email is already verified"}
	}

	ok, err := s.redis.SetNX(ctx, database.ResendLimitKey(user.ID), "1", resendCooldown).Result()
	if err != nil {
		return fmt.Errorf("failed to check resend limit: %w", err)
	}
	if !ok {
		return &RateLimitError{Message: "Please wait 60 seconds before requesting another verification email"}
	}
	return s.sendVerification(ctx, user)
}

// consumeToken reads and deletes key in one step so a token is usable once.
func (s *AuthService) consumeToken(ctx context.Context, key string) (uuid.UUID, error) {
	raw, err := s.redis.GetDel(ctx, key).Result()
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(raw)
}

func (s *AuthService) issueTokens(ctx context.Context, user *models.User) (*models.AuthTokens, error) {
	accessToken, err := s.jwt.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := generateToken(64)
	if err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, database.RefreshTokenKey(refreshToken), user.ID.String(), refreshTokenTTL).Err(); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &models.AuthTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(middleware.AccessTokenTTL.Seconds()),
	}, nil
}

// Flow fires ev from view and describes the resulting view for the client.
func Flow(view authflow.View, ev authflow.Event, email string) (*models.FlowState, error) {
	m := authflow.Resume(view, email)
	if err := m.Fire(ev, email); err != nil {
		return nil, err
	}
	return FlowFor(m.View(), m.Email()), nil
}

// FlowFor describes view without firing anything.
func FlowFor(view authflow.View, email string) *models.FlowState {
	allowed := authflow.Allowed(view)
	events := make([]string, len(allowed))
	for i, ev := range allowed {
		events[i] = string(ev)
	}
	return &models.FlowState{View: string(view), Allowed: events, Email: email}
}

func generateToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func validatePassword(pw string) error {
	if len(pw) < 8 {
		return fmt.Errorf("Password must be at least 8 characters")
	}
	for _, ch := range pw {
		if unicode.IsDigit(ch) {
			return nil
		}
	}
	return fmt.Errorf("Password must contain at least one number")
}
