package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/filevault/internal/auth"
	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/service"
)

// TokenIssuer issues session tokens for authenticated users.
type TokenIssuer interface {
	IssueToken(userID uuid.UUID) (string, error)
}

// AuthHandler handles registration, login and token verification.
type AuthHandler struct {
	userService *service.UserService
	tokens      TokenIssuer
	logger      zerolog.Logger
}

// AuthHandlerConfig contains configuration for the auth handler.
type AuthHandlerConfig struct {
	UserService *service.UserService
	Tokens      TokenIssuer
	Logger      zerolog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(cfg AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		userService: cfg.UserService,
		tokens:      cfg.Tokens,
		logger:      cfg.Logger.With().Str("handler", "auth").Logger(),
	}
}

// RegisterRoutes registers auth routes. Verify runs behind requireAuth.
func (h *AuthHandler) RegisterRoutes(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	r.With(requireAuth).Get("/verify", h.handleVerify)
}

// =============================================================================
// Request / Response Bodies
// =============================================================================

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registeredUser struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	UploadCount int       `json:"uploadCount"`
}

type loggedInUser struct {
	ID               uuid.UUID `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	UploadsRemaining int       `json:"uploadsRemaining"`
}

type tokenResponse struct {
	Status string `json:"status"`
	Token  string `json:"token"`
	Data   any    `json:"data"`
}

// =============================================================================
// Handlers
// =============================================================================

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, h.logger)

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.userService.Register(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		writeError(w, logger, err)
		return
	}

	token, err := h.issue(user)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, tokenResponse{
		Status: statusSuccess,
		Token:  token,
		Data: registeredUser{
			ID:          user.ID,
			Email:       user.Email,
			Name:        user.Name,
			UploadCount: user.UploadCount,
		},
	})
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, h.logger)

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.userService.Authenticate(r.Context(), service.AuthenticateInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, logger, err)
		return
	}

	token, err := h.issue(user)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Status: statusSuccess,
		Token:  token,
		Data: loggedInUser{
			ID:               user.ID,
			Email:            user.Email,
			Name:             user.Name,
			UploadsRemaining: user.UploadsRemaining(),
		},
	})
}

func (h *AuthHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r.Context())
	if err != nil {
		writeError(w, h.logger, service.ErrUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": statusSuccess,
		"data": map[string]any{
			"message": "User authenticated successfully",
			"user":    identity.User,
		},
	})
}

func (h *AuthHandler) issue(user *domain.User) (string, error) {
	token, err := h.tokens.IssueToken(user.ID)
	if err != nil {
		return "", fmt.Errorf("%w: issue token: %v", service.ErrInternalError, err)
	}
	return token, nil
}
