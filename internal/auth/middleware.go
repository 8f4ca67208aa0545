package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/filevault/internal/domain"
)

// UserLookup loads the profile of an authenticated user.
type UserLookup interface {
	// GetProfileByID returns the user without the password hash.
	GetProfileByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// TokenVerifier verifies session tokens.
type TokenVerifier interface {
	VerifyToken(token string) (uuid.UUID, error)
}

// Identity is the authenticated user attached to a request.
type Identity struct {
	// User is the profile loaded for the token subject.
	User *domain.User
}

type identityKey struct{}

// Middleware resolves the bearer token into an Identity.
// It performs exactly one user lookup per request. Missing headers, bad
// tokens and vanished users all receive the same 401 response.
func Middleware(verifier TokenVerifier, users UserLookup, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := resolve(r, verifier, users)
			if err != nil {
				logger.Debug().Err(err).Str("path", r.URL.Path).Msg("authentication failed")
				writeAuthError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func resolve(r *http.Request, verifier TokenVerifier, users UserLookup) (*Identity, error) {
	token, err := BearerToken(r)
	if err != nil {
		return nil, err
	}

	userID, err := verifier.VerifyToken(token)
	if err != nil {
		return nil, err
	}

	user, err := users.GetProfileByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, ErrUnknownSubject
		}
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	user.PasswordHash = ""

	return &Identity{User: user}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// IdentityFromContext returns the identity attached by Middleware.
func IdentityFromContext(ctx context.Context) (*Identity, error) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil || identity.User == nil {
		return nil, ErrUnauthorized
	}
	return identity, nil
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// writeAuthError writes the JSON error envelope used by the API.
func writeAuthError(w http.ResponseWriter, err error) {
	authErr := NewAuthError(err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(authErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"message": authErr.Message,
	})
}
