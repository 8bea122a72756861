package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"dharani-backend/internal/models"
	"dharani-backend/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const UserContextKey contextKey = "user"

type UserClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

type tokenClaims struct {
	UserClaims
	jwt.RegisteredClaims
}

// Authenticator issues and validates HS256 session tokens.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	logger *zap.Logger
}

func NewAuthenticator(secret string, ttl time.Duration, logger *zap.Logger) *Authenticator {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, logger: logger}
}

// IssueToken signs a token for u.
func (a *Authenticator) IssueToken(u *models.User) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		UserClaims: UserClaims{UserID: u.ID, Email: u.Email, Role: u.Role},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseToken validates tokenString and returns its user claims.
func (a *Authenticator) ParseToken(tokenString string) (UserClaims, error) {
	if len(a.secret) == 0 {
		return UserClaims{}, errors.New("JWT secret not configured")
	}
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return UserClaims{}, fmt.Errorf("invalid token: %w", err)
	}
	if claims.UserID == "" || !models.ValidRole(claims.Role) {
		return UserClaims{}, errors.New("token is missing user_id or role")
	}
	return claims.UserClaims, nil
}

// Auth validates the bearer token and adds user claims to the context.
func (a *Authenticator) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			a.logger.Debug("❌ [AUTH] No authorization header", zap.String("path", r.URL.Path))
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			a.logger.Debug("❌ [AUTH] Invalid authorization header format", zap.Int("parts", len(parts)))
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		claims, err := a.ParseToken(parts[1])
		if err != nil {
			a.logger.Info("❌ [AUTH] Rejected token", zap.String("path", r.URL.Path), zap.Error(err))
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims)))
	})
}

// RequireRole allows the request through when the caller has one of roles
// (must be used after Auth).
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userClaims, ok := GetUserFromContext(r)
			if !ok {
				utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if !slices.Contains(roles, userClaims.Role) {
				utils.RespondError(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUser stores claims on ctx.
func WithUser(ctx context.Context, claims UserClaims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) (UserClaims, bool) {
	userClaims, ok := r.Context().Value(UserContextKey).(UserClaims)
	return userClaims, ok
}
