package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"wayfarer-planner/pkg/logging"
)

type requesterKey struct{}

// UserIDHeader identifies the caller when no JWT secret is configured.
const UserIDHeader = "X-User-ID"

// Claims carried by access tokens. UserID wins over the registered subject.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) requester() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// GenerateToken signs an HS256 token for userID.
func GenerateToken(userID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ValidateToken parses an HS256 token and returns its claims.
func ValidateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.requester() == "" {
		return nil, jwt.ErrTokenMalformed
	}
	return claims, nil
}

// Authenticate resolves the requester of every request. With a secret it requires a Bearer
// token; without one it trusts the X-User-ID header, which is only suitable behind a
// gateway that sets it.
func Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requester, err := resolveRequester(r, secret)
			if err != nil {
				logging.L(r.Context()).Info("unauthorized", zap.Error(err))
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}

			ctx := WithRequesterID(r.Context(), requester)
			ctx = logging.WithFields(ctx, zap.String("user_id", requester))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveRequester(r *http.Request, secret string) (string, error) {
	if secret == "" {
		id := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if id == "" {
			return "", errors.New(UserIDHeader + " header required")
		}
		return id, nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header required")
	}
	scheme, tokenString, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
		return "", errors.New("invalid authorization header format")
	}
	claims, err := ValidateToken(strings.TrimSpace(tokenString), secret)
	if err != nil {
		return "", errors.New("invalid token")
	}
	return claims.requester(), nil
}

// WithRequesterID stores the authenticated requester in ctx.
func WithRequesterID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requesterKey{}, id)
}

// RequesterID returns the authenticated requester, or "".
func RequesterID(ctx context.Context) string {
	id, _ := ctx.Value(requesterKey{}).(string)
	return id
}
