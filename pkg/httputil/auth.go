package httputil

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/timeflow/timeflow-backend/pkg/actor"
	"github.com/timeflow/timeflow-backend/pkg/errors"
	"github.com/timeflow/timeflow-backend/pkg/logger"
)

// Claims are the access token claims read by the service. Tokens are issued
// by the auth service; only the fields needed to build an actor are decoded.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string   `json:"user_id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
	TenantID    string   `json:"tenant_id"`
}

// Authenticator validates HS256 bearer tokens
type Authenticator struct {
	secret []byte
	issuer string
	logger *logger.Logger
}

// NewAuthenticator creates an authenticator. An empty issuer accepts any.
func NewAuthenticator(secret, issuer string, log *logger.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, logger: log}
}

// Middleware validates the bearer token and stores the caller as the actor
// of the request.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			Error(w, errors.Unauthorized("missing authorization header"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			Error(w, errors.Unauthorized("invalid authorization header format"))
			return
		}

		claims, err := a.parse(parts[1])
		if err != nil {
			a.logger.Debug().Err(err).Msg("token validation failed")
			Error(w, err)
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			userID, err = uuid.Parse(claims.Subject)
		}
		if err != nil || userID == uuid.Nil {
			Error(w, errors.TokenInvalid())
			return
		}

		caller := &actor.Actor{ID: userID, Name: claims.Name, Permissions: claims.Permissions}
		if tenantID, err := uuid.Parse(claims.TenantID); err == nil {
			caller.TenantID = tenantID
		}

		next.ServeHTTP(w, r.WithContext(actor.WithActor(r.Context(), caller)))
	})
}

func (a *Authenticator) parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.TokenExpired()
		}
		return nil, errors.TokenInvalid()
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.TokenInvalid()
	}
	return claims, nil
}

// RequirePermission rejects callers whose actor holds none of perms.
func RequirePermission(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !actor.FromContext(r.Context()).CanAny(perms...) {
				Error(w, errors.Forbidden("missing permission "+strings.Join(perms, " or ")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
