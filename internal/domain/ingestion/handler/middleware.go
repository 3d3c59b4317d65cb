package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/service"
)

type contextKey string

const callerKey contextKey = "ingestion_caller"

var errUnauthenticated = errors.New("missing or invalid bearer token")

// Claims is the access token payload. Subject carries the user id.
type Claims struct {
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens and turns them into a service.Caller
type Authenticator struct {
	secret    []byte
	adminRole string
	logger    *slog.Logger
}

// NewAuthenticator creates an authenticator. adminRole grants access to every session.
func NewAuthenticator(secret []byte, adminRole string, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{secret: secret, adminRole: adminRole, logger: logger}
}

// Caller parses a raw token
func (a *Authenticator) Caller(token string) (service.Caller, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return service.Caller{}, errUnauthenticated
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return service.Caller{}, errUnauthenticated
	}
	return service.Caller{
		UserID:  userID,
		IsAdmin: a.adminRole != "" && claims.Role == a.adminRole,
		Email:   claims.Email,
	}, nil
}

// Middleware rejects requests without a valid bearer token
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, errUnauthenticated.Error())
			return
		}

		caller, err := a.Caller(token)
		if err != nil {
			a.logger.Debug("rejected bearer token", slog.String("path", r.URL.Path))
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// UnaryInterceptor authenticates RPCs the same way Middleware does for REST calls
func (a *Authenticator) UnaryInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			token, ok := bearerToken(req.Header().Get("Authorization"))
			if !ok {
				return nil, connect.NewError(connect.CodeUnauthenticated, errUnauthenticated)
			}
			caller, err := a.Caller(token)
			if err != nil {
				a.logger.Debug("rejected bearer token", slog.String("procedure", req.Spec().Procedure))
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}
			return next(WithCaller(ctx, caller), req)
		}
	}
}

func bearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

// WithCaller stores caller in ctx
func WithCaller(ctx context.Context, caller service.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext returns the authenticated caller
func CallerFromContext(ctx context.Context) (service.Caller, bool) {
	c, ok := ctx.Value(callerKey).(service.Caller)
	return c, ok
}

// RateLimit sheds load above the limiter's rate with 429
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
