package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"podpiska-billing/internal/common/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const (
	ctxRequestID contextKey = "requestId"
	ctxClaims    contextKey = "claims"
)

const (
	RoleAdmin   = "admin"
	RoleService = "service"
)

// Claims are the bearer token claims. Subject is the Telegram user id for
// end-user tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token. Used by operator tooling and tests.
func IssueToken(secret []byte, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Recovery turns a handler panic into a 500 reply.
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic while serving request", map[string]interface{}{
						"panic":     fmt.Sprint(rec),
						"path":      r.URL.Path,
						"requestId": requestID(r.Context()),
						"stack":     string(debug.Stack()),
					})
					JSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestLogger assigns a request id and logs method, path, status and
// duration of each request.
func RequestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)

			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), ctxRequestID, id)))

			log.Info("http request", map[string]interface{}{
				"requestId": id,
				"method":    r.Method,
				"path":      r.URL.Path,
				"status":    ww.status,
				"duration":  time.Since(start).Round(time.Millisecond).String(),
			})
		})
	}
}

// Auth requires a valid HS256 bearer token. With an empty secret every
// request is refused, since any token signed with the empty key would verify.
func Auth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				JSON(w, http.StatusUnauthorized, ErrorResponse{Error: "authentication is not configured"})
				return
			}
			header := r.Header.Get("Authorization")
			if header == "" {
				JSON(w, http.StatusUnauthorized, ErrorResponse{Error: "no token provided"})
				return
			}
			scheme, raw, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				JSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid authorization header"})
				return
			}

			claims := &Claims{}
			_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil {
				JSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid or expired token"})
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxClaims, claims)))
		})
	}
}

// AdminOnly must run after Auth.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		if claims == nil || claims.Role != RoleAdmin {
			JSON(w, http.StatusForbidden, ErrorResponse{Error: "forbidden: admin access required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFrom(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ctxClaims).(*Claims)
	return claims
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestID).(string)
	return id
}

// mayActFor reports whether the caller may act on userID: admins and the
// bot backend act for anyone, users only for themselves.
func mayActFor(ctx context.Context, userID int64) bool {
	claims := claimsFrom(ctx)
	if claims == nil {
		return false
	}
	switch claims.Role {
	case RoleAdmin, RoleService:
		return true
	}
	return claims.Subject == strconv.FormatInt(userID, 10)
}
