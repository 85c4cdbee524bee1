package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/papertrade/internal/common"
)

// responseWriter wraps http.ResponseWriter to capture status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// Flush lets the shutdown handler push its response before the server stops.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// recoveryMiddleware catches panics and returns 500.
func recoveryMiddleware(logger *common.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().
						Str("panic", fmt.Sprintf("%v", rec)).
						Str("path", r.URL.Path).
						Msg("Panic recovered in HTTP handler")
					WriteError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware adds CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Correlation-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// noCacheMiddleware marks every response as uncacheable.
func noCacheMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Expires", "0")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

// correlationIDMiddleware extracts or generates a correlation ID.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corrID := r.Header.Get("X-Request-ID")
		if corrID == "" {
			corrID = r.Header.Get("X-Correlation-ID")
		}
		if corrID == "" {
			corrID = uuid.New().String()[:8]
		}
		w.Header().Set("X-Correlation-ID", corrID)
		r = r.WithContext(common.WithCorrelationID(r.Context(), corrID))
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(logger *common.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			dur := time.Since(start)
			corrID := w.Header().Get("X-Correlation-ID")

			event := logger.Trace()
			if rw.statusCode >= 500 {
				event = logger.Error()
			} else if rw.statusCode >= 400 {
				event = logger.Info()
			}

			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("query", r.URL.RawQuery).
				Int("status", rw.statusCode).
				Int("bytes", rw.bytesWritten).
				Dur("duration", dur).
				Str("correlation_id", corrID).
				Msg("HTTP request")
		})
	}
}

// bearerTokenMiddleware checks for an Authorization: Bearer header and,
// if present, validates the JWT and populates UserContext from the token
// claims. Requests without the header pass through anonymously; protected
// handlers reject them via requireUser.
func (s *Server) bearerTokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		_, claims, err := validateJWT(tokenString, []byte(s.app.Config.Auth.JWTSecret))
		if err != nil {
			writeBearerChallenge(w, "invalid_token", "invalid or expired token")
			return
		}

		sub, _ := claims["sub"].(string)
		userID, err := strconv.ParseInt(sub, 10, 64)
		if err != nil || userID <= 0 {
			writeBearerChallenge(w, "invalid_token", "invalid token claims")
			return
		}

		if jti, _ := claims["jti"].(string); jti != "" && s.isRevoked(jti) {
			writeBearerChallenge(w, "invalid_token", "token has been revoked")
			return
		}

		// The account must still exist
		user, err := s.app.AccountService.GetUser(r.Context(), userID)
		if err != nil {
			writeBearerChallenge(w, "invalid_token", "user not found")
			return
		}

		uc := &common.UserContext{
			UserID:   user.ID,
			Username: user.Username,
		}
		r = r.WithContext(common.WithUserContext(r.Context(), uc))

		next.ServeHTTP(w, r)
	})
}

// writeBearerChallenge writes a 401 response with a WWW-Authenticate header.
func writeBearerChallenge(w http.ResponseWriter, errorCode, description string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer error="%s", error_description="%s"`, errorCode, description))
	WriteErrorWithCode(w, http.StatusUnauthorized, description, "unauthenticated")
}

// requireUser returns the authenticated user id, or writes a 401 and
// returns false.
func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := common.UserIDFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		WriteErrorWithCode(w, http.StatusUnauthorized, errUnauthenticated.Error(), "unauthenticated")
		return 0, false
	}
	return userID, true
}

// applyMiddleware wraps a handler with the middleware stack.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	// Apply in reverse order (last applied = first executed)
	handler = loggingMiddleware(s.logger)(handler)
	handler = s.bearerTokenMiddleware(handler)
	handler = correlationIDMiddleware(handler)
	handler = noCacheMiddleware(handler)
	handler = corsMiddleware(handler)
	handler = recoveryMiddleware(s.logger)(handler)
	return handler
}
