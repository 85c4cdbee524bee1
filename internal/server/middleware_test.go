package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/papertrade/internal/common"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	var seen string
	handler := correlationIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = common.CorrelationIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "abc123", rr.Header().Get("X-Correlation-ID"))
	assert.Equal(t, "abc123", seen)

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Len(t, rr.Header().Get("X-Correlation-ID"), 8)
	assert.Equal(t, rr.Header().Get("X-Correlation-ID"), seen)
}

func TestNoCacheMiddleware(t *testing.T) {
	handler := noCacheMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/portfolio", nil))

	assert.Equal(t, "no-cache, no-store, must-revalidate", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "0", rr.Header().Get("Expires"))
	assert.Equal(t, "no-cache", rr.Header().Get("Pragma"))
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	called := false
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/api/trades/buy", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, called)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(common.NewSilentLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/portfolio", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "boom")
}

func TestLoggingMiddleware_LogsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := common.NewLoggerWithOutput("info", &buf)
	handler := loggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "missing")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/quote/XYZ", nil))

	out := buf.String()
	assert.Contains(t, out, "HTTP request")
	assert.Contains(t, out, "/api/quote/XYZ")
	assert.Contains(t, out, "404")
}

func TestBearerTokenMiddleware(t *testing.T) {
	s, a := newTestServer(t)
	token := registerUser(t, s, "alice")

	sign := func(claims jwt.MapClaims) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.Config.Auth.JWTSecret))
		require.NoError(t, err)
		return tok
	}
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"non numeric sub", "Bearer " + sign(jwt.MapClaims{"sub": "alice", "iss": tokenIssuer, "exp": future}), http.StatusUnauthorized},
		{"deleted user", "Bearer " + sign(jwt.MapClaims{"sub": "999", "iss": tokenIssuer, "exp": future}), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/portfolio", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			s.Handler().ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			if tt.status == http.StatusUnauthorized {
				assert.True(t, strings.HasPrefix(rr.Header().Get("WWW-Authenticate"), "Bearer"))
			}
		})
	}
}

func TestRequireUser(t *testing.T) {
	rr := httptest.NewRecorder()
	_, ok := requireUser(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(common.WithUserContext(req.Context(), &common.UserContext{UserID: 7, Username: "bob"}))
	rr = httptest.NewRecorder()
	id, ok := requireUser(rr, req)
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)
}

func TestHealthAndVersion_Public(t *testing.T) {
	s, _ := newTestServer(t)

	rr := doJSON(t, s, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = doJSON(t, s, http.MethodGet, "/api/version", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"version"`)
}

func TestShutdown_SignalsChannel(t *testing.T) {
	s, _ := newTestServer(t)
	ch := make(chan struct{}, 1)
	s.SetShutdownChannel(ch)

	rr := doJSON(t, s, http.MethodPost, "/api/shutdown", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown channel was not signalled")
	}
}

func TestShutdown_DisabledInProduction(t *testing.T) {
	s, a := newTestServer(t)
	a.Config.Environment = "production"

	rr := doJSON(t, s, http.MethodPost, "/api/shutdown", "", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
