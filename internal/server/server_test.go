package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/papertrade/internal/app"
	"github.com/bobmcallan/papertrade/internal/common"
)

// newTestServer wires a full app against a temporary badger store and the
// simulated market, with prices pinned by the caller via Market().SetPrice.
func newTestServer(t *testing.T) (*Server, *app.App) {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Storage.Badger.Path = filepath.Join(t.TempDir(), "ledger")
	config.Auth.BcryptCost = 4
	config.Auth.JWTSecret = "test-secret"
	config.Quotes.Cache = common.CacheNone

	a, err := app.NewAppWithConfig(config, common.NewSilentLogger())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	return NewServer(a), a
}

// doJSON sends a request through the full middleware stack.
func doJSON(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

// registerUser registers username and returns the session token.
func registerUser(t *testing.T, s *Server, username string) string {
	t.Helper()
	rr := doJSON(t, s, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username":     username,
		"password":     "secret",
		"confirmation": "secret",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp
}
