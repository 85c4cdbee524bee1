package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobmcallan/papertrade/internal/app"
	"github.com/bobmcallan/papertrade/internal/server"
)

// testServer creates an httptest.Server with the full papertrade-server handler for testing.
func testServer(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()
	configPath := writeTestConfig(t)
	a, err := app.NewApp(configPath)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	srv := server.NewServer(a)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, a
}

// TestHealthEndpoint verifies GET /api/health returns 200 with {"status":"ok"}.
func TestHealthEndpoint(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if body["status"] != "ok" {
		t.Errorf("Expected status=ok, got %q", body["status"])
	}
}

// TestHealthEndpoint_MethodNotAllowed verifies POST to health returns 405.
func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Post(ts.URL+"/api/health", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for POST /api/health, got %d", resp.StatusCode)
	}
}

// TestRegisterAndBuy walks a new account through its first purchase over a
// real listener.
func TestRegisterAndBuy(t *testing.T) {
	ts, a := testServer(t)
	a.Market().SetPrice("AAA", "Triple A", 25)

	post := func(path, token string, body interface{}) *http.Response {
		t.Helper()
		b, _ := json.Marshal(body)
		req, _ := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST %s failed: %v", path, err)
		}
		return resp
	}

	resp := post("/api/auth/register", "", map[string]string{"username": "alice", "password": "pw", "confirmation": "pw"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201 from register, got %d", resp.StatusCode)
	}
	var session struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("Failed to decode session: %v", err)
	}

	buy := post("/api/trades/buy", session.Token, map[string]interface{}{"symbol": "AAA", "shares": 4})
	defer buy.Body.Close()
	if buy.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201 from buy, got %d", buy.StatusCode)
	}
	if cc := buy.Header.Get("Cache-Control"); cc != "no-cache, no-store, must-revalidate" {
		t.Errorf("Expected no-cache headers, got %q", cc)
	}
}

// --- test helpers ---

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PAPERTRADE_STORAGE_BACKEND", "")
	t.Setenv("PAPERTRADE_QUOTE_PROVIDER", "")
	t.Setenv("PAPERTRADE_DATA_PATH", "")

	os.MkdirAll(filepath.Join(dir, "logs"), 0755)

	config := `
[storage.badger]
path = "` + filepath.Join(dir, "data") + `"

[auth]
bcrypt_cost = 4

[logging]
level = "error"
outputs = ["console"]
file_path = "` + filepath.Join(dir, "logs", "papertrade.log") + `"
`
	configPath := filepath.Join(dir, "papertrade.toml")
	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}
