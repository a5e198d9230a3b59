package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	config := DefaultConfig()
	config.Port = 0 // Use random port
	server := New(config, nil)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Port != 18765 {
		t.Errorf("Expected port 18765, got %d", config.Port)
	}

	if config.ReadTimeout != 10*time.Second {
		t.Errorf("Expected ReadTimeout 10s, got %v", config.ReadTimeout)
	}

	if config.WriteTimeout != 10*time.Second {
		t.Errorf("Expected WriteTimeout 10s, got %v", config.WriteTimeout)
	}

	if config.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected ShutdownTimeout 5s, got %v", config.ShutdownTimeout)
	}
}

func TestNew(t *testing.T) {
	config := DefaultConfig()
	server := New(config, nil)

	if server == nil {
		t.Fatal("Expected server to be created")
	}

	if server.port != config.Port {
		t.Errorf("Expected port %d, got %d", config.Port, server.port)
	}

	if server.running {
		t.Error("Expected server to not be running initially")
	}

	if server.GetMux() == nil {
		t.Error("Expected mux to exist before start")
	}
}

func TestStartStop(t *testing.T) {
	config := DefaultConfig()
	config.Port = 0
	server := New(config, nil)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	if !server.IsRunning() {
		t.Error("Expected server to be running")
	}

	if server.Port() == 0 {
		t.Error("Expected non-zero port")
	}

	// Try to start again (should fail)
	if err := server.Start(); err == nil {
		t.Error("Expected error when starting already running server")
	}

	if err := server.Stop(); err != nil {
		t.Errorf("Failed to stop server: %v", err)
	}

	if server.IsRunning() {
		t.Error("Expected server to be stopped")
	}

	// Stop again (should succeed, no-op)
	if err := server.Stop(); err != nil {
		t.Errorf("Expected no error when stopping already stopped server: %v", err)
	}
}

func TestURL(t *testing.T) {
	config := DefaultConfig()
	config.Port = 12345
	server := New(config, nil)

	expectedURL := "http://127.0.0.1:12345"
	if server.URL() != expectedURL {
		t.Errorf("Expected URL %s, got %s", expectedURL, server.URL())
	}
}

func TestServerServesFrontend(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL() + "/")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	html := string(body)
	if !strings.Contains(html, "<title>Beatkeeper</title>") {
		t.Errorf("Expected settings page, got %d bytes", len(html))
	}
	if !strings.Contains(html, "/api/status") {
		t.Error("Expected the page to poll the status API")
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantAllow  bool
		wantStatus int
	}{
		{"preflight localhost", http.MethodOptions, "http://127.0.0.1:8080", true, http.StatusOK},
		{"localhost no port", http.MethodGet, "http://localhost", true, http.StatusTeapot},
		{"foreign origin", http.MethodGet, "http://evil.example", false, http.StatusTeapot},
		{"lookalike host", http.MethodGet, "http://localhost.evil.example", false, http.StatusTeapot},
		{"no origin", http.MethodGet, "", false, http.StatusTeapot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			got := w.Header().Get("Access-Control-Allow-Origin")
			if tt.wantAllow && got != tt.origin {
				t.Errorf("Expected Access-Control-Allow-Origin %q, got %q", tt.origin, got)
			}
			if !tt.wantAllow && got != "" {
				t.Errorf("Expected no CORS header, got %q", got)
			}
			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestMultipleStartStop(t *testing.T) {
	config := DefaultConfig()
	config.Port = 0

	for i := 0; i < 3; i++ {
		server := New(config, nil)

		if err := server.Start(); err != nil {
			t.Fatalf("Iteration %d: Failed to start server: %v", i, err)
		}

		if err := server.Stop(); err != nil {
			t.Fatalf("Iteration %d: Failed to stop server: %v", i, err)
		}
	}
}

func TestPort(t *testing.T) {
	config := DefaultConfig()
	config.Port = 19999
	server := New(config, nil)

	// Before start, should return configured port
	if server.Port() != 19999 {
		t.Errorf("Expected port 19999 before start, got %d", server.Port())
	}

	// After start with port 0, should return assigned port
	if port := newTestServer(t).Port(); port == 0 {
		t.Error("Expected non-zero port after start")
	}
}

func TestRegisterAPIHandler(t *testing.T) {
	server := New(DefaultConfig(), nil)

	if err := server.RegisterAPIHandler("relative", http.NotFoundHandler()); err == nil {
		t.Error("Expected error for a relative path")
	}
	if err := server.RegisterAPIHandler("/nil", nil); err == nil {
		t.Error("Expected error for a nil handler")
	}

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("test ok"))
	})
	if err := server.RegisterAPIHandler("/test/handler", ok); err != nil {
		t.Fatalf("Failed to register handler: %v", err)
	}

	w := httptest.NewRecorder()
	server.GetMux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test/handler", nil))
	if w.Body.String() != "test ok" {
		t.Errorf("Expected 'test ok', got %q", w.Body.String())
	}
}

// Routes registered after Start are served
func TestRegisterAPIHandlerAfterStart(t *testing.T) {
	server := newTestServer(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("dynamic handler ok"))
	})
	if err := server.RegisterAPIHandler("/dynamic/test", handler); err != nil {
		t.Fatalf("Failed to register handler after start: %v", err)
	}

	resp, err := http.Get(server.URL() + "/dynamic/test")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "dynamic handler ok" {
		t.Errorf("Expected response 'dynamic handler ok', got '%s'", string(body))
	}
}
