package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// mockPinger はPingerのモック実装。
type mockPinger struct {
	pingFn func(ctx context.Context) error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.pingFn(ctx)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestHealthHandler_Ping(t *testing.T) {
	h := NewHealthHandler(nil, discardLogger())

	w := httptest.NewRecorder()
	h.Ping(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("got %d %q, want 200 OK", w.Code, w.Body.String())
	}
}

func TestHealthHandler_Health(t *testing.T) {
	tests := []struct {
		name       string
		pinger     Pinger
		wantStatus int
		wantBody   string
	}{
		{"in-memory", nil, http.StatusOK, "ok"},
		{"database up", &mockPinger{pingFn: func(context.Context) error { return nil }}, http.StatusOK, "ok"},
		{"database down", &mockPinger{pingFn: func(context.Context) error { return errors.New("connection refused") }}, http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.pinger, discardLogger())

			w := httptest.NewRecorder()
			h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp map[string]string
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["status"] != tt.wantBody {
				t.Errorf("status field = %q, want %q", resp["status"], tt.wantBody)
			}
		})
	}
}

func TestBootstrapHandler_Ubuntu(t *testing.T) {
	h := NewBootstrapHandler("http://map.example.com:8080/")

	w := httptest.NewRecorder()
	h.Ubuntu(w, httptest.NewRequest(http.MethodGet, "/bootstrap/ubuntu", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, "#!") {
		t.Errorf("script should start with a shebang, got %q", body[:min(len(body), 20)])
	}
	if !strings.Contains(body, `networkMapURL = "http://map.example.com:8080"`) {
		t.Error("script should point the node at the configured base URL")
	}
	if !strings.Contains(body, "http://map.example.com:8080/truststore") {
		t.Error("script should download the truststore")
	}
}

func TestBootstrapHandler_Ubuntu_MissingBaseURL(t *testing.T) {
	h := NewBootstrapHandler("")

	w := httptest.NewRecorder()
	h.Ubuntu(w, httptest.NewRequest(http.MethodGet, "/bootstrap/ubuntu", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
