package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
		wantCreds  string
		wantStatus int
	}{
		{"explicit origin", []string{"https://chat.example.com"}, "https://chat.example.com", http.MethodPost, "https://chat.example.com", "true", http.StatusTeapot},
		{"wildcard has no credentials", []string{"*"}, "https://other.example.com", http.MethodGet, "https://other.example.com", "", http.StatusTeapot},
		{"unknown origin", []string{"https://chat.example.com"}, "https://evil.example.com", http.MethodGet, "", "", http.StatusTeapot},
		{"preflight", []string{"https://chat.example.com"}, "https://chat.example.com", http.MethodOptions, "https://chat.example.com", "true", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/chat", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			CORS(tt.allowed)(next).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("allow-origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("allow-credentials = %q, want %q", got, tt.wantCreds)
			}
		})
	}
}
