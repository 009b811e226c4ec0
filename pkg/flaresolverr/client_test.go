package flaresolverr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"manifest-extractor-go/pkg/logging"
)

func TestClient_Solve_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1" {
			t.Errorf("expected path /v1, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Cmd != "request.get" || req.URL != "https://embed.example.com/e/1" {
			t.Errorf("unexpected request %+v", req)
		}
		if req.MaxTimeout != 30000 {
			t.Errorf("MaxTimeout = %d, want 30000", req.MaxTimeout)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response{
			Status: "ok",
			Solution: Solution{
				Status:   200,
				Response: `<script>var f="https://cdn.example.com/a.m3u8"</script>`,
				Cookies:  []Cookie{{Name: "cf_clearance", Value: "x"}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 30*time.Second, nil, logging.Discard())

	sol, err := client.Solve(context.Background(), "https://embed.example.com/e/1")
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if sol.Status != 200 || !strings.Contains(sol.Response, "a.m3u8") {
		t.Errorf("unexpected solution %+v", sol)
	}
	if len(sol.Cookies) != 1 {
		t.Errorf("expected 1 cookie, got %d", len(sol.Cookies))
	}
}

func TestClient_Solve_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantMsg string
	}{
		{
			name: "challenge failed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(response{Status: "error", Message: "Cloudflare challenge failed"})
			},
			wantMsg: "flaresolverr error: Cloudflare challenge failed",
		},
		{
			name: "http error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantMsg: "flaresolverr returned status 500",
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("{"))
			},
			wantMsg: "failed to parse response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := NewClient(server.URL, time.Second, nil, logging.Discard())
			_, err := client.Solve(context.Background(), "https://embed.example.com")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %v, want %q", err, tt.wantMsg)
			}
		})
	}
}

func TestClient_NotConfigured(t *testing.T) {
	client := NewClient("", time.Second, nil, logging.Discard())
	if client.IsConfigured() {
		t.Error("empty base URL should not be configured")
	}
	if _, err := client.Solve(context.Background(), "https://x"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Solve() error = %v, want ErrNotConfigured", err)
	}

	var nilClient *Client
	if nilClient.IsConfigured() {
		t.Error("nil client should not be configured")
	}
}
