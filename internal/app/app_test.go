package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"manifest-extractor-go/pkg/config"
	"manifest-extractor-go/pkg/handlers/api"
	"manifest-extractor-go/pkg/logging"
)

func TestNewWithConfig(t *testing.T) {
	a, err := NewWithConfig(config.Default(), logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK || string(body) != api.Banner {
		t.Errorf("GET / = %d %q", rec.Code, body)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("handler should include the middleware chain")
	}
	if a.Ctx.Extractor == nil {
		t.Error("extractor not wired into the app context")
	}
}

func TestRegisterBackends(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		domains []string
		want    []string
		wantErr bool
	}{
		{name: "vm only", backend: config.BackendVM, want: []string{"vm"}},
		{name: "chrome for domains", backend: config.BackendVM, domains: []string{"heavy.example.com"}, want: []string{"chrome", "vm"}},
		{name: "chrome fallback", backend: config.BackendChrome, want: []string{"vm", "chrome"}},
		{name: "unknown backend", backend: "lynx", domains: []string{"x.example.com"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.SandboxBackend = tt.backend
			cfg.Chrome.Domains = tt.domains

			reg, err := registerBackends(cfg, nil, logging.Discard())
			if (err != nil) != tt.wantErr {
				t.Fatalf("registerBackends() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer reg.Close()

			if got := reg.Names(); !slices.Equal(got, tt.want) {
				t.Errorf("Names() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunServerless(t *testing.T) {
	cfg := config.Default()
	cfg.Serverless = true
	a, err := NewWithConfig(cfg, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown()

	if err := a.Run(context.Background()); err != nil {
		t.Errorf("Run() = %v", err)
	}
}
