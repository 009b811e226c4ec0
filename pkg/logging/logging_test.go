package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_JSONAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", true, &buf)

	log.WithComponent("extractor").WithURL("https://example.com/p").WithDuration(1500*time.Millisecond).Info("done")

	out := buf.String()
	for _, want := range []string{`"component":"extractor"`, `"url":"https://example.com/p"`, `"duration_ms":1500`, `"msg":"done"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %s", out, want)
		}
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", false, &buf)

	log.Info("hidden")
	log.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn message should be written")
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	log := New("info", false, &buf).WithRequestID("abc")

	ctx := log.WithContext(context.Background())
	FromContext(ctx).Info("hello")

	if !strings.Contains(buf.String(), "request_id=abc") {
		t.Errorf("expected request id in output, got %q", buf.String())
	}

	if FromContext(context.Background()) == nil {
		t.Error("FromContext should fall back to a default logger")
	}
}
