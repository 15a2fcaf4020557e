package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
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
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewHandler_Formats(t *testing.T) {
	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{"json", func(t *testing.T, out string) {
			var rec map[string]any
			if err := json.Unmarshal([]byte(out), &rec); err != nil {
				t.Fatalf("json output not parseable: %v (%q)", err, out)
			}
			if rec["import_id"] != "abc" {
				t.Errorf("import_id = %v, want abc", rec["import_id"])
			}
		}},
		{"text", func(t *testing.T, out string) {
			if !strings.Contains(out, "import_id=abc") {
				t.Errorf("text output %q missing import_id=abc", out)
			}
		}},
		{"console", func(t *testing.T, out string) {
			if !strings.Contains(out, "import published") || !strings.Contains(out, "abc") {
				t.Errorf("console output %q missing message or field", out)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(NewHandler(&buf, "info", tt.format))
			logger.Info("import published", "import_id", "abc")
			tt.check(t, buf.String())
		})
	}
}

func TestNewHandler_LevelFilters(t *testing.T) {
	for _, format := range []string{"text", "json", "console"} {
		var buf bytes.Buffer
		logger := slog.New(NewHandler(&buf, "warn", format))
		logger.Info("row skipped")
		if buf.Len() != 0 {
			t.Errorf("%s handler wrote info record at warn level: %q", format, buf.String())
		}
	}
}

func TestFromContext_RequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(NewHandler(&buf, "info", "text")))
	t.Cleanup(func() { slog.SetDefault(prev) })

	var ctx context.Context
	h := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	WithFields(ctx, "import_id", "abc").Info("import created")
	out := buf.String()
	if !strings.Contains(out, "request_id=") {
		t.Errorf("output %q missing request_id", out)
	}
	if !strings.Contains(out, "import_id=abc") {
		t.Errorf("output %q missing import_id", out)
	}
}
