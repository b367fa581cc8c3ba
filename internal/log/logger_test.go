package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONLoggerCarriesComponentOnce(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Format: "json", Output: &buf, Level: slog.LevelDebug, Component: ComponentApp}).WithComponent(ComponentFetch)
	l.InfoContext(context.Background(), "Fetch applied", FieldQueryKey, "categorical")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if entry[FieldComponent] != ComponentFetch || entry[FieldQueryKey] != "categorical" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if strings.Count(buf.String(), `"component"`) != 1 {
		t.Fatalf("component should appear once: %s", buf.String())
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, Level: slog.LevelInfo, Component: ComponentApp})
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered: %q", buf.String())
	}
}

func TestMiddlewareStoresLogger(t *testing.T) {
	l := Nop().WithComponent(ComponentHTTP)
	var got *Logger
	h := Middleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if got == nil || got.Component() != ComponentHTTP {
		t.Fatalf("logger not propagated: %+v", got)
	}
	if FromContext(context.Background()).Component() != "unknown" {
		t.Fatalf("missing logger should fall back to default")
	}
}

func TestLogFields(t *testing.T) {
	f := NewFields().WithQuery("series", 3).WithOperation(OpApply).WithError(nil)
	if f[FieldGeneration] != uint64(3) || f[FieldOperation] != OpApply {
		t.Fatalf("unexpected fields %v", f)
	}
	if _, ok := f[FieldError]; ok {
		t.Fatalf("nil error should not be recorded")
	}
	if len(f.ToSlice()) != 2*len(f) {
		t.Fatalf("slice length mismatch")
	}
}
