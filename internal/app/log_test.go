package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestHandler(w *bytes.Buffer, instance string) *lineHandler {
	return &lineHandler{mu: &sync.Mutex{}, w: w, instance: instance, level: slog.LevelDebug}
}

func TestLineHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name     string
		instance string
		level    slog.Level
		message  string
		attrs    []slog.Attr
		want     string
	}{
		{
			name:     "basic info message",
			instance: "node-a",
			level:    slog.LevelInfo,
			message:  "commit processed",
			want:     "2024-06-15T14:30:45Z\tINFO\tnode-a\tcommit processed\n",
		},
		{
			name:     "debug level",
			instance: "node-b",
			level:    slog.LevelDebug,
			message:  "item committed",
			want:     "2024-06-15T14:30:45Z\tDEBUG\tnode-b\titem committed\n",
		},
		{
			name:     "with record attrs",
			instance: "node-c",
			level:    slog.LevelInfo,
			message:  "commit processed",
			attrs:    []slog.Attr{slog.Int64("workspace", 7), slog.Int("items", 3)},
			want:     "2024-06-15T14:30:45Z\tINFO\tnode-c\tcommit processed\tworkspace=7\titems=3\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newTestHandler(&buf, tt.instance)

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestLineHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := newTestHandler(&buf, "node-1")

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "broker")}).(*lineHandler)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "published", 0)
	r.AddAttrs(slog.String("group", "42"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=broker") {
		t.Errorf("expected pre-set attr component=broker, got: %q", got)
	}
	if !strings.Contains(got, "group=42") {
		t.Errorf("expected record attr group=42, got: %q", got)
	}
}

func TestLineHandler_WithAttrs_doesNotMutateOriginal(t *testing.T) {
	var buf bytes.Buffer
	h := newTestHandler(&buf, "node-1")
	h.attrs = []slog.Attr{slog.String("a", "1")}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*lineHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
}

func TestLineHandler_Enabled(t *testing.T) {
	h := &lineHandler{level: slog.LevelWarn}

	tests := []struct {
		level slog.Level
		want  bool
	}{
		{slog.LevelDebug, false},
		{slog.LevelInfo, false},
		{slog.LevelWarn, true},
		{slog.LevelError, true},
	}
	for _, tt := range tests {
		if got := h.Enabled(context.Background(), tt.level); got != tt.want {
			t.Errorf("Enabled(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "debug", want: slog.LevelDebug},
		{in: "WARN", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()

	logger, f, err := newLogger(dir, "test-instance", "info")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	logger.Info("service ready", "pool_size", 2)
	logger.Debug("filtered out")

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	got := string(data)
	if !strings.Contains(got, "\tINFO\ttest-instance\tservice ready\tpool_size=2\n") {
		t.Errorf("log file missing info line: %q", got)
	}
	if strings.Contains(got, "filtered out") {
		t.Errorf("debug line written at info level: %q", got)
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, _, err := newLogger(t.TempDir(), "x", "chatty"); err == nil {
		t.Fatal("expected error for invalid level")
	}
}
