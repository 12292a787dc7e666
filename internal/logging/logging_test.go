package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestDefault(t *testing.T) {
	if Default(nil).Enabled(context.Background(), slog.LevelError) {
		t.Error("Default(nil) should discard")
	}
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if Default(l) != l {
		t.Error("Default should return a non-nil logger unchanged")
	}
	// Must not panic.
	Discard().Info("dropped")
}

// captureHandler counts records. WithAttrs clones share the count.
type captureHandler struct {
	mu *sync.Mutex
	n  *int
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{mu: &sync.Mutex{}, n: new(int)}
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(context.Context, slog.Record) error {
	h.mu.Lock()
	*h.n++
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return *h.n
}

func TestComponentFilterHandler(t *testing.T) {
	capture := newCaptureHandler()
	filter := NewComponentFilterHandler(capture, slog.LevelInfo)
	logger := slog.New(filter)
	build := logger.With("component", "preindex")
	reader := logger.With("component", "reverse-index")

	steps := []struct {
		name string
		do   func()
		want int
	}{
		{"info passes", func() { build.Info("x") }, 1},
		{"debug filtered", func() { build.Debug("x") }, 1},
		{"no component uses default", func() { logger.Debug("x") }, 1},
		{"inline component attr", func() { logger.Warn("x", "component", "preindex") }, 2},
		{"raise one component", func() { filter.SetLevel("preindex", slog.LevelDebug); build.Debug("x") }, 3},
		{"others unaffected", func() { reader.Debug("x") }, 3},
		{"grouped logger still filtered", func() { slog.New(filter.WithGroup("g")).Debug("x", "component", "reverse-index") }, 3},
		{"clear restores default", func() { filter.ClearLevel("preindex"); build.Debug("x") }, 3},
		{"clear unknown is harmless", func() { filter.ClearLevel("nonexistent") }, 3},
	}
	for _, s := range steps {
		s.do()
		if got := capture.count(); got != s.want {
			t.Fatalf("%s: %d records, want %d", s.name, got, s.want)
		}
	}

	if filter.Level("unknown") != slog.LevelInfo || filter.DefaultLevel() != slog.LevelInfo {
		t.Error("default level changed")
	}
}

func TestComponentFilterHandlerConcurrent(t *testing.T) {
	capture := newCaptureHandler()
	filter := NewComponentFilterHandler(capture, slog.LevelInfo)
	logger := slog.New(filter).With("component", "preindex")

	const goroutines, iterations = 8, 100
	var wg sync.WaitGroup
	for range goroutines {
		wg.Go(func() {
			for range iterations {
				logger.Info("message")
			}
		})
		wg.Go(func() {
			for range iterations {
				filter.SetLevel("preindex", slog.LevelDebug)
				filter.ClearLevel("preindex")
			}
		})
	}
	wg.Wait()

	if got := capture.count(); got != goroutines*iterations {
		t.Errorf("%d records, want %d", got, goroutines*iterations)
	}
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, filter := New(&buf, Options{
		Level:      "warn",
		Format:     "json",
		Components: map[string]string{"generation": "debug"},
	})
	logger.Info("hidden", "component", "preindex")
	logger.Debug("shown", "component", "generation")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "shown" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if filter.DefaultLevel() != slog.LevelWarn {
		t.Errorf("default level = %v", filter.DefaultLevel())
	}

	buf.Reset()
	text, _ := New(&buf, Options{})
	text.Info("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
