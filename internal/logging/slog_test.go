package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func debugLogger(buf *bytes.Buffer) *SlogLogger {
	return NewSlogLogger(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func TestSlogLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		log   func(l Logger, ctx context.Context)
		want  []string
	}{
		{"DEBUG", func(l Logger, ctx context.Context) { l.Debug(ctx, "clipboard changed", "kind", "text") }, []string{"msg=\"clipboard changed\"", "kind=text"}},
		{"INFO", func(l Logger, ctx context.Context) { l.Info(ctx, "history entry stored", "id", 7) }, []string{"msg=\"history entry stored\"", "id=7"}},
		{"WARN", func(l Logger, ctx context.Context) { l.Warn(ctx, "keyring unavailable") }, []string{"msg=\"keyring unavailable\""}},
		{"ERROR", func(l Logger, ctx context.Context) { l.Error(ctx, "paste failed", "error", "exit 1") }, []string{"msg=\"paste failed\"", "error=\"exit 1\""}},
	}

	for _, tc := range tests {
		t.Run(tc.level, func(t *testing.T) {
			var buf bytes.Buffer
			tc.log(debugLogger(&buf), context.Background())

			out := buf.String()
			if !strings.Contains(out, "level="+tc.level) {
				t.Fatalf("expected level=%s in output:\n%s", tc.level, out)
			}
			for _, s := range tc.want {
				if !strings.Contains(out, s) {
					t.Fatalf("expected %s in output:\n%s", s, out)
				}
			}
		})
	}
}

func TestSlogLogger_WithKeepsModule(t *testing.T) {
	var buf bytes.Buffer
	log := debugLogger(&buf).With("module", "controller")

	log.Info(context.Background(), "command handled", "command", "paste")
	log.With("command_id", "abc").Warn(context.Background(), "slow command")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d:\n%s", len(lines), buf.String())
	}
	for _, line := range lines {
		if !strings.Contains(line, "module=controller") {
			t.Fatalf("module attribute lost: %s", line)
		}
	}
	if !strings.Contains(lines[1], "command_id=abc") {
		t.Fatalf("nested With attribute missing: %s", lines[1])
	}
}

func TestNew_FormatsAndLevels(t *testing.T) {
	var buf bytes.Buffer

	l, err := New(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Info(context.Background(), "hidden")
	l.Warn(context.Background(), "shown", "module", "monitor")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line must be filtered at warn level:\n%s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"module":"monitor"`) {
		t.Fatalf("expected json warn line, got:\n%s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_RejectsUnknownValues(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNop_Discards(t *testing.T) {
	var l Logger = Nop()
	l.With("k", "v").Error(context.Background(), "nothing")
}
