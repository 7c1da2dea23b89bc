package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: "JSON", Output: &buf})

	l.With(String("component", "engine")).Info(context.Background(), "simulation started",
		Int("actors", 3),
		Int64("seed", 42),
		Float("timestep", 0.1),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "simulation started" || rec["component"] != "engine" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if rec["actors"] != float64(3) || rec["seed"] != float64(42) || rec["timestep"] != 0.1 {
		t.Fatalf("fields not logged: %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level  string
		hidden string
		shown  string
	}{
		{level: "warn", hidden: "info line", shown: "warn line"},
		{level: "WARNING", hidden: "info line", shown: "warn line"},
		{level: "error", hidden: "warn line", shown: "error line"},
		{level: "bogus", hidden: "debug line", shown: "info line"},
	}
	for _, tc := range tests {
		t.Run(tc.level, func(t *testing.T) {
			var buf bytes.Buffer
			l := New(Config{Level: tc.level, Output: &buf})
			ctx := context.Background()
			l.Debug(ctx, "debug line")
			l.Info(ctx, "info line")
			l.Warn(ctx, "warn line")
			l.Error(ctx, "error line")

			out := buf.String()
			if strings.Contains(out, tc.hidden) || !strings.Contains(out, tc.shown) {
				t.Fatalf("level %q filtering failed: %q", tc.level, out)
			}
		})
	}
}

func TestWithRunLoggerAttachesID(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	ctx, l := WithRunLogger(context.Background(), base)
	id := RunIDFromContext(ctx)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("run_id %q is not a uuid: %v", id, err)
	}

	// A second call keeps the existing ID.
	ctx2, _ := WithRunLogger(ctx, base)
	if got := RunIDFromContext(ctx2); got != id {
		t.Fatalf("WithRunLogger replaced id %q with %q", id, got)
	}

	l.Info(ctx, "hello")
	if !strings.Contains(buf.String(), id) {
		t.Fatalf("log line missing run_id: %q", buf.String())
	}
}

func TestNoopAndNilContext(t *testing.T) {
	Noop().With(String("a", "b")).Error(context.Background(), "dropped")
	if RunIDFromContext(nil) != "" {
		t.Fatalf("nil context should yield an empty run id")
	}
	ctx, l := WithRunLogger(nil, nil)
	if ctx == nil || RunIDFromContext(ctx) == "" || l == nil {
		t.Fatalf("WithRunLogger(nil, nil) = %v, %v", ctx, l)
	}
}
