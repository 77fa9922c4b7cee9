package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
	if n := visualLen(in); n != len(want) {
		t.Fatalf("visualLen()=%d want %d", n, len(want))
	}
}

func TestPrettyHandler_PlainLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))

	log.With("debate_id", "d1").WithGroup("ws").Warn("ws.send.reject", "code", "not live", "status", 409)

	line := buf.String()
	for _, want := range []string{"WRN", "ws.send.reject", "debate_id=d1", `ws.code="not live"`, "ws.status=409"} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
	if strings.Contains(line, "ws.debate_id") {
		t.Fatalf("attr added before WithGroup was grouped: %q", line)
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("colors emitted with color=false: %q", line)
	}
}

func TestPrettyHandler_ColorAndLevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, true))

	log.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug leaked at info level: %q", buf.String())
	}

	log.Info("http.request", "status", 503, "duration_ms", int64(1200))
	line := buf.String()
	if !strings.Contains(line, ansiRed+"503"+ansiReset) || !strings.Contains(line, ansiRed+"1200ms"+ansiReset) {
		t.Fatalf("expected red status and duration in %q", line)
	}
	if got := stripANSI(line); !strings.Contains(got, "INF http.request") {
		t.Fatalf("unexpected plain text %q", got)
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := map[string]string{"": `""`, "plain": "plain", "two words": `"two words"`, "a=b": `"a=b"`}
	for in, want := range cases {
		if got := quoteIfNeeded(in); got != want {
			t.Fatalf("quoteIfNeeded(%q)=%q want %q", in, got, want)
		}
	}
}
