package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandler_PlainLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))

	log.With("component", "rememberme").
		WithGroup("token").
		Info("rememberme.persist.ok", "series", "abc", "note", "two words")

	line := buf.String()
	for _, want := range []string{
		"INFO ",
		"rememberme.persist.ok",
		" component=rememberme",
		"token.series=abc",
		`token.note="two words"`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q is missing %q", line, want)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("unexpected color codes in %q", line)
	}
}

func TestPrettyHandler_LevelFilterAndColor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, true))

	log.Info("skipped")
	log.Error("rememberme.clear.fail", "status", 503, "err", errors.New("boom"))

	line := buf.String()
	if strings.Contains(line, "skipped") {
		t.Fatalf("info record should be filtered: %q", line)
	}
	if !strings.Contains(line, ansiRed+"ERROR"+ansiReset) {
		t.Fatalf("expected colored level tag in %q", line)
	}
	if !strings.Contains(line, "status="+ansiRed+"503"+ansiReset) {
		t.Fatalf("expected colored status in %q", line)
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":          `""`,
		"plain":     "plain",
		"a b":       `"a b"`,
		`say "hi"`:  `"say \"hi\""`,
		"key=value": `"key=value"`,
	}
	for in, want := range cases {
		if got := quoteIfNeeded(in); got != want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", in, got, want)
		}
	}
}
