package models

import (
	"strings"
	"testing"
)

func TestTruncateLongMessage(t *testing.T) {
	in := strings.Repeat("x", 1200)
	out := Truncate(in, NotesMaxLen)
	if len(out) != 1000 {
		t.Fatalf("expected exactly 1000 chars, got %d", len(out))
	}
	if !strings.HasSuffix(out, "...") {
		t.Fatalf("expected trailing marker, got %q", out[len(out)-5:])
	}
}

func TestTruncateShortMessageUntouched(t *testing.T) {
	if got := Truncate("short", NotesMaxLen); got != "short" {
		t.Fatalf("short string modified: %q", got)
	}
}

func TestTruncateExactBoundary(t *testing.T) {
	in := strings.Repeat("y", 1000)
	if got := Truncate(in, NotesMaxLen); got != in {
		t.Fatalf("boundary-length string modified")
	}
}
