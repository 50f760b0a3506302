package utils

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateRunes(t *testing.T) {
	if got := TruncateRunes("hello", 10); got != "hello" {
		t.Fatalf("short string must pass through: %q", got)
	}
	if got := TruncateRunes("hello", 0); got != "hello" {
		t.Fatalf("max <= 0 disables truncation: %q", got)
	}
	if got := TruncateRunes("hello", -1); got != "hello" {
		t.Fatalf("negative max disables truncation: %q", got)
	}
	if got := TruncateRunes("hello world", 5); got != "hello" {
		t.Fatalf("truncation mismatch: %q", got)
	}

	// Multi-byte runes are never split.
	s := strings.Repeat("ü", 10)
	got := TruncateRunes(s, 4)
	if utf8.RuneCountInString(got) != 4 || !utf8.ValidString(got) {
		t.Fatalf("rune-safe truncation broken: %q", got)
	}
}
