package utils

import (
	"testing"
	"time"
)

func TestParseRFC3339(t *testing.T) {
	got, err := ParseRFC3339("2025-06-02T13:00:00Z")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if _, err := ParseRFC3339(""); err == nil {
		t.Fatal("empty value should be rejected")
	}
	if _, err := ParseRFC3339("2025-06-02"); err == nil {
		t.Fatal("date without time should be rejected")
	}
}

func TestDurationMinutes(t *testing.T) {
	start := time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	if got := DurationMinutes(start, end); got != 60 {
		t.Fatalf("one hour = %v minutes, want 60", got)
	}
	// Order of arguments must not matter.
	if got := DurationMinutes(end, start); got != 60 {
		t.Fatalf("swapped arguments = %v minutes, want 60", got)
	}
	if got := DurationMinutes(start, start); got != 0 {
		t.Fatalf("identical timestamps = %v minutes, want 0", got)
	}
}
