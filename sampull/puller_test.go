package sampull

import "testing"

func TestParseDateMDY(t *testing.T) {
	got := parseDate("01/15/2026")
	if got == nil {
		t.Fatal("expected a parsed date")
	}
	if got.Year() != 2026 || got.Month() != 1 || got.Day() != 15 {
		t.Fatalf("got %v", got)
	}
}

func TestParseDateRFC3339(t *testing.T) {
	got := parseDate("2026-07-29T00:00:00Z")
	if got == nil || got.Year() != 2026 {
		t.Fatalf("got %v", got)
	}
}

func TestParseDateEmptyReturnsNil(t *testing.T) {
	if got := parseDate(""); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestParseDateInvalidReturnsNil(t *testing.T) {
	if got := parseDate("not a date"); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
