package sampull

import (
	"testing"
	"time"
)

func TestRedisKeyFormat(t *testing.T) {
	day := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	got := redisKey("org-1", day)
	want := "sam_budget:org-1:2026-07-29"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
