package scheduler

import (
	"testing"
	"time"
)

func TestNextRunAtDaily(t *testing.T) {
	from := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	next, err := NextRunAt("0 3 * * *", from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 7, 30, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got %v, want %v", next, want)
	}
}

func TestNextRunAtInvalidExpressionRejected(t *testing.T) {
	if _, err := NextRunAt("not a cron expression", time.Now()); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestRunTypeForDefaultsToSystemMaintenance(t *testing.T) {
	if got := runTypeFor(TaskType("unknown_custom_type")); got != "system_maintenance" {
		t.Fatalf("got %v, want system_maintenance", got)
	}
}

func TestRunTypeForKnownTypes(t *testing.T) {
	cases := map[TaskType]string{
		TaskTypeIndexing:       "indexing",
		TaskTypeSAMPull:        "sam_pull",
		TaskTypeSharePointSync: "sharepoint_sync",
	}
	for tt, want := range cases {
		if got := string(runTypeFor(tt)); got != want {
			t.Errorf("runTypeFor(%v) = %v, want %v", tt, got, want)
		}
	}
}
