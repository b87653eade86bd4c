package queueregistry

import "testing"

func TestDefaultsResolvesRunTypeAliases(t *testing.T) {
	r := Defaults()
	qt, ok := r.QueueTypeForRunType("extraction_enhancement")
	if !ok || qt != "extraction" {
		t.Fatalf("expected extraction_enhancement to resolve to extraction queue, got %q ok=%v", qt, ok)
	}
	if _, ok := r.QueueTypeForRunType("unknown_run_type"); ok {
		t.Fatalf("expected unknown run type to not resolve")
	}
}

func TestApplyOverridesLeavesZeroFieldsUnchanged(t *testing.T) {
	r := Defaults()
	before, _ := r.Get("extraction")

	ok := r.ApplyOverrides("extraction", Overrides{MaxConcurrent: 50})
	if !ok {
		t.Fatalf("expected override to apply")
	}
	after, _ := r.Get("extraction")

	if after.MaxConcurrent != 50 {
		t.Fatalf("expected max concurrent 50, got %d", after.MaxConcurrent)
	}
	if after.TimeoutSeconds != before.TimeoutSeconds {
		t.Fatalf("expected timeout to remain unchanged, got %d want %d", after.TimeoutSeconds, before.TimeoutSeconds)
	}
}

func TestApplyOverridesUnknownQueueReturnsFalse(t *testing.T) {
	r := Defaults()
	if r.ApplyOverrides("does-not-exist", Overrides{MaxConcurrent: 1}) {
		t.Fatalf("expected false for unknown queue type")
	}
}

func TestListReturnsAllDefaults(t *testing.T) {
	r := Defaults()
	snaps := r.List()
	if len(snaps) != 6 {
		t.Fatalf("expected 6 default queue definitions, got %d", len(snaps))
	}
}
