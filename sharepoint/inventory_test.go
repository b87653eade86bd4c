package sharepoint

import "testing"

func TestFilterInventorySizeLimit(t *testing.T) {
	cfg := &SyncConfig{MaxFileSizeBytes: 100}
	entries := []InventoryEntry{{Name: "small.pdf", SizeBytes: 50}, {Name: "big.pdf", SizeBytes: 500}}
	got := filterInventory(entries, cfg)
	if len(got) != 1 || got[0].Name != "small.pdf" {
		t.Fatalf("expected only small.pdf to survive the size limit, got %+v", got)
	}
}

func TestFilterInventoryGlobs(t *testing.T) {
	cfg := &SyncConfig{IncludePatterns: []string{"*.docx"}, ExcludePatterns: []string{"draft-*"}}
	entries := []InventoryEntry{
		{Name: "report.docx"},
		{Name: "draft-report.docx"},
		{Name: "report.pdf"},
	}
	got := filterInventory(entries, cfg)
	if len(got) != 1 || got[0].Name != "report.docx" {
		t.Fatalf("expected only report.docx to match, got %+v", got)
	}
}

func TestMatchesGlobsEmptyIncludeAllowsAll(t *testing.T) {
	if !matchesGlobs("anything.txt", nil, nil) {
		t.Fatal("expected empty include/exclude to allow all")
	}
}
