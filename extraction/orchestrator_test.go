package extraction

import (
	"testing"

	"flowcore.dev/asset"
	"flowcore.dev/runs"
)

func TestProcessedObjectKeyUpload(t *testing.T) {
	a := &asset.Asset{ID: "asset-1", OrganizationID: "org-1", OriginalFilename: "r1.pdf", SourceType: asset.SourceUpload}
	got := ProcessedObjectKey(a)
	want := "org-1/uploads/asset-1/r1.pdf.md"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestProcessedObjectKeyWebScrape(t *testing.T) {
	a := &asset.Asset{
		ID: "asset-2", OrganizationID: "org-1", OriginalFilename: "page.html",
		SourceType:     asset.SourceWebScrape,
		SourceMetadata: runs.JSONMap{"collection_slug": "news"},
	}
	got := ProcessedObjectKey(a)
	want := "org-1/scrape/news/documents/page.html.md"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestProcessedObjectKeySharePoint(t *testing.T) {
	a := &asset.Asset{
		ID: "asset-3", OrganizationID: "org-1", OriginalFilename: "policy.docx",
		SourceType:     asset.SourceSharePoint,
		SourceMetadata: runs.JSONMap{"sync_slug": "hr-docs", "relative_path": "2024/q1"},
	}
	got := ProcessedObjectKey(a)
	want := "org-1/sharepoint/hr-docs/2024/q1/policy.docx.md"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestIsTerminalRunStatus(t *testing.T) {
	terminal := []runs.Status{runs.StatusCompleted, runs.StatusFailed, runs.StatusCancelled, runs.StatusTimedOut}
	for _, s := range terminal {
		if !isTerminalRunStatus(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []runs.Status{runs.StatusPending, runs.StatusSubmitted, runs.StatusRunning}
	for _, s := range nonTerminal {
		if isTerminalRunStatus(s) {
			t.Errorf("expected %s to not be terminal", s)
		}
	}
}
