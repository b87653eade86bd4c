package asset

import "testing"

func TestExtractionStatusConstants(t *testing.T) {
	statuses := []ExtractionStatus{ExtractionPending, ExtractionRunning, ExtractionCompleted, ExtractionFailed}
	seen := map[ExtractionStatus]bool{}
	for _, s := range statuses {
		if seen[s] {
			t.Fatalf("duplicate extraction status value %q", s)
		}
		seen[s] = true
	}
}

func TestMetadataStatusConstants(t *testing.T) {
	statuses := []MetadataStatus{MetadataActive, MetadataSuperseded, MetadataDeprecated}
	seen := map[MetadataStatus]bool{}
	for _, s := range statuses {
		if seen[s] {
			t.Fatalf("duplicate metadata status value %q", s)
		}
		seen[s] = true
	}
}
