package crawl

import "testing"

func TestDocumentFilenameStripsQueryString(t *testing.T) {
	got := documentFilename("https://example.com/files/report.pdf?v=2")
	if got != "report.pdf" {
		t.Fatalf("got %q, want report.pdf", got)
	}
}

func TestDocumentFilenameFallsBackWhenEmpty(t *testing.T) {
	if got := documentFilename("https://example.com/"); got != "document" {
		t.Fatalf("got %q, want document", got)
	}
}

func TestIsDocumentLink(t *testing.T) {
	exts := []string{".pdf", ".docx"}
	if !isDocumentLink("https://example.com/a/report.PDF", exts) {
		t.Fatal("expected case-insensitive .pdf match")
	}
	if isDocumentLink("https://example.com/a/page.html", exts) {
		t.Fatal("expected no match for .html")
	}
}

func TestSummaryToJSON(t *testing.T) {
	s := Summary{PagesCrawled: 3, PagesNew: 2, PagesUpdated: 1, DocumentsDiscovered: 5, DocumentsDownloaded: 4}
	j := s.toJSON()
	if j["pages_crawled"] != 3 || j["documents_downloaded"] != 4 {
		t.Fatalf("unexpected summary json: %+v", j)
	}
}
