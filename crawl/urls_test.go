package crawl

import "testing"

func TestNormalizeURLCaseAndFragment(t *testing.T) {
	a, err := NormalizeURL("https://Host.COM/a/?b=1#x")
	if err != nil {
		t.Fatal(err)
	}
	b, err := NormalizeURL("HTTPS://host.com/a?b=1")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("expected equal normalized URLs, got %q and %q", a, b)
	}
}

func TestNormalizeURLKeepsRootSlash(t *testing.T) {
	got, err := NormalizeURL("https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://example.com/" {
		t.Fatalf("expected root path preserved, got %q", got)
	}
}

func TestSameDomain(t *testing.T) {
	if !SameDomain("https://example.com/a", "https://example.com/b") {
		t.Fatal("expected same domain")
	}
	if SameDomain("https://example.com/a", "https://other.com/a") {
		t.Fatal("expected different domains")
	}
}

func TestMatchesPatternsExcludeWins(t *testing.T) {
	if MatchesPatterns("https://example.com/admin/login", []string{"/admin/*"}, []string{"/admin/*"}) {
		t.Fatal("expected exclude to be checked first")
	}
}

func TestMatchesPatternsEmptyIncludeAllowsAll(t *testing.T) {
	if !MatchesPatterns("https://example.com/anything", nil, nil) {
		t.Fatal("expected empty include/exclude to allow all")
	}
}

func TestMatchesPatternsIncludeRestricts(t *testing.T) {
	if !MatchesPatterns("https://example.com/docs/readme", []string{"/docs/*"}, nil) {
		t.Fatal("expected /docs/* to match")
	}
	if MatchesPatterns("https://example.com/other", []string{"/docs/*"}, nil) {
		t.Fatal("expected /other to not match /docs/*")
	}
}
