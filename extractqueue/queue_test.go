package extractqueue

import "testing"

func TestIsInlineExtracted(t *testing.T) {
	cases := []struct {
		contentType string
		want        bool
	}{
		{"text/html", true},
		{"text/html; charset=utf-8", true},
		{"application/xhtml+xml", true},
		{"application/pdf", false},
		{"", false},
		{"TEXT/HTML", true},
	}
	for _, c := range cases {
		if got := isInlineExtracted(c.contentType); got != c.want {
			t.Errorf("isInlineExtracted(%q) = %v, want %v", c.contentType, got, c.want)
		}
	}
}

func TestPriorityConstants(t *testing.T) {
	if PriorityUser <= PrioritySystem {
		t.Fatalf("user priority must outrank system priority")
	}
}
