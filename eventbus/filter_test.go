package eventbus

import "testing"

func TestMatchFilterPlainEquality(t *testing.T) {
	filter := map[string]interface{}{"status": "ready"}
	if !MatchFilter(filter, map[string]interface{}{"status": "ready"}) {
		t.Fatal("expected match")
	}
	if MatchFilter(filter, map[string]interface{}{"status": "failed"}) {
		t.Fatal("expected no match")
	}
}

func TestMatchFilterContains(t *testing.T) {
	filter := map[string]interface{}{"tags": map[string]interface{}{"$contains": "urgent"}}
	payload := map[string]interface{}{"tags": []interface{}{"urgent", "review"}}
	if !MatchFilter(filter, payload) {
		t.Fatal("expected $contains match")
	}
	payload2 := map[string]interface{}{"tags": []interface{}{"review"}}
	if MatchFilter(filter, payload2) {
		t.Fatal("expected $contains to fail")
	}
}

func TestMatchFilterIn(t *testing.T) {
	filter := map[string]interface{}{"source_type": map[string]interface{}{"$in": []interface{}{"upload", "sharepoint"}}}
	if !MatchFilter(filter, map[string]interface{}{"source_type": "sharepoint"}) {
		t.Fatal("expected $in match")
	}
	if MatchFilter(filter, map[string]interface{}{"source_type": "web_scrape"}) {
		t.Fatal("expected $in to fail")
	}
}

func TestMatchFilterNe(t *testing.T) {
	filter := map[string]interface{}{"status": map[string]interface{}{"$ne": "deleted"}}
	if !MatchFilter(filter, map[string]interface{}{"status": "ready"}) {
		t.Fatal("expected $ne match")
	}
	if MatchFilter(filter, map[string]interface{}{"status": "deleted"}) {
		t.Fatal("expected $ne to fail")
	}
}

func TestMatchFilterNestedDict(t *testing.T) {
	filter := map[string]interface{}{"metadata": map[string]interface{}{"type": "summary"}}
	payload := map[string]interface{}{"metadata": map[string]interface{}{"type": "summary", "extra": "ignored"}}
	if MatchFilter(filter, payload) {
		t.Fatal("expected structural equality to require exact match, got a match on an unequal nested map")
	}
	payload2 := map[string]interface{}{"metadata": map[string]interface{}{"type": "summary"}}
	if !MatchFilter(filter, payload2) {
		t.Fatal("expected structural equality match")
	}
}

func TestMatchFilterDottedPathMissingComparesNull(t *testing.T) {
	filter := map[string]interface{}{"a.b.c": nil}
	if !MatchFilter(filter, map[string]interface{}{"a": map[string]interface{}{}}) {
		t.Fatal("expected a missing dotted path to compare as null")
	}
}

func TestMatchFilterEmptyAlwaysMatches(t *testing.T) {
	if !MatchFilter(nil, map[string]interface{}{"anything": "goes"}) {
		t.Fatal("expected an empty filter to always match")
	}
}
