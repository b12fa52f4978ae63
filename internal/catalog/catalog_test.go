package catalog

import "testing"

// Without a configured backend the catalog must degrade, not fail: search is
// empty and lookups miss, so insertions proceed with whatever fields the
// client supplied.
func TestServiceDegradesWithoutBackend(t *testing.T) {
	svc := NewService(nil)

	if results := svc.Search("inception", 10); len(results) != 0 {
		t.Fatalf("expected no results without backend, got %d", len(results))
	}

	if _, ok := svc.Lookup("mv_1"); ok {
		t.Fatal("expected lookup miss without backend")
	}
}
