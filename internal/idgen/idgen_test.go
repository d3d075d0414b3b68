package idgen

import (
	"strings"
	"testing"
)

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
		if !Valid(id) {
			t.Fatalf("New returned invalid uuid %q", id)
		}
	}
}

func TestOrdered_Sorts(t *testing.T) {
	a := Ordered()
	b := Ordered()
	if !Valid(a) || !Valid(b) {
		t.Fatal("Ordered returned invalid uuid")
	}
	if a >= b {
		t.Errorf("expected %s < %s", a, b)
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("ntf_")
	if !strings.HasPrefix(id, "ntf_") {
		t.Fatalf("missing prefix: %s", id)
	}
	if len(id) != len("ntf_")+32 {
		t.Errorf("unexpected length %d", len(id))
	}
}

func TestValid(t *testing.T) {
	if Valid("not-a-uuid") {
		t.Error("expected invalid")
	}
}
