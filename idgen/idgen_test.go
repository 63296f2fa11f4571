package idgen

import (
	"strings"
	"testing"
)

func TestNanoID(t *testing.T) {
	gen := NanoID(10)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gen()
		if len(id) != 10 {
			t.Fatalf("len = %d, want 10", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestUUIDv7Sortable(t *testing.T) {
	gen := UUIDv7()
	a, b := gen(), gen()
	if a >= b {
		t.Errorf("UUIDv7 not time-sortable: %s >= %s", a, b)
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("nav_", NanoID(6))
	id := gen()
	if !strings.HasPrefix(id, "nav_") || len(id) != 10 {
		t.Errorf("id = %q", id)
	}
}
