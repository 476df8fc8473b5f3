package parse

import (
	"fmt"
	"testing"
)

func TestCache_PutGet(t *testing.T) {
	c := NewCache(5)

	evicted, inserted := c.Put(&Entry{Key: "youtube:abc", Title: "A"})
	if !inserted || evicted != "" {
		t.Errorf("Put() = (%q, %v), expected clean insert", evicted, inserted)
	}

	entry, ok := c.Get("youtube:abc")
	if !ok || entry.Title != "A" {
		t.Errorf("Get() = (%+v, %v), expected cached entry", entry, ok)
	}
	if entry.AddedAt.IsZero() {
		t.Error("Expected AddedAt to be stamped on insert")
	}
}

func TestCache_DuplicateKeyRejected(t *testing.T) {
	c := NewCache(5)
	c.Put(&Entry{Key: "youtube:abc", Title: "first"})

	_, inserted := c.Put(&Entry{Key: "youtube:abc", Title: "second"})
	if inserted {
		t.Error("Expected duplicate key to be rejected")
	}

	entry, _ := c.Get("youtube:abc")
	if entry.Title != "first" {
		t.Errorf("Duplicate insert replaced the original: %s", entry.Title)
	}
}

func TestCache_EvictsOldestFirst(t *testing.T) {
	c := NewCache(3)
	for i := 0; i < 3; i++ {
		c.Put(&Entry{Key: fmt.Sprintf("k%d", i)})
	}

	evicted, inserted := c.Put(&Entry{Key: "k3"})
	if !inserted {
		t.Fatal("Expected insert to succeed")
	}
	if evicted != "k0" {
		t.Errorf("Expected oldest entry k0 evicted, got %q", evicted)
	}
	if c.Contains("k0") {
		t.Error("Evicted key still present")
	}

	keys := c.Keys()
	expected := []string{"k1", "k2", "k3"}
	for i, k := range expected {
		if keys[i] != k {
			t.Errorf("Keys()[%d] = %s, expected %s", i, keys[i], k)
		}
	}
}

func TestCache_Clear(t *testing.T) {
	c := NewCache(3)
	c.Put(&Entry{Key: "a"})
	c.Put(&Entry{Key: "b"})

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Expected empty cache after Clear, got %d", c.Len())
	}
	if c.Contains("a") {
		t.Error("Cleared key still present")
	}
}
