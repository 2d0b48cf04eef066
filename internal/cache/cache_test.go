package cache

import (
	"strings"
	"testing"
	"time"
)

func TestLRU_SetGet(t *testing.T) {
	c := NewLRU(10, 0)
	c.Set("a", 1)

	v, ok := c.Get("a")
	if !ok || v.(int) != 1 {
		t.Fatalf("Expected 1, got %v (ok=%v)", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Missing key should not be found")
	}
}

func TestLRU_SetIfAbsent(t *testing.T) {
	c := NewLRU(10, 0)
	if !c.SetIfAbsent("a", 1) {
		t.Fatal("First insert should succeed")
	}
	if c.SetIfAbsent("a", 2) {
		t.Fatal("Second insert must not overwrite a live entry")
	}
	v, _ := c.Get("a")
	if v.(int) != 1 {
		t.Errorf("Expected the original value, got %v", v)
	}
}

func TestLRU_EvictsOldest(t *testing.T) {
	c := NewLRU(2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // a becomes most recently used
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("Least recently used entry should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("Recently used entry should survive")
	}
}

func TestLRU_ZeroCapacityDisables(t *testing.T) {
	c := NewLRU(0, 0)
	if c.SetIfAbsent("a", 1) {
		t.Error("Zero capacity should reject inserts")
	}
	if _, ok := c.Get("a"); ok {
		t.Error("Nothing should be cached")
	}
}

func TestLRU_NegativeCapacityUnbounded(t *testing.T) {
	c := NewLRU(-1, 0)
	for i := 0; i < 1000; i++ {
		c.Set(strings.Repeat("k", i%10)+string(rune('a'+i%26)), i)
	}
	if c.Len() == 0 {
		t.Error("Unbounded cache should hold entries")
	}
}

func TestLRU_TTLExpiry(t *testing.T) {
	c := NewLRU(10, 10*time.Millisecond)
	c.Set("a", 1)
	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Error("Expired entry should not be returned")
	}
	if !c.SetIfAbsent("a", 2) {
		t.Error("SetIfAbsent should treat an expired entry as absent")
	}
}

func TestLRU_RemoveIf(t *testing.T) {
	c := NewLRU(10, 0)
	c.Set("keep", 1)
	c.Set("drop-1", 2)
	c.Set("drop-2", 3)

	removed := c.RemoveIf(func(key string, _ interface{}) bool {
		return strings.HasPrefix(key, "drop")
	})
	if removed != 2 {
		t.Errorf("Expected 2 removals, got %d", removed)
	}
	if _, ok := c.Get("keep"); !ok {
		t.Error("Non-matching entry should survive")
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", c.Len())
	}
}

func TestLRU_Stats(t *testing.T) {
	c := NewLRU(10, 0)
	c.Set("a", 1)
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %+v", stats)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("Expected hit rate 0.5, got %f", stats.HitRate)
	}
}
