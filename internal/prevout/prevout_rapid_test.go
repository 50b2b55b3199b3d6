package prevout

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/nlowe-sp/spindex/internal/chainmodel"
)

// TestCacheNeverExceedsCapacity checks spec.md §8's FIFO cache bound
// property: after any sequence of Put calls, the cache never holds more
// entries than its configured capacity.
func TestCacheNeverExceedsCapacity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(1, 16).Draw(rt, "capacity")
		c := NewCache(capacity)

		inserts := rapid.IntRange(0, 64).Draw(rt, "inserts")
		for i := 0; i < inserts; i++ {
			idx := rapid.Uint32Range(0, 32).Draw(rt, "index")
			c.Put(chainmodel.OutPoint{Index: idx}, chainmodel.TxOut{Value: int64(i)})

			if c.Len() > capacity {
				rt.Fatalf("cache exceeded capacity: len=%d capacity=%d", c.Len(), capacity)
			}
		}
	})
}

// TestCacheGetNeverAffectsEviction checks that no sequence of Get calls
// changes which entry is evicted next: only Put order matters, per spec.md
// §8's no-promotion-on-get property.
func TestCacheGetNeverAffectsEviction(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(2, 8).Draw(rt, "capacity")
		c := NewCache(capacity)

		for i := 0; i < capacity; i++ {
			c.Put(chainmodel.OutPoint{Index: uint32(i)}, chainmodel.TxOut{Value: int64(i)})
		}

		oldest := chainmodel.OutPoint{Index: 0}

		touches := rapid.IntRange(0, 32).Draw(rt, "touches")
		for i := 0; i < touches; i++ {
			c.Get(oldest)
		}

		c.Put(chainmodel.OutPoint{Index: uint32(capacity)}, chainmodel.TxOut{Value: 999})

		if _, ok := c.Get(oldest); ok {
			rt.Fatalf("oldest entry survived eviction after %d Get calls", touches)
		}
	})
}
