package prevout

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nlowe-sp/spindex/internal/chainmodel"
)

func op(i uint32) chainmodel.OutPoint {
	return chainmodel.OutPoint{Index: i}
}

func TestCacheFIFOEviction(t *testing.T) {
	c := NewCache(2)

	c.Put(op(1), chainmodel.TxOut{Value: 1})
	c.Put(op(2), chainmodel.TxOut{Value: 2})
	require.Equal(t, 2, c.Len())

	c.Put(op(3), chainmodel.TxOut{Value: 3})
	require.Equal(t, 2, c.Len())

	_, ok := c.Get(op(1))
	require.False(t, ok, "oldest entry should have been evicted")

	_, ok = c.Get(op(2))
	require.True(t, ok)
	_, ok = c.Get(op(3))
	require.True(t, ok)
}

func TestCacheGetDoesNotPromote(t *testing.T) {
	c := NewCache(2)
	c.Put(op(1), chainmodel.TxOut{Value: 1})
	c.Put(op(2), chainmodel.TxOut{Value: 2})

	// Repeatedly touching the oldest entry must not save it from
	// eviction: this cache is FIFO, not LRU.
	for i := 0; i < 5; i++ {
		_, _ = c.Get(op(1))
	}

	c.Put(op(3), chainmodel.TxOut{Value: 3})

	_, ok := c.Get(op(1))
	require.False(t, ok, "Get must not promote entries in a FIFO cache")
}

func TestCacheZeroCapacityDisablesCaching(t *testing.T) {
	c := NewCache(0)
	c.Put(op(1), chainmodel.TxOut{Value: 1})
	_, ok := c.Get(op(1))
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestCacheReinsertUpdatesValueNotOrder(t *testing.T) {
	c := NewCache(2)
	c.Put(op(1), chainmodel.TxOut{Value: 1})
	c.Put(op(2), chainmodel.TxOut{Value: 2})
	c.Put(op(1), chainmodel.TxOut{Value: 100})

	c.Put(op(3), chainmodel.TxOut{Value: 3})

	// op(1) was inserted first; re-inserting its value should not have
	// moved it to the back, so it is still the one evicted.
	_, ok := c.Get(op(1))
	require.False(t, ok)
}
