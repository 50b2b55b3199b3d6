// Package prevout resolves the previous output spent by a transaction
// input and bounds the cost of doing so with a fixed-size FIFO cache
// (spec.md §4.B).
//
// The cache shape — a map plus an insertion-ordered queue, evicting the
// oldest entry with no promotion on Get — is grounded directly on
// original_source/server/src/sync/mod.rs's PrevoutCache (HashMap +
// VecDeque); decred/dcrd/lru was considered and rejected because it
// promotes entries on Get, which would violate the no-promotion
// invariant spec.md §8 tests for.
package prevout

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/nlowe-sp/spindex/internal/chainmodel"
)

// ErrVoutOutOfRange is returned when a resolved transaction does not have
// the requested output index.
var ErrVoutOutOfRange = errors.New("prevout: vout index out of range")

// RPC is the subset of the Bitcoin Core JSON-RPC collaborator the resolver
// needs: fetching a full transaction by id so its outputs can be read.
type RPC interface {
	GetTransaction(ctx context.Context, txid chainhash.Hash) (chainmodel.Transaction, error)
}

// Cache is a fixed-capacity FIFO cache from outpoint to the output it
// identifies. Unlike an LRU cache, Get never changes eviction order: only
// insertion order determines what is evicted when the cache is full.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[chainmodel.OutPoint]*list.Element
	order    *list.List // front = oldest
}

type cacheEntry struct {
	key   chainmodel.OutPoint
	value chainmodel.TxOut
}

// NewCache builds a FIFO cache bounded at capacity entries. A capacity of
// zero or less disables caching: every Get misses and every Put is a
// no-op.
func NewCache(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		entries:  make(map[chainmodel.OutPoint]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached output for op, if present. It does not affect
// eviction order.
func (c *Cache) Get(op chainmodel.OutPoint) (chainmodel.TxOut, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[op]
	if !ok {
		return chainmodel.TxOut{}, false
	}
	return el.Value.(*cacheEntry).value, true
}

// Put inserts op/out into the cache, evicting the oldest entry if the
// cache is at capacity. Re-inserting an existing key updates its value
// without moving it in eviction order, matching the Rust original's
// HashMap::insert semantics (VecDeque ordering is only touched on first
// insertion of a key).
func (c *Cache) Put(op chainmodel.OutPoint, out chainmodel.TxOut) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[op]; ok {
		el.Value.(*cacheEntry).value = out
		return
	}

	if len(c.entries) >= c.capacity {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}

	el := c.order.PushBack(&cacheEntry{key: op, value: out})
	c.entries[op] = el
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Resolver resolves outpoints to their spent output, consulting the FIFO
// cache before falling back to the RPC collaborator, and populating the
// cache with whatever it fetches.
type Resolver struct {
	cache *Cache
	rpc   RPC
	ctx   context.Context
}

// NewResolver builds a Resolver backed by cache and rpc. ctx bounds every
// RPC call the resolver makes.
func NewResolver(ctx context.Context, cache *Cache, rpc RPC) *Resolver {
	return &Resolver{cache: cache, rpc: rpc, ctx: ctx}
}

// Resolve returns the output identified by op, fetching and caching the
// owning transaction on a cache miss.
func (r *Resolver) Resolve(op chainmodel.OutPoint) (chainmodel.TxOut, error) {
	if out, ok := r.cache.Get(op); ok {
		return out, nil
	}

	tx, err := r.rpc.GetTransaction(r.ctx, op.Hash)
	if err != nil {
		return chainmodel.TxOut{}, fmt.Errorf("prevout: fetching tx %s: %w", op.Hash, err)
	}

	// Seed the cache with every output of the fetched transaction, not
	// just the one requested: a single RPC round trip pays for every
	// later input spending the same transaction's other outputs.
	for i, out := range tx.TxOut {
		r.cache.Put(chainmodel.OutPoint{Hash: op.Hash, Index: uint32(i)}, out)
	}

	if int(op.Index) >= len(tx.TxOut) {
		return chainmodel.TxOut{}, fmt.Errorf("%w: tx %s vout %d", ErrVoutOutOfRange, op.Hash, op.Index)
	}
	return tx.TxOut[op.Index], nil
}

// SeedBlock pre-populates the cache with every output created by block's
// own transactions, so inputs spending an output created earlier in the
// same block never need an RPC round trip. This mirrors
// original_source/server/src/silentpayments.rs's SPBlock::new, which
// seeds its PrevOutCache from the block's own txdata before resolving
// anything via RPC.
func (r *Resolver) SeedBlock(block chainmodel.Block) {
	for _, tx := range block.Txs {
		for i, out := range tx.TxOut {
			r.cache.Put(chainmodel.OutPoint{Hash: tx.TxID, Index: uint32(i)}, out)
		}
	}
}
