// Package syncer drives the main indexing loop (spec.md §4.E): poll the
// chain tip, process and persist blocks while behind, sleep at tip.
//
// The loop shape — fetch the next block, build its indexed form, send it,
// loop again immediately if still behind, else sleep 5 seconds — is
// grounded directly on original_source/server/src/sync/mod.rs's
// sync_from. Errors are fatal rather than retried: spec.md §4.E and §9
// both treat RPC/engine/store failures as unrecoverable for this rewrite,
// leaving backoff an explicit open question rather than a silent gap.
package syncer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/nlowe-sp/spindex/internal/chainmodel"
	"github.com/nlowe-sp/spindex/internal/prevout"
	"github.com/nlowe-sp/spindex/internal/store"
	"github.com/nlowe-sp/spindex/internal/tweak"
)

var log btclog.Logger = btclog.Disabled

// UseLogger rebinds the package logger, called once during startup
// wiring.
func UseLogger(l btclog.Logger) { log = l }

// idleSleep is how long the loop waits at the chain tip before polling
// again, matching the Rust original's Duration::from_secs(5).
const idleSleep = 5 * time.Second

// ChainSource is the subset of the RPC collaborator the syncer needs.
type ChainSource interface {
	GetChainTip(ctx context.Context) (uint64, error)
	GetBlockByHeight(ctx context.Context, height uint64) (chainmodel.Block, error)
	GetTransaction(ctx context.Context, txid chainhash.Hash) (chainmodel.Transaction, error)
}

// Persister is the subset of the store the syncer appends indexed blocks
// to.
type Persister interface {
	SyncedHeight(ctx context.Context) (uint64, error)
	Append(ctx context.Context, block store.Block) error
}

// Syncer drives the indexing loop starting from a configured height.
type Syncer struct {
	chain     ChainSource
	persister Persister
	cache     *prevout.Cache
	startAt   uint64
}

// New builds a Syncer. startAt is the height to begin from if the store
// has no synced blocks yet (the SYNC_FROM configuration value).
func New(chain ChainSource, persister Persister, cache *prevout.Cache, startAt uint64) *Syncer {
	return &Syncer{chain: chain, persister: persister, cache: cache, startAt: startAt}
}

// Run drives the loop until ctx is cancelled or a fatal error occurs. A
// non-nil error always ends the loop; the caller (cmd/spindexd) treats any
// return as a reason to shut the process down.
func (s *Syncer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		behind, next, err := s.isBehind(ctx)
		if err != nil {
			return err
		}
		if !behind {
			log.Debugf("at chain tip, sleeping %s", idleSleep)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idleSleep):
			}
			continue
		}

		if err := s.processHeight(ctx, next); err != nil {
			return fmt.Errorf("syncer: processing height %d: %w", next, err)
		}
	}
}

func (s *Syncer) isBehind(ctx context.Context) (behind bool, next uint64, err error) {
	tip, err := s.chain.GetChainTip(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("syncer: fetching chain tip: %w", err)
	}

	synced, err := s.persister.SyncedHeight(ctx)
	switch {
	case err == nil:
		next = synced + 1
	case isNotFound(err):
		next = s.startAt
	default:
		return false, 0, fmt.Errorf("syncer: fetching synced height: %w", err)
	}

	return next <= tip, next, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// processHeight fetches the block at height, runs the tweak engine over
// every non-coinbase transaction, and persists the result.
func (s *Syncer) processHeight(ctx context.Context, height uint64) error {
	block, err := s.chain.GetBlockByHeight(ctx, height)
	if err != nil {
		return fmt.Errorf("fetching block: %w", err)
	}

	resolver := prevout.NewResolver(ctx, s.cache, rpcAdapter{s.chain})
	resolver.SeedBlock(block)

	indexed := store.Block{Height: block.Height, Hash: block.Hash.String()}

	for _, tx := range block.Txs {
		result, err := tweak.Compute(tx, resolver)
		switch {
		case err == nil:
		case errors.Is(err, tweak.ErrNotEligible), errors.Is(err, tweak.ErrTaprootOnlyOutputs):
			continue
		default:
			return fmt.Errorf("computing tweak for tx %s: %w", tx.TxID, err)
		}

		it := store.IndexedTransaction{
			TxID:           tx.TxID.String(),
			Scalar:         hex.EncodeToString(result.PublicTweak[:]),
			LowestOutpoint: result.LowestInput,
		}
		for _, idx := range tweak.TaprootOutputs(tx) {
			out := tx.TxOut[idx]
			it.Outputs = append(it.Outputs, store.IndexedOutput{
				Vout:         idx,
				Value:        out.Value,
				ScriptPubKey: hex.EncodeToString(out.ScriptPubKey),
			})
		}
		indexed.Transactions = append(indexed.Transactions, it)
	}

	if err := s.persister.Append(ctx, indexed); err != nil {
		return fmt.Errorf("appending block: %w", err)
	}

	log.Infof("indexed block %d (%s): %d eligible transactions", height, block.Hash, len(indexed.Transactions))
	return nil
}

// rpcAdapter narrows ChainSource down to prevout.RPC.
type rpcAdapter struct {
	chain ChainSource
}

func (a rpcAdapter) GetTransaction(ctx context.Context, txid chainhash.Hash) (chainmodel.Transaction, error) {
	return a.chain.GetTransaction(ctx, txid)
}
