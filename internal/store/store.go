// Package store persists indexed blocks, their eligible transactions and
// outputs, and serves the query surface of spec.md §4.D/§4.F.
//
// Schema bootstrap is an embedded idempotent CREATE TABLE IF NOT EXISTS
// rather than github.com/golang-migrate/migrate (declared in
// backend-engineer1-land's go.mod): golang-migrate's only pure-Go-friendly
// sqlite driver still shells out to mattn/go-sqlite3, which needs cgo,
// conflicting with the pure-Go modernc.org/sqlite driver this store uses.
// spec.md §1 also lists schema migrations as an out-of-scope, externally
// replaceable concern, so a fixed embedded schema is in keeping with the
// spec rather than a gap in it.
//
// Table layout and the commit-then-broadcast write path are grounded on
// original_source/server/src/store/mod.rs's Store (blocks/transactions/
// outputs tables, a single sqlx transaction per block, broadcast::Sender
// fired only after commit).
package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btclog"
	_ "modernc.org/sqlite"

	"github.com/nlowe-sp/spindex/internal/broadcast"
	"github.com/nlowe-sp/spindex/internal/chainmodel"
	"github.com/nlowe-sp/spindex/internal/logging"
)

var log btclog.Logger = btclog.Disabled

// UseLogger rebinds the package logger, called once during startup wiring.
func UseLogger(l btclog.Logger) { log = l }

// ErrNotFound is returned when a queried height or txid has no indexed
// row. Per spec.md §9's not-found disambiguation, this is distinct from a
// successfully indexed height with zero eligible transactions, which
// returns an empty, non-nil slice instead.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS blocks (
	height INTEGER PRIMARY KEY,
	hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	block_height INTEGER NOT NULL REFERENCES blocks(height),
	txid TEXT NOT NULL UNIQUE,
	scalar TEXT NOT NULL,
	lowest_outpoint_hash TEXT NOT NULL,
	lowest_outpoint_index INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_block_height ON transactions(block_height);

CREATE TABLE IF NOT EXISTS outputs (
	transaction_id INTEGER NOT NULL REFERENCES transactions(id),
	vout INTEGER NOT NULL,
	value INTEGER NOT NULL,
	script_pub_key TEXT NOT NULL,
	PRIMARY KEY (transaction_id, vout)
);
`

// IndexedTransaction is an eligible transaction as persisted: its scalar
// tweak and the taproot outputs a wallet would need to check against it.
// JSON tags match spec.md §6's documented response shape
// ({txid, scalar, outputs:[{vout,value,spk}]}, see
// original_source/server/src/server/handlers.rs's Transaction/Output
// DTOs); LowestOutpoint is persistence-only bookkeeping with no place in
// that contract, so it is excluded from the API response.
type IndexedTransaction struct {
	TxID           string              `json:"txid"`
	Scalar         string              `json:"scalar"`
	LowestOutpoint chainmodel.OutPoint `json:"-"`
	Outputs        []IndexedOutput     `json:"outputs"`
}

// IndexedOutput is one taproot output created by an IndexedTransaction.
type IndexedOutput struct {
	Vout         int    `json:"vout"`
	Value        int64  `json:"value"`
	ScriptPubKey string `json:"spk"`
}

// Block bundles a block's height and the eligible transactions indexed
// from it, the unit Store.Append persists atomically and the unit the
// broadcast hub publishes.
type Block struct {
	Height       uint64
	Hash         string
	Transactions []IndexedTransaction
}

// Store is the durable backing store for the indexer, wrapping a
// database/sql handle over modernc.org/sqlite and a broadcast hub that
// publishes every block appended after it commits.
type Store struct {
	db  *sql.DB
	hub *broadcast.Hub[Block]
}

// Open opens (creating if necessary) the sqlite database at dsn and
// applies the embedded schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}

	return &Store{db: db, hub: broadcast.NewHub[Block]()}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Subscribe registers a new subscriber to newly appended blocks. Callers
// must call Unsubscribe on the returned subscription when done.
func (s *Store) Subscribe() *broadcast.Subscription[Block] {
	return s.hub.Subscribe()
}

// SyncedHeight returns the highest height currently indexed, or
// ErrNotFound if no block has been indexed yet.
func (s *Store) SyncedHeight(ctx context.Context) (uint64, error) {
	var height sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(height) FROM blocks`).Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("store: querying synced height: %w", err)
	}
	if !height.Valid {
		return 0, ErrNotFound
	}
	return uint64(height.Int64), nil
}

// Append persists block atomically: the block row, then each eligible
// transaction, then each of its outputs, all inside one transaction.
// Heights must be strictly increasing; an out-of-order append is rejected
// rather than silently accepted, since reorg handling is out of scope
// (spec.md Non-goals). Only after a successful commit is the block
// published to stream subscribers, matching original_source's
// commit-then-send ordering.
func (s *Store) Append(ctx context.Context, block Block) error {
	current, err := s.SyncedHeight(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err == nil && block.Height != current+1 {
		return fmt.Errorf("store: append height %d is not successor of synced height %d", block.Height, current)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO blocks (height, hash) VALUES (?, ?)`, block.Height, block.Hash); err != nil {
		return fmt.Errorf("store: inserting block %d: %w", block.Height, err)
	}

	for _, t := range block.Transactions {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (block_height, txid, scalar, lowest_outpoint_hash, lowest_outpoint_index) VALUES (?, ?, ?, ?, ?)`,
			block.Height, t.TxID, t.Scalar, hex.EncodeToString(t.LowestOutpoint.Hash[:]), t.LowestOutpoint.Index)
		if err != nil {
			return fmt.Errorf("store: inserting transaction %s: %w", t.TxID, err)
		}
		txRowID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: reading transaction row id for %s: %w", t.TxID, err)
		}
		for _, o := range t.Outputs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO outputs (transaction_id, vout, value, script_pub_key) VALUES (?, ?, ?, ?)`,
				txRowID, o.Vout, o.Value, o.ScriptPubKey); err != nil {
				return fmt.Errorf("store: inserting output %s:%d: %w", t.TxID, o.Vout, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing block %d: %w", block.Height, err)
	}

	n := s.hub.Publish(block)
	if n > 0 {
		log.Debugf("notified %d subscribers of block %d", n, block.Height)
	} else {
		log.Debugf("no subscribers for block %d", block.Height)
	}

	return nil
}

// ScalarsAtHeight returns the scalar tweaks of every eligible transaction
// indexed at height. Distinguishes a never-indexed height (ErrNotFound)
// from an indexed height with no eligible transactions (empty, non-nil
// slice).
func (s *Store) ScalarsAtHeight(ctx context.Context, height uint64) ([]string, error) {
	if err := s.requireBlock(ctx, height); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT scalar FROM transactions WHERE block_height = ?`, height)
	if err != nil {
		return nil, fmt.Errorf("store: querying scalars at height %d: %w", height, err)
	}
	defer rows.Close()

	scalars := []string{}
	for rows.Next() {
		var scalar string
		if err := rows.Scan(&scalar); err != nil {
			return nil, fmt.Errorf("store: scanning scalar: %w", err)
		}
		scalars = append(scalars, scalar)
	}
	return scalars, rows.Err()
}

// LatestScalars returns the scalar tweaks indexed at the current synced
// height.
func (s *Store) LatestScalars(ctx context.Context) ([]string, error) {
	height, err := s.SyncedHeight(ctx)
	if err != nil {
		return nil, err
	}
	return s.ScalarsAtHeight(ctx, height)
}

// ScalarByTxID returns the scalar tweak for a single indexed transaction.
func (s *Store) ScalarByTxID(ctx context.Context, txid string) (string, error) {
	var scalar string
	err := s.db.QueryRowContext(ctx, `SELECT scalar FROM transactions WHERE txid = ?`, txid).Scan(&scalar)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: querying scalar for %s: %w", txid, err)
	}
	return scalar, nil
}

// TransactionsAtHeight returns every eligible transaction (with its
// outputs) indexed at height, applying the same not-found disambiguation
// as ScalarsAtHeight.
func (s *Store) TransactionsAtHeight(ctx context.Context, height uint64) ([]IndexedTransaction, error) {
	if err := s.requireBlock(ctx, height); err != nil {
		return nil, err
	}
	return s.queryTransactions(ctx, `WHERE t.block_height = ?`, height)
}

// LatestTransactions returns the eligible transactions indexed at the
// current synced height.
func (s *Store) LatestTransactions(ctx context.Context) ([]IndexedTransaction, error) {
	height, err := s.SyncedHeight(ctx)
	if err != nil {
		return nil, err
	}
	return s.TransactionsAtHeight(ctx, height)
}

// TransactionByTxID returns a single indexed transaction with its outputs.
func (s *Store) TransactionByTxID(ctx context.Context, txid string) (IndexedTransaction, error) {
	txs, err := s.queryTransactions(ctx, `WHERE t.txid = ?`, txid)
	if err != nil {
		return IndexedTransaction{}, err
	}
	if len(txs) == 0 {
		return IndexedTransaction{}, ErrNotFound
	}
	return txs[0], nil
}

func (s *Store) requireBlock(ctx context.Context, height uint64) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM blocks WHERE height = ?`, height).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: checking block %d exists: %w", height, err)
	}
	return nil
}

// queryTransactions joins transactions to their outputs and groups rows by
// txid, matching original_source/server/src/server/handlers.rs's
// From<Vec<TransactionRecord>> for Transactions grouping logic.
func (s *Store) queryTransactions(ctx context.Context, where string, arg interface{}) ([]IndexedTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.txid, t.scalar, t.lowest_outpoint_hash, t.lowest_outpoint_index,
		       o.vout, o.value, o.script_pub_key
		FROM transactions t
		JOIN outputs o ON o.transaction_id = t.id
		`+where+`
		ORDER BY t.id, o.vout
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("store: querying transactions: %w", err)
	}
	defer rows.Close()

	order := []string{}
	byTxID := map[string]*IndexedTransaction{}
	for rows.Next() {
		var (
			txid, scalar, lowestHash string
			lowestIndex              uint32
			vout                     int
			value                    int64
			spk                      string
		)
		if err := rows.Scan(&txid, &scalar, &lowestHash, &lowestIndex, &vout, &value, &spk); err != nil {
			return nil, fmt.Errorf("store: scanning transaction row: %w", err)
		}
		t, ok := byTxID[txid]
		if !ok {
			hashBytes, err := hex.DecodeString(lowestHash)
			if err != nil {
				return nil, fmt.Errorf("store: decoding lowest outpoint hash for %s: %w", txid, err)
			}
			var op chainmodel.OutPoint
			copy(op.Hash[:], hashBytes)
			op.Index = lowestIndex
			t = &IndexedTransaction{TxID: txid, Scalar: scalar, LowestOutpoint: op}
			byTxID[txid] = t
			order = append(order, txid)
		}
		t.Outputs = append(t.Outputs, IndexedOutput{Vout: vout, Value: value, ScriptPubKey: spk})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]IndexedTransaction, 0, len(order))
	for _, txid := range order {
		out = append(out, *byTxID[txid])
	}
	return out, nil
}

// SubsystemLogger returns the subsystem name store loggers are bound to,
// for use by cmd/spindexd's startup wiring.
func SubsystemLogger() string { return logging.SubsystemStore }
