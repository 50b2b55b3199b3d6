// Package chainmodel defines the protocol-level data types shared by the
// tweak engine, the previous-output resolver and the store: outpoints,
// inputs, outputs, transactions and blocks, independent of the wire
// encoding used to obtain them.
package chainmodel

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// OutPoint identifies a previously created output by the transaction that
// created it and its index within that transaction's output vector.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// Serialize returns the 36-byte encoding used by the BIP-352 input hash:
// the 32-byte txid as stored (internal byte order) followed by the 4-byte
// little-endian vout.
func (o OutPoint) Serialize() []byte {
	buf := make([]byte, 36)
	copy(buf[:32], o.Hash[:])
	binary.LittleEndian.PutUint32(buf[32:], o.Index)
	return buf
}

// Less reports whether o sorts strictly before other under the total order
// of spec.md §3: lexicographic on the 36-byte encoding above.
func (o OutPoint) Less(other OutPoint) bool {
	return bytes.Compare(o.Serialize(), other.Serialize()) < 0
}

// TxIn is a transaction input: the outpoint it spends, its signature script
// and its witness stack.
type TxIn struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Witness          [][]byte
}

// TxOut is a transaction output: its value in satoshis and its locking
// script.
type TxOut struct {
	Value        int64
	ScriptPubKey []byte
}

// Valid reports whether the output satisfies the spec.md §3 invariant: a
// non-negative value no greater than the total bitcoin supply in satoshis.
func (o TxOut) Valid() bool {
	return o.Value >= 0 && o.Value <= int64(btcutil.MaxSatoshi)
}

// nullOutPoint is the previous-outpoint value that marks a coinbase input:
// the all-zero hash and the maximum vout.
var nullOutPoint = OutPoint{Index: 0xffffffff}

// Transaction is a decoded Bitcoin transaction.
type Transaction struct {
	TxID  chainhash.Hash
	TxIn  []TxIn
	TxOut []TxOut
}

// IsCoinbase reports whether tx is a coinbase transaction: exactly one
// input, spending the null outpoint.
func (tx Transaction) IsCoinbase() bool {
	return len(tx.TxIn) == 1 && tx.TxIn[0].PreviousOutPoint == nullOutPoint
}

// Block is a decoded Bitcoin block at a known height.
type Block struct {
	Height uint64
	Hash   chainhash.Hash
	Txs    []Transaction
}

// FromWireTx converts a decoded btcd wire transaction into the domain
// Transaction type used throughout the engine and store.
func FromWireTx(tx *wire.MsgTx) Transaction {
	out := Transaction{
		TxID:  tx.TxHash(),
		TxIn:  make([]TxIn, len(tx.TxIn)),
		TxOut: make([]TxOut, len(tx.TxOut)),
	}
	for i, in := range tx.TxIn {
		witness := make([][]byte, len(in.Witness))
		for j, item := range in.Witness {
			w := make([]byte, len(item))
			copy(w, item)
			witness[j] = w
		}
		out.TxIn[i] = TxIn{
			PreviousOutPoint: OutPoint{
				Hash:  in.PreviousOutPoint.Hash,
				Index: in.PreviousOutPoint.Index,
			},
			SignatureScript: append([]byte(nil), in.SignatureScript...),
			Witness:         witness,
		}
	}
	for i, o := range tx.TxOut {
		out.TxOut[i] = TxOut{
			Value:        o.Value,
			ScriptPubKey: append([]byte(nil), o.PkScript...),
		}
	}
	return out
}

// FromWireBlock converts a decoded btcd wire block at the given height into
// the domain Block type.
func FromWireBlock(height uint64, block *wire.MsgBlock) Block {
	txs := make([]Transaction, len(block.Transactions))
	for i, tx := range block.Transactions {
		txs[i] = FromWireTx(tx)
	}
	return Block{
		Height: height,
		Hash:   block.BlockHash(),
		Txs:    txs,
	}
}
