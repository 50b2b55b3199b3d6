package tweak

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"

	"github.com/nlowe-sp/spindex/internal/chainmodel"
)

type staticLookup map[chainmodel.OutPoint]chainmodel.TxOut

var errNoPrevout = errors.New("no prevout")

func (l staticLookup) Resolve(op chainmodel.OutPoint) (chainmodel.TxOut, error) {
	out, ok := l[op]
	if !ok {
		return chainmodel.TxOut{}, errNoPrevout
	}
	return out, nil
}

// generatorPubKey is secp256k1's well-known base point, compressed; a
// convenient real public key for input fixtures that does not require
// deriving a fresh keypair.
var generatorPubKeyHex = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

func p2wpkhScript(pubkey []byte) []byte {
	hash := btcutil.Hash160(pubkey)
	return append([]byte{0x00, 0x14}, hash...)
}

func p2trScript() []byte {
	return append([]byte{0x51, 0x20}, make([]byte, 32)...)
}

func TestComputeSkipsCoinbase(t *testing.T) {
	tx := chainmodel.Transaction{
		TxIn: []chainmodel.TxIn{{PreviousOutPoint: chainmodel.OutPoint{Index: 0xffffffff}}},
	}
	_, err := Compute(tx, staticLookup{})
	require.ErrorIs(t, err, ErrNotEligible)
}

func TestComputeSkipsNoTaprootOutputs(t *testing.T) {
	pub, _ := hex.DecodeString(generatorPubKeyHex)
	prevoutScript := p2wpkhScript(pub)

	op := chainmodel.OutPoint{Index: 0}
	lookup := staticLookup{op: {ScriptPubKey: prevoutScript}}

	tx := chainmodel.Transaction{
		TxIn: []chainmodel.TxIn{{
			PreviousOutPoint: op,
			Witness:          [][]byte{{0x01}, pub},
		}},
		TxOut: []chainmodel.TxOut{{ScriptPubKey: prevoutScript}},
	}

	_, err := Compute(tx, lookup)
	require.ErrorIs(t, err, ErrTaprootOnlyOutputs)
}

func TestComputeProducesCompressedTweak(t *testing.T) {
	pub, _ := hex.DecodeString(generatorPubKeyHex)
	prevoutScript := p2wpkhScript(pub)

	op := chainmodel.OutPoint{Index: 0}
	lookup := staticLookup{op: {ScriptPubKey: prevoutScript}}

	tx := chainmodel.Transaction{
		TxIn: []chainmodel.TxIn{{
			PreviousOutPoint: op,
			Witness:          [][]byte{{0x01}, pub},
		}},
		TxOut: []chainmodel.TxOut{{ScriptPubKey: p2trScript()}},
	}

	result, err := Compute(tx, lookup)
	require.NoError(t, err)
	require.Len(t, result.PublicTweak, 33)
	require.True(t, result.PublicTweak[0] == 0x02 || result.PublicTweak[0] == 0x03)
	require.Equal(t, 1, result.EligibleKeys)
	require.Equal(t, op, result.LowestInput)
}

func TestTaprootOutputsOrderedByIndex(t *testing.T) {
	tx := chainmodel.Transaction{
		TxOut: []chainmodel.TxOut{
			{ScriptPubKey: []byte{0x6a}},
			{ScriptPubKey: p2trScript()},
			{ScriptPubKey: p2trScript()},
		},
	}
	require.Equal(t, []int{1, 2}, TaprootOutputs(tx))
}
