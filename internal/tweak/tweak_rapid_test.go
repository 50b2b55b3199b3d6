package tweak

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/nlowe-sp/spindex/internal/chainmodel"
)

// privKeyFromSeed derives a deterministic, distinct secp256k1 keypair from
// an integer seed, giving rapid a cheap way to draw many unrelated keys
// without shelling out to crypto/rand.
func privKeyFromSeed(seed uint64) *btcec.PrivateKey {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seed)
	h := sha256.Sum256(buf[:])
	return btcec.PrivKeyFromBytes(h[:])
}

// eligibleTx builds a transaction with one P2WPKH input per seed, all
// spending distinct outpoints, and a single taproot output, then resolves
// the given permutation of input order through lookup.
func eligibleTx(seeds []uint64, order []int) (chainmodel.Transaction, staticLookup) {
	lookup := staticLookup{}
	ins := make([]chainmodel.TxIn, len(seeds))
	for i, seed := range seeds {
		pub := privKeyFromSeed(seed).PubKey().SerializeCompressed()
		op := chainmodel.OutPoint{Index: uint32(i + 1)}
		lookup[op] = chainmodel.TxOut{ScriptPubKey: p2wpkhScript(pub)}
		ins[i] = chainmodel.TxIn{
			PreviousOutPoint: op,
			Witness:          [][]byte{{0x01}, pub},
		}
	}

	permuted := make([]chainmodel.TxIn, len(order))
	for i, j := range order {
		permuted[i] = ins[j]
	}

	tx := chainmodel.Transaction{
		TxIn:  permuted,
		TxOut: []chainmodel.TxOut{{ScriptPubKey: p2trScript()}},
	}
	return tx, lookup
}

// shuffle draws a Fisher-Yates permutation of order, letting rapid control
// every swap decision so it can shrink toward a minimal reordering.
func shuffle(rt *rapid.T, order []int) []int {
	out := append([]int(nil), order...)
	for i := len(out) - 1; i > 0; i-- {
		j := rapid.IntRange(0, i).Draw(rt, "swap")
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// TestComputeTweakIsOrderIndependent checks spec.md §8's key-sum
// commutativity property: permuting the order of a transaction's eligible
// inputs must not change the resulting public tweak, since both the
// lowest-outpoint salt and the summed public key are order-independent by
// construction.
func TestComputeTweakIsOrderIndependent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 6).Draw(rt, "n")
		seeds := make([]uint64, n)
		for i := range seeds {
			seeds[i] = rapid.Uint64Range(1, 1<<62).Draw(rt, "seed")
		}

		identity := make([]int, n)
		for i := range identity {
			identity[i] = i
		}
		baseTx, baseLookup := eligibleTx(seeds, identity)
		want, err := Compute(baseTx, baseLookup)
		require.NoError(rt, err)

		shuffled := shuffle(rt, identity)
		tx, lookup := eligibleTx(seeds, shuffled)
		got, err := Compute(tx, lookup)
		require.NoError(rt, err)

		require.Equal(rt, want.PublicTweak, got.PublicTweak)
		require.Equal(rt, want.LowestInput, got.LowestInput)
		require.Equal(rt, want.EligibleKeys, got.EligibleKeys)
	})
}

// TestComputeFilteringIsIdempotent checks spec.md §8's idempotent filtering
// property: running the eligibility pipeline twice over the same
// transaction yields byte-identical results, since Compute performs no
// hidden mutation of its input.
func TestComputeFilteringIsIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "n")
		seeds := make([]uint64, n)
		for i := range seeds {
			seeds[i] = rapid.Uint64Range(1, 1<<62).Draw(rt, "seed")
		}
		identity := make([]int, n)
		for i := range identity {
			identity[i] = i
		}
		tx, lookup := eligibleTx(seeds, identity)

		first, err := Compute(tx, lookup)
		require.NoError(rt, err)
		second, err := Compute(tx, lookup)
		require.NoError(rt, err)

		require.Equal(rt, first, second)
	})
}
