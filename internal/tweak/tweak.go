// Package tweak implements the BIP-352 shared secret tweak engine
// (spec.md §4.C): given a transaction and its resolved previous outputs, it
// derives the per-transaction public tweak used by wallets to detect
// silent-payment outputs.
//
// The point and scalar arithmetic is grounded on the decred secp256k1 v4
// Jacobian-point API, the same library EXCCoin-exccd's example_test.go
// exercises through the older exccec wrapper; this package calls the
// current API directly rather than through that legacy wrapper.
package tweak

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btclog"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/nlowe-sp/spindex/internal/chainmodel"
	"github.com/nlowe-sp/spindex/internal/script"
)

var log btclog.Logger = btclog.Disabled

// UseLogger rebinds the package logger, called once during startup wiring.
func UseLogger(l btclog.Logger) { log = l }

// inputsTag is the BIP-340 tagged-hash domain separator for the BIP-352
// input hash.
var inputsTag = sha256.Sum256([]byte("BIP0352/Inputs"))

// taggedHash computes BIP-340's tagged hash: SHA256(SHA256(tag) ||
// SHA256(tag) || msg).
func taggedHash(tag [32]byte, msg []byte) [32]byte {
	h := sha256.New()
	h.Write(tag[:])
	h.Write(tag[:])
	h.Write(msg)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ErrNotEligible is returned when a transaction must be skipped: it is a
// coinbase, it spends an output with witness version greater than 1, none
// of its inputs yields a public key, or its key sum or input hash is
// degenerate. It is not an error
// condition for the caller: it means "skip this transaction", matching
// spec.md §7's classification of this as routine, not exceptional.
var ErrNotEligible = errors.New("tweak: transaction has no eligible inputs")

// ErrTaprootOnlyOutputs is returned when a transaction has no P2TR outputs,
// per spec.md §4.C step 3: such a transaction cannot receive a silent
// payment and is skipped the same way.
var ErrTaprootOnlyOutputs = errors.New("tweak: transaction has no taproot outputs")

// Result is the outcome of running the engine over one transaction: the
// 33-byte compressed public tweak and the lowest outpoint used as its
// salt.
type Result struct {
	TxID         chainmodel.Transaction
	PublicTweak  [33]byte
	LowestInput  chainmodel.OutPoint
	EligibleKeys int
}

// PrevoutLookup resolves the previous output an input spends. Implemented
// by internal/prevout.Resolver; kept as an interface here so the engine
// has no dependency on the resolver's caching strategy.
type PrevoutLookup interface {
	Resolve(op chainmodel.OutPoint) (chainmodel.TxOut, error)
}

// Compute runs the BIP-352 ten-step pipeline of spec.md §4.C over tx,
// using lookup to resolve each input's previous output. It returns
// ErrNotEligible or ErrTaprootOnlyOutputs when the transaction must be
// skipped; any other error means prevout resolution failed and the caller
// should treat the whole block as unprocessable (spec.md §7: prevout
// resolution failures are fatal to the syncer, not skippable).
func Compute(tx chainmodel.Transaction, lookup PrevoutLookup) (Result, error) {
	// Step 1: coinbase transactions never qualify.
	if tx.IsCoinbase() {
		return Result{}, ErrNotEligible
	}

	// Step 3: the transaction must create at least one P2TR output.
	if !hasTaprootOutput(tx) {
		return Result{}, ErrTaprootOnlyOutputs
	}

	type eligibleInput struct {
		outpoint chainmodel.OutPoint
		pubKey   *btcec.PublicKey
	}
	var eligible []eligibleInput

	// Step 2/4: resolve each input's previous output, classify it, and
	// reject the whole transaction if any input spends a witness version
	// greater than 1 (spec.md §4.C step 4) — that is a protocol-level
	// disqualifier, not a per-input skip.
	for _, in := range tx.TxIn {
		prevout, err := lookup.Resolve(in.PreviousOutPoint)
		if err != nil {
			return Result{}, fmt.Errorf("tweak: resolving prevout %x:%d: %w", in.PreviousOutPoint.Hash[:], in.PreviousOutPoint.Index, err)
		}

		if wv := script.WitnessVersion(prevout.ScriptPubKey); wv > 1 {
			log.Debugf("tweak: tx %s disqualified by witness v%d prevout %x:%d", tx.TxID, wv, in.PreviousOutPoint.Hash[:], in.PreviousOutPoint.Index)
			return Result{}, ErrNotEligible
		}

		if !script.Eligible(in, prevout) {
			continue
		}

		pub, err := script.ExtractPublicKey(in, prevout)
		if err != nil {
			// Per-input key recovery failure: skip the input, not the
			// transaction (spec.md §4.A/§7).
			log.Debugf("tweak: tx %s input %x:%d key recovery failed: %v", tx.TxID, in.PreviousOutPoint.Hash[:], in.PreviousOutPoint.Index, err)
			continue
		}
		eligible = append(eligible, eligibleInput{outpoint: in.PreviousOutPoint, pubKey: pub})
	}

	// Step 2: at least one eligible input is required.
	if len(eligible) == 0 {
		return Result{}, ErrNotEligible
	}

	// Step 5: find the lexicographically lowest outpoint among ALL of the
	// transaction's inputs (not just the eligible ones) — spec.md §4.C
	// step 5 and §3's total order are defined over the whole input set,
	// matching original_source/server/src/silentpayments.rs's
	// lexographically_lowest_outpoint, which folds over every input.
	lowest := tx.TxIn[0].PreviousOutPoint
	for _, in := range tx.TxIn[1:] {
		if in.PreviousOutPoint.Less(lowest) {
			lowest = in.PreviousOutPoint
		}
	}

	// Step 6: sum the eligible inputs' public keys via Jacobian point
	// addition.
	var sum secp.JacobianPoint
	sum.X.SetInt(0)
	sum.Y.SetInt(0)
	sum.Z.SetInt(0)
	first := true
	for _, e := range eligible {
		var p secp.JacobianPoint
		e.pubKey.AsJacobian(&p)
		if first {
			sum = p
			first = false
			continue
		}
		var next secp.JacobianPoint
		secp.AddNonConst(&sum, &p, &next)
		sum = next
	}
	if sum.Z.IsZero() {
		// Keys summed to the point at infinity: per BIP-352 this
		// transaction contributes no tweak.
		return Result{}, ErrNotEligible
	}
	sum.ToAffine()
	sumPub := secp.NewPublicKey(&sum.X, &sum.Y)

	// Step 7: hash the lowest outpoint together with the summed public
	// key under the BIP0352/Inputs tag.
	msg := make([]byte, 0, 36+33)
	msg = append(msg, lowest.Serialize()...)
	msg = append(msg, sumPub.SerializeCompressed()...)
	hashed := taggedHash(inputsTag, msg)

	// Step 8: reduce the hash mod the curve order; reduction failure
	// (hash >= n) disqualifies the transaction rather than wrapping.
	var scalar secp.ModNScalar
	if overflow := scalar.SetByteSlice(hashed[:]); overflow {
		return Result{}, ErrNotEligible
	}
	if scalar.IsZero() {
		return Result{}, ErrNotEligible
	}

	// Step 9: multiply the summed public key by the reduced scalar to
	// obtain the public tweak point.
	var tweakPoint secp.JacobianPoint
	secp.ScalarMultNonConst(&scalar, &sum, &tweakPoint)
	if tweakPoint.Z.IsZero() {
		return Result{}, ErrNotEligible
	}
	tweakPoint.ToAffine()
	tweakPubKey := secp.NewPublicKey(&tweakPoint.X, &tweakPoint.Y)

	// Step 10: serialize the tweak point in compressed form.
	var out [33]byte
	copy(out[:], tweakPubKey.SerializeCompressed())

	return Result{
		TxID:         tx,
		PublicTweak:  out,
		LowestInput:  lowest,
		EligibleKeys: len(eligible),
	}, nil
}

// hasTaprootOutput reports whether tx creates at least one P2TR output.
func hasTaprootOutput(tx chainmodel.Transaction) bool {
	for _, out := range tx.TxOut {
		if script.ClassifyPrevScript(out.ScriptPubKey) == script.P2TR {
			return true
		}
	}
	return false
}

// TaprootOutputs returns the output indices of tx's P2TR outputs, the
// set that a silent-payment scan needs to check against candidate
// addresses. Ordered by output index.
func TaprootOutputs(tx chainmodel.Transaction) []int {
	var idx []int
	for i, out := range tx.TxOut {
		if script.ClassifyPrevScript(out.ScriptPubKey) == script.P2TR {
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	return idx
}
