// Package script classifies previous-output script templates and recovers
// the secp256k1 public key an input contributes to the BIP-352 shared
// secret, per spec.md §4.A.
//
// The classification shape (a type-of-input decided from scriptSig/witness
// length plus the previous script's template) is adapted from the teacher
// repository's pkg/analyzer.ClassifyInputScript; the template byte layouts
// for P2TR/P2WPKH/P2PKH/P2SH below are the same ones ClassifyOutputScript
// checks there.
package script

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/nlowe-sp/spindex/internal/chainmodel"
)

// Type is a closed sum over the previous-output script templates BIP-352
// cares about.
type Type int

const (
	Other Type = iota
	P2TR
	P2WPKH
	P2PKH
	P2SHP2WPKH
)

func (t Type) String() string {
	switch t {
	case P2TR:
		return "p2tr"
	case P2WPKH:
		return "p2wpkh"
	case P2PKH:
		return "p2pkh"
	case P2SHP2WPKH:
		return "p2sh-p2wpkh"
	default:
		return "other"
	}
}

// ErrIneligible is returned when an input does not qualify for shared
// secret derivation, or a qualifying input's key could not be recovered.
// Per spec.md §4.A/§7 this is always a per-input skip, never fatal to the
// containing transaction.
var ErrIneligible = errors.New("script: input not eligible for shared secret derivation")

// ClassifyPrevScript identifies the template of a previous output's
// scriptPubKey, restricted to the templates BIP-352 recognizes as inputs
// for shared secret derivation.
func ClassifyPrevScript(pkScript []byte) Type {
	switch {
	case isP2TR(pkScript):
		return P2TR
	case isP2WPKH(pkScript):
		return P2WPKH
	case isP2PKH(pkScript):
		return P2PKH
	case isP2SH(pkScript):
		return P2SHP2WPKH // confirmed by the revealed redeem script, see Eligible below
	default:
		return Other
	}
}

func isP2TR(s []byte) bool {
	return len(s) == 34 && s[0] == 0x51 && s[1] == 0x20
}

func isP2WPKH(s []byte) bool {
	return len(s) == 22 && s[0] == 0x00 && s[1] == 0x14
}

func isP2PKH(s []byte) bool {
	return len(s) == 25 &&
		s[0] == 0x76 && s[1] == 0xa9 && s[2] == 0x14 &&
		s[23] == 0x88 && s[24] == 0xac
}

func isP2SH(s []byte) bool {
	return len(s) == 23 && s[0] == 0xa9 && s[1] == 0x14 && s[22] == 0x87
}

// WitnessVersion reports the SegWit witness version of a scriptPubKey, or
// -1 if it is not a witness program. Used by the engine to reject
// transactions spending any output with witness version > 1 (spec.md §4.C
// step 4).
func WitnessVersion(pkScript []byte) int {
	if len(pkScript) < 4 || len(pkScript) > 42 {
		return -1
	}
	op := pkScript[0]
	var version int
	switch {
	case op == 0x00:
		version = 0
	case op >= 0x51 && op <= 0x60:
		version = int(op) - 0x50
	default:
		return -1
	}
	pushLen := int(pkScript[1])
	if pushLen < 2 || pushLen > 40 || len(pkScript) != 2+pushLen {
		return -1
	}
	return version
}

// Eligible reports whether an input spending prevout qualifies for shared
// secret derivation (spec.md §4.A "Inputs For Shared Secret Derivation").
func Eligible(in chainmodel.TxIn, prevout chainmodel.TxOut) bool {
	switch ClassifyPrevScript(prevout.ScriptPubKey) {
	case P2TR, P2WPKH, P2PKH:
		return true
	case P2SHP2WPKH:
		return isP2SHWrappedP2WPKH(in)
	default:
		return false
	}
}

// isP2SHWrappedP2WPKH reports whether a P2SH-prevout input's witness
// reveals a P2WPKH redeem script: the witness must have exactly two
// elements and scriptSig must push a P2WPKH witness program.
func isP2SHWrappedP2WPKH(in chainmodel.TxIn) bool {
	if len(in.Witness) != 2 {
		return false
	}
	program := redeemScript(in.SignatureScript)
	return isP2WPKH(program)
}

// redeemScript extracts the single pushed data element from a scriptSig of
// the form <push opcode><data>, as used by P2SH to reveal its redeem
// script / witness program. Returns nil if scriptSig is not a single push.
func redeemScript(scriptSig []byte) []byte {
	if len(scriptSig) < 1 {
		return nil
	}
	n := int(scriptSig[0])
	if n == 0 || n > 0x4b || len(scriptSig) != 1+n {
		return nil
	}
	return scriptSig[1:]
}

// ExtractPublicKey recovers the 33-byte compressed secp256k1 public key an
// eligible input contributes, per spec.md §4.A. It returns ErrIneligible
// (wrapped with detail) if recovery fails; callers must treat that as a
// per-input skip, not a transaction-level or fatal error.
func ExtractPublicKey(in chainmodel.TxIn, prevout chainmodel.TxOut) (*btcec.PublicKey, error) {
	switch ClassifyPrevScript(prevout.ScriptPubKey) {
	case P2TR:
		return extractP2TR(in, prevout)
	case P2WPKH:
		return extractP2WPKH(in.Witness)
	case P2SHP2WPKH:
		if !isP2SHWrappedP2WPKH(in) {
			return nil, fmt.Errorf("%w: p2sh witness is not p2wpkh", ErrIneligible)
		}
		return extractP2WPKH(in.Witness)
	case P2PKH:
		return extractP2PKH(in.SignatureScript, prevout.ScriptPubKey)
	default:
		return nil, fmt.Errorf("%w: unsupported prevout template", ErrIneligible)
	}
}

// extractP2TR recovers the key-path public key from a taproot input: the
// x-only output key embedded in the previous scriptPubKey, lifted to the
// point with even Y coordinate per BIP-340. Annexed witnesses are stripped
// before checking the stack shape; script-path spends (more than one
// remaining witness element) are not eligible.
func extractP2TR(in chainmodel.TxIn, prevout chainmodel.TxOut) (*btcec.PublicKey, error) {
	witness := in.Witness
	if len(witness) == 0 {
		return nil, fmt.Errorf("%w: p2tr input has empty witness", ErrIneligible)
	}

	if len(witness) >= 2 {
		last := witness[len(witness)-1]
		if len(last) > 0 && last[0] == 0x50 {
			witness = witness[:len(witness)-1] // strip annex
		}
	}
	if len(witness) != 1 {
		return nil, fmt.Errorf("%w: p2tr script-path spend", ErrIneligible)
	}

	xOnly := prevout.ScriptPubKey[2:34]
	// Prefixing 0x02 forces the even-Y lift BIP-340/BIP-352 require: the
	// x coordinate always has two candidate points and the protocol fixes
	// the even one as canonical.
	compressed := make([]byte, 33)
	compressed[0] = 0x02
	copy(compressed[1:], xOnly)

	pub, err := btcec.ParsePubKey(compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIneligible, err)
	}
	return pub, nil
}

// extractP2WPKH recovers the compressed public key from a P2WPKH witness:
// element index 1, which must be exactly 33 bytes.
func extractP2WPKH(witness [][]byte) (*btcec.PublicKey, error) {
	if len(witness) < 2 {
		return nil, fmt.Errorf("%w: p2wpkh witness too short", ErrIneligible)
	}
	keyBytes := witness[1]
	if len(keyBytes) != 33 {
		return nil, fmt.Errorf("%w: p2wpkh witness key is not 33 bytes", ErrIneligible)
	}
	pub, err := btcec.ParsePubKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIneligible, err)
	}
	return pub, nil
}

// extractP2PKH scans scriptSig for the first 33-byte window whose
// HASH160 matches the public-key hash embedded in the previous
// scriptPubKey (bytes [3:23]).
func extractP2PKH(scriptSig, prevScript []byte) (*btcec.PublicKey, error) {
	if len(prevScript) != 25 {
		return nil, fmt.Errorf("%w: malformed p2pkh prevout", ErrIneligible)
	}
	want := prevScript[3:23]

	for i := 0; i+33 <= len(scriptSig); i++ {
		window := scriptSig[i : i+33]
		if bytes.Equal(btcutil.Hash160(window), want) {
			pub, err := btcec.ParsePubKey(window)
			if err != nil {
				continue
			}
			return pub, nil
		}
	}
	return nil, fmt.Errorf("%w: no matching p2pkh public key in scriptSig", ErrIneligible)
}
