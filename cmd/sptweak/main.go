// Command sptweak runs the BIP-352 tweak engine over a single offline
// fixture, without touching a Bitcoin Core node or a database: useful for
// checking one transaction against test vectors.
//
// The fixture-file/printError/exit-code shape follows the teacher's
// cmd/cli: read a JSON fixture, run the computation, write a JSON result
// file and print it to stdout (with --table, a table is printed instead).
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	gopretty "github.com/jedib0t/go-pretty/v6/table"

	"github.com/nlowe-sp/spindex/internal/chainmodel"
	"github.com/nlowe-sp/spindex/internal/tweak"
)

// fixtureOutPoint and fixtureTxOut mirror the wire shapes a caller would
// supply in a JSON fixture, in hex.
type fixtureOutPoint struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

type fixturePrevout struct {
	OutPoint fixtureOutPoint `json:"outpoint"`
	Value    int64           `json:"value"`
	ScriptPubKeyHex string   `json:"script_pub_key_hex"`
}

type fixtureTxIn struct {
	OutPoint        fixtureOutPoint `json:"outpoint"`
	ScriptSigHex    string          `json:"script_sig_hex"`
	WitnessHex      []string        `json:"witness_hex"`
}

type fixtureTxOut struct {
	Value           int64  `json:"value"`
	ScriptPubKeyHex string `json:"script_pub_key_hex"`
}

// Fixture is the offline input shape: a transaction's inputs/outputs plus
// the prevouts its inputs spend, all in hex, so no network access is
// needed to evaluate it.
type Fixture struct {
	Txid     string           `json:"txid"`
	TxIn     []fixtureTxIn    `json:"vin"`
	TxOut    []fixtureTxOut   `json:"vout"`
	Prevouts []fixturePrevout `json:"prevouts"`
}

type errorOutput struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type resultOutput struct {
	OK          bool   `json:"ok"`
	Txid        string `json:"txid"`
	Scalar      string `json:"scalar"`
	LowestInput string `json:"lowest_input"`
	Eligible    int    `json:"eligible_keys"`
}

func main() {
	args := os.Args[1:]
	table := false
	if len(args) > 0 && args[0] == "--table" {
		table = true
		args = args[1:]
	}
	if len(args) != 1 {
		printError("INVALID_ARGS", "usage: sptweak [--table] <fixture.json>")
		os.Exit(1)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		printError("FILE_NOT_FOUND", fmt.Sprintf("reading fixture: %v", err))
		os.Exit(1)
	}

	var fixture Fixture
	if err := json.Unmarshal(data, &fixture); err != nil {
		printError("INVALID_FIXTURE", fmt.Sprintf("parsing fixture json: %v", err))
		os.Exit(1)
	}

	tx, lookup, err := buildFromFixture(fixture)
	if err != nil {
		printError("INVALID_FIXTURE", err.Error())
		os.Exit(1)
	}

	result, err := tweak.Compute(tx, lookup)
	if err != nil {
		printError("NOT_ELIGIBLE", err.Error())
		os.Exit(1)
	}

	out := resultOutput{
		OK:          true,
		Txid:        tx.TxID.String(),
		Scalar:      hex.EncodeToString(result.PublicTweak[:]),
		LowestInput: fmt.Sprintf("%s:%d", result.LowestInput.Hash, result.LowestInput.Index),
		Eligible:    result.EligibleKeys,
	}

	if err := os.MkdirAll("out", 0o755); err != nil {
		printError("IO_ERROR", fmt.Sprintf("creating output directory: %v", err))
		os.Exit(1)
	}
	outJSON, _ := json.MarshalIndent(out, "", "  ")
	outPath := filepath.Join("out", out.Txid+".json")
	if err := os.WriteFile(outPath, outJSON, 0o644); err != nil {
		printError("IO_ERROR", fmt.Sprintf("writing output: %v", err))
		os.Exit(1)
	}

	if table {
		printResultTable(out, tx)
		return
	}
	fmt.Println(string(outJSON))
}

// printResultTable renders the result as a human-readable table, the same
// style the teacher's lncli-derived tooling uses for CLI output.
func printResultTable(out resultOutput, tx chainmodel.Transaction) {
	t := gopretty.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(gopretty.Row{"field", "value"})
	t.AppendRow(gopretty.Row{"txid", out.Txid})
	t.AppendRow(gopretty.Row{"scalar", out.Scalar})
	t.AppendRow(gopretty.Row{"lowest input", out.LowestInput})
	t.AppendRow(gopretty.Row{"eligible keys", out.Eligible})
	t.AppendRow(gopretty.Row{"taproot outputs", len(tweak.TaprootOutputs(tx))})
	t.Render()
}

// staticLookup resolves prevouts from a fixed map built from the fixture's
// declared prevouts, with no RPC fallback.
type staticLookup map[chainmodel.OutPoint]chainmodel.TxOut

func (l staticLookup) Resolve(op chainmodel.OutPoint) (chainmodel.TxOut, error) {
	out, ok := l[op]
	if !ok {
		return chainmodel.TxOut{}, fmt.Errorf("no prevout declared for %s:%d", op.Hash, op.Index)
	}
	return out, nil
}

func buildFromFixture(f Fixture) (chainmodel.Transaction, staticLookup, error) {
	lookup := staticLookup{}
	for _, p := range f.Prevouts {
		hash, err := chainhash.NewHashFromStr(p.OutPoint.Txid)
		if err != nil {
			return chainmodel.Transaction{}, nil, fmt.Errorf("parsing prevout txid %s: %w", p.OutPoint.Txid, err)
		}
		spk, err := hex.DecodeString(p.ScriptPubKeyHex)
		if err != nil {
			return chainmodel.Transaction{}, nil, fmt.Errorf("decoding prevout script for %s: %w", p.OutPoint.Txid, err)
		}
		lookup[chainmodel.OutPoint{Hash: *hash, Index: p.OutPoint.Vout}] = chainmodel.TxOut{
			Value:        p.Value,
			ScriptPubKey: spk,
		}
	}

	tx := chainmodel.Transaction{}
	if f.Txid != "" {
		hash, err := chainhash.NewHashFromStr(f.Txid)
		if err != nil {
			return chainmodel.Transaction{}, nil, fmt.Errorf("parsing txid: %w", err)
		}
		tx.TxID = *hash
	}

	for _, in := range f.TxIn {
		hash, err := chainhash.NewHashFromStr(in.OutPoint.Txid)
		if err != nil {
			return chainmodel.Transaction{}, nil, fmt.Errorf("parsing input outpoint txid %s: %w", in.OutPoint.Txid, err)
		}
		scriptSig, err := hex.DecodeString(in.ScriptSigHex)
		if err != nil {
			return chainmodel.Transaction{}, nil, fmt.Errorf("decoding scriptSig: %w", err)
		}
		witness := make([][]byte, len(in.WitnessHex))
		for i, w := range in.WitnessHex {
			b, err := hex.DecodeString(w)
			if err != nil {
				return chainmodel.Transaction{}, nil, fmt.Errorf("decoding witness element %d: %w", i, err)
			}
			witness[i] = b
		}
		tx.TxIn = append(tx.TxIn, chainmodel.TxIn{
			PreviousOutPoint: chainmodel.OutPoint{Hash: *hash, Index: in.OutPoint.Vout},
			SignatureScript:  scriptSig,
			Witness:          witness,
		})
	}

	for _, out := range f.TxOut {
		spk, err := hex.DecodeString(out.ScriptPubKeyHex)
		if err != nil {
			return chainmodel.Transaction{}, nil, fmt.Errorf("decoding output script: %w", err)
		}
		tx.TxOut = append(tx.TxOut, chainmodel.TxOut{Value: out.Value, ScriptPubKey: spk})
	}

	return tx, lookup, nil
}

func printError(code, message string) {
	out := errorOutput{OK: false, Code: code, Error: message}
	outJSON, _ := json.Marshal(out)
	fmt.Println(string(outJSON))
	fmt.Fprintf(os.Stderr, "error: %s\n", message)
}
