// Package consensus re-executes transaction scripts through the btcd script
// interpreter. It is the independent check run on every finalized vault
// transaction before it is reported as verified.
package consensus

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// StandardFlags are the script verification flags applied by default: the
// relay policy flag set, which includes P2SH, witness, CSV, CLTV, strict DER,
// low S, NULLDUMMY, NULLFAIL, MINIMALIF, clean stack and compressed witness
// pubkeys.
const StandardFlags = txscript.StandardVerifyFlags

// Interpreter verifies a single input against the output it spends.
type Interpreter interface {
	VerifyInput(tx *wire.MsgTx, idx int, prevOuts txscript.PrevOutputFetcher) error
}

// ScriptError reports the interpreter's reason for rejecting an input.
type ScriptError struct {
	Input  int
	Code   txscript.ErrorCode
	Reason string
	Err    error
}

// Error implements error.
func (e *ScriptError) Error() string {
	return fmt.Sprintf("consensus: input %d: %s: %s", e.Input, e.Code, e.Reason)
}

// Unwrap exposes both ErrScriptFailed and the interpreter error.
func (e *ScriptError) Unwrap() []error {
	return []error{ErrScriptFailed, e.Err}
}

// Engine is the btcd-backed Interpreter.
type Engine struct {
	flags    txscript.ScriptFlags
	sigCache *txscript.SigCache
}

// Compile-time interface check.
var _ Interpreter = (*Engine)(nil)

// NewEngine returns an Engine using StandardFlags.
func NewEngine() *Engine {
	return NewEngineWithFlags(StandardFlags)
}

// NewEngineWithFlags returns an Engine using flags.
func NewEngineWithFlags(flags txscript.ScriptFlags) *Engine {
	return &Engine{flags: flags}
}

// Flags returns the verification flags in use.
func (e *Engine) Flags() txscript.ScriptFlags { return e.flags }

// VerifyInput executes the scripts of input idx of tx.
func (e *Engine) VerifyInput(tx *wire.MsgTx, idx int, prevOuts txscript.PrevOutputFetcher) error {
	if tx == nil || idx < 0 || idx >= len(tx.TxIn) {
		return fmt.Errorf("%w: %d", ErrInputIndex, idx)
	}
	prevOut := prevOuts.FetchPrevOutput(tx.TxIn[idx].PreviousOutPoint)
	if prevOut == nil {
		return fmt.Errorf("%w: %v", ErrMissingPrevOut, tx.TxIn[idx].PreviousOutPoint)
	}

	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)
	vm, err := txscript.NewEngine(prevOut.PkScript, tx, idx, e.flags,
		e.sigCache, sigHashes, prevOut.Value, prevOuts)
	if err != nil {
		return newScriptError(idx, err)
	}
	if err := vm.Execute(); err != nil {
		return newScriptError(idx, err)
	}
	return nil
}

// VerifyTx verifies every input of tx and returns the first failure.
func VerifyTx(interp Interpreter, tx *wire.MsgTx, prevOuts txscript.PrevOutputFetcher) error {
	for i := range tx.TxIn {
		if err := interp.VerifyInput(tx, i, prevOuts); err != nil {
			return err
		}
	}
	return nil
}

// PrevOutputs builds a fetcher for tx from outs, the spent outputs in input
// order.
func PrevOutputs(tx *wire.MsgTx, outs []*wire.TxOut) (*txscript.MultiPrevOutFetcher, error) {
	if len(outs) != len(tx.TxIn) {
		return nil, fmt.Errorf("%w: %d outputs for %d inputs", ErrMissingPrevOut, len(outs), len(tx.TxIn))
	}
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range tx.TxIn {
		if outs[i] == nil {
			return nil, fmt.Errorf("%w: input %d", ErrMissingPrevOut, i)
		}
		fetcher.AddPrevOut(in.PreviousOutPoint, outs[i])
	}
	return fetcher, nil
}

func newScriptError(idx int, err error) *ScriptError {
	se := &ScriptError{Input: idx, Reason: err.Error(), Err: err}
	var txErr txscript.Error
	if errors.As(err, &txErr) {
		se.Code = txErr.ErrorCode
		se.Reason = txErr.Description
	}
	return se
}
