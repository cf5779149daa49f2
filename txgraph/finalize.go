package txgraph

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitfsorg/librevault-go/policy"
)

// Finalize builds the witness of every input from the collected signatures.
// Either every input is finalized or the transaction is left unchanged.
func (t *Transaction) Finalize() error {
	if err := t.checkMutable(); err != nil {
		return err
	}

	n := t.NumInputs()
	witnesses := make([][]byte, n)
	branches := make([]policy.Branch, n)
	for i := 0; i < n; i++ {
		sigs, err := t.Signatures(i)
		if err != nil {
			return err
		}
		seq := t.packet.UnsignedTx.TxIn[i].Sequence
		sat, err := t.inputs[i].descriptor.Policy().Satisfy(sigs, seq)
		switch {
		case errors.Is(err, policy.ErrNotEnoughSignatures):
			return fmt.Errorf("%w: input %d: %w", ErrMissingSignature, i, err)
		case err != nil:
			return fmt.Errorf("%w: input %d: %w", ErrScriptSatisfactionFailed, i, err)
		}

		raw, err := serializeWitness(sat.Witness)
		if err != nil {
			return err
		}
		witnesses[i] = raw
		branches[i] = sat.Branch
	}

	for i := 0; i < n; i++ {
		t.packet.Inputs[i].FinalScriptWitness = witnesses[i]
		t.inputs[i].branch = branches[i]
	}
	t.state = StateFinalized
	return nil
}

// serializeWitness encodes a witness stack as a PSBT final script witness.
func serializeWitness(witness wire.TxWitness) ([]byte, error) {
	var buf bytes.Buffer
	if err := psbt.WriteTxWitness(&buf, witness); err != nil {
		return nil, fmt.Errorf("%w: witness: %w", ErrInvalidState, err)
	}
	return buf.Bytes(), nil
}

// parseWitness decodes a PSBT final script witness.
func parseWitness(raw []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(raw)
	n, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if n > uint64(len(raw)) {
		return nil, fmt.Errorf("%d witness items", n)
	}
	witness := make(wire.TxWitness, n)
	for i := range witness {
		witness[i], err = wire.ReadVarBytes(r, 0, MaxStandardTxWeight, "witness item")
		if err != nil {
			return nil, err
		}
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.Len())
	}
	return witness, nil
}
