package txgraph

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitfsorg/librevault-go/descriptor"
)

// NewDepositTransaction wraps an external, signed transaction funding the
// vault. A deposit is never signed, finalized or verified by the engine; it
// only locates the outputs the graph spends.
func NewDepositTransaction(tx *wire.MsgTx) (*Transaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: deposit transaction", ErrNilParam)
	}
	if len(tx.TxIn) == 0 || len(tx.TxOut) == 0 {
		return nil, fmt.Errorf("%w: deposit needs inputs and outputs", ErrInvalidParams)
	}

	packet, sigScripts, witnesses, err := psbt.NewFromSignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	for i := range packet.Inputs {
		packet.Inputs[i].FinalScriptSig = sigScripts[i]
		if len(witnesses[i]) > 0 {
			raw, err := serializeWitness(witnesses[i])
			if err != nil {
				return nil, err
			}
			packet.Inputs[i].FinalScriptWitness = raw
		}
	}

	inputs := make([]*inputInfo, len(tx.TxIn))
	for i := range inputs {
		inputs[i] = &inputInfo{}
	}
	return &Transaction{
		role:    RoleDeposit,
		state:   StateFinalized,
		packet:  packet,
		inputs:  inputs,
		outputs: make([]*descriptor.Descriptor, len(tx.TxOut)),
	}, nil
}

// DepositInput returns output vout of deposit as an Input paying to the
// deposit descriptor d. It fails with ErrDescriptorMismatch when the output
// does not pay to d.
func DepositInput(deposit *Transaction, vout uint32, d *descriptor.Descriptor) (*Input, error) {
	if deposit == nil {
		return nil, fmt.Errorf("%w: deposit", ErrNilParam)
	}
	if deposit.role != RoleDeposit {
		return nil, fmt.Errorf("%w: %s is not a deposit", ErrInvalidParams, deposit.role)
	}
	if err := checkDescriptor(d, descriptor.RoleDeposit); err != nil {
		return nil, err
	}
	return deposit.outputAs(vout, d)
}
