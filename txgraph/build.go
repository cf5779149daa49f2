package txgraph

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitfsorg/librevault-go/amount"
	"github.com/bitfsorg/librevault-go/descriptor"
)

// sighashAnyoneCanPay is the hash type of revocation inputs: it lets a
// fee-bumper add inputs without invalidating the pre-signed signatures.
const sighashAnyoneCanPay = txscript.SigHashAll | txscript.SigHashAnyOneCanPay

// output is an output under construction, with the descriptor it pays to
// when it stays in the vault.
type output struct {
	txOut      *wire.TxOut
	descriptor *descriptor.Descriptor
}

func vaultOutput(value amount.Amount, d *descriptor.Descriptor) output {
	return output{txOut: wire.NewTxOut(value.Sats(), d.PkScript()), descriptor: d}
}

func checkDescriptor(d *descriptor.Descriptor, role descriptor.Role) error {
	if d == nil {
		return fmt.Errorf("%w: %s descriptor", ErrNilParam, role)
	}
	if d.Role() != role {
		return fmt.Errorf("%w: got %s descriptor, expected %s", ErrDescriptorMismatch, d.Role(), role)
	}
	return nil
}

// newTransaction assembles the PSBT of a graph transaction spending inputs
// with their sequences, every input committing to hashType.
func newTransaction(role Role, lockTime uint32, inputs []*Input, sequences []uint32,
	hashType txscript.SigHashType, outputs []output) (*Transaction, error) {

	tx := wire.NewMsgTx(TxVersion)
	tx.LockTime = lockTime
	for i, in := range inputs {
		prev := in.Outpoint.Wire()
		txIn := wire.NewTxIn(&prev, nil, nil)
		txIn.Sequence = sequences[i]
		tx.AddTxIn(txIn)
	}
	for _, out := range outputs {
		tx.AddTxOut(out.txOut)
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	infos := make([]*inputInfo, len(inputs))
	for i, in := range inputs {
		packet.Inputs[i].WitnessUtxo = in.txOut()
		packet.Inputs[i].WitnessScript = bytes.Clone(in.Descriptor.WitnessScript())
		packet.Inputs[i].SighashType = hashType
		infos[i] = &inputInfo{descriptor: in.Descriptor}
	}
	descs := make([]*descriptor.Descriptor, len(outputs))
	for i, out := range outputs {
		if out.descriptor != nil {
			packet.Outputs[i].WitnessScript = bytes.Clone(out.descriptor.WitnessScript())
			descs[i] = out.descriptor
		}
	}

	return &Transaction{
		role:    role,
		state:   StateUnsigned,
		packet:  packet,
		inputs:  infos,
		outputs: descs,
	}, nil
}

// checkFixedFee enforces that a pre-signed transaction pays exactly fee.
func (t *Transaction) checkFixedFee(fee amount.Amount) error {
	got, err := t.Fees()
	if err != nil {
		return err
	}
	if got != fee {
		return fmt.Errorf("%w: %s pays %d, expected %d", ErrFeeMismatch, t.role, got, fee)
	}
	return nil
}

// revocationValue returns in minus the fixed fee of role at feerate,
// rejecting dust.
func revocationValue(role Role, in amount.Amount, feerate amount.Amount,
	schedule *FeeSchedule) (value, fee amount.Amount, err error) {

	if fee, err = scheduleOrDefault(schedule).Fee(role, feerate); err != nil {
		return 0, 0, err
	}
	if value, err = in.Sub(fee); err != nil {
		return 0, 0, fmt.Errorf("%w: %s fee %d exceeds input %d", ErrInsufficientFunds, role, fee, in)
	}
	if value < DustLimit {
		return 0, 0, fmt.Errorf("%w: %s output %d", ErrDust, role, value)
	}
	return value, fee, nil
}
