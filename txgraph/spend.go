package txgraph

import (
	"fmt"

	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitfsorg/librevault-go/amount"
	"github.com/bitfsorg/librevault-go/descriptor"
)

// SpendParams holds the inputs of BuildSpend.
type SpendParams struct {
	// Inputs are unvault outputs; each is spent through the managers branch.
	Inputs []*Input

	// Outputs are the payments, kept in order after the CPFP output.
	Outputs []*wire.TxOut

	// Change, when positive, is paid to ChangeDescriptor as the last output.
	Change           amount.Amount
	ChangeDescriptor *descriptor.Descriptor

	FeeBump  *descriptor.Descriptor
	LockTime uint32

	// AllowInsaneFees disables the InsaneFees ceiling.
	AllowInsaneFees bool
}

// BuildSpend builds a Spend transaction. Output 0 pays the fee-bump
// descriptor SpendCPFPWeightMultiplier satoshis per weight unit of the
// fully satisfied transaction.
func BuildSpend(params *SpendParams) (*Transaction, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: spend params", ErrNilParam)
	}
	if len(params.Inputs) == 0 {
		return nil, fmt.Errorf("%w: spend without inputs", ErrInvalidParams)
	}
	if len(params.Outputs) == 0 && params.Change == 0 {
		return nil, fmt.Errorf("%w: spend without outputs", ErrInvalidParams)
	}
	if err := checkDescriptor(params.FeeBump, descriptor.RoleFeeBump); err != nil {
		return nil, err
	}

	// 1. Inputs: unvault outputs, each once, locked by their CSV.
	seen := make(map[amount.Outpoint]struct{}, len(params.Inputs))
	sequences := make([]uint32, len(params.Inputs))
	for i, in := range params.Inputs {
		if err := in.checkRole(descriptor.RoleUnvault); err != nil {
			return nil, err
		}
		if _, dup := seen[in.Outpoint]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatedInput, in.Outpoint)
		}
		seen[in.Outpoint] = struct{}{}

		seq, err := descriptor.SequenceForCSV(in.Descriptor.CSV())
		if err != nil {
			return nil, fmt.Errorf("%w: input %d: %w", ErrDescriptorMismatch, i, err)
		}
		sequences[i] = seq
	}

	// 2. Outputs: CPFP placeholder, payments, change.
	outputs := make([]output, 0, len(params.Outputs)+2)
	outputs = append(outputs, vaultOutput(0, params.FeeBump))
	for i, out := range params.Outputs {
		if out == nil {
			return nil, fmt.Errorf("%w: output %d", ErrNilParam, i)
		}
		if err := checkSpendOutput(out); err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		outputs = append(outputs, output{txOut: wire.NewTxOut(out.Value, out.PkScript)})
	}
	if params.Change < 0 {
		return nil, fmt.Errorf("%w: negative change %d", ErrInvalidParams, params.Change)
	}
	if params.Change > 0 {
		if err := checkDescriptor(params.ChangeDescriptor, descriptor.RoleDeposit); err != nil {
			return nil, err
		}
		change := vaultOutput(params.Change, params.ChangeDescriptor)
		if err := checkSpendOutput(change.txOut); err != nil {
			return nil, fmt.Errorf("change: %w", err)
		}
		outputs = append(outputs, change)
	}

	t, err := newTransaction(RoleSpend, params.LockTime, params.Inputs, sequences,
		txscript.SigHashAll, outputs)
	if err != nil {
		return nil, err
	}

	// 3. Size the CPFP output from the satisfied weight. Output values have
	// a fixed serialized size, so setting it does not change the weight.
	weight := t.MaxWeight()
	if weight > MaxStandardTxWeight {
		return nil, fmt.Errorf("%w: weight %d exceeds %d", ErrTooLarge, weight, MaxStandardTxWeight)
	}
	t.packet.UnsignedTx.TxOut[0].Value = int64(weight) * SpendCPFPWeightMultiplier

	// 4. Fees.
	fees, err := t.Fees()
	if err != nil {
		return nil, err
	}
	if fees > InsaneFees && !params.AllowInsaneFees {
		return nil, fmt.Errorf("%w: %d", ErrInsaneFees, fees)
	}
	return t, nil
}

func checkSpendOutput(out *wire.TxOut) error {
	if _, err := amount.New(out.Value); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	if mempool.IsDust(out, mempool.DefaultMinRelayTxFee) {
		return fmt.Errorf("%w: %d sat to %x", ErrDust, out.Value, out.PkScript)
	}
	return nil
}
