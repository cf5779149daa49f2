package txgraph

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"

	"github.com/bitfsorg/librevault-go/amount"
	"github.com/bitfsorg/librevault-go/descriptor"
)

// UnvaultParams holds the inputs of BuildUnvault.
type UnvaultParams struct {
	Deposit  *Input
	Unvault  *descriptor.Descriptor
	FeeBump  *descriptor.Descriptor
	Feerate  amount.Amount // sat/vbyte
	LockTime uint32
	Schedule *FeeSchedule // nil for DefaultFeeSchedule()
}

// BuildUnvault builds the transaction moving a deposit under the unvault
// policy. Output 0 pays the unvault descriptor, output 1 is the
// UnvaultCPFPValue fee-bump output.
func BuildUnvault(params *UnvaultParams) (*Transaction, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: unvault params", ErrNilParam)
	}

	// 1. Roles.
	if err := params.Deposit.checkRole(descriptor.RoleDeposit); err != nil {
		return nil, err
	}
	if err := checkDescriptor(params.Unvault, descriptor.RoleUnvault); err != nil {
		return nil, err
	}
	if err := checkDescriptor(params.FeeBump, descriptor.RoleFeeBump); err != nil {
		return nil, err
	}

	// 2. Output value: deposit minus fixed fee minus the CPFP output.
	fee, err := scheduleOrDefault(params.Schedule).Fee(RoleUnvault, params.Feerate)
	if err != nil {
		return nil, err
	}
	value, err := params.Deposit.Value.Sub(fee)
	if err == nil {
		value, err = value.Sub(UnvaultCPFPValue)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: deposit %d cannot pay fee %d and CPFP output %d",
			ErrInsufficientFunds, params.Deposit.Value, fee, UnvaultCPFPValue)
	}
	if value < DustLimit {
		return nil, fmt.Errorf("%w: unvault output %d", ErrDust, value)
	}

	// 3. Assemble.
	t, err := newTransaction(RoleUnvault, params.LockTime,
		[]*Input{params.Deposit}, []uint32{descriptor.NoRelativeLock},
		txscript.SigHashAll,
		[]output{
			vaultOutput(value, params.Unvault),
			vaultOutput(UnvaultCPFPValue, params.FeeBump),
		})
	if err != nil {
		return nil, err
	}
	if err := t.checkFixedFee(fee); err != nil {
		return nil, err
	}
	return t, nil
}

// UnvaultOutput returns the unvault output of an Unvault transaction.
func (t *Transaction) UnvaultOutput() (*Input, error) {
	if t.role != RoleUnvault {
		return nil, fmt.Errorf("%w: %s has no unvault output", ErrInvalidState, t.role)
	}
	return t.Output(0)
}

// FeeBumpOutput returns the CPFP output of an Unvault or Spend transaction.
func (t *Transaction) FeeBumpOutput() (*Input, error) {
	switch t.role {
	case RoleUnvault:
		return t.Output(1)
	case RoleSpend:
		return t.Output(0)
	default:
		return nil, fmt.Errorf("%w: %s has no fee-bump output", ErrInvalidState, t.role)
	}
}

// UnvaultSpendSequence returns the nSequence a Spend input of the unvault
// output must carry: the unvault descriptor's relative lock.
func (t *Transaction) UnvaultSpendSequence() (uint32, error) {
	out, err := t.UnvaultOutput()
	if err != nil {
		return 0, err
	}
	return descriptor.SequenceForCSV(out.Descriptor.CSV())
}
