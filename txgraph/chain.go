package txgraph

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/bitfsorg/librevault-go/amount"
	"github.com/bitfsorg/librevault-go/descriptor"
)

// ChainParams holds the inputs of BuildChain.
type ChainParams struct {
	Deposit     *Input
	Descriptors *descriptor.Set

	UnvaultFeerate   amount.Amount
	CancelFeerate    amount.Amount
	EmergencyFeerate amount.Amount

	LockTime uint32
	Schedule *FeeSchedule // nil for DefaultFeeSchedule()
}

// Chain is the set of pre-signed transactions derived from one deposit.
type Chain struct {
	Unvault          *Transaction
	Cancel           *Transaction
	Emergency        *Transaction
	UnvaultEmergency *Transaction
}

// All returns the chain's transactions in signing order: revocations
// before the Unvault they protect against.
func (c *Chain) All() []*Transaction {
	return []*Transaction{c.Emergency, c.Cancel, c.UnvaultEmergency, c.Unvault}
}

// BuildChain derives the Unvault, Cancel, Emergency and UnvaultEmergency
// transactions of a deposit. The Cancel pays back to the deposit descriptor.
func BuildChain(params *ChainParams) (*Chain, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: chain params", ErrNilParam)
	}
	if err := params.Descriptors.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDescriptorMismatch, err)
	}
	set := params.Descriptors

	unvault, err := BuildUnvault(&UnvaultParams{
		Deposit:  params.Deposit,
		Unvault:  set.Unvault,
		FeeBump:  set.FeeBump,
		Feerate:  params.UnvaultFeerate,
		LockTime: params.LockTime,
		Schedule: params.Schedule,
	})
	if err != nil {
		return nil, fmt.Errorf("unvault: %w", err)
	}
	unvaultOut, err := unvault.UnvaultOutput()
	if err != nil {
		return nil, err
	}

	cancel, err := BuildCancel(&RevocationParams{
		Unvault:     unvaultOut,
		Destination: set.Deposit,
		Feerate:     params.CancelFeerate,
		LockTime:    params.LockTime,
		Schedule:    params.Schedule,
	})
	if err != nil {
		return nil, fmt.Errorf("cancel: %w", err)
	}

	emergency, err := BuildEmergency(&EmergencyParams{
		Deposit:   params.Deposit,
		Emergency: set.Emergency,
		Feerate:   params.EmergencyFeerate,
		LockTime:  params.LockTime,
		Schedule:  params.Schedule,
	})
	if err != nil {
		return nil, fmt.Errorf("emergency: %w", err)
	}

	unvaultEmergency, err := BuildUnvaultEmergency(&RevocationParams{
		Unvault:     unvaultOut,
		Destination: set.Emergency,
		Feerate:     params.EmergencyFeerate,
		LockTime:    params.LockTime,
		Schedule:    params.Schedule,
	})
	if err != nil {
		return nil, fmt.Errorf("unvault emergency: %w", err)
	}

	return &Chain{
		Unvault:          unvault,
		Cancel:           cancel,
		Emergency:        emergency,
		UnvaultEmergency: unvaultEmergency,
	}, nil
}

// SpendFromDepositsParams holds the inputs of BuildSpendFromDeposits.
type SpendFromDepositsParams struct {
	Deposits       []*Input
	Descriptors    *descriptor.Set
	UnvaultFeerate amount.Amount

	Outputs         []*wire.TxOut
	Change          amount.Amount // paid to the deposit descriptor when positive
	LockTime        uint32
	AllowInsaneFees bool
	Schedule        *FeeSchedule // nil for DefaultFeeSchedule()
}

// BuildSpendFromDeposits derives the Unvault transaction of every deposit
// and the Spend consuming all their unvault outputs.
func BuildSpendFromDeposits(params *SpendFromDepositsParams) ([]*Transaction, *Transaction, error) {
	if params == nil {
		return nil, nil, fmt.Errorf("%w: spend from deposits params", ErrNilParam)
	}
	if err := params.Descriptors.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrDescriptorMismatch, err)
	}
	set := params.Descriptors

	unvaults := make([]*Transaction, 0, len(params.Deposits))
	inputs := make([]*Input, 0, len(params.Deposits))
	for i, dep := range params.Deposits {
		unvault, err := BuildUnvault(&UnvaultParams{
			Deposit:  dep,
			Unvault:  set.Unvault,
			FeeBump:  set.FeeBump,
			Feerate:  params.UnvaultFeerate,
			LockTime: params.LockTime,
			Schedule: params.Schedule,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("unvault %d: %w", i, err)
		}
		out, err := unvault.UnvaultOutput()
		if err != nil {
			return nil, nil, err
		}
		unvaults = append(unvaults, unvault)
		inputs = append(inputs, out)
	}

	spend, err := BuildSpend(&SpendParams{
		Inputs:           inputs,
		Outputs:          params.Outputs,
		Change:           params.Change,
		ChangeDescriptor: set.Deposit,
		FeeBump:          set.FeeBump,
		LockTime:         params.LockTime,
		AllowInsaneFees:  params.AllowInsaneFees,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("spend: %w", err)
	}
	return unvaults, spend, nil
}
