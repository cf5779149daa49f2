package txgraph

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitfsorg/librevault-go/consensus"
	"github.com/bitfsorg/librevault-go/policy"
)

// expectedBranch is the branch every input of a role must be satisfied through.
var expectedBranch = map[Role]policy.Branch{
	RoleUnvault:          policy.BranchMultisig,
	RoleEmergency:        policy.BranchMultisig,
	RoleCancel:           policy.BranchStakeholders,
	RoleUnvaultEmergency: policy.BranchStakeholders,
	RoleSpend:            policy.BranchManagers,
}

// Verify re-executes every input of a finalized transaction through interp,
// consensus.NewEngine when nil. On success the transaction is Verified; on
// any failure it is Rejected and must be rebuilt. A Verified transaction is
// immutable and verifying it again is a no-op.
func (t *Transaction) Verify(interp consensus.Interpreter) error {
	if t.role == RoleDeposit {
		return fmt.Errorf("%w: deposit transactions are external", ErrInvalidState)
	}
	if t.state == StateVerified {
		return nil
	}
	if t.state != StateFinalized {
		return fmt.Errorf("%w: cannot verify a %s transaction", ErrInvalidState, t.state)
	}
	if interp == nil {
		interp = consensus.NewEngine()
	}

	if err := t.verify(interp); err != nil {
		t.state = StateRejected
		return fmt.Errorf("%w: %w", ErrConsensusValidationFailed, err)
	}
	t.state = StateVerified
	return nil
}

func (t *Transaction) verify(interp consensus.Interpreter) error {
	want := expectedBranch[t.role]
	for i, in := range t.inputs {
		if in.branch != want {
			return fmt.Errorf("%w: %s input %d satisfied through %s, expected %s",
				ErrUnexpectedBranch, t.role, i, in.branch, want)
		}
	}

	tx, err := psbt.Extract(t.packet)
	if err != nil {
		return err
	}
	fetcher, err := t.prevOutFetcher()
	if err != nil {
		return err
	}
	return consensus.VerifyTx(interp, tx, fetcher)
}

// Extract returns the fully signed network transaction. It requires a
// transaction Verify has passed in this process, except for deposits which
// are already final. A decoded transaction is never Verified.
func (t *Transaction) Extract() (*wire.MsgTx, error) {
	if t.role != RoleDeposit && t.state != StateVerified {
		return nil, fmt.Errorf("%w: cannot extract a %s transaction", ErrInvalidState, t.state)
	}
	tx, err := psbt.Extract(t.packet)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	return tx, nil
}
