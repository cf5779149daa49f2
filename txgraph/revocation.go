package txgraph

import (
	"fmt"

	"github.com/bitfsorg/librevault-go/amount"
	"github.com/bitfsorg/librevault-go/descriptor"
)

// RevocationParams holds the inputs of BuildCancel and BuildUnvaultEmergency.
type RevocationParams struct {
	// Unvault is the unvault output being revoked.
	Unvault *Input

	// Destination is the deposit descriptor for a Cancel and the emergency
	// descriptor for an UnvaultEmergency.
	Destination *descriptor.Descriptor

	Feerate  amount.Amount // sat/vbyte
	LockTime uint32
	Schedule *FeeSchedule // nil for DefaultFeeSchedule()
}

// EmergencyParams holds the inputs of BuildEmergency.
type EmergencyParams struct {
	Deposit   *Input
	Emergency *descriptor.Descriptor
	Feerate   amount.Amount // sat/vbyte
	LockTime  uint32
	Schedule  *FeeSchedule // nil for DefaultFeeSchedule()
}

// BuildCancel builds the transaction sending an unvault output back to a new
// deposit through the stakeholders branch.
func BuildCancel(params *RevocationParams) (*Transaction, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: cancel params", ErrNilParam)
	}
	return buildRevocation(RoleCancel, params.Unvault, descriptor.RoleUnvault,
		params.Destination, descriptor.RoleDeposit,
		params.Feerate, params.LockTime, params.Schedule)
}

// BuildUnvaultEmergency builds the transaction sending an unvault output to
// the emergency descriptor through the stakeholders branch.
func BuildUnvaultEmergency(params *RevocationParams) (*Transaction, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: unvault emergency params", ErrNilParam)
	}
	return buildRevocation(RoleUnvaultEmergency, params.Unvault, descriptor.RoleUnvault,
		params.Destination, descriptor.RoleEmergency,
		params.Feerate, params.LockTime, params.Schedule)
}

// BuildEmergency builds the transaction sending a deposit to the emergency
// descriptor.
func BuildEmergency(params *EmergencyParams) (*Transaction, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: emergency params", ErrNilParam)
	}
	return buildRevocation(RoleEmergency, params.Deposit, descriptor.RoleDeposit,
		params.Emergency, descriptor.RoleEmergency,
		params.Feerate, params.LockTime, params.Schedule)
}

// buildRevocation builds a one-input one-output revocation transaction.
// Its input is spendable immediately and signs ALL|ANYONECANPAY.
func buildRevocation(role Role, in *Input, inRole descriptor.Role,
	dest *descriptor.Descriptor, destRole descriptor.Role,
	feerate amount.Amount, lockTime uint32, schedule *FeeSchedule) (*Transaction, error) {

	if err := in.checkRole(inRole); err != nil {
		return nil, err
	}
	if err := checkDescriptor(dest, destRole); err != nil {
		return nil, err
	}

	value, fee, err := revocationValue(role, in.Value, feerate, schedule)
	if err != nil {
		return nil, err
	}

	t, err := newTransaction(role, lockTime,
		[]*Input{in}, []uint32{descriptor.NoRelativeLock},
		sighashAnyoneCanPay,
		[]output{vaultOutput(value, dest)})
	if err != nil {
		return nil, err
	}
	if err := t.checkFixedFee(fee); err != nil {
		return nil, err
	}
	return t, nil
}
