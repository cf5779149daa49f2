package txgraph

import (
	"fmt"

	"github.com/bitfsorg/librevault-go/amount"
)

const (
	// TxVersion is the version of every graph transaction; 2 enables BIP68.
	TxVersion = 2

	// UnvaultCPFPValue is the value of the fee-bump output of an Unvault transaction.
	UnvaultCPFPValue = amount.Amount(30_000)

	// DustLimit is the smallest value of any vault output.
	DustLimit = amount.Amount(200_000)

	// InsaneFees is the fee ceiling above which construction is refused.
	InsaneFees = amount.Amount(20_000_000)

	// MaxStandardTxWeight is the relay policy weight limit.
	MaxStandardTxWeight = 400_000

	// SpendCPFPWeightMultiplier sets the Spend fee-bump output to this many
	// satoshis per weight unit of the transaction.
	SpendCPFPWeightMultiplier = 16

	// witnessMarkerWeight accounts for the segwit marker and flag bytes.
	witnessMarkerWeight = 2
)

// FeeSchedule holds the fixed virtual size estimate of each pre-signed role.
// The fee of a role is its estimate times the caller's feerate.
type FeeSchedule struct {
	Unvault          int64
	Cancel           int64
	Emergency        int64
	UnvaultEmergency int64
}

// defaultFeeSchedule is sized for a 2-of-2 deposit and a 2-of-3 managers
// unvault with one cosigner per stakeholder, rounded up.
var defaultFeeSchedule = FeeSchedule{
	Unvault:          200,
	Cancel:           260,
	Emergency:        200,
	UnvaultEmergency: 260,
}

// VSize returns the estimate for role. Spend and Deposit have none.
func (s *FeeSchedule) VSize(role Role) (int64, error) {
	var v int64
	switch role {
	case RoleUnvault:
		v = s.Unvault
	case RoleCancel:
		v = s.Cancel
	case RoleEmergency:
		v = s.Emergency
	case RoleUnvaultEmergency:
		v = s.UnvaultEmergency
	default:
		return 0, fmt.Errorf("%w: no fixed size for %s", ErrInvalidParams, role)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: non-positive size %d for %s", ErrInvalidParams, v, role)
	}
	return v, nil
}

// Fee returns VSize(role) * feerate, feerate being in sat/vbyte.
func (s *FeeSchedule) Fee(role Role, feerate amount.Amount) (amount.Amount, error) {
	if feerate <= 0 {
		return 0, fmt.Errorf("%w: feerate must be positive, got %d", ErrInvalidParams, feerate)
	}
	vsize, err := s.VSize(role)
	if err != nil {
		return 0, err
	}
	fee, err := feerate.MulInt(vsize)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInsaneFees, err)
	}
	if fee > InsaneFees {
		return 0, fmt.Errorf("%w: %s at %d sat/vB is %d sat", ErrInsaneFees, role, feerate, fee)
	}
	return fee, nil
}

// DefaultFeeSchedule returns a copy of the schedule used when a builder is
// given none.
func DefaultFeeSchedule() *FeeSchedule {
	s := defaultFeeSchedule
	return &s
}

// FixedFee returns the fee of role at feerate under the default schedule.
func FixedFee(role Role, feerate amount.Amount) (amount.Amount, error) {
	return DefaultFeeSchedule().Fee(role, feerate)
}

func scheduleOrDefault(s *FeeSchedule) *FeeSchedule {
	if s == nil {
		return DefaultFeeSchedule()
	}
	return s
}
