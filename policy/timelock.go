package policy

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// SequenceLocktimeMask selects the 16-bit relative lock value of an nSequence.
const SequenceLocktimeMask uint32 = 0x0000ffff

// ValidateRelativeLock checks that csv is a block-based BIP68 relative lock:
// the disable and type flags are unset and the value fits the 16-bit mask.
func ValidateRelativeLock(csv uint32) error {
	if csv&wire.SequenceLockTimeDisabled != 0 {
		return fmt.Errorf("%w: disable flag set in %#x", ErrInvalidRelativeLock, csv)
	}
	if csv&wire.SequenceLockTimeIsSeconds != 0 {
		return fmt.Errorf("%w: time-based lock %#x not supported", ErrInvalidRelativeLock, csv)
	}
	if csv&SequenceLocktimeMask != csv {
		return fmt.Errorf("%w: %#x exceeds %#x", ErrInvalidRelativeLock, csv, SequenceLocktimeMask)
	}
	return nil
}

// SequenceSatisfies reports whether an input carrying sequence passes
// "<csv> OP_CHECKSEQUENCEVERIFY" for a block-based csv.
func SequenceSatisfies(sequence, csv uint32) bool {
	if sequence&wire.SequenceLockTimeDisabled != 0 {
		return false
	}
	if sequence&wire.SequenceLockTimeIsSeconds != 0 {
		return false
	}
	return sequence&SequenceLocktimeMask >= csv&SequenceLocktimeMask
}
