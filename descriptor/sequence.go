package descriptor

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/bitfsorg/librevault-go/policy"
)

// NoRelativeLock is the nSequence of inputs that must be spendable as soon
// as their parent confirms. It signals replaceability and has the BIP68
// disable flag set.
const NoRelativeLock uint32 = wire.MaxTxInSequenceNum - 2

// SequenceForCSV returns the nSequence that satisfies a block-based relative
// lock of csv blocks.
func SequenceForCSV(csv uint32) (uint32, error) {
	if err := policy.ValidateRelativeLock(csv); err != nil {
		return 0, err
	}
	return csv, nil
}
