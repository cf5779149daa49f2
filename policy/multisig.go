package policy

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Multisig is a k-of-n CHECKMULTISIG policy:
//
//	OP_k <pk_1> ... <pk_n> OP_n OP_CHECKMULTISIG
//
// Keys keep the order they were given in; signatures are laid out in the
// same order when satisfying.
type Multisig struct {
	threshold int
	keys      []*btcec.PublicKey
	script    []byte
}

// Compile-time interface check.
var _ Policy = (*Multisig)(nil)

// NewMultisig compiles a threshold-of-len(keys) multisig policy.
func NewMultisig(threshold int, keys []*btcec.PublicKey) (*Multisig, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no keys", ErrInvalidPolicy)
	}
	if len(keys) > txscript.MaxPubKeysPerMultiSig {
		return nil, fmt.Errorf("%w: %d keys, at most %d",
			ErrInvalidPolicy, len(keys), txscript.MaxPubKeysPerMultiSig)
	}
	if threshold < 1 || threshold > len(keys) {
		return nil, fmt.Errorf("%w: threshold %d of %d keys", ErrInvalidPolicy, threshold, len(keys))
	}
	if err := checkKeys(keys); err != nil {
		return nil, err
	}

	script, err := addMultisig(txscript.NewScriptBuilder(), threshold, keys).Script()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}

	return &Multisig{
		threshold: threshold,
		keys:      append([]*btcec.PublicKey(nil), keys...),
		script:    script,
	}, nil
}

// addMultisig appends the CHECKMULTISIG fragment to b.
func addMultisig(b *txscript.ScriptBuilder, threshold int, keys []*btcec.PublicKey) *txscript.ScriptBuilder {
	b.AddInt64(int64(threshold))
	for _, k := range keys {
		b.AddData(k.SerializeCompressed())
	}
	b.AddInt64(int64(len(keys)))
	b.AddOp(txscript.OP_CHECKMULTISIG)
	return b
}

// WitnessScript implements Policy.
func (m *Multisig) WitnessScript() []byte { return m.script }

// Keys implements Policy.
func (m *Multisig) Keys() []*btcec.PublicKey {
	return append([]*btcec.PublicKey(nil), m.keys...)
}

// HasKey implements Policy.
func (m *Multisig) HasKey(pub *btcec.PublicKey) bool {
	return indexOf(m.keys, pub) >= 0
}

// Threshold implements Policy.
func (m *Multisig) Threshold() int { return m.threshold }

// MaxWitnessSize implements Policy.
func (m *Multisig) MaxWitnessSize() int {
	// items: dummy, k signatures, witness script
	return wire.VarIntSerializeSize(uint64(m.threshold+2)) +
		pushSize(0) +
		m.threshold*pushSize(maxSigSize) +
		pushSize(len(m.script))
}

// Satisfy implements Policy. The sequence is irrelevant to a plain multisig.
func (m *Multisig) Satisfy(sigs Signatures, _ uint32) (*Satisfaction, error) {
	chosen, ok := pickSignatures(m.keys, m.threshold, sigs)
	if !ok {
		return nil, fmt.Errorf("%w: have %d of %d", ErrNotEnoughSignatures,
			countSignatures(m.keys, sigs), m.threshold)
	}

	witness := make(wire.TxWitness, 0, m.threshold+2)
	// CHECKMULTISIG pops one element more than it uses.
	witness = append(witness, nil)
	witness = append(witness, chosen...)
	witness = append(witness, m.script)

	return &Satisfaction{Branch: BranchMultisig, Witness: witness}, nil
}

// pickSignatures returns the first k signatures in key order.
func pickSignatures(keys []*btcec.PublicKey, k int, sigs Signatures) ([][]byte, bool) {
	chosen := make([][]byte, 0, k)
	for _, pub := range keys {
		if len(chosen) == k {
			break
		}
		if sig, ok := sigs.Get(pub); ok {
			chosen = append(chosen, sig)
		}
	}
	return chosen, len(chosen) == k
}

func countSignatures(keys []*btcec.PublicKey, sigs Signatures) int {
	n := 0
	for _, pub := range keys {
		if _, ok := sigs.Get(pub); ok {
			n++
		}
	}
	return n
}

func indexOf(keys []*btcec.PublicKey, pub *btcec.PublicKey) int {
	if pub == nil {
		return -1
	}
	for i, k := range keys {
		if k.IsEqual(pub) {
			return i
		}
	}
	return -1
}
