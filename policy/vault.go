package policy

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// VaultParams describes the unvault output policy:
//
//	or(all stakeholders, and(threshold of managers, all cosigners, older(csv)))
type VaultParams struct {
	Stakeholders      []*btcec.PublicKey
	Managers          []*btcec.PublicKey
	ManagersThreshold int
	Cosigners         []*btcec.PublicKey // optional; one per stakeholder when set
	CSV               uint32             // block-based relative lock of the managers branch
}

// Vault is the two-branch unvault policy. It compiles to:
//
//	OP_IF
//	  OP_N <stk_1> ... <stk_N> OP_N OP_CHECKMULTISIG
//	OP_ELSE
//	  <csv> OP_CHECKSEQUENCEVERIFY OP_DROP
//	  <cos_1> OP_CHECKSIGVERIFY ... <cos_N> OP_CHECKSIGVERIFY
//	  OP_k <man_1> ... <man_M> OP_M OP_CHECKMULTISIG
//	OP_ENDIF
type Vault struct {
	stakeholders []*btcec.PublicKey
	managers     []*btcec.PublicKey
	threshold    int
	cosigners    []*btcec.PublicKey
	csv          uint32
	script       []byte
}

// Compile-time interface check.
var _ Policy = (*Vault)(nil)

// NewVault compiles the unvault policy.
func NewVault(params *VaultParams) (*Vault, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: nil params", ErrInvalidPolicy)
	}
	nStk, nMan := len(params.Stakeholders), len(params.Managers)
	if nStk == 0 || nMan == 0 {
		return nil, fmt.Errorf("%w: need at least one stakeholder and one manager", ErrInvalidPolicy)
	}
	if nStk > txscript.MaxPubKeysPerMultiSig || nMan > txscript.MaxPubKeysPerMultiSig {
		return nil, fmt.Errorf("%w: at most %d stakeholders or managers",
			ErrInvalidPolicy, txscript.MaxPubKeysPerMultiSig)
	}
	if params.ManagersThreshold < 1 || params.ManagersThreshold > nMan {
		return nil, fmt.Errorf("%w: managers threshold %d of %d",
			ErrInvalidPolicy, params.ManagersThreshold, nMan)
	}
	if len(params.Cosigners) != 0 && len(params.Cosigners) != nStk {
		return nil, fmt.Errorf("%w: %d cosigners for %d stakeholders",
			ErrInvalidPolicy, len(params.Cosigners), nStk)
	}
	if err := ValidateRelativeLock(params.CSV); err != nil {
		return nil, err
	}

	all := make([]*btcec.PublicKey, 0, nStk+nMan+len(params.Cosigners))
	all = append(all, params.Stakeholders...)
	all = append(all, params.Managers...)
	all = append(all, params.Cosigners...)
	if err := checkKeys(all); err != nil {
		return nil, err
	}

	v := &Vault{
		stakeholders: append([]*btcec.PublicKey(nil), params.Stakeholders...),
		managers:     append([]*btcec.PublicKey(nil), params.Managers...),
		threshold:    params.ManagersThreshold,
		cosigners:    append([]*btcec.PublicKey(nil), params.Cosigners...),
		csv:          params.CSV,
	}

	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_IF)
	addMultisig(b, nStk, v.stakeholders)
	b.AddOp(txscript.OP_ELSE)
	b.AddInt64(int64(v.csv)).AddOp(txscript.OP_CHECKSEQUENCEVERIFY).AddOp(txscript.OP_DROP)
	for _, c := range v.cosigners {
		b.AddData(c.SerializeCompressed()).AddOp(txscript.OP_CHECKSIGVERIFY)
	}
	addMultisig(b, v.threshold, v.managers)
	b.AddOp(txscript.OP_ENDIF)

	script, err := b.Script()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	v.script = script

	return v, nil
}

// CSV returns the relative lock of the managers branch.
func (v *Vault) CSV() uint32 { return v.csv }

// Stakeholders returns the stakeholder keys in script order.
func (v *Vault) Stakeholders() []*btcec.PublicKey {
	return append([]*btcec.PublicKey(nil), v.stakeholders...)
}

// Managers returns the manager keys in script order.
func (v *Vault) Managers() []*btcec.PublicKey {
	return append([]*btcec.PublicKey(nil), v.managers...)
}

// Cosigners returns the cosigning server keys in script order.
func (v *Vault) Cosigners() []*btcec.PublicKey {
	return append([]*btcec.PublicKey(nil), v.cosigners...)
}

// ManagersThreshold returns k of the managers multisig.
func (v *Vault) ManagersThreshold() int { return v.threshold }

// WitnessScript implements Policy.
func (v *Vault) WitnessScript() []byte { return v.script }

// Keys implements Policy: stakeholders, then managers, then cosigners.
func (v *Vault) Keys() []*btcec.PublicKey {
	all := make([]*btcec.PublicKey, 0, len(v.stakeholders)+len(v.managers)+len(v.cosigners))
	all = append(all, v.stakeholders...)
	all = append(all, v.managers...)
	return append(all, v.cosigners...)
}

// HasKey implements Policy.
func (v *Vault) HasKey(pub *btcec.PublicKey) bool {
	return indexOf(v.stakeholders, pub) >= 0 ||
		indexOf(v.managers, pub) >= 0 ||
		indexOf(v.cosigners, pub) >= 0
}

// Threshold implements Policy.
func (v *Vault) Threshold() int {
	return min(len(v.stakeholders), v.threshold+len(v.cosigners))
}

// MaxWitnessSize implements Policy.
func (v *Vault) MaxWitnessSize() int {
	script := pushSize(len(v.script))

	// dummy, N signatures, selector 0x01, script
	stk := wire.VarIntSerializeSize(uint64(len(v.stakeholders)+3)) +
		pushSize(0) + len(v.stakeholders)*pushSize(maxSigSize) + pushSize(1) + script

	// dummy, k signatures, one per cosigner, empty selector, script
	nMan := v.threshold + len(v.cosigners)
	man := wire.VarIntSerializeSize(uint64(nMan+3)) +
		pushSize(0) + nMan*pushSize(maxSigSize) + pushSize(0) + script

	return max(stk, man)
}

// Satisfy implements Policy. The stakeholders branch is preferred whenever
// every stakeholder signed; the managers branch additionally requires the
// spending sequence to satisfy the relative lock.
func (v *Vault) Satisfy(sigs Signatures, sequence uint32) (*Satisfaction, error) {
	if stkSigs, ok := pickSignatures(v.stakeholders, len(v.stakeholders), sigs); ok {
		witness := make(wire.TxWitness, 0, len(stkSigs)+3)
		witness = append(witness, nil)
		witness = append(witness, stkSigs...)
		witness = append(witness, []byte{0x01}, v.script)
		return &Satisfaction{Branch: BranchStakeholders, Witness: witness}, nil
	}

	manSigs, manOK := pickSignatures(v.managers, v.threshold, sigs)
	cosSigs, cosOK := pickSignatures(v.cosigners, len(v.cosigners), sigs)
	if !manOK || !cosOK {
		return nil, fmt.Errorf("%w: stakeholders %d/%d, managers %d/%d, cosigners %d/%d",
			ErrNotEnoughSignatures,
			countSignatures(v.stakeholders, sigs), len(v.stakeholders),
			countSignatures(v.managers, sigs), v.threshold,
			countSignatures(v.cosigners, sigs), len(v.cosigners))
	}
	if !SequenceSatisfies(sequence, v.csv) {
		return nil, fmt.Errorf("%w: managers branch needs sequence >= %d, input has %#x",
			ErrUnsatisfiable, v.csv, sequence)
	}

	witness := make(wire.TxWitness, 0, len(manSigs)+len(cosSigs)+3)
	witness = append(witness, nil)
	witness = append(witness, manSigs...)
	// The first cosigner key is checked first, so its signature sits on top.
	for i := len(cosSigs) - 1; i >= 0; i-- {
		witness = append(witness, cosSigs[i])
	}
	witness = append(witness, nil, v.script)

	return &Satisfaction{Branch: BranchManagers, Witness: witness}, nil
}
