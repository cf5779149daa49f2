// Package policy is the script-policy boundary of the vault engine. A Policy
// compiles to a P2WSH witness script and, given a set of collected
// signatures, produces the minimal witness that satisfies it, tagged with
// the branch it used.
//
// Only the script templates needed by the vault protocol are supported:
// k-of-n CHECKMULTISIG and the two-branch unvault script.
package policy

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Branch identifies which spending path of a policy a witness satisfies.
type Branch uint8

const (
	// BranchNone is the zero value; no satisfaction has been produced.
	BranchNone Branch = iota

	// BranchMultisig is the single path of a k-of-n multisig policy.
	BranchMultisig

	// BranchStakeholders is the unvault path signed by every stakeholder,
	// available immediately.
	BranchStakeholders

	// BranchManagers is the unvault path signed by the managers threshold
	// and every cosigner, available once the relative timelock matured.
	BranchManagers
)

// String returns the branch name.
func (b Branch) String() string {
	switch b {
	case BranchMultisig:
		return "multisig"
	case BranchStakeholders:
		return "stakeholders"
	case BranchManagers:
		return "managers"
	default:
		return "none"
	}
}

// Policy is a compiled spending policy.
type Policy interface {
	// WitnessScript returns the compiled P2WSH witness script.
	WitnessScript() []byte

	// Keys returns every public key that may contribute a signature, in
	// script order.
	Keys() []*btcec.PublicKey

	// HasKey reports whether pub is one of Keys.
	HasKey(pub *btcec.PublicKey) bool

	// Threshold returns the number of signatures of the cheapest branch.
	Threshold() int

	// MaxWitnessSize returns the serialized size in bytes of the largest
	// witness any branch can produce, including the item count.
	MaxWitnessSize() int

	// Satisfy builds the witness for the cheapest branch the collected
	// signatures and the spending input's sequence allow.
	Satisfy(sigs Signatures, sequence uint32) (*Satisfaction, error)
}

// Satisfaction is a witness stack tagged with the branch it satisfies.
type Satisfaction struct {
	Branch  Branch
	Witness wire.TxWitness
}

// Signatures maps a compressed public key to its signature, DER encoded and
// followed by the sighash type byte.
type Signatures map[[btcec.PubKeyBytesLenCompressed]byte][]byte

// KeyID returns the map key used for pub.
func KeyID(pub *btcec.PublicKey) [btcec.PubKeyBytesLenCompressed]byte {
	var id [btcec.PubKeyBytesLenCompressed]byte
	copy(id[:], pub.SerializeCompressed())
	return id
}

// Get returns the signature for pub, if any.
func (s Signatures) Get(pub *btcec.PublicKey) ([]byte, bool) {
	sig, ok := s[KeyID(pub)]
	return sig, ok
}

// PkScript compiles p to its P2WSH output script, OP_0 <sha256(script)>.
func PkScript(p Policy) ([]byte, error) {
	return WitnessScriptHash(p.WitnessScript())
}

// WitnessScriptHash returns the P2WSH output script paying to witnessScript.
func WitnessScriptHash(witnessScript []byte) ([]byte, error) {
	scriptHash := sha256.Sum256(witnessScript)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(scriptHash[:]).
		Script()
}

// checkKeys rejects nil and duplicated keys.
func checkKeys(keys []*btcec.PublicKey) error {
	seen := make(map[[btcec.PubKeyBytesLenCompressed]byte]struct{}, len(keys))
	for i, k := range keys {
		if k == nil {
			return fmt.Errorf("%w: key %d is nil", ErrInvalidPolicy, i)
		}
		id := KeyID(k)
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %x", ErrDuplicateKey, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// pushSize is the serialized size of a witness item of n bytes.
func pushSize(n int) int {
	return wire.VarIntSerializeSize(uint64(n)) + n
}

// maxSigSize is the largest DER signature plus sighash byte.
const maxSigSize = 73
