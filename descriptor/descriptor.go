// Package descriptor binds a compiled spending policy to its role in the vault
// graph. Descriptors are immutable once built and are shared by pointer
// between every transaction derived from them.
package descriptor

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/bitfsorg/librevault-go/policy"
)

// Role is the position of a descriptor in the vault graph.
type Role uint8

const (
	// RoleDeposit pays to every stakeholder (N-of-N).
	RoleDeposit Role = iota + 1

	// RoleUnvault pays to the two-branch unvault policy.
	RoleUnvault

	// RoleFeeBump pays to any one manager (1-of-M); it is the CPFP output
	// attached to Unvault and Spend transactions.
	RoleFeeBump

	// RoleEmergency pays to the emergency key set, with no other spending path.
	RoleEmergency
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleDeposit:
		return "deposit"
	case RoleUnvault:
		return "unvault"
	case RoleFeeBump:
		return "feebump"
	case RoleEmergency:
		return "emergency"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Descriptor is a role-tagged compiled policy.
type Descriptor struct {
	role     Role
	policy   policy.Policy
	pkScript []byte
	csv      uint32
}

func newDescriptor(role Role, p policy.Policy, csv uint32) (*Descriptor, error) {
	pkScript, err := policy.PkScript(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	return &Descriptor{role: role, policy: p, pkScript: pkScript, csv: csv}, nil
}

// NewDeposit builds the deposit descriptor: every stakeholder must sign.
func NewDeposit(stakeholders []*btcec.PublicKey) (*Descriptor, error) {
	if len(stakeholders) < 2 {
		return nil, fmt.Errorf("%w: deposit needs at least 2 stakeholders, got %d",
			ErrInvalidDescriptor, len(stakeholders))
	}
	m, err := policy.NewMultisig(len(stakeholders), stakeholders)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	return newDescriptor(RoleDeposit, m, 0)
}

// UnvaultParams holds the participants of the unvault descriptor.
type UnvaultParams struct {
	Stakeholders      []*btcec.PublicKey
	Managers          []*btcec.PublicKey
	ManagersThreshold int
	Cosigners         []*btcec.PublicKey // optional, one per stakeholder
	CSV               uint32             // relative lock in blocks
}

// NewUnvault builds the unvault descriptor.
func NewUnvault(params *UnvaultParams) (*Descriptor, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: nil params", ErrInvalidDescriptor)
	}
	v, err := policy.NewVault(&policy.VaultParams{
		Stakeholders:      params.Stakeholders,
		Managers:          params.Managers,
		ManagersThreshold: params.ManagersThreshold,
		Cosigners:         params.Cosigners,
		CSV:               params.CSV,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	return newDescriptor(RoleUnvault, v, params.CSV)
}

// NewFeeBump builds the CPFP descriptor: any single manager may spend.
func NewFeeBump(managers []*btcec.PublicKey) (*Descriptor, error) {
	m, err := policy.NewMultisig(1, managers)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	return newDescriptor(RoleFeeBump, m, 0)
}

// NewEmergency builds the emergency descriptor: every emergency key must sign.
func NewEmergency(keys []*btcec.PublicKey) (*Descriptor, error) {
	m, err := policy.NewMultisig(len(keys), keys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	return newDescriptor(RoleEmergency, m, 0)
}

// Role returns the descriptor's role.
func (d *Descriptor) Role() Role { return d.role }

// Policy returns the compiled policy.
func (d *Descriptor) Policy() policy.Policy { return d.policy }

// CSV returns the relative lock of an unvault descriptor, 0 otherwise.
func (d *Descriptor) CSV() uint32 { return d.csv }

// PkScript returns the P2WSH output script. The returned slice must not be modified.
func (d *Descriptor) PkScript() []byte { return d.pkScript }

// WitnessScript returns the witness script. The returned slice must not be modified.
func (d *Descriptor) WitnessScript() []byte { return d.policy.WitnessScript() }

// Keys returns every key that may sign for the descriptor.
func (d *Descriptor) Keys() []*btcec.PublicKey { return d.policy.Keys() }

// Threshold returns the number of signatures of the cheapest spending path.
func (d *Descriptor) Threshold() int { return d.policy.Threshold() }

// MaxSatisfactionWitnessSize returns the largest witness, in bytes, any
// spending path produces.
func (d *Descriptor) MaxSatisfactionWitnessSize() int { return d.policy.MaxWitnessSize() }

// Matches reports whether pkScript pays to this descriptor.
func (d *Descriptor) Matches(pkScript []byte) bool {
	return bytes.Equal(d.pkScript, pkScript)
}

// CheckOutput returns ErrScriptMismatch unless pkScript pays to this descriptor.
func (d *Descriptor) CheckOutput(pkScript []byte) error {
	if !d.Matches(pkScript) {
		return fmt.Errorf("%w: %s descriptor expects %x, got %x",
			ErrScriptMismatch, d.role, d.pkScript, pkScript)
	}
	return nil
}

// String returns a short human readable form, e.g. "unvault(wsh:0020ab..)".
func (d *Descriptor) String() string {
	return fmt.Sprintf("%s(wsh:%s)", d.role, hex.EncodeToString(d.pkScript))
}

// ParseKeys parses a comma-separated list of hex-encoded public keys.
func ParseKeys(s string) ([]*btcec.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	keys := make([]*btcec.PublicKey, 0, len(parts))
	for _, part := range parts {
		raw, err := hex.DecodeString(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidKey, part, err)
		}
		pub, err := btcec.ParsePubKey(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidKey, part, err)
		}
		keys = append(keys, pub)
	}
	return keys, nil
}

// FormatKeys is the inverse of ParseKeys.
func FormatKeys(keys []*btcec.PublicKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = hex.EncodeToString(k.SerializeCompressed())
	}
	return strings.Join(parts, ",")
}
