package descriptor

import (
	"bytes"
	"fmt"
)

// Set groups the four descriptors of one vault deployment.
type Set struct {
	Deposit   *Descriptor
	Unvault   *Descriptor
	FeeBump   *Descriptor
	Emergency *Descriptor
}

// Validate checks every descriptor is present and carries its own role.
func (s *Set) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil set", ErrInvalidDescriptor)
	}
	for _, c := range []struct {
		d    *Descriptor
		role Role
	}{
		{s.Deposit, RoleDeposit},
		{s.Unvault, RoleUnvault},
		{s.FeeBump, RoleFeeBump},
		{s.Emergency, RoleEmergency},
	} {
		if c.d == nil {
			return fmt.Errorf("%w: missing %s descriptor", ErrInvalidDescriptor, c.role)
		}
		if c.d.Role() != c.role {
			return fmt.Errorf("%w: %s descriptor in %s slot", ErrInvalidDescriptor, c.d.Role(), c.role)
		}
	}
	return nil
}

// All returns the non-nil descriptors of the set.
func (s *Set) All() []*Descriptor {
	var all []*Descriptor
	for _, d := range []*Descriptor{s.Deposit, s.Unvault, s.FeeBump, s.Emergency} {
		if d != nil {
			all = append(all, d)
		}
	}
	return all
}

// FindByWitnessScript returns the descriptor of ds compiling to script.
func FindByWitnessScript(script []byte, ds ...*Descriptor) (*Descriptor, bool) {
	for _, d := range ds {
		if d != nil && bytes.Equal(d.WitnessScript(), script) {
			return d, true
		}
	}
	return nil, false
}
