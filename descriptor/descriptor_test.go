package descriptor

import (
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/librevault-go/policy"
	"github.com/bitfsorg/librevault-go/vaulttest"
)

func testSet(t *testing.T) *Set {
	t.Helper()
	p := vaulttest.NewParticipants(2, 3, true)

	dep, err := NewDeposit(vaulttest.PubKeys(p.Stakeholders))
	require.NoError(t, err)
	unv, err := NewUnvault(&UnvaultParams{
		Stakeholders:      vaulttest.PubKeys(p.Stakeholders),
		Managers:          vaulttest.PubKeys(p.Managers),
		ManagersThreshold: 2,
		Cosigners:         vaulttest.PubKeys(p.Cosigners),
		CSV:               144,
	})
	require.NoError(t, err)
	fb, err := NewFeeBump(vaulttest.PubKeys(p.Managers))
	require.NoError(t, err)
	emer, err := NewEmergency(vaulttest.PubKeys(p.Emergency))
	require.NoError(t, err)

	return &Set{Deposit: dep, Unvault: unv, FeeBump: fb, Emergency: emer}
}

func TestDescriptorRoles(t *testing.T) {
	s := testSet(t)
	require.NoError(t, s.Validate())

	assert.Equal(t, RoleDeposit, s.Deposit.Role())
	assert.Equal(t, RoleUnvault, s.Unvault.Role())
	assert.Equal(t, RoleFeeBump, s.FeeBump.Role())
	assert.Equal(t, RoleEmergency, s.Emergency.Role())

	assert.Equal(t, 2, s.Deposit.Threshold())
	assert.Equal(t, 1, s.FeeBump.Threshold())
	assert.Equal(t, uint32(144), s.Unvault.CSV())
	assert.Equal(t, uint32(0), s.Deposit.CSV())

	for _, d := range s.All() {
		assert.Equal(t, txscript.WitnessV0ScriptHashTy, txscript.GetScriptClass(d.PkScript()), d.String())
		assert.True(t, d.Matches(d.PkScript()))
		assert.Positive(t, d.MaxSatisfactionWitnessSize())
	}

	_, isVault := s.Unvault.Policy().(*policy.Vault)
	assert.True(t, isVault)
}

func TestDescriptorErrors(t *testing.T) {
	keys := vaulttest.PubKeys(vaulttest.PrivKeys("stakeholder", 2))

	_, err := NewDeposit(keys[:1])
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	_, err = NewDeposit(nil)
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	_, err = NewFeeBump(nil)
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	_, err = NewEmergency(nil)
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	_, err = NewUnvault(nil)
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	_, err = NewUnvault(&UnvaultParams{
		Stakeholders:      keys,
		Managers:          keys[:1],
		ManagersThreshold: 1,
		CSV:               10,
	})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
	assert.ErrorIs(t, err, policy.ErrDuplicateKey)
}

func TestCheckOutput(t *testing.T) {
	s := testSet(t)
	assert.NoError(t, s.Deposit.CheckOutput(s.Deposit.PkScript()))
	assert.ErrorIs(t, s.Deposit.CheckOutput(s.Unvault.PkScript()), ErrScriptMismatch)
}

func TestSetValidate(t *testing.T) {
	s := testSet(t)

	swapped := *s
	swapped.Deposit, swapped.Emergency = s.Emergency, s.Deposit
	assert.ErrorIs(t, swapped.Validate(), ErrInvalidDescriptor)

	missing := *s
	missing.FeeBump = nil
	assert.ErrorIs(t, missing.Validate(), ErrInvalidDescriptor)
	assert.Len(t, missing.All(), 3)

	var nilSet *Set
	assert.ErrorIs(t, nilSet.Validate(), ErrInvalidDescriptor)
}

func TestFindByWitnessScript(t *testing.T) {
	s := testSet(t)

	d, ok := FindByWitnessScript(s.Unvault.WitnessScript(), s.All()...)
	require.True(t, ok)
	assert.Same(t, s.Unvault, d)

	_, ok = FindByWitnessScript([]byte{txscript.OP_TRUE}, s.All()...)
	assert.False(t, ok)
}

func TestParseFormatKeys(t *testing.T) {
	keys := vaulttest.PubKeys(vaulttest.PrivKeys("manager", 3))

	parsed, err := ParseKeys(FormatKeys(keys))
	require.NoError(t, err)
	require.Len(t, parsed, 3)
	for i := range keys {
		assert.True(t, keys[i].IsEqual(parsed[i]))
	}

	empty, err := ParseKeys("  ")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseKeys("zz")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = ParseKeys("02abcd")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSequenceForCSV(t *testing.T) {
	seq, err := SequenceForCSV(144)
	require.NoError(t, err)
	assert.Equal(t, uint32(144), seq)

	_, err = SequenceForCSV(NoRelativeLock)
	assert.ErrorIs(t, err, policy.ErrInvalidRelativeLock)

	assert.Equal(t, uint32(0xfffffffd), NoRelativeLock)
	assert.False(t, policy.SequenceSatisfies(NoRelativeLock, 1))
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "deposit", RoleDeposit.String())
	assert.Equal(t, "unvault", RoleUnvault.String())
	assert.Equal(t, "feebump", RoleFeeBump.String())
	assert.Equal(t, "emergency", RoleEmergency.String())
	assert.Equal(t, "role(9)", Role(9).String())
}
