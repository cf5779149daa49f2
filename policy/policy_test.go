package policy

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/librevault-go/vaulttest"
)

// fakeSig returns a distinguishable placeholder signature for pub. Policies
// never inspect signature bytes, so no real signing is needed here.
func fakeSig(pub *btcec.PublicKey) []byte {
	id := KeyID(pub)
	return append([]byte{0x30}, id[1:9]...)
}

func sigsFor(pubs ...*btcec.PublicKey) Signatures {
	s := make(Signatures)
	for _, p := range pubs {
		s[KeyID(p)] = fakeSig(p)
	}
	return s
}

func testVaultParams(t *testing.T) *VaultParams {
	t.Helper()
	p := vaulttest.NewParticipants(2, 3, true)
	return &VaultParams{
		Stakeholders:      vaulttest.PubKeys(p.Stakeholders),
		Managers:          vaulttest.PubKeys(p.Managers),
		ManagersThreshold: 2,
		Cosigners:         vaulttest.PubKeys(p.Cosigners),
		CSV:               144,
	}
}

// ---------------------------------------------------------------------------
// Multisig
// ---------------------------------------------------------------------------

func TestNewMultisigErrors(t *testing.T) {
	keys := vaulttest.PubKeys(vaulttest.PrivKeys("stakeholder", 3))

	tests := []struct {
		name      string
		threshold int
		keys      []*btcec.PublicKey
		wantErr   error
	}{
		{"no keys", 1, nil, ErrInvalidPolicy},
		{"zero threshold", 0, keys, ErrInvalidPolicy},
		{"threshold above keys", 4, keys, ErrInvalidPolicy},
		{"duplicate key", 2, []*btcec.PublicKey{keys[0], keys[0]}, ErrDuplicateKey},
		{"nil key", 1, []*btcec.PublicKey{keys[0], nil}, ErrInvalidPolicy},
		{"too many keys", 1, vaulttest.PubKeys(vaulttest.PrivKeys("many", 21)), ErrInvalidPolicy},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMultisig(tc.threshold, tc.keys)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestMultisigScript(t *testing.T) {
	keys := vaulttest.PubKeys(vaulttest.PrivKeys("stakeholder", 2))
	m, err := NewMultisig(2, keys)
	require.NoError(t, err)

	assert.Equal(t, txscript.MultiSigTy, txscript.GetScriptClass(m.WitnessScript()))
	nKeys, reqSigs, err := txscript.CalcMultiSigStats(m.WitnessScript())
	require.NoError(t, err)
	assert.Equal(t, 2, nKeys)
	assert.Equal(t, 2, reqSigs)

	pkScript, err := PkScript(m)
	require.NoError(t, err)
	assert.Equal(t, txscript.WitnessV0ScriptHashTy, txscript.GetScriptClass(pkScript))

	assert.True(t, m.HasKey(keys[1]))
	assert.False(t, m.HasKey(vaulttest.PrivKey("stranger", 0).PubKey()))
	assert.Equal(t, 2, m.Threshold())
}

func TestMultisigSatisfy(t *testing.T) {
	keys := vaulttest.PubKeys(vaulttest.PrivKeys("manager", 3))
	m, err := NewMultisig(2, keys)
	require.NoError(t, err)

	t.Run("not enough signatures", func(t *testing.T) {
		_, err := m.Satisfy(sigsFor(keys[2]), 0)
		assert.ErrorIs(t, err, ErrNotEnoughSignatures)
	})

	t.Run("exact threshold keeps key order", func(t *testing.T) {
		sat, err := m.Satisfy(sigsFor(keys[2], keys[0]), 0)
		require.NoError(t, err)
		assert.Equal(t, BranchMultisig, sat.Branch)
		require.Len(t, sat.Witness, 4)
		assert.Empty(t, sat.Witness[0])
		assert.Equal(t, fakeSig(keys[0]), sat.Witness[1])
		assert.Equal(t, fakeSig(keys[2]), sat.Witness[2])
		assert.Equal(t, m.WitnessScript(), sat.Witness[3])
	})

	t.Run("surplus signatures use the first in key order", func(t *testing.T) {
		sat, err := m.Satisfy(sigsFor(keys...), 0)
		require.NoError(t, err)
		require.Len(t, sat.Witness, 4)
		assert.Equal(t, fakeSig(keys[0]), sat.Witness[1])
		assert.Equal(t, fakeSig(keys[1]), sat.Witness[2])
	})

	t.Run("max witness size bounds a real witness", func(t *testing.T) {
		sat, err := m.Satisfy(sigsFor(keys...), 0)
		require.NoError(t, err)
		assert.LessOrEqual(t, sat.Witness.SerializeSize(), m.MaxWitnessSize())
	})
}

// ---------------------------------------------------------------------------
// Vault
// ---------------------------------------------------------------------------

func TestNewVaultErrors(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*VaultParams)
		wantErr error
	}{
		{"no stakeholders", func(p *VaultParams) { p.Stakeholders = nil }, ErrInvalidPolicy},
		{"no managers", func(p *VaultParams) { p.Managers = nil }, ErrInvalidPolicy},
		{"threshold zero", func(p *VaultParams) { p.ManagersThreshold = 0 }, ErrInvalidPolicy},
		{"threshold above managers", func(p *VaultParams) { p.ManagersThreshold = 4 }, ErrInvalidPolicy},
		{"cosigner count", func(p *VaultParams) { p.Cosigners = p.Cosigners[:1] }, ErrInvalidPolicy},
		{"csv disabled", func(p *VaultParams) { p.CSV = 1 << 31 }, ErrInvalidRelativeLock},
		{"csv time based", func(p *VaultParams) { p.CSV = 1<<22 | 10 }, ErrInvalidRelativeLock},
		{"csv above mask", func(p *VaultParams) { p.CSV = 0x10000 }, ErrInvalidRelativeLock},
		{"manager is stakeholder", func(p *VaultParams) { p.Managers[0] = p.Stakeholders[0] }, ErrDuplicateKey},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := testVaultParams(t)
			tc.modify(p)
			_, err := NewVault(p)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}

	_, err := NewVault(nil)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestVaultScript(t *testing.T) {
	p := testVaultParams(t)
	v, err := NewVault(p)
	require.NoError(t, err)

	disasm, err := txscript.DisasmString(v.WitnessScript())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(disasm, "OP_IF 2 "))
	assert.Contains(t, disasm, "OP_CHECKSEQUENCEVERIFY OP_DROP")
	assert.Equal(t, 2, strings.Count(disasm, "OP_CHECKSIGVERIFY"))
	assert.True(t, strings.HasSuffix(disasm, "3 OP_CHECKMULTISIG OP_ENDIF"))

	assert.Equal(t, uint32(144), v.CSV())
	assert.Len(t, v.Keys(), 7)
	assert.Equal(t, 2, v.ManagersThreshold())
	// Cheapest branch: two stakeholders versus two managers plus two cosigners.
	assert.Equal(t, 2, v.Threshold())
}

func TestVaultWithoutCosigners(t *testing.T) {
	p := testVaultParams(t)
	p.Cosigners = nil
	v, err := NewVault(p)
	require.NoError(t, err)

	disasm, err := txscript.DisasmString(v.WitnessScript())
	require.NoError(t, err)
	assert.NotContains(t, disasm, "OP_CHECKSIGVERIFY")

	sat, err := v.Satisfy(sigsFor(p.Managers[0], p.Managers[1]), 144)
	require.NoError(t, err)
	assert.Equal(t, BranchManagers, sat.Branch)
}

func TestVaultSatisfy(t *testing.T) {
	p := testVaultParams(t)
	v, err := NewVault(p)
	require.NoError(t, err)

	t.Run("stakeholders branch", func(t *testing.T) {
		sat, err := v.Satisfy(sigsFor(p.Stakeholders...), wire.MaxTxInSequenceNum-2)
		require.NoError(t, err)
		assert.Equal(t, BranchStakeholders, sat.Branch)
		require.Len(t, sat.Witness, 5)
		assert.Equal(t, []byte{0x01}, sat.Witness[3])
		assert.Equal(t, v.WitnessScript(), sat.Witness[4])
	})

	t.Run("managers branch after timelock", func(t *testing.T) {
		sigs := sigsFor(p.Managers[1], p.Managers[2], p.Cosigners[0], p.Cosigners[1])
		sat, err := v.Satisfy(sigs, 144)
		require.NoError(t, err)
		assert.Equal(t, BranchManagers, sat.Branch)
		require.Len(t, sat.Witness, 7)
		assert.Equal(t, fakeSig(p.Managers[1]), sat.Witness[1])
		assert.Equal(t, fakeSig(p.Managers[2]), sat.Witness[2])
		// First cosigner on top of the stack, just below the selector.
		assert.Equal(t, fakeSig(p.Cosigners[1]), sat.Witness[3])
		assert.Equal(t, fakeSig(p.Cosigners[0]), sat.Witness[4])
		assert.Empty(t, sat.Witness[5])
	})

	t.Run("managers branch before timelock", func(t *testing.T) {
		sigs := sigsFor(p.Managers[0], p.Managers[1], p.Cosigners[0], p.Cosigners[1])
		_, err := v.Satisfy(sigs, 143)
		assert.ErrorIs(t, err, ErrUnsatisfiable)

		_, err = v.Satisfy(sigs, wire.MaxTxInSequenceNum-2)
		assert.ErrorIs(t, err, ErrUnsatisfiable)
	})

	t.Run("missing cosigner", func(t *testing.T) {
		sigs := sigsFor(p.Managers[0], p.Managers[1], p.Cosigners[0])
		_, err := v.Satisfy(sigs, 144)
		assert.ErrorIs(t, err, ErrNotEnoughSignatures)
	})

	t.Run("one stakeholder only", func(t *testing.T) {
		_, err := v.Satisfy(sigsFor(p.Stakeholders[0]), 0)
		assert.ErrorIs(t, err, ErrNotEnoughSignatures)
	})

	t.Run("max witness size bounds both branches", func(t *testing.T) {
		stk, err := v.Satisfy(sigsFor(p.Stakeholders...), 0)
		require.NoError(t, err)
		man, err := v.Satisfy(sigsFor(p.Managers[0], p.Managers[1], p.Cosigners[0], p.Cosigners[1]), 200)
		require.NoError(t, err)
		assert.LessOrEqual(t, stk.Witness.SerializeSize(), v.MaxWitnessSize())
		assert.LessOrEqual(t, man.Witness.SerializeSize(), v.MaxWitnessSize())
	})
}

// ---------------------------------------------------------------------------
// Relative locks
// ---------------------------------------------------------------------------

func TestValidateRelativeLock(t *testing.T) {
	assert.NoError(t, ValidateRelativeLock(0))
	assert.NoError(t, ValidateRelativeLock(144))
	assert.NoError(t, ValidateRelativeLock(0xffff))
	assert.ErrorIs(t, ValidateRelativeLock(0x10000), ErrInvalidRelativeLock)
	assert.ErrorIs(t, ValidateRelativeLock(wire.SequenceLockTimeDisabled), ErrInvalidRelativeLock)
	assert.ErrorIs(t, ValidateRelativeLock(wire.SequenceLockTimeIsSeconds|1), ErrInvalidRelativeLock)
}

func TestSequenceSatisfies(t *testing.T) {
	tests := []struct {
		sequence uint32
		csv      uint32
		want     bool
	}{
		{144, 144, true},
		{145, 144, true},
		{143, 144, false},
		{wire.MaxTxInSequenceNum, 0, false},
		{wire.MaxTxInSequenceNum - 2, 144, false},
		{wire.SequenceLockTimeIsSeconds | 200, 144, false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, SequenceSatisfies(tc.sequence, tc.csv), "sequence %#x csv %d", tc.sequence, tc.csv)
	}
}

func TestBranchString(t *testing.T) {
	assert.Equal(t, "multisig", BranchMultisig.String())
	assert.Equal(t, "stakeholders", BranchStakeholders.String())
	assert.Equal(t, "managers", BranchManagers.String())
	assert.Equal(t, "none", BranchNone.String())
}

func TestWitnessScriptHash(t *testing.T) {
	pk, err := WitnessScriptHash([]byte{txscript.OP_TRUE})
	require.NoError(t, err)
	require.Len(t, pk, 34)
	assert.Equal(t, byte(txscript.OP_0), pk[0])
	assert.Equal(t, byte(txscript.OP_DATA_32), pk[1])
	assert.False(t, bytes.Equal(pk[2:], make([]byte, 32)))
}
