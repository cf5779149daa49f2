package txgraph

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/librevault-go/amount"
	"github.com/bitfsorg/librevault-go/descriptor"
	"github.com/bitfsorg/librevault-go/vaulttest"
)

const (
	testDepositValue = amount.Amount(1_000_000)
	testFeerate      = amount.Amount(5)
	testCSV          = 144
)

// fixture is a 2 stakeholders, 2-of-3 managers, 2 cosigners vault with one
// funded deposit.
type fixture struct {
	p       *vaulttest.Participants
	set     *descriptor.Set
	deposit *Transaction
	input   *Input
}

func newFixture(t testing.TB) *fixture {
	t.Helper()

	p := vaulttest.NewParticipants(2, 3, true)
	stk := vaulttest.PubKeys(p.Stakeholders)
	man := vaulttest.PubKeys(p.Managers)

	dep, err := descriptor.NewDeposit(stk)
	require.NoError(t, err)
	unv, err := descriptor.NewUnvault(&descriptor.UnvaultParams{
		Stakeholders:      stk,
		Managers:          man,
		ManagersThreshold: 2,
		Cosigners:         vaulttest.PubKeys(p.Cosigners),
		CSV:               testCSV,
	})
	require.NoError(t, err)
	cpfp, err := descriptor.NewFeeBump(man)
	require.NoError(t, err)
	emer, err := descriptor.NewEmergency(vaulttest.PubKeys(p.Emergency))
	require.NoError(t, err)
	set := &descriptor.Set{Deposit: dep, Unvault: unv, FeeBump: cpfp, Emergency: emer}

	deposit := newDepositTx(t, dep, testDepositValue, 0x01)
	in, err := DepositInput(deposit, 0, dep)
	require.NoError(t, err)

	return &fixture{p: p, set: set, deposit: deposit, input: in}
}

// newDepositTx returns an external signed-looking transaction paying value
// to d in output 0. seed makes the funding outpoint unique.
func newDepositTx(t testing.TB, d *descriptor.Descriptor, value amount.Amount, seed byte) *Transaction {
	t.Helper()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{seed}, 0), nil,
		wire.TxWitness{{0x30, 0x01}, {0x02, 0x03}}))
	tx.AddTxOut(wire.NewTxOut(value.Sats(), d.PkScript()))

	deposit, err := NewDepositTransaction(tx)
	require.NoError(t, err)
	return deposit
}

// unvaultInput returns a synthetic unvault output with a unique outpoint.
func (f *fixture) unvaultInput(seed byte, value amount.Amount) *Input {
	return &Input{
		Outpoint:   amount.NewOutpoint(chainhash.Hash{0xaa, seed}, 0),
		Value:      value,
		Descriptor: f.set.Unvault,
	}
}

func (f *fixture) chain(t testing.TB) *Chain {
	t.Helper()
	c, err := BuildChain(&ChainParams{
		Deposit:          f.input,
		Descriptors:      f.set,
		UnvaultFeerate:   testFeerate,
		CancelFeerate:    testFeerate,
		EmergencyFeerate: testFeerate,
	})
	require.NoError(t, err)
	return c
}

// sign inserts a signature by every key of privs on input idx.
func sign(t testing.TB, tx *Transaction, idx int, privs ...*btcec.PrivateKey) {
	t.Helper()
	digest, err := tx.SignatureHash(idx)
	require.NoError(t, err)
	for _, priv := range privs {
		require.NoError(t, tx.InsertSignature(idx, priv.PubKey(), ecdsa.Sign(priv, digest)))
	}
}

// signWithNonce produces a valid signature with an explicit nonce, distinct
// from the RFC6979 one. Test use only: a known nonce leaks the key.
func signWithNonce(priv *btcec.PrivateKey, hash []byte, nonce uint32) *ecdsa.Signature {
	var k btcec.ModNScalar
	k.SetInt(nonce)

	var point btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&k, &point)
	point.ToAffine()

	var r, e btcec.ModNScalar
	r.SetByteSlice(point.X.Bytes()[:])
	e.SetByteSlice(hash)

	s := new(btcec.ModNScalar).Mul2(&r, &priv.Key).Add(&e)
	s.Mul(new(btcec.ModNScalar).InverseValNonConst(&k))
	if s.IsOverHalfOrder() {
		s.Negate()
	}
	return ecdsa.NewSignature(&r, s)
}

// stakeholderSigned signs every input of tx with all stakeholders.
func (f *fixture) stakeholderSigned(t testing.TB, tx *Transaction) {
	t.Helper()
	for i := 0; i < tx.NumInputs(); i++ {
		sign(t, tx, i, f.p.Stakeholders...)
	}
}

// managerSigned signs every input of tx with managers 0 and 2 and every
// cosigner.
func (f *fixture) managerSigned(t testing.TB, tx *Transaction) {
	t.Helper()
	for i := 0; i < tx.NumInputs(); i++ {
		sign(t, tx, i, f.p.Managers[0], f.p.Managers[2])
		sign(t, tx, i, f.p.Cosigners...)
	}
}

// paymentOutput returns a P2WPKH-shaped output of value.
func paymentOutput(value amount.Amount) *wire.TxOut {
	script := append([]byte{0x00, 0x14}, make([]byte, 20)...)
	script[2] = 0x42
	return wire.NewTxOut(value.Sats(), script)
}
