// Package txgraph builds, signs and validates the transactions of a vault:
// the pre-signed Unvault, Cancel, Emergency and UnvaultEmergency
// transactions derived from a deposit, and the Spend transactions the
// managers build from unvaulted funds.
//
// Every transaction is carried as a BIP174 PSBT. Each input keeps a
// reference to the descriptor of the output it spends, which drives
// signature checking, witness satisfaction and fee estimation.
//
// A Transaction is not safe for concurrent mutation.
package txgraph

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitfsorg/librevault-go/amount"
	"github.com/bitfsorg/librevault-go/descriptor"
	"github.com/bitfsorg/librevault-go/policy"
)

// Role is the position of a transaction in the vault graph.
type Role uint8

const (
	// RoleDeposit is an external transaction funding the vault.
	RoleDeposit Role = iota + 1

	// RoleUnvault moves a deposit under the unvault policy.
	RoleUnvault

	// RoleCancel sends unvaulted funds back to a new deposit.
	RoleCancel

	// RoleEmergency sends a deposit to the emergency descriptor.
	RoleEmergency

	// RoleUnvaultEmergency sends unvaulted funds to the emergency descriptor.
	RoleUnvaultEmergency

	// RoleSpend pays out unvaulted funds through the managers branch.
	RoleSpend
)

var roleNames = map[Role]string{
	RoleDeposit:          "deposit",
	RoleUnvault:          "unvault",
	RoleCancel:           "cancel",
	RoleEmergency:        "emergency",
	RoleUnvaultEmergency: "unvault_emergency",
	RoleSpend:            "spend",
}

// String returns the role name.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// ParseRole is the inverse of Role.String.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidParams, s)
}

// State is the lifecycle state of a transaction.
type State uint8

const (
	// StateUnsigned holds no signature.
	StateUnsigned State = iota

	// StatePartiallySigned holds at least one verified signature.
	StatePartiallySigned

	// StateFinalized has a witness for every input.
	StateFinalized

	// StateVerified passed interpreter re-execution.
	StateVerified

	// StateRejected failed interpreter re-execution. It is terminal.
	StateRejected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnsigned:
		return "unsigned"
	case StatePartiallySigned:
		return "partially_signed"
	case StateFinalized:
		return "finalized"
	case StateVerified:
		return "verified"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Input references a spendable output of the graph together with the
// descriptor it pays to.
type Input struct {
	Outpoint   amount.Outpoint
	Value      amount.Amount
	Descriptor *descriptor.Descriptor
}

// checkRole validates in is complete and pays to a descriptor of role.
func (in *Input) checkRole(role descriptor.Role) error {
	if in == nil || in.Descriptor == nil {
		return fmt.Errorf("%w: input or its descriptor", ErrNilParam)
	}
	if in.Descriptor.Role() != role {
		return fmt.Errorf("%w: input %s pays to %s, expected %s",
			ErrDescriptorMismatch, in.Outpoint, in.Descriptor.Role(), role)
	}
	if in.Value <= 0 {
		return fmt.Errorf("%w: input %s has no value", ErrInvalidParams, in.Outpoint)
	}
	return nil
}

func (in *Input) txOut() *wire.TxOut {
	return wire.NewTxOut(in.Value.Sats(), in.Descriptor.PkScript())
}

// inputInfo is the engine-side metadata of a PSBT input.
type inputInfo struct {
	descriptor *descriptor.Descriptor
	branch     policy.Branch
}

// Transaction is one node of the vault graph.
type Transaction struct {
	role    Role
	state   State
	packet  *psbt.Packet
	inputs  []*inputInfo
	outputs []*descriptor.Descriptor // nil for outputs outside the vault
}

// Role returns the transaction's role.
func (t *Transaction) Role() Role { return t.role }

// State returns the lifecycle state.
func (t *Transaction) State() State { return t.state }

// Txid returns the transaction id. Every graph input is segwit, so it does
// not change when witnesses are added.
func (t *Transaction) Txid() chainhash.Hash { return t.packet.UnsignedTx.TxHash() }

// Tx returns a copy of the unsigned transaction.
func (t *Transaction) Tx() *wire.MsgTx { return t.packet.UnsignedTx.Copy() }

// LockTime returns the transaction locktime.
func (t *Transaction) LockTime() uint32 { return t.packet.UnsignedTx.LockTime }

// NumInputs returns the number of inputs.
func (t *Transaction) NumInputs() int { return len(t.packet.UnsignedTx.TxIn) }

// NumOutputs returns the number of outputs.
func (t *Transaction) NumOutputs() int { return len(t.packet.UnsignedTx.TxOut) }

func (t *Transaction) checkIndex(idx int) error {
	if idx < 0 || idx >= t.NumInputs() {
		return fmt.Errorf("%w: %d of %d", ErrInputOutOfBounds, idx, t.NumInputs())
	}
	return nil
}

// Sequence returns the nSequence of input idx.
func (t *Transaction) Sequence(idx int) (uint32, error) {
	if err := t.checkIndex(idx); err != nil {
		return 0, err
	}
	return t.packet.UnsignedTx.TxIn[idx].Sequence, nil
}

// InputDescriptor returns the descriptor of the output spent by input idx.
// It is nil for deposit inputs.
func (t *Transaction) InputDescriptor(idx int) (*descriptor.Descriptor, error) {
	if err := t.checkIndex(idx); err != nil {
		return nil, err
	}
	return t.inputs[idx].descriptor, nil
}

// InputBranch returns the branch input idx was satisfied through, BranchNone
// before finalization.
func (t *Transaction) InputBranch(idx int) (policy.Branch, error) {
	if err := t.checkIndex(idx); err != nil {
		return policy.BranchNone, err
	}
	return t.inputs[idx].branch, nil
}

// SighashType returns the sighash type signatures of input idx must commit to.
func (t *Transaction) SighashType(idx int) (txscript.SigHashType, error) {
	if err := t.checkIndex(idx); err != nil {
		return 0, err
	}
	return t.packet.Inputs[idx].SighashType, nil
}

// PrevOutput returns the output spent by input idx.
func (t *Transaction) PrevOutput(idx int) (*wire.TxOut, error) {
	if err := t.checkIndex(idx); err != nil {
		return nil, err
	}
	out := t.packet.Inputs[idx].WitnessUtxo
	if out == nil {
		return nil, fmt.Errorf("%w: input %d has no witness UTXO", ErrInvalidState, idx)
	}
	return out, nil
}

// prevOutFetcher indexes every input's witness UTXO by outpoint.
func (t *Transaction) prevOutFetcher() (*txscript.MultiPrevOutFetcher, error) {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range t.packet.UnsignedTx.TxIn {
		out := t.packet.Inputs[i].WitnessUtxo
		if out == nil {
			return nil, fmt.Errorf("%w: input %d has no witness UTXO", ErrInvalidState, i)
		}
		fetcher.AddPrevOut(in.PreviousOutPoint, out)
	}
	return fetcher, nil
}

// InputValue returns the total value of the spent outputs.
func (t *Transaction) InputValue() (amount.Amount, error) {
	var total amount.Amount
	for i := range t.packet.Inputs {
		out, err := t.PrevOutput(i)
		if err != nil {
			return 0, err
		}
		if total, err = total.Add(amount.Amount(out.Value)); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// OutputValue returns the total value of the outputs.
func (t *Transaction) OutputValue() (amount.Amount, error) {
	var total amount.Amount
	for _, out := range t.packet.UnsignedTx.TxOut {
		var err error
		if total, err = total.Add(amount.Amount(out.Value)); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Fees returns inputs minus outputs.
func (t *Transaction) Fees() (amount.Amount, error) {
	if t.role == RoleDeposit {
		return 0, fmt.Errorf("%w: deposit inputs are unknown", ErrInvalidState)
	}
	in, err := t.InputValue()
	if err != nil {
		return 0, err
	}
	out, err := t.OutputValue()
	if err != nil {
		return 0, err
	}
	fees, err := in.Sub(out)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	}
	return fees, nil
}

// MaxWeight returns the weight of the transaction once every input carries
// the largest witness its descriptor can produce. For a deposit it is the
// actual weight.
func (t *Transaction) MaxWeight() int {
	tx := t.packet.UnsignedTx
	if t.role == RoleDeposit {
		deposit, err := psbt.Extract(t.packet)
		if err == nil {
			tx = deposit
		}
		stripped := tx.SerializeSizeStripped()
		return stripped*4 + (tx.SerializeSize() - stripped)
	}
	return maxWeight(tx, t.inputs)
}

func maxWeight(tx *wire.MsgTx, inputs []*inputInfo) int {
	weight := tx.SerializeSizeStripped()*4 + witnessMarkerWeight
	for _, in := range inputs {
		weight += in.descriptor.MaxSatisfactionWitnessSize()
	}
	return weight
}

// Feerate returns the fee per virtual byte at MaxWeight, rounded down.
func (t *Transaction) Feerate() (amount.Amount, error) {
	fees, err := t.Fees()
	if err != nil {
		return 0, err
	}
	vsize := (t.MaxWeight() + 3) / 4
	return fees / amount.Amount(vsize), nil
}

// OutputDescriptor returns the descriptor output vout pays to, or nil when
// the output leaves the vault.
func (t *Transaction) OutputDescriptor(vout uint32) *descriptor.Descriptor {
	if int(vout) >= len(t.outputs) {
		return nil
	}
	return t.outputs[vout]
}

// Output returns output vout as an Input for the next transaction of the
// graph. It fails with ErrDescriptorMismatch for outputs leaving the vault.
func (t *Transaction) Output(vout uint32) (*Input, error) {
	d := t.OutputDescriptor(vout)
	if d == nil {
		return nil, fmt.Errorf("%w: output %d of %s pays to no known descriptor",
			ErrDescriptorMismatch, vout, t.role)
	}
	return t.outputAs(vout, d)
}

// outputAs returns output vout as an Input paying to d, checking the
// output's script is d's.
func (t *Transaction) outputAs(vout uint32, d *descriptor.Descriptor) (*Input, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: descriptor", ErrNilParam)
	}
	tx := t.packet.UnsignedTx
	if int(vout) >= len(tx.TxOut) {
		return nil, fmt.Errorf("%w: output %d of %d", ErrInvalidParams, vout, len(tx.TxOut))
	}
	out := tx.TxOut[vout]
	if err := d.CheckOutput(out.PkScript); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDescriptorMismatch, err)
	}
	value, err := amount.New(out.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: output %d: %w", ErrInvalidParams, vout, err)
	}
	return &Input{
		Outpoint:   amount.NewOutpoint(t.Txid(), vout),
		Value:      value,
		Descriptor: d,
	}, nil
}

// checkMutable returns the error for a signature-phase mutation in the
// current state.
func (t *Transaction) checkMutable() error {
	switch {
	case t.role == RoleDeposit:
		return fmt.Errorf("%w: deposit transactions are external", ErrInvalidState)
	case t.state == StateFinalized:
		return ErrAlreadyFinalized
	case t.state == StateVerified || t.state == StateRejected:
		return fmt.Errorf("%w: transaction is %s", ErrInvalidState, t.state)
	}
	return nil
}
