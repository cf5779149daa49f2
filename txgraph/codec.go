package txgraph

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"

	"github.com/bitfsorg/librevault-go/descriptor"
	"github.com/bitfsorg/librevault-go/policy"
)

// proprietaryID identifies the engine's BIP174 proprietary records.
const proprietaryID = "revault"

// Proprietary subtypes.
const (
	keyRole      byte = 0x00 // global
	keyBranch    byte = 0x02 // per input
	keySignature byte = 0x03 // per finalized input, keyed by public key
)

// proprietaryPrefix is 0xfc <len> "revault".
var proprietaryPrefix = append([]byte{0xfc, byte(len(proprietaryID))}, proprietaryID...)

// record is one of the engine's proprietary key-value pairs.
type record struct {
	subtype byte
	keyData []byte
	value   []byte
}

func proprietary(subtype byte, keyData, value []byte) *psbt.Unknown {
	key := append(bytes.Clone(proprietaryPrefix), subtype)
	return &psbt.Unknown{Key: append(key, keyData...), Value: bytes.Clone(value)}
}

// withProprietary returns unknowns stripped of the engine's records, with
// records appended. unknowns is not modified.
func withProprietary(unknowns []*psbt.Unknown, records ...*psbt.Unknown) []*psbt.Unknown {
	out, _ := splitProprietary(unknowns)
	return append(out, records...)
}

// splitProprietary separates the engine's records from foreign unknowns.
func splitProprietary(unknowns []*psbt.Unknown) ([]*psbt.Unknown, []record) {
	var (
		rest    []*psbt.Unknown
		records []record
	)
	for _, u := range unknowns {
		if len(u.Key) > len(proprietaryPrefix) && bytes.HasPrefix(u.Key, proprietaryPrefix) {
			records = append(records, record{
				subtype: u.Key[len(proprietaryPrefix)],
				keyData: u.Key[len(proprietaryPrefix)+1:],
				value:   u.Value,
			})
			continue
		}
		rest = append(rest, u)
	}
	return rest, records
}

// Encode serializes t as a BIP174 PSBT. The role and the input branches are
// carried as proprietary records. A serializer drops the partial signatures
// of an input once it has a final witness, so those are carried as
// proprietary records too.
//
// The state is not encoded: Decode derives it from the content and never
// returns a Verified transaction.
func (t *Transaction) Encode() ([]byte, error) {
	p := *t.packet
	p.Unknowns = withProprietary(t.packet.Unknowns, proprietary(keyRole, nil, []byte{byte(t.role)}))

	p.Inputs = make([]psbt.PInput, len(t.packet.Inputs))
	copy(p.Inputs, t.packet.Inputs)
	for i := range p.Inputs {
		var records []*psbt.Unknown
		if branch := t.inputs[i].branch; branch != policy.BranchNone {
			records = append(records, proprietary(keyBranch, nil, []byte{byte(branch)}))
		}
		if len(p.Inputs[i].FinalScriptWitness) != 0 {
			for _, ps := range p.Inputs[i].PartialSigs {
				records = append(records, proprietary(keySignature, ps.PubKey, ps.Signature))
			}
		}
		p.Inputs[i].Unknowns = withProprietary(p.Inputs[i].Unknowns, records...)
	}

	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPsbt, err)
	}
	return buf.Bytes(), nil
}

// EncodeBase64 is Encode in the base64 text form.
func (t *Transaction) EncodeBase64() (string, error) {
	raw, err := t.Encode()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode parses a PSBT produced by Encode. Each input's descriptor is found
// among descriptors by witness script; ErrDescriptorMismatch is returned
// when one is missing. Every signature is checked like InsertRawSignature
// and a bad one fails with ErrBadSignature.
//
// The state is derived from the content: Finalized when every input has a
// final witness, PartiallySigned when any signature is present, Unsigned
// otherwise. A finalized transaction must pass Verify again before Extract.
func Decode(data []byte, descriptors ...*descriptor.Descriptor) (*Transaction, error) {
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(data), false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPsbt, err)
	}
	return fromPacket(packet, descriptors)
}

// DecodeBase64 is Decode for the base64 text form.
func DecodeBase64(s string, descriptors ...*descriptor.Descriptor) (*Transaction, error) {
	packet, err := psbt.NewFromRawBytes(strings.NewReader(strings.TrimSpace(s)), true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPsbt, err)
	}
	return fromPacket(packet, descriptors)
}

// shape is the input and output layout of a role.
type shape struct {
	inputRole descriptor.Role
	hashType  txscript.SigHashType
	minIn     int
	maxIn     int // 0 for unbounded
	minOut    int
	maxOut    int // 0 for unbounded
}

var shapes = map[Role]shape{
	RoleUnvault:          {descriptor.RoleDeposit, txscript.SigHashAll, 1, 1, 2, 2},
	RoleCancel:           {descriptor.RoleUnvault, sighashAnyoneCanPay, 1, 1, 1, 1},
	RoleEmergency:        {descriptor.RoleDeposit, sighashAnyoneCanPay, 1, 1, 1, 1},
	RoleUnvaultEmergency: {descriptor.RoleUnvault, sighashAnyoneCanPay, 1, 1, 1, 1},
	RoleSpend:            {descriptor.RoleUnvault, txscript.SigHashAll, 1, 0, 2, 0},
}

func (s shape) check(nIn, nOut int) error {
	if nIn < s.minIn || (s.maxIn > 0 && nIn > s.maxIn) {
		return fmt.Errorf("%w: %d inputs", ErrInvalidPsbt, nIn)
	}
	if nOut < s.minOut || (s.maxOut > 0 && nOut > s.maxOut) {
		return fmt.Errorf("%w: %d outputs", ErrInvalidPsbt, nOut)
	}
	return nil
}

func fromPacket(packet *psbt.Packet, descriptors []*descriptor.Descriptor) (*Transaction, error) {
	// 1. Engine records.
	rest, records := splitProprietary(packet.Unknowns)
	packet.Unknowns = rest
	role, err := decodeRole(records)
	if err != nil {
		return nil, err
	}

	if role == RoleDeposit {
		tx, err := psbt.Extract(packet)
		if err != nil {
			return nil, fmt.Errorf("%w: deposit: %w", ErrInvalidPsbt, err)
		}
		return NewDepositTransaction(tx)
	}

	// 2. Transaction shape.
	tx := packet.UnsignedTx
	if tx.Version != TxVersion {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidPsbt, tx.Version)
	}
	sh := shapes[role]
	if err := sh.check(len(tx.TxIn), len(tx.TxOut)); err != nil {
		return nil, fmt.Errorf("%s: %w", role, err)
	}

	// 3. Inputs: UTXO, script, descriptor, branch, signatures.
	inputs := make([]*inputInfo, len(packet.Inputs))
	finalized, signed := 0, false
	for i := range packet.Inputs {
		pin := &packet.Inputs[i]
		if err := restoreFinalized(pin, sh.hashType); err != nil {
			return nil, fmt.Errorf("%w: input %d: %w", ErrInvalidPsbt, i, err)
		}
		if pin.WitnessUtxo == nil || len(pin.WitnessScript) == 0 {
			return nil, fmt.Errorf("%w: input %d lacks witness UTXO or script", ErrInvalidPsbt, i)
		}
		pkScript, err := policy.WitnessScriptHash(pin.WitnessScript)
		if err != nil || !bytes.Equal(pkScript, pin.WitnessUtxo.PkScript) {
			return nil, fmt.Errorf("%w: input %d witness script does not hash to its UTXO", ErrInvalidPsbt, i)
		}
		if pin.SighashType != sh.hashType {
			return nil, fmt.Errorf("%w: input %d sighash %#x, expected %#x", ErrInvalidPsbt, i, pin.SighashType, sh.hashType)
		}
		d, ok := descriptor.FindByWitnessScript(pin.WitnessScript, descriptors...)
		if !ok {
			return nil, fmt.Errorf("%w: no descriptor for input %d", ErrDescriptorMismatch, i)
		}
		if d.Role() != sh.inputRole {
			return nil, fmt.Errorf("%w: %s input %d spends %s", ErrDescriptorMismatch, role, i, d.Role())
		}

		branch, err := decodeInputRecords(pin)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d: %w", ErrInvalidPsbt, i, err)
		}
		if len(pin.FinalScriptWitness) != 0 {
			finalized++
		}
		signed = signed || len(pin.PartialSigs) != 0
		inputs[i] = &inputInfo{descriptor: d, branch: branch}
	}

	state := StateUnsigned
	switch {
	case finalized == len(inputs):
		state = StateFinalized
	case finalized != 0:
		return nil, fmt.Errorf("%w: %d of %d inputs finalized", ErrInvalidPsbt, finalized, len(inputs))
	case signed:
		state = StatePartiallySigned
	}

	// 4. Outputs staying in the vault.
	outputs := make([]*descriptor.Descriptor, len(tx.TxOut))
	for i := range packet.Outputs {
		script := packet.Outputs[i].WitnessScript
		if len(script) == 0 {
			continue
		}
		if d, ok := descriptor.FindByWitnessScript(script, descriptors...); ok && d.Matches(tx.TxOut[i].PkScript) {
			outputs[i] = d
		}
	}

	t := &Transaction{
		role:    role,
		state:   state,
		packet:  packet,
		inputs:  inputs,
		outputs: outputs,
	}
	if err := t.checkSignatures(); err != nil {
		return nil, err
	}
	return t, nil
}

// decodeInputRecords strips the engine's records from pin, moving carried
// signatures of a finalized input back into its partial signatures. It
// returns the input's branch.
func decodeInputRecords(pin *psbt.PInput) (policy.Branch, error) {
	var records []record
	pin.Unknowns, records = splitProprietary(pin.Unknowns)
	final := len(pin.FinalScriptWitness) != 0

	branch := policy.BranchNone
	for _, r := range records {
		switch r.subtype {
		case keyBranch:
			if len(r.keyData) != 0 || len(r.value) != 1 || r.value[0] == 0 || r.value[0] > byte(policy.BranchManagers) {
				return 0, errors.New("branch record")
			}
			branch = policy.Branch(r.value[0])
		case keySignature:
			if !final {
				return 0, errors.New("signature record on an input without final witness")
			}
			pin.PartialSigs = append(pin.PartialSigs, &psbt.PartialSig{
				PubKey:    bytes.Clone(r.keyData),
				Signature: bytes.Clone(r.value),
			})
		default:
			return 0, fmt.Errorf("unknown record subtype %#x", r.subtype)
		}
	}

	switch {
	case final && branch == policy.BranchNone:
		return 0, errors.New("final witness without branch record")
	case !final && branch != policy.BranchNone:
		return 0, errors.New("branch record without final witness")
	}
	return branch, nil
}

// checkSignatures runs every partial signature through the checks of
// InsertRawSignature and rejects duplicated keys.
func (t *Transaction) checkSignatures() error {
	for i := range t.packet.Inputs {
		pin := &t.packet.Inputs[i]
		seen := make(map[string]bool, len(pin.PartialSigs))
		for _, ps := range pin.PartialSigs {
			if len(ps.PubKey) != btcec.PubKeyBytesLenCompressed {
				return fmt.Errorf("%w: input %d: public key is not compressed", ErrBadSignature, i)
			}
			if seen[string(ps.PubKey)] {
				return fmt.Errorf("%w: input %d: key %x signs twice", ErrBadSignature, i, ps.PubKey)
			}
			seen[string(ps.PubKey)] = true

			pub, sig, err := t.parseRawSignature(i, ps.PubKey, ps.Signature)
			if err != nil {
				return err
			}
			if !bytes.Equal(ps.Signature[:len(ps.Signature)-1], sig.Serialize()) {
				return fmt.Errorf("%w: input %d: signature is not canonical DER with low S", ErrBadSignature, i)
			}
			if err := t.checkSignature(i, pub, sig); err != nil {
				return err
			}
		}
		sort.Sort(psbt.PartialSigSorter(pin.PartialSigs))
	}
	return nil
}

// restoreFinalized refills the fields a BIP174 serializer omits once an
// input carries a final witness: the witness script is its last item and
// every signature in it must use hashType.
func restoreFinalized(pin *psbt.PInput, hashType txscript.SigHashType) error {
	if len(pin.FinalScriptWitness) == 0 || len(pin.WitnessScript) != 0 {
		return nil
	}
	witness, err := parseWitness(pin.FinalScriptWitness)
	if err != nil {
		return fmt.Errorf("final witness: %w", err)
	}
	if len(witness) < 2 {
		return fmt.Errorf("final witness has %d items", len(witness))
	}
	for _, item := range witness[:len(witness)-1] {
		// Empty items and branch selectors are not signatures.
		if len(item) > 1 && txscript.SigHashType(item[len(item)-1]) != hashType {
			return fmt.Errorf("final witness signature sighash %#x", item[len(item)-1])
		}
	}
	pin.WitnessScript = witness[len(witness)-1]
	pin.SighashType = hashType
	return nil
}

func decodeRole(records []record) (Role, error) {
	for _, r := range records {
		if r.subtype != keyRole || len(r.keyData) != 0 {
			continue
		}
		if len(r.value) != 1 {
			break
		}
		role := Role(r.value[0])
		if _, known := roleNames[role]; !known {
			return 0, fmt.Errorf("%w: unknown role %d", ErrInvalidPsbt, r.value[0])
		}
		return role, nil
	}
	return 0, fmt.Errorf("%w: missing role record", ErrInvalidPsbt)
}
