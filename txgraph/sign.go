package txgraph

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"

	"github.com/bitfsorg/librevault-go/policy"
)

// SignatureHash returns the BIP143 digest input idx must be signed over,
// committing to the input's sighash type.
func (t *Transaction) SignatureHash(idx int) ([]byte, error) {
	if t.role == RoleDeposit {
		return nil, fmt.Errorf("%w: deposit transactions are external", ErrInvalidState)
	}
	if err := t.checkIndex(idx); err != nil {
		return nil, err
	}
	fetcher, err := t.prevOutFetcher()
	if err != nil {
		return nil, err
	}
	pin := &t.packet.Inputs[idx]
	hashes := txscript.NewTxSigHashes(t.packet.UnsignedTx, fetcher)
	digest, err := txscript.CalcWitnessSigHash(pin.WitnessScript, hashes, pin.SighashType,
		t.packet.UnsignedTx, idx, pin.WitnessUtxo.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: input %d: %w", ErrInvalidState, idx, err)
	}
	return digest, nil
}

// InsertSignature verifies sig by pub over input idx and stores it. Storing
// the same signature again is a no-op; a different signature for a key
// already present fails with ErrConflictingSignature. A failed insertion
// leaves the transaction unchanged.
func (t *Transaction) InsertSignature(idx int, pub *btcec.PublicKey, sig *ecdsa.Signature) error {
	if err := t.checkIndex(idx); err != nil {
		return err
	}
	if err := t.checkMutable(); err != nil {
		return err
	}
	if pub == nil || sig == nil {
		return fmt.Errorf("%w: public key or signature", ErrNilParam)
	}

	if err := t.checkSignature(idx, pub, sig); err != nil {
		return err
	}

	pin := &t.packet.Inputs[idx]
	raw := append(sig.Serialize(), byte(pin.SighashType))
	pubBytes := pub.SerializeCompressed()
	for _, ps := range pin.PartialSigs {
		if !bytes.Equal(ps.PubKey, pubBytes) {
			continue
		}
		if bytes.Equal(ps.Signature, raw) {
			return nil
		}
		return fmt.Errorf("%w: input %d, key %x", ErrConflictingSignature, idx, pubBytes)
	}

	pin.PartialSigs = append(pin.PartialSigs, &psbt.PartialSig{PubKey: pubBytes, Signature: raw})
	sort.Sort(psbt.PartialSigSorter(pin.PartialSigs))
	t.state = StatePartiallySigned
	return nil
}

// InsertRawSignature parses a serialized public key and a DER signature
// followed by its sighash type byte, then inserts them like
// InsertSignature. The sighash type must be the input's.
func (t *Transaction) InsertRawSignature(idx int, pubKey, sig []byte) error {
	if err := t.checkIndex(idx); err != nil {
		return err
	}
	pub, parsed, err := t.parseRawSignature(idx, pubKey, sig)
	if err != nil {
		return err
	}
	return t.InsertSignature(idx, pub, parsed)
}

// checkSignature reports whether pub belongs to the policy of input idx and
// sig is its valid signature over the input's digest.
func (t *Transaction) checkSignature(idx int, pub *btcec.PublicKey, sig *ecdsa.Signature) error {
	d := t.inputs[idx].descriptor
	if !d.Policy().HasKey(pub) {
		return fmt.Errorf("%w: key %x cannot sign for %s", ErrBadSignature, pub.SerializeCompressed(), d)
	}
	digest, err := t.SignatureHash(idx)
	if err != nil {
		return err
	}
	if !sig.Verify(digest, pub) {
		return fmt.Errorf("%w: input %d, key %x", ErrBadSignature, idx, pub.SerializeCompressed())
	}
	return nil
}

// parseRawSignature parses a public key and a DER signature with its
// trailing sighash byte, which must be the type of input idx.
func (t *Transaction) parseRawSignature(idx int, pubKey, sig []byte) (*btcec.PublicKey, *ecdsa.Signature, error) {
	pub, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: public key: %w", ErrBadSignature, err)
	}
	if len(sig) < 2 {
		return nil, nil, fmt.Errorf("%w: signature too short", ErrBadSignature)
	}
	hashType := txscript.SigHashType(sig[len(sig)-1])
	if want := t.packet.Inputs[idx].SighashType; hashType != want {
		return nil, nil, fmt.Errorf("%w: sighash type %#x, input %d requires %#x", ErrBadSignature, hashType, idx, want)
	}
	parsed, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	return pub, parsed, nil
}

// Signatures returns a copy of the signatures collected for input idx.
func (t *Transaction) Signatures(idx int) (policy.Signatures, error) {
	if err := t.checkIndex(idx); err != nil {
		return nil, err
	}
	sigs := make(policy.Signatures, len(t.packet.Inputs[idx].PartialSigs))
	for _, ps := range t.packet.Inputs[idx].PartialSigs {
		if len(ps.PubKey) != btcec.PubKeyBytesLenCompressed {
			continue
		}
		var id [btcec.PubKeyBytesLenCompressed]byte
		copy(id[:], ps.PubKey)
		sigs[id] = bytes.Clone(ps.Signature)
	}
	return sigs, nil
}

// SignatureCount returns the number of signatures collected for input idx.
func (t *Transaction) SignatureCount(idx int) (int, error) {
	if err := t.checkIndex(idx); err != nil {
		return 0, err
	}
	return len(t.packet.Inputs[idx].PartialSigs), nil
}

// IsComplete reports whether the signatures of input idx reach the
// threshold of one of its policy's branches.
func (t *Transaction) IsComplete(idx int) (bool, error) {
	sigs, err := t.Signatures(idx)
	if err != nil {
		return false, err
	}
	d := t.inputs[idx].descriptor
	if d == nil {
		return false, fmt.Errorf("%w: deposit transactions are external", ErrInvalidState)
	}
	seq := t.packet.UnsignedTx.TxIn[idx].Sequence
	_, err = d.Policy().Satisfy(sigs, seq)
	return !errors.Is(err, policy.ErrNotEnoughSignatures), nil
}
