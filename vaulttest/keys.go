// Package vaulttest provides deterministic key material for tests and local
// demos of the vault engine. Keys are derived with HKDF-SHA256 from a fixed
// seed and a caller label, so every run and every package sees the same
// participants.
//
// Never use these keys to hold real funds.
package vaulttest

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/hkdf"
)

const (
	// Seed is the input keying material every key is derived from.
	Seed = "librevault-go test seed"

	// HKDFSalt salts the key derivation.
	HKDFSalt = "librevault-go/vaulttest"
)

// PrivKey derives the private key for label at index i.
func PrivKey(label string, i int) *btcec.PrivateKey {
	info := []byte(fmt.Sprintf("%s/%d", label, i))
	r := hkdf.New(sha256.New, []byte(Seed), []byte(HKDFSalt), info)

	// A 32-byte HKDF output is a valid scalar except with negligible
	// probability; PrivKeyFromBytes reduces it mod N regardless.
	buf := make([]byte, 32)
	if _, err := io.ReadFull(r, buf); err != nil {
		panic(fmt.Sprintf("vaulttest: hkdf read: %v", err))
	}
	priv, _ := btcec.PrivKeyFromBytes(buf)
	return priv
}

// PrivKeys derives n private keys for label.
func PrivKeys(label string, n int) []*btcec.PrivateKey {
	keys := make([]*btcec.PrivateKey, n)
	for i := range keys {
		keys[i] = PrivKey(label, i)
	}
	return keys
}

// PubKeys returns the public halves of privs, in order.
func PubKeys(privs []*btcec.PrivateKey) []*btcec.PublicKey {
	pubs := make([]*btcec.PublicKey, len(privs))
	for i, p := range privs {
		pubs[i] = p.PubKey()
	}
	return pubs
}

// Participants is a full set of vault participants.
type Participants struct {
	Stakeholders []*btcec.PrivateKey
	Managers     []*btcec.PrivateKey
	Cosigners    []*btcec.PrivateKey
	Emergency    []*btcec.PrivateKey
}

// NewParticipants derives nStk stakeholders (with as many cosigners when
// withCosigners is set), nMan managers and two emergency keys.
func NewParticipants(nStk, nMan int, withCosigners bool) *Participants {
	p := &Participants{
		Stakeholders: PrivKeys("stakeholder", nStk),
		Managers:     PrivKeys("manager", nMan),
		Emergency:    PrivKeys("emergency", 2),
	}
	if withCosigners {
		p.Cosigners = PrivKeys("cosigner", nStk)
	}
	return p
}
