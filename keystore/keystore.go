// Package keystore keeps a participant's signing key encrypted at rest.
//
// File format:
//
//	magic(4) || time(4) || memory(4) || threads(1) || salt(16) || nonce(12) || AES-GCM(key||checksum)
//
// The AES-256 key is Argon2id(password, salt) with the parameters stored in
// the header. The checksum is SHA256(key)[:4]. The header is authenticated
// as GCM additional data.
package keystore

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/argon2"
)

const (
	// SaltLen is the length of the Argon2id salt.
	SaltLen = 16

	// NonceLen is the length of the AES-GCM nonce.
	NonceLen = 12

	// ChecksumLen is the length of the SHA256 key checksum.
	ChecksumLen = 4

	// KeyLen is the length of the derived AES-256 key.
	KeyLen = 32

	headerLen = 4 + 4 + 4 + 1 + SaltLen + NonceLen
)

var magic = []byte("RVK1")

// Params are the Argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultParams is used by Save.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 4}

func (p Params) validate() error {
	if p.Time == 0 || p.Time > 64 || p.Memory < 8*uint32(p.Threads) || p.Memory > 4*1024*1024 || p.Threads == 0 {
		return fmt.Errorf("%w: time=%d memory=%d threads=%d", ErrInvalidParams, p.Time, p.Memory, p.Threads)
	}
	return nil
}

func (p Params) derive(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, KeyLen)
}

// Encrypt seals priv under password.
func Encrypt(priv *btcec.PrivateKey, password string, params Params) ([]byte, error) {
	if priv == nil {
		return nil, ErrNilKey
	}
	if password == "" {
		return nil, ErrEmptyPassword
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	header := make([]byte, 0, headerLen)
	header = append(header, magic...)
	header = binary.BigEndian.AppendUint32(header, params.Time)
	header = binary.BigEndian.AppendUint32(header, params.Memory)
	header = append(header, params.Threads)

	random := make([]byte, SaltLen+NonceLen)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("keystore: failed to generate salt: %w", err)
	}
	header = append(header, random...)
	salt := random[:SaltLen]
	nonce := random[SaltLen:]

	gcm, err := newGCM(params.derive(password, salt))
	if err != nil {
		return nil, err
	}

	secret := priv.Serialize()
	sum := sha256.Sum256(secret)
	plaintext := append(secret, sum[:ChecksumLen]...)

	return gcm.Seal(header, nonce, plaintext, header), nil
}

// Decrypt opens data produced by Encrypt.
func Decrypt(data []byte, password string) (*btcec.PrivateKey, error) {
	if len(data) < headerLen || !bytes.Equal(data[:len(magic)], magic) {
		return nil, ErrInvalidFormat
	}
	header := data[:headerLen]
	params := Params{
		Time:    binary.BigEndian.Uint32(header[4:8]),
		Memory:  binary.BigEndian.Uint32(header[8:12]),
		Threads: header[12],
	}
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	salt := header[13 : 13+SaltLen]
	nonce := header[13+SaltLen:]

	gcm, err := newGCM(params.derive(password, salt))
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, data[headerLen:], header)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(plaintext) != btcec.PrivKeyBytesLen+ChecksumLen {
		return nil, ErrDecryptionFailed
	}

	secret := plaintext[:btcec.PrivKeyBytesLen]
	sum := sha256.Sum256(secret)
	if subtle.ConstantTimeCompare(sum[:ChecksumLen], plaintext[btcec.PrivKeyBytesLen:]) != 1 {
		return nil, ErrChecksumMismatch
	}
	priv, _ := btcec.PrivKeyFromBytes(secret)
	return priv, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: AES cipher creation failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: GCM creation failed: %w", err)
	}
	return gcm, nil
}

// Save encrypts priv and writes it to path with 0600 permissions. An
// existing file is never overwritten.
func Save(path string, priv *btcec.PrivateKey, password string, params Params) error {
	data, err := Encrypt(priv, password, params)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("keystore: create directory: %w", err)
	}
	return writeExclusive(path, data, writeAll)
}

func writeAll(w io.Writer, data []byte) error {
	_, err := w.Write(data)
	return err
}

// writeExclusive creates path, which must not exist, and writes data to it
// with write. A partly written file is removed.
func writeExclusive(path string, data []byte, write func(io.Writer, []byte) error) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrKeyExists, path)
		}
		return fmt.Errorf("keystore: %w", err)
	}
	if err := write(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("keystore: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("keystore: close %s: %w", path, err)
	}
	return nil
}

// Load reads and decrypts the key file at path.
func Load(path, password string) (*btcec.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	return Decrypt(data, password)
}
