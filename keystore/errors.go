package keystore

import "errors"

var (
	// ErrNilKey indicates a nil private key was passed to Encrypt.
	ErrNilKey = errors.New("keystore: nil private key")

	// ErrEmptyPassword indicates an empty password.
	ErrEmptyPassword = errors.New("keystore: empty password")

	// ErrInvalidParams indicates Argon2id parameters outside the accepted range.
	ErrInvalidParams = errors.New("keystore: invalid key derivation parameters")

	// ErrInvalidFormat indicates the data is not an encrypted key file.
	ErrInvalidFormat = errors.New("keystore: invalid key file format")

	// ErrDecryptionFailed indicates a wrong password or corrupted key file.
	ErrDecryptionFailed = errors.New("keystore: decryption failed (wrong password or corrupted data)")

	// ErrChecksumMismatch indicates the decrypted key failed its checksum.
	ErrChecksumMismatch = errors.New("keystore: key checksum mismatch")

	// ErrKeyExists indicates Save would overwrite an existing key file.
	ErrKeyExists = errors.New("keystore: key file already exists")
)
