package keystore

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/librevault-go/vaulttest"
)

var testParams = Params{Time: 1, Memory: 64, Threads: 1}

func TestEncryptDecrypt(t *testing.T) {
	priv := vaulttest.PrivKey("keystore", 0)

	data, err := Encrypt(priv, "hunter2", testParams)
	require.NoError(t, err)
	assert.Len(t, data, headerLen+KeyLen+ChecksumLen+16, "header, key, checksum, GCM tag")

	got, err := Decrypt(data, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, priv.Serialize(), got.Serialize())

	again, err := Encrypt(priv, "hunter2", testParams)
	require.NoError(t, err)
	assert.NotEqual(t, data, again, "fresh salt and nonce")
}

func TestEncryptErrors(t *testing.T) {
	priv := vaulttest.PrivKey("keystore", 0)

	_, err := Encrypt(nil, "pw", testParams)
	assert.ErrorIs(t, err, ErrNilKey)
	_, err = Encrypt(priv, "", testParams)
	assert.ErrorIs(t, err, ErrEmptyPassword)
	_, err = Encrypt(priv, "pw", Params{Time: 0, Memory: 64, Threads: 1})
	assert.ErrorIs(t, err, ErrInvalidParams)
	_, err = Encrypt(priv, "pw", Params{Time: 1, Memory: 64, Threads: 0})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestDecryptErrors(t *testing.T) {
	data, err := Encrypt(vaulttest.PrivKey("keystore", 1), "pw", testParams)
	require.NoError(t, err)

	tamper := func(i int) []byte {
		out := append([]byte(nil), data...)
		out[i] ^= 0x01
		return out
	}

	tests := []struct {
		name string
		data []byte
		pw   string
		want error
	}{
		{"wrong password", data, "other", ErrDecryptionFailed},
		{"short", data[:10], "pw", ErrInvalidFormat},
		{"bad magic", tamper(0), "pw", ErrInvalidFormat},
		{"tampered salt", tamper(14), "pw", ErrDecryptionFailed},
		{"tampered ciphertext", tamper(headerLen + 3), "pw", ErrDecryptionFailed},
		{"truncated ciphertext", data[:len(data)-1], "pw", ErrDecryptionFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decrypt(tc.data, tc.pw)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "stakeholder.key")
	priv := vaulttest.PrivKey("keystore", 2)

	require.NoError(t, Save(path, priv, "pw", testParams))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := Load(path, "pw")
	require.NoError(t, err)
	assert.True(t, got.PubKey().IsEqual(priv.PubKey()))

	err = Save(path, vaulttest.PrivKey("keystore", 3), "pw", testParams)
	assert.ErrorIs(t, err, ErrKeyExists)

	_, err = Load(filepath.Join(t.TempDir(), "missing.key"), "pw")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSaveRemovesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manager.key")
	errDiskFull := errors.New("no space left on device")

	err := writeExclusive(path, []byte("secret"), func(w io.Writer, data []byte) error {
		_, _ = w.Write(data[:2])
		return errDiskFull
	})
	assert.ErrorIs(t, err, errDiskFull)
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist, "partial file removed")

	priv := vaulttest.PrivKey("keystore", 4)
	require.NoError(t, Save(path, priv, "pw", testParams), "path is usable again")
	got, err := Load(path, "pw")
	require.NoError(t, err)
	assert.True(t, got.PubKey().IsEqual(priv.PubKey()))
}
