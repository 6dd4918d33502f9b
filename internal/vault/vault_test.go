package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_RoundTrips(t *testing.T) {
	plaintext := []byte("db_password: hunter2hunter2\n")
	ciphertext, err := Encrypt("correct horse battery staple", plaintext)
	require.NoError(t, err)
	assert.True(t, IsVaulted(ciphertext))

	got, err := Decrypt("correct horse battery staple", ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecrypt_WrongPasswordFails(t *testing.T) {
	ciphertext, err := Encrypt("right-password", []byte("secret"))
	require.NoError(t, err)

	_, err = Decrypt("wrong-password", ciphertext)
	assert.Error(t, err)
}

func TestDecrypt_PlaintextIsNotVaulted(t *testing.T) {
	_, err := Decrypt("anything", []byte("just: yaml\n"))
	assert.ErrorIs(t, err, ErrNotVaulted)
}
