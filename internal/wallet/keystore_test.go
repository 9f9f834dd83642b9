package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	blob, err := EncryptKey(key.String(), "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), key.String(), "ciphertext must not leak the key")

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestDecryptWrongPassword(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	blob, err := EncryptKey(key.String(), "correct")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	_, err := EncryptKey("not-a-key", "pw")
	assert.Error(t, err)

	key := solana.NewWallet().PrivateKey
	_, err = EncryptKey(key.String(), "")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	// Raw key takes precedence.
	got, err := LoadKey(KeyConfig{RawPrivateKey: key.String()})
	require.NoError(t, err)
	assert.Equal(t, key, got)

	// Encrypted file path.
	blob, err := EncryptKey(key.String(), "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, key, got)

	// Nothing configured.
	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}

func TestSignerSignsWithLoadedKey(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	signer := NewSigner(key)
	assert.Equal(t, key.PublicKey(), signer.Address())
}
