package wallet

import (
	"encoding/hex"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedSource(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	h := hex.EncodeToString(crypto.FromECDSA(key))
	addr := crypto.PubkeyToAddress(key.PublicKey)

	src, err := NewKeyedSource([]string{" 0x" + h, h, ""})
	require.NoError(t, err)
	assert.Equal(t, []string{addr.Hex()}, hexes(src))

	opts, err := src.Transactor(addr, big.NewInt(testChainID))
	require.NoError(t, err)
	assert.Equal(t, addr, opts.From)

	_, err = src.Transactor(contractAddr, big.NewInt(testChainID))
	assert.Error(t, err)

	_, err = NewKeyedSource([]string{"zz"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "zz")
}

func TestLoadKeyedSource(t *testing.T) {
	os.Unsetenv(EnvPrivateKeys)
	t.Cleanup(func() { os.Unsetenv(EnvPrivateKeys) })

	src, err := LoadKeyedSource("")
	require.NoError(t, err)
	assert.Empty(t, src.Accounts())

	_, err = LoadKeyedSource(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)

	k1, _ := crypto.GenerateKey()
	k2, _ := crypto.GenerateKey()
	envFile := filepath.Join(t.TempDir(), ".env")
	content := EnvPrivateKeys + "=" + hex.EncodeToString(crypto.FromECDSA(k1)) + "," + hex.EncodeToString(crypto.FromECDSA(k2)) + "\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0600))

	src, err = LoadKeyedSource(envFile)
	require.NoError(t, err)
	assert.Equal(t, []string{
		crypto.PubkeyToAddress(k1.PublicKey).Hex(),
		crypto.PubkeyToAddress(k2.PublicKey).Hex(),
	}, hexes(src))
}

func TestKeystoreSource(t *testing.T) {
	dir := t.TempDir()
	ks := keystore.NewKeyStore(dir, keystore.LightScryptN, keystore.LightScryptP)
	acc, err := ks.NewAccount("secret")
	require.NoError(t, err)

	passFile := filepath.Join(t.TempDir(), "pass")
	require.NoError(t, os.WriteFile(passFile, []byte("secret\nignored\n"), 0600))
	pass, err := ReadPassphrase(passFile)
	require.NoError(t, err)
	assert.Equal(t, "secret", pass)

	src := NewKeystoreSource(dir, pass)
	assert.Contains(t, src.Accounts(), acc.Address)

	opts, err := src.Transactor(acc.Address, big.NewInt(testChainID))
	require.NoError(t, err)
	assert.Equal(t, acc.Address, opts.From)

	_, err = NewKeystoreSource(dir, "wrong").Transactor(acc.Address, big.NewInt(testChainID))
	assert.Error(t, err)
}

func hexes(s KeySource) []string {
	var out []string
	for _, a := range s.Accounts() {
		out = append(out, a.Hex())
	}
	return out
}
