package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang/glog"
	"github.com/joho/godotenv"
)

// EnvPrivateKeys holds comma separated hex private keys.
const EnvPrivateKeys = "DECHAT_PRIVATE_KEYS"

// KeySource holds the key material of the accounts a session can act as.
type KeySource interface {
	// Accounts lists the available accounts, the first one is the default.
	Accounts() []common.Address

	// Transactor returns signing options of account for chainID.
	Transactor(account common.Address, chainID *big.Int) (*bind.TransactOpts, error)
}

// KeyedSource signs with raw private keys held in memory.
type KeyedSource struct {
	order []common.Address
	keys  map[common.Address]*ecdsa.PrivateKey
}

func NewKeyedSource(hexKeys []string) (*KeyedSource, error) {
	s := &KeyedSource{keys: make(map[common.Address]*ecdsa.PrivateKey)}
	for i, h := range hexKeys {
		h = strings.TrimPrefix(strings.TrimSpace(h), "0x")
		if h == "" {
			continue
		}
		key, err := crypto.HexToECDSA(h)
		if err != nil {
			// never echo key material.
			return nil, fmt.Errorf("private key #%d: invalid hex key", i+1)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if _, ok := s.keys[addr]; ok {
			continue
		}
		s.keys[addr] = key
		s.order = append(s.order, addr)
	}
	return s, nil
}

// LoadKeyedSource reads EnvPrivateKeys, after loading envFile into the environment when given.
func LoadKeyedSource(envFile string) (*KeyedSource, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %v", envFile, err)
		}
	}
	v := os.Getenv(EnvPrivateKeys)
	if v == "" {
		glog.Warningf("wallet: %s is empty, no account available", EnvPrivateKeys)
		return &KeyedSource{keys: make(map[common.Address]*ecdsa.PrivateKey)}, nil
	}
	return NewKeyedSource(strings.Split(v, ","))
}

func (s *KeyedSource) Accounts() []common.Address {
	out := make([]common.Address, len(s.order))
	copy(out, s.order)
	return out
}

func (s *KeyedSource) Transactor(account common.Address, chainID *big.Int) (*bind.TransactOpts, error) {
	key, ok := s.keys[account]
	if !ok {
		return nil, fmt.Errorf("no key for account %s", account.Hex())
	}
	return bind.NewKeyedTransactorWithChainID(key, chainID)
}

// KeystoreSource signs with accounts of a go-ethereum keystore directory sharing one passphrase.
type KeystoreSource struct {
	ks         *keystore.KeyStore
	passphrase string
}

func NewKeystoreSource(dir, passphrase string) *KeystoreSource {
	return &KeystoreSource{
		ks:         keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP),
		passphrase: passphrase,
	}
}

// ReadPassphrase returns the first line of file.
func ReadPassphrase(file string) (string, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(strings.SplitN(string(b), "\n", 2)[0], "\r"), nil
}

func (s *KeystoreSource) Accounts() []common.Address {
	accs := s.ks.Accounts()
	out := make([]common.Address, 0, len(accs))
	for _, a := range accs {
		out = append(out, a.Address)
	}
	return out
}

func (s *KeystoreSource) Transactor(account common.Address, chainID *big.Int) (*bind.TransactOpts, error) {
	acc := accounts.Account{Address: account}
	if err := s.ks.Unlock(acc, s.passphrase); err != nil {
		return nil, fmt.Errorf("unlock %s: %v", account.Hex(), err)
	}
	return bind.NewKeyStoreTransactorWithChainID(s.ks, acc, chainID)
}
