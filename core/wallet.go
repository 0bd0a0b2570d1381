// Wallet/Wallets key management, moved from P256 ECDSA key pairs to the
// secp256k1 Schnorr key pairs spec §4.1/§4.2 require, with persistence
// taking an explicit path argument instead of a hardcoded "wallets.dat"
// constant.
package core

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io/ioutil"
	"os"

	"lightchain/crypto"
)

// Address wraps a validated base58check address string. The only way to
// construct one is NewAddress, so a live Address value always decodes
// cleanly (spec §4.2: "construction is the sole validation point").
type Address struct {
	value string
}

// NewAddress validates addr and wraps it, or returns ErrInvalidAddress.
func NewAddress(addr string) (Address, error) {
	if !crypto.ValidateAddress(addr) {
		return Address{}, ErrInvalidAddress
	}
	return Address{value: addr}, nil
}

// String returns the underlying base58check string.
func (a Address) String() string { return a.value }

// PubKeyHash returns the 20-byte public-key hash encoded in the address.
func (a Address) PubKeyHash() []byte {
	hash, _ := crypto.DecodeAddress(a.value)
	return hash
}

// Wallet is a secp256k1 keypair plus its compressed public key.
type Wallet struct {
	SecretKey []byte
	PubKey    []byte
}

// NewWallet generates a fresh secp256k1 keypair.
func NewWallet() (*Wallet, error) {
	sk, err := crypto.NewSecretKey()
	if err != nil {
		return nil, ErrInvalidKeypair
	}
	pk, err := crypto.PublicFromSecret(sk)
	if err != nil {
		return nil, ErrInvalidKeypair
	}
	return &Wallet{SecretKey: sk, PubKey: pk}, nil
}

// Address returns the wallet's base58check address.
func (w *Wallet) Address() Address {
	addr := crypto.EncodeAddress(crypto.PubKeyHash(w.PubKey))
	wrapped, _ := NewAddress(addr)
	return wrapped
}

// Wallets is a persisted collection of Wallet, keyed by address.
type Wallets struct {
	ByAddress map[string]*Wallet
}

// NewWallets returns an empty Wallets collection.
func NewWallets() *Wallets {
	return &Wallets{ByAddress: make(map[string]*Wallet)}
}

// LoadWallets reads a Wallets collection from path. A missing file yields an
// empty collection, matching NewWallets's bootstrap behavior.
func LoadWallets(path string) (*Wallets, error) {
	wallets := NewWallets()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return wallets, nil
	}

	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, ErrStorageReadFailed
	}

	var persisted Wallets
	decoder := gob.NewDecoder(bytes.NewReader(raw))
	if err := decoder.Decode(&persisted); err != nil {
		return nil, ErrTransactionMalformed
	}
	wallets.ByAddress = persisted.ByAddress
	return wallets, nil
}

// Save writes the collection to path.
func (w *Wallets) Save(path string) error {
	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)
	if err := encoder.Encode(*w); err != nil {
		return ErrStorageWriteFailed
	}
	if err := ioutil.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return ErrStorageWriteFailed
	}
	return nil
}

// Addresses returns every address known to the collection.
func (w *Wallets) Addresses() []string {
	addrs := make([]string, 0, len(w.ByAddress))
	for addr := range w.ByAddress {
		addrs = append(addrs, addr)
	}
	return addrs
}

// Get returns the wallet for addr, or an error if unknown.
func (w *Wallets) Get(addr string) (*Wallet, error) {
	wallet, ok := w.ByAddress[addr]
	if !ok {
		return nil, fmt.Errorf("core: %w: %s", ErrInvalidAddress, addr)
	}
	return wallet, nil
}

// Create generates a new wallet, stores it, and returns its address.
func (w *Wallets) Create() (Address, error) {
	wallet, err := NewWallet()
	if err != nil {
		return Address{}, err
	}
	addr := wallet.Address()
	w.ByAddress[addr.String()] = wallet
	return addr, nil
}
