// Package walletutil provides mnemonic-backed key generation for hosts that
// want a human-recoverable phrase instead of managing raw private key bytes
// directly, trimmed to mnemonic + keypair generation. SLIP-0010 hierarchical
// derivation assumes ed25519 keys, which this module's CryptoBackend contract
// does not, so HD derivation is dropped rather than ported onto a curve it
// was never designed for (see DESIGN.md).
package walletutil

import (
	"crypto/sha256"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"

	"chainkernel/core"
)

// SetLogger overrides the package logger used for key-generation audit
// lines; nil restores the standard logger.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		l = logrus.StandardLogger()
	}
	log = l
}

var log = logrus.StandardLogger()

// KeyPair is a generated mnemonic-backed identity: the recovery phrase, the
// derived private key bytes (backend-specific format), and its address.
type KeyPair struct {
	Mnemonic   string
	PrivateKey []byte
	Address    core.Address
}

// entropyBits mirrors bip39's supported sizes (128 bits -> 12 words, 256
// bits -> 24 words).
const (
	EntropyBits12Words = 128
	EntropyBits24Words = 256
)

// NewRandom generates a fresh BIP-39 mnemonic and derives a KeyPair from it
// via backend. The caller is responsible for recording Mnemonic securely;
// it cannot be recovered from KeyPair alone.
func NewRandom(entropyBits int, backend core.CryptoBackend) (*KeyPair, error) {
	if entropyBits != EntropyBits12Words && entropyBits != EntropyBits24Words {
		return nil, fmt.Errorf("walletutil: unsupported entropy size %d", entropyBits)
	}
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, fmt.Errorf("walletutil: entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("walletutil: mnemonic: %w", err)
	}
	return FromMnemonic(mnemonic, "", backend)
}

// FromMnemonic re-derives a KeyPair from an existing mnemonic (and optional
// BIP-39 passphrase) using backend. The derivation is deterministic: the
// same (mnemonic, passphrase, backend) always yields the same key.
func FromMnemonic(mnemonic, passphrase string, backend core.CryptoBackend) (*KeyPair, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("walletutil: invalid mnemonic checksum")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	digest := sha256.Sum256(seed)
	priv := digest[:]

	pub, err := backend.PubkeyFromPrivate(priv)
	if err != nil {
		return nil, fmt.Errorf("walletutil: derive public key: %w", err)
	}
	addr := backend.HashToAddress(pub)

	log.WithField("address", addr.String()).Info("walletutil: derived keypair from mnemonic")
	return &KeyPair{Mnemonic: mnemonic, PrivateKey: priv, Address: addr}, nil
}
