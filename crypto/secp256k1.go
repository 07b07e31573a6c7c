// Package crypto provides the default CryptoBackend implementation consumed
// by the engine through core.CryptoBackend (§4.6, §9). It is grounded on
// core/transactions.go's use of go-ethereum's secp256k1 ECDSA primitives,
// generalized from that file's ad hoc signing helpers into an injectable,
// swappable backend.
package crypto

import (
	"crypto/sha256"
	"fmt"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"chainkernel/core"
)

func init() {
	// Installing the default here means any binary that imports this
	// package (directly, or transitively through engine) gets a working
	// secp256k1 backend without additional wiring — mirroring the "global
	// default, replaceable before first use" model in §9.
	_ = core.SetDefaultCryptoBackend(Secp256k1Backend{})
}

// Secp256k1Backend implements core.CryptoBackend with ECDSA over secp256k1,
// the curve go-ethereum's crypto package already uses.
type Secp256k1Backend struct{}

// GenerateKey returns a new secp256k1 private key, serialized.
func GenerateKey() ([]byte, error) {
	priv, err := gethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return gethcrypto.FromECDSA(priv), nil
}

func (Secp256k1Backend) PubkeyFromPrivate(privateKey []byte) ([]byte, error) {
	priv, err := gethcrypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return gethcrypto.FromECDSAPub(&priv.PublicKey), nil
}

func (Secp256k1Backend) Sign(privateKey, message []byte) ([]byte, error) {
	priv, err := gethcrypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	digest := sha256.Sum256(message)
	sig, err := gethcrypto.Sign(digest[:], priv)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	return sig, nil
}

func (Secp256k1Backend) Verify(publicKey, message, signature []byte) bool {
	if len(signature) != 65 {
		return false
	}
	digest := sha256.Sum256(message)
	return gethcrypto.VerifySignature(publicKey, digest[:], signature[:64])
}

// HashToAddress derives a core.Address from an uncompressed public key by
// keeping the last 20 bytes of its SHA-256 digest, following the Address/Hash
// sizing in common_structs.go (core.Address is itself a 20-byte value).
func (Secp256k1Backend) HashToAddress(publicKey []byte) core.Address {
	digest := sha256.Sum256(publicKey)
	var addr core.Address
	copy(addr[:], digest[len(digest)-len(addr):])
	return addr
}

var _ core.CryptoBackend = Secp256k1Backend{}
