package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // legacy hash kept only for address-derivation parity testing

	"chainkernel/core"
)

// DeriveAddressSHA256Ripemd160 derives an address via SHA-256 then
// RIPEMD-160, the two-stage hashing chain core/wallet.go uses for wallet
// addresses. It exists so tests can compare alternate
// address-derivation schemes against Secp256k1Backend.HashToAddress; it is
// not installed as the default backend's derivation.
func DeriveAddressSHA256Ripemd160(publicKey []byte) core.Address {
	sha := sha256.Sum256(publicKey)
	r := ripemd160.New()
	r.Write(sha[:])
	sum := r.Sum(nil)
	var addr core.Address
	copy(addr[:], sum)
	return addr
}
