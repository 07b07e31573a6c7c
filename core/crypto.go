package core

import "sync"

// CryptoBackend is the signature/verification contract the engine consumes;
// concrete implementations (e.g. secp256k1) live outside this package and
// register themselves as the process-wide default (§4.6, §9).
type CryptoBackend interface {
	Sign(privateKey, message []byte) ([]byte, error)
	Verify(publicKey, message, signature []byte) bool
	PubkeyFromPrivate(privateKey []byte) ([]byte, error)
	HashToAddress(publicKey []byte) Address
}

var (
	backendMu   sync.Mutex
	backend     CryptoBackend
	backendUsed bool
)

// SetDefaultCryptoBackend installs b as the process-wide default. It may
// only be called before the backend has been read by DefaultCryptoBackend;
// later calls return an error so a backend cannot be swapped out from under
// in-flight validation.
func SetDefaultCryptoBackend(b CryptoBackend) error {
	backendMu.Lock()
	defer backendMu.Unlock()
	if backendUsed {
		return errBackendAlreadyInUse
	}
	backend = b
	return nil
}

// DefaultCryptoBackend returns the process-wide backend, latching it so it
// can no longer be replaced.
func DefaultCryptoBackend() CryptoBackend {
	backendMu.Lock()
	defer backendMu.Unlock()
	backendUsed = true
	return backend
}

var errBackendAlreadyInUse = errAlreadyInUse{}

type errAlreadyInUse struct{}

func (errAlreadyInUse) Error() string {
	return "core: crypto backend already latched in use, cannot replace"
}
