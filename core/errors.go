package core

import "errors"

// Error kinds surfaced by block and transaction validation (§7). Callers
// discriminate with errors.Is, never string matching.
var (
	ErrInvalidBlockTimestamp    = errors.New("core: invalid block timestamp")
	ErrInvalidBlockIndex        = errors.New("core: invalid block index")
	ErrInvalidBlockDifficulty   = errors.New("core: invalid block difficulty")
	ErrInvalidBlockPreviousHash = errors.New("core: invalid block previous hash")
	ErrInvalidBlockNonce        = errors.New("core: invalid block nonce")

	ErrInvalidTxSignature        = errors.New("core: invalid tx signature")
	ErrInvalidTxPublicKey        = errors.New("core: invalid tx public key")
	ErrInvalidTxUpdatedAddresses = errors.New("core: tx wrote outside updated_addresses")
	ErrInvalidTxNonce            = errors.New("core: invalid tx nonce")
)
