package store

import "errors"

var (
	// ErrChainNotFound is returned for operations that reference a chain id
	// the store has never recorded an identity for.
	ErrChainNotFound = errors.New("store: chain id not found")
	// ErrRangeError is returned when a caller passes lowestIndex > highestIndex.
	ErrRangeError = errors.New("store: range lowest > highest")
	// ErrNonEmptyDestination is returned by Copy when dest already holds a chain.
	ErrNonEmptyDestination = errors.New("store: destination is not empty")
	// ErrStoreFault wraps backing I/O failures.
	ErrStoreFault = errors.New("store: backing store fault")
)
