package chainstore

import "errors"

// Sentinel errors returned by Append and the read accessors.
var (
	// ErrIndexOccupied is returned when a block already exists at the
	// given index. Under the single-writer rule this should never happen
	// in normal operation; it can only surface after an unclean restart.
	// The consensus loop treats it as recoverable: the event is rejected
	// as stale_tip and the loop continues.
	ErrIndexOccupied = errors.New("chainstore: index occupied")

	// ErrBrokenLink is returned when a block's previous_hash does not
	// match the hash of the block at index-1. Always fatal: it means the
	// chain of custody from genesis has been broken.
	ErrBrokenLink = errors.New("chainstore: broken link")

	// ErrGenesisViolation is returned when the block at index 0 doesn't
	// equal the configured genesis anchor bit-for-bit. Always fatal.
	ErrGenesisViolation = errors.New("chainstore: genesis violation")

	// ErrNotFound is returned by GetByIndex / GetByHash for a missing key.
	ErrNotFound = errors.New("chainstore: not found")
)
