package types

import "errors"

// Every rejection is terminal for the submitted transaction. Callers rebuild a
// proof against current state and resubmit.
var (
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrUnauthorized            = errors.New("keypair does not own the note")
	ErrTreeFull                = errors.New("merkle tree is full")
	ErrStaleRoot               = errors.New("unknown or stale merkle root")
	ErrAlreadySpent            = errors.New("input is already spent")
	ErrZeroNullifierNotAllowed = errors.New("zero nullifier is reserved for padding")
	ErrExtDataMismatch         = errors.New("extData does not match the proof")
	ErrInvalidProof            = errors.New("invalid transaction proof")
	ErrAmountOutOfRange        = errors.New("amount out of range")
	ErrBridgeAmountMismatch    = errors.New("bridged amount does not match extData")
	ErrNotBridge               = errors.New("caller is not the bridge")
)

// IsRetryable reports whether the same intent may succeed once the caller
// refreshes the root and regenerates the proof.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleRoot)
}
