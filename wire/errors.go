package wire

import "errors"

// Error kinds surfaced by the wire codec.
var (
	ErrMessageTooShort = errors.New("wire: message too short")
	ErrInvalidHash     = errors.New("wire: invalid hash")
	ErrCounterMismatch = errors.New("wire: counter mismatch")
	ErrMACComputeFail  = errors.New("wire: mac compute failed")
)
