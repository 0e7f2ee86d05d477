// Package apperr names the six error categories shared across the
// advertiser, scanner, and their supporting packages. Where an error is
// returned, the call site wraps one of these with %w next to the underlying
// cause (e.g. ErrCrypto around a keystore error), so callers can test for a
// category with errors.Is. The lower-level sentinels (wire.ErrInvalidHash,
// freelist.ErrFull, ...) are returned unwrapped by their own packages; the
// advertiser and scanner only log them next to a category.
package apperr

import "errors"

var (
	// ErrConfig marks a missing key or an out-of-range compile-time constant.
	ErrConfig = errors.New("apperr: config error")
	// ErrRadio marks a Radio Driver call that was rejected.
	ErrRadio = errors.New("apperr: radio error")
	// ErrCrypto marks a Key Store failure (missing key, MAC compute failure).
	ErrCrypto = errors.New("apperr: crypto error")
	// ErrVerification marks a bad hash or a stale counter.
	ErrVerification = errors.New("apperr: verification error")
	// ErrCapacity marks a full free list or an exhausted reservation cursor.
	ErrCapacity = errors.New("apperr: capacity error")
	// ErrProtocol marks a malformed frame or an unexpected sender.
	ErrProtocol = errors.New("apperr: protocol error")
)
