// Package wire implements the authenticated, counter-bound air format:
// SlotCoord/RegisterDescriptor/AckEntry/SubeventFrame/ResponseFrame, their
// fixed-width little-endian encoding, and the HMAC-SHA-256 sign/verify
// discipline bound to a monotonic counter.
package wire

import "fmt"

// SlotCoord identifies one response opportunity per PAwR cycle: an ordered
// (subevent, slot) pair with subevent in [0, S) and slot in [0, R).
type SlotCoord struct {
	Subevent uint8
	Slot     uint8
}

func (c SlotCoord) String() string {
	return fmt.Sprintf("(%d,%d)", c.Subevent, c.Slot)
}

// Zero reports whether this is the zero-value coordinate (0,0). Since (0,0)
// is also a valid coordinate, code that must tell "no coordinate" apart from
// (0,0) carries a separate bool instead (as the scanner's hasSlot does).
func (c SlotCoord) Zero() bool { return c.Subevent == 0 && c.Slot == 0 }

// RegisterDescriptor is a SlotCoord published by the Advertiser in subevent
// 0, advertising a currently offered registration opportunity.
type RegisterDescriptor = SlotCoord

// AckEntry acknowledges (or denies) the previous cycle's response from a
// slot's occupant. AckID == 0 denies; AckID == device id acknowledges.
type AckEntry struct {
	AckID uint16
}

// SubeventFrame is the advertiser->scanner payload for one subevent.
type SubeventFrame struct {
	// RegisterDescriptors is empty for every subevent except subevent 0,
	// where it always has length NumRegisterSlots.
	RegisterDescriptors []RegisterDescriptor
	Acks                []AckEntry
	Counter             uint64
}

// ResponseFrame is the scanner->advertiser payload transmitted in a single
// response slot.
type ResponseFrame struct {
	SenderID uint16
	Payload  []byte
	Counter  uint64
}
