package wire

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// HashLen is the length of an HMAC-SHA-256 tag.
const HashLen = sha256.Size

// EncodeSubeventFrame serializes a SubeventFrame's fields in order: register
// descriptors (if any), then ack entries, then the little-endian 64-bit
// counter. It does not append a tag; callers needing an authenticated frame
// call Sign on the result.
func EncodeSubeventFrame(f SubeventFrame) []byte {
	size := 2*len(f.RegisterDescriptors) + 2*len(f.Acks) + 8
	buf := make([]byte, 0, size)
	for _, d := range f.RegisterDescriptors {
		buf = append(buf, d.Subevent, d.Slot)
	}
	for _, a := range f.Acks {
		buf = binary.LittleEndian.AppendUint16(buf, a.AckID)
	}
	buf = binary.LittleEndian.AppendUint64(buf, f.Counter)
	return buf
}

// DecodeSubeventFrame parses a tag-less SubeventFrame body. numReg is 0 or
// NumRegisterSlots depending on the subevent index; numAcks is always the
// number of response slots.
func DecodeSubeventFrame(data []byte, numReg, numAcks int) (SubeventFrame, error) {
	need := 2*numReg + 2*numAcks + 8
	if len(data) < need {
		return SubeventFrame{}, ErrMessageTooShort
	}
	f := SubeventFrame{}
	off := 0
	if numReg > 0 {
		f.RegisterDescriptors = make([]RegisterDescriptor, numReg)
		for i := 0; i < numReg; i++ {
			f.RegisterDescriptors[i] = SlotCoord{Subevent: data[off], Slot: data[off+1]}
			off += 2
		}
	}
	f.Acks = make([]AckEntry, numAcks)
	for i := 0; i < numAcks; i++ {
		f.Acks[i] = AckEntry{AckID: binary.LittleEndian.Uint16(data[off : off+2])}
		off += 2
	}
	f.Counter = binary.LittleEndian.Uint64(data[off : off+8])
	return f, nil
}

// EncodeResponseFrame serializes a ResponseFrame: sender id, fixed-length
// payload, then the counter.
func EncodeResponseFrame(f ResponseFrame) []byte {
	buf := make([]byte, 0, 2+len(f.Payload)+8)
	buf = binary.LittleEndian.AppendUint16(buf, f.SenderID)
	buf = append(buf, f.Payload...)
	buf = binary.LittleEndian.AppendUint64(buf, f.Counter)
	return buf
}

// DecodeResponseFrame parses a tag-less ResponseFrame body whose payload is
// exactly payloadLen bytes (a fixed length derived from the radio MTU minus
// framing overhead).
func DecodeResponseFrame(data []byte, payloadLen int) (ResponseFrame, error) {
	need := 2 + payloadLen + 8
	if len(data) < need {
		return ResponseFrame{}, ErrMessageTooShort
	}
	senderID := binary.LittleEndian.Uint16(data[0:2])
	payload := make([]byte, payloadLen)
	copy(payload, data[2:2+payloadLen])
	counter := binary.LittleEndian.Uint64(data[2+payloadLen : 2+payloadLen+8])
	return ResponseFrame{SenderID: senderID, Payload: payload, Counter: counter}, nil
}

// Sign computes HMAC-SHA-256 over msg using key and appends the 32-byte tag,
// yielding msg||tag.
func Sign(msg []byte, key []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, key)
	if _, err := mac.Write(msg); err != nil {
		return nil, ErrMACComputeFail
	}
	tag := mac.Sum(nil)
	out := make([]byte, 0, len(msg)+HashLen)
	out = append(out, msg...)
	out = append(out, tag...)
	return out, nil
}

// Verify authenticates msg||tag against key and a tracked minimum counter:
//  1. split off the trailing 32-byte tag,
//  2. recompute HMAC-SHA-256 over the remainder and compare in constant time,
//  3. read the little-endian 64-bit counter trailing the remainder and
//     reject anything older than *minCounter, else advance *minCounter.
//
// It returns the tag-less, counter-less message body (the part a caller
// still needs to decode, e.g. the register descriptors and ack vector) along
// with the parsed counter.
func Verify(msgWithTag []byte, key []byte, minCounter *uint64) (body []byte, counter uint64, err error) {
	if len(msgWithTag) < HashLen {
		return nil, 0, ErrMessageTooShort
	}
	split := len(msgWithTag) - HashLen
	remainder, presentTag := msgWithTag[:split], msgWithTag[split:]

	mac := hmac.New(sha256.New, key)
	if _, werr := mac.Write(remainder); werr != nil {
		return nil, 0, ErrMACComputeFail
	}
	computed := mac.Sum(nil)
	if !hmac.Equal(computed, presentTag) {
		return nil, 0, ErrInvalidHash
	}

	if len(remainder) < 8 {
		return nil, 0, ErrMessageTooShort
	}
	counterOff := len(remainder) - 8
	counter = binary.LittleEndian.Uint64(remainder[counterOff:])
	if counter < *minCounter {
		return nil, 0, ErrCounterMismatch
	}
	*minCounter = counter

	return remainder[:counterOff], counter, nil
}
