package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func key(t *testing.T) []byte {
	t.Helper()
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestSubeventFrameRoundTrip(t *testing.T) {
	f := SubeventFrame{
		RegisterDescriptors: []RegisterDescriptor{{Subevent: 0, Slot: 3}, {Subevent: 0, Slot: 4}, {Subevent: 0, Slot: 5}},
		Acks:                []AckEntry{{AckID: 7}, {AckID: 0}, {AckID: 0}},
		Counter:             42,
	}
	encoded := EncodeSubeventFrame(f)
	decoded, err := DecodeSubeventFrame(encoded, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, f, decoded)
}

func TestResponseFrameRoundTrip(t *testing.T) {
	f := ResponseFrame{SenderID: 7, Payload: []byte{1, 2, 3, 4}, Counter: 99}
	encoded := EncodeResponseFrame(f)
	decoded, err := DecodeResponseFrame(encoded, 4)
	require.NoError(t, err)
	assert.Equal(t, f, decoded)
}

func TestSignVerifyAcceptsValidFrame(t *testing.T) {
	k := key(t)
	f := ResponseFrame{SenderID: 7, Payload: []byte{9, 9, 9, 9}, Counter: 5}
	signed, err := Sign(EncodeResponseFrame(f), k)
	require.NoError(t, err)

	minCounter := uint64(0)
	body, counter, err := Verify(signed, k, &minCounter)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), counter)
	assert.Equal(t, uint64(5), minCounter)

	// body is the tag-less, counter-less remainder: sender id + payload.
	decoded, err := DecodeResponseFrame(append(append([]byte{}, body...), signed[len(signed)-HashLen-8:len(signed)-HashLen]...), 4)
	require.NoError(t, err)
	assert.Equal(t, f.SenderID, decoded.SenderID)
	assert.Equal(t, f.Payload, decoded.Payload)
}

func TestVerifyRejectsBitFlip(t *testing.T) {
	k := key(t)
	signed, err := Sign(EncodeResponseFrame(ResponseFrame{SenderID: 1, Payload: []byte{0, 0, 0, 0}, Counter: 1}), k)
	require.NoError(t, err)

	for i := range signed {
		flipped := append([]byte(nil), signed...)
		flipped[i] ^= 0x01
		minCounter := uint64(0)
		_, _, err := Verify(flipped, k, &minCounter)
		assert.Error(t, err, "bit flip at byte %d must be rejected", i)
	}
}

func TestVerifyRejectsStaleCounter(t *testing.T) {
	k := key(t)
	signed, err := Sign(EncodeResponseFrame(ResponseFrame{SenderID: 1, Payload: []byte{0, 0, 0, 0}, Counter: 42}), k)
	require.NoError(t, err)

	minCounter := uint64(45)
	_, _, err = Verify(signed, k, &minCounter)
	assert.ErrorIs(t, err, ErrCounterMismatch)
}

func TestVerifyAcceptsEqualCounter(t *testing.T) {
	k := key(t)
	signed, err := Sign(EncodeResponseFrame(ResponseFrame{SenderID: 1, Payload: []byte{0, 0, 0, 0}, Counter: 42}), k)
	require.NoError(t, err)

	minCounter := uint64(42)
	_, _, err = Verify(signed, k, &minCounter)
	assert.NoError(t, err, "counter equal to last accepted must be accepted (>=, not >)")
}

func TestVerifyRejectsShortMessage(t *testing.T) {
	minCounter := uint64(0)
	_, _, err := Verify([]byte{1, 2, 3}, key(t), &minCounter)
	assert.ErrorIs(t, err, ErrMessageTooShort)
}

// TestResponseFrameRoundTripProperty exercises the round-trip law
// (deserialize(serialize(f)) == f) across the payload space using rapid.
func TestResponseFrameRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		senderID := rapid.Uint16().Draw(rt, "senderID")
		counter := rapid.Uint64().Draw(rt, "counter")
		payload := rapid.SliceOfN(rapid.Byte(), 8, 8).Draw(rt, "payload")

		f := ResponseFrame{SenderID: senderID, Payload: payload, Counter: counter}
		decoded, err := DecodeResponseFrame(EncodeResponseFrame(f), 8)
		require.NoError(rt, err)
		assert.Equal(rt, f, decoded)
	})
}

// TestSignVerifyProperty checks that every signed message verifies and
// advances the verifier's minimum counter to exactly the embedded counter.
func TestSignVerifyProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		k := rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(rt, "key")
		counter := rapid.Uint64Range(0, 1<<40).Draw(rt, "counter")
		payload := rapid.SliceOfN(rapid.Byte(), 8, 8).Draw(rt, "payload")

		signed, err := Sign(EncodeResponseFrame(ResponseFrame{SenderID: 1, Payload: payload, Counter: counter}), k)
		require.NoError(rt, err)

		minCounter := uint64(0)
		_, gotCounter, err := Verify(signed, k, &minCounter)
		require.NoError(rt, err)
		assert.Equal(rt, counter, gotCounter)
		assert.Equal(rt, counter, minCounter)
	})
}
