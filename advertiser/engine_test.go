package advertiser

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robolivable/pawrswarm/config"
	"github.com/robolivable/pawrswarm/counter"
	"github.com/robolivable/pawrswarm/freelist"
	"github.com/robolivable/pawrswarm/keystore"
	"github.com/robolivable/pawrswarm/radio"
	"github.com/robolivable/pawrswarm/wire"
)

const testScannerID = uint16(7)

func testProtocol() config.Protocol {
	return config.Protocol{
		NumSubevents:        2,
		NumResponseSlots:    4,
		NumRegisterSlots:    2,
		EventsPerBlock:      1,
		MaxFreeSlots:        8,
		MaxUnconfirmedTicks: 3,
		ResponsePayloadLen:  4,
	}
}

// newTestEngine wires an Engine over a fresh keystore/counter pair with the
// advertiser counter pinned at zero and one scanner key provisioned, so
// tests can sign responses deterministically.
func newTestEngine(t *testing.T) (*Engine, []byte) {
	t.Helper()
	dir := t.TempDir()

	keys, err := keystore.Open(filepath.Join(dir, "keys.db"))
	require.NoError(t, err)
	t.Cleanup(func() { keys.Close() })

	counters, err := counter.Open(filepath.Join(dir, "counter.db"))
	require.NoError(t, err)
	t.Cleanup(func() { counters.Close() })

	advKey, err := keystore.RandomKey()
	require.NoError(t, err)
	require.NoError(t, keys.Import(keystore.AdvertiserKeyID(), advKey))
	require.NoError(t, counters.Commit(keystore.AdvertiserKeyID(), 0))

	scannerKey, err := keystore.RandomKey()
	require.NoError(t, err)
	require.NoError(t, keys.Import(keystore.ScannerKeyID(testScannerID), scannerKey))
	require.NoError(t, counters.Commit(keystore.ScannerKeyID(testScannerID), 0))

	free := freelist.New(testProtocol().MaxFreeSlots)
	bus := radio.NewBus()
	engine, err := New(bus.Advertiser(), testProtocol(), keys, counters, free)
	require.NoError(t, err)

	return engine, scannerKey
}

func signScannerResponse(t *testing.T, key []byte, ctr uint64, payload []byte) []byte {
	t.Helper()
	body := wire.EncodeResponseFrame(wire.ResponseFrame{SenderID: testScannerID, Payload: payload, Counter: ctr})
	signed, err := wire.Sign(body, key)
	require.NoError(t, err)
	return signed
}

func TestNewReservesDistinctRegisterDescriptors(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.Len(t, engine.registerDescriptors, 2)
	require.NotEqual(t, engine.registerDescriptors[0], engine.registerDescriptors[1])
	for _, d := range engine.registerDescriptors {
		require.GreaterOrEqual(t, int(d.Slot), engine.proto.NumRegisterSlots, "register descriptors must not target the register slots themselves")
	}
}

func TestBuildSubeventZeroCarriesSignedRegisterDescriptors(t *testing.T) {
	engine, _ := newTestEngine(t)
	advKey, err := engine.keys.Export(keystore.AdvertiserKeyID())
	require.NoError(t, err)

	entries := engine.onDataRequest(context.Background(), radio.DataRequest{Start: 0, Count: 1})
	require.Len(t, entries, 1)

	minCounter := uint64(0)
	body, ctr, err := wire.Verify(entries[0].Data, advKey, &minCounter)
	require.NoError(t, err)
	require.Equal(t, uint64(0), ctr)

	full := append(append([]byte(nil), body...), entries[0].Data[len(entries[0].Data)-wire.HashLen-8:len(entries[0].Data)-wire.HashLen]...)
	frame, err := wire.DecodeSubeventFrame(full, engine.proto.NumRegisterSlots, engine.proto.NumResponseSlots)
	require.NoError(t, err)
	require.Equal(t, engine.registerDescriptors, frame.RegisterDescriptors)
}

func TestRegisterResponseAssignsTargetSlotAndRotatesDescriptor(t *testing.T) {
	engine, scannerKey := newTestEngine(t)
	prior := engine.registerDescriptors[0]

	signed := signScannerResponse(t, scannerKey, 0, nil)
	engine.onResponse(context.Background(), radio.ResponseInfo{Subevent: 0, Slot: 0}, signed)

	target := &engine.slots[prior.Subevent][prior.Slot]
	require.Equal(t, testScannerID, target.deviceID)
	require.NotEqual(t, prior, engine.registerDescriptors[0], "a consumed register descriptor must be replaced")
}

func TestTargetedResponseRefreshesLiveness(t *testing.T) {
	engine, scannerKey := newTestEngine(t)
	coord := wire.SlotCoord{Subevent: 1, Slot: 0}
	engine.slots[coord.Subevent][coord.Slot] = slotState{deviceID: testScannerID, inactiveFor: 2}

	signed := signScannerResponse(t, scannerKey, 0, []byte{1, 2, 3, 4})
	engine.onResponse(context.Background(), radio.ResponseInfo{Subevent: coord.Subevent, Slot: coord.Slot}, signed)

	require.Equal(t, 0, engine.slots[coord.Subevent][coord.Slot].inactiveFor)
}

func TestAckEntryAppearsOneCycleAfterResponse(t *testing.T) {
	engine, scannerKey := newTestEngine(t)
	coord := wire.SlotCoord{Subevent: 1, Slot: 2}
	signed := signScannerResponse(t, scannerKey, 0, nil)
	engine.onResponse(context.Background(), radio.ResponseInfo{Subevent: coord.Subevent, Slot: coord.Slot}, signed)

	advKey, err := engine.keys.Export(keystore.AdvertiserKeyID())
	require.NoError(t, err)

	entries := engine.onDataRequest(context.Background(), radio.DataRequest{Start: uint8(coord.Subevent), Count: 1})
	require.Len(t, entries, 1)

	minCounter := uint64(0)
	body, _, err := wire.Verify(entries[0].Data, advKey, &minCounter)
	require.NoError(t, err)
	full := append(append([]byte(nil), body...), entries[0].Data[len(entries[0].Data)-wire.HashLen-8:len(entries[0].Data)-wire.HashLen]...)
	frame, err := wire.DecodeSubeventFrame(full, 0, engine.proto.NumResponseSlots)
	require.NoError(t, err)
	require.Equal(t, testScannerID, frame.Acks[coord.Slot].AckID)
}

func TestInvalidSignatureDropsSlot(t *testing.T) {
	engine, scannerKey := newTestEngine(t)
	coord := wire.SlotCoord{Subevent: 1, Slot: 0}
	engine.slots[coord.Subevent][coord.Slot] = slotState{deviceID: testScannerID, inactiveFor: 0}

	signed := signScannerResponse(t, scannerKey, 0, nil)
	signed[len(signed)-1] ^= 0xff // corrupt the tag, not the leading sender id, so HMAC verification fails

	engine.onResponse(context.Background(), radio.ResponseInfo{Subevent: coord.Subevent, Slot: coord.Slot}, signed)

	require.Equal(t, uint16(0), engine.slots[coord.Subevent][coord.Slot].deviceID, "an unverifiable response must evict the occupant")
}

func TestLivenessTimeoutReclaimsSlotToFreeList(t *testing.T) {
	engine, _ := newTestEngine(t)
	coord := wire.SlotCoord{Subevent: 1, Slot: 0}
	engine.slots[coord.Subevent][coord.Slot] = slotState{deviceID: testScannerID, inactiveFor: 0}

	limit := engine.proto.LivenessLimit()
	for i := 0; i <= limit; i++ {
		engine.onDataRequest(context.Background(), radio.DataRequest{Start: uint8(coord.Subevent), Count: 1})
	}

	require.Equal(t, uint16(0), engine.slots[coord.Subevent][coord.Slot].deviceID)
	require.Equal(t, 1, engine.free.Len(), "the reclaimed coordinate must land back on the free list")
}
