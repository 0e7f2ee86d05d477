package scanner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robolivable/pawrswarm/config"
	"github.com/robolivable/pawrswarm/keystore"
	"github.com/robolivable/pawrswarm/radio"
	"github.com/robolivable/pawrswarm/wire"
)

const fsmTestDeviceID = uint16(3)

// fakeRadio is a minimal radio.ScannerRadio recording SetResponseData calls,
// used to test the FSM's receive handlers without the full loopback bus.
type fakeRadio struct {
	responses []struct {
		req  radio.ResponseRequest
		data []byte
	}
}

func (f *fakeRadio) Enable() error                    { return nil }
func (f *fakeRadio) ScanStart(radio.ScanParams) error { return nil }
func (f *fakeRadio) ScanStop() error                  { return nil }
func (f *fakeRadio) SyncCreate(radio.SyncCreateParams, radio.ScannerCallbacks) (radio.SyncHandle, error) {
	return nil, nil
}
func (f *fakeRadio) SyncSubevent(radio.SyncHandle, []uint8) error  { return nil }
func (f *fakeRadio) SyncRecvEnable(radio.SyncHandle) error         { return nil }
func (f *fakeRadio) SyncRecvDisable(radio.SyncHandle) error        { return nil }
func (f *fakeRadio) SyncDelete(radio.SyncHandle) error             { return nil }
func (f *fakeRadio) SetResponseData(handle radio.SyncHandle, req radio.ResponseRequest, data []byte) error {
	f.responses = append(f.responses, struct {
		req  radio.ResponseRequest
		data []byte
	}{req, data})
	return nil
}

func testFSM(t *testing.T) (*FSM, *fakeRadio, []byte) {
	t.Helper()
	advKey, err := keystore.RandomKey()
	require.NoError(t, err)
	ownKey, err := keystore.RandomKey()
	require.NoError(t, err)

	r := &fakeRadio{}
	fsm := &FSM{
		radio:    r,
		proto:    config.Protocol{NumSubevents: 2, NumResponseSlots: 4, NumRegisterSlots: 2, EventsPerBlock: 1, MaxUnconfirmedTicks: 3, ResponsePayloadLen: 4},
		radioCfg: config.Radio{NumFailedSyncTolerance: 3, IntervalUnits: 2000},
		deviceID: fsmTestDeviceID,
		ownKey:   ownKey,
		advKey:   advKey,
		events:   make(chan event, 8),
	}
	return fsm, r, advKey
}

func signAdvertiserFrame(t *testing.T, advKey []byte, frame wire.SubeventFrame) []byte {
	t.Helper()
	signed, err := wire.Sign(wire.EncodeSubeventFrame(frame), advKey)
	require.NoError(t, err)
	return signed
}

func TestRegisterRecvRespondsAndAssignsTarget(t *testing.T) {
	fsm, r, advKey := testFSM(t)
	fsm.mode.Store(recvRegistering)

	descriptors := []wire.RegisterDescriptor{{Subevent: 1, Slot: 0}, {Subevent: 1, Slot: 1}}
	frame := wire.SubeventFrame{RegisterDescriptors: descriptors, Acks: make([]wire.AckEntry, 4), Counter: 0}
	data := signAdvertiserFrame(t, advKey, frame)

	fsm.registerRecv(radio.ResponseInfo{Subevent: 0}, data)

	require.Len(t, r.responses, 1, "registerRecv must submit exactly one response")
	require.Contains(t, descriptors, fsm.selectedSlot, "the assigned slot must be one of the published register descriptors")

	select {
	case e := <-fsm.events:
		require.Equal(t, evRegistered, e.kind)
	default:
		t.Fatal("expected an evRegistered event")
	}
}

func TestRegisterRecvInvalidSignaturePostsInvalidHash(t *testing.T) {
	fsm, r, advKey := testFSM(t)
	fsm.mode.Store(recvRegistering)

	frame := wire.SubeventFrame{RegisterDescriptors: []wire.RegisterDescriptor{{Subevent: 1, Slot: 0}, {Subevent: 1, Slot: 1}}, Acks: make([]wire.AckEntry, 4), Counter: 0}
	data := signAdvertiserFrame(t, advKey, frame)
	data[0] ^= 0xff

	fsm.registerRecv(radio.ResponseInfo{Subevent: 0}, data)

	require.Empty(t, r.responses, "an unverifiable frame must not be responded to")
	select {
	case e := <-fsm.events:
		require.Equal(t, evInvalidHash, e.kind)
	default:
		t.Fatal("expected an evInvalidHash event")
	}
}

func TestTargetedRecvReportsAckOutcome(t *testing.T) {
	fsm, r, advKey := testFSM(t)
	fsm.mode.Store(recvTargeted)
	target := wire.SlotCoord{Subevent: 1, Slot: 2}
	fsm.selectedSlot = target

	frame := wire.SubeventFrame{Acks: make([]wire.AckEntry, 4), Counter: 0}
	frame.Acks[target.Slot] = wire.AckEntry{AckID: fsmTestDeviceID}
	data := signAdvertiserFrame(t, advKey, frame)

	fsm.targetedRecv(radio.ResponseInfo{Subevent: target.Subevent}, data)

	require.Len(t, r.responses, 1)
	require.Equal(t, target.Subevent, r.responses[0].req.ResponseSubevent)
	require.Equal(t, target.Slot, r.responses[0].req.ResponseSlot)

	select {
	case e := <-fsm.events:
		require.Equal(t, evAckResult, e.kind)
		require.True(t, e.ackOK)
	default:
		t.Fatal("expected an evAckResult event")
	}
}

func TestTargetedRecvAtOtherSubeventIsIgnored(t *testing.T) {
	fsm, r, advKey := testFSM(t)
	fsm.mode.Store(recvTargeted)
	fsm.selectedSlot = wire.SlotCoord{Subevent: 0, Slot: 2}

	// info.Subevent 1 (not the scanner's own subevent 0) keeps numReg at 0
	// inside targetedRecv, so this frame only needs an ack vector to decode.
	frame := wire.SubeventFrame{Acks: make([]wire.AckEntry, 4), Counter: 0}
	data := signAdvertiserFrame(t, advKey, frame)

	fsm.targetedRecv(radio.ResponseInfo{Subevent: 1}, data)

	require.Empty(t, r.responses)
	select {
	case e := <-fsm.events:
		t.Fatalf("unexpected event %v for a non-targeted subevent", e.kind)
	default:
	}
}

// TestSyncingPreservesSlotBelowUnconfirmedCap exercises the ENABLED/CONFIRMING
// resync edge: a scanner that loses sync while it still has an assigned slot
// and has not exhausted its unconfirmed-ack budget must resync straight to
// CONFIRMING on the same slot, not pay for a fresh registration.
func TestSyncingPreservesSlotBelowUnconfirmedCap(t *testing.T) {
	fsm, _, _ := testFSM(t)
	target := wire.SlotCoord{Subevent: 1, Slot: 2}
	fsm.hasSlot = true
	fsm.selectedSlot = target
	fsm.unconfirmedTicks = 1 // below MaxUnconfirmedTicks (3)
	fsm.events <- event{kind: evSynced}

	state := fsm.syncing(context.Background())

	require.Equal(t, StateConfirming, state)
	require.Equal(t, target, fsm.selectedSlot, "selectedSlot must survive a resync with budget remaining")
	require.True(t, fsm.hasSlot)
	require.Equal(t, recvTargeted, fsm.mode.Load())
}

// TestSyncingResetsWhenUnconfirmedTicksExhausted covers the other edge: if
// the unconfirmed-ack budget was already spent before sync was lost, the
// slot is abandoned and the FSM falls back through full registration.
func TestSyncingResetsWhenUnconfirmedTicksExhausted(t *testing.T) {
	fsm, _, _ := testFSM(t)
	fsm.hasSlot = true
	fsm.selectedSlot = wire.SlotCoord{Subevent: 1, Slot: 2}
	fsm.unconfirmedTicks = fsm.proto.MaxUnconfirmedTicks
	fsm.events <- event{kind: evSynced}

	state := fsm.syncing(context.Background())

	require.Equal(t, StateRegistering, state)
	require.Equal(t, wire.SlotCoord{}, fsm.selectedSlot)
	require.False(t, fsm.hasSlot)
	require.Equal(t, recvRegistering, fsm.mode.Load())
}

// TestSyncingResetsWhenNoPriorSlot covers the ordinary first-sync case: with
// no slot assigned yet, syncing always falls through to REGISTERING.
func TestSyncingResetsWhenNoPriorSlot(t *testing.T) {
	fsm, _, _ := testFSM(t)
	fsm.events <- event{kind: evSynced}

	state := fsm.syncing(context.Background())

	require.Equal(t, StateRegistering, state)
	require.False(t, fsm.hasSlot)
	require.Equal(t, recvRegistering, fsm.mode.Load())
}

func TestVerifyAdvertiserFrameRejectsReplayedCounter(t *testing.T) {
	fsm, _, advKey := testFSM(t)
	fsm.advMinCounter = 5

	frame := wire.SubeventFrame{Acks: make([]wire.AckEntry, 4), Counter: 3}
	data := signAdvertiserFrame(t, advKey, frame)

	_, _, err := fsm.verifyAdvertiserFrame(data, 0)
	require.Error(t, err)
}

func TestVerifyAdvertiserFrameAcceptsAdvancingCounter(t *testing.T) {
	fsm, _, advKey := testFSM(t)
	fsm.advMinCounter = 5

	frame := wire.SubeventFrame{Acks: make([]wire.AckEntry, 4), Counter: 6}
	data := signAdvertiserFrame(t, advKey, frame)

	decoded, ctr, err := fsm.verifyAdvertiserFrame(data, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(6), ctr)
	require.Equal(t, uint64(6), fsm.advMinCounter)
	require.Len(t, decoded.Acks, 4)
}
