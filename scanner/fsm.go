// Package scanner implements the Scanner's registration/confirmation/data
// finite-state machine: sync to the Advertiser, claim a response slot,
// confirm the Advertiser accepted it, then settle into a sleep/generate/
// transmit/acknowledge duty cycle.
package scanner

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robolivable/pawrswarm/apperr"
	"github.com/robolivable/pawrswarm/config"
	"github.com/robolivable/pawrswarm/controller"
	"github.com/robolivable/pawrswarm/counter"
	"github.com/robolivable/pawrswarm/keystore"
	"github.com/robolivable/pawrswarm/log"
	"github.com/robolivable/pawrswarm/radio"
	"github.com/robolivable/pawrswarm/reboot"
	"github.com/robolivable/pawrswarm/wire"
)

// State is one of the Scanner's seven top-level states.
type State int

const (
	StateInitialize State = iota
	StateSyncing
	StateRegistering
	StateConfirming
	StateSleeping
	StateEnabled
	StateFaultHandling
)

func (s State) String() string {
	switch s {
	case StateInitialize:
		return "INITIALIZE"
	case StateSyncing:
		return "SYNCING"
	case StateRegistering:
		return "REGISTERING"
	case StateConfirming:
		return "CONFIRMING"
	case StateSleeping:
		return "SLEEPING"
	case StateEnabled:
		return "ENABLED"
	case StateFaultHandling:
		return "FAULT_HANDLING"
	default:
		return "UNKNOWN"
	}
}

// Receive mode selects which per-state handler a radio upcall dispatches
// to, mirroring the original firmware's trick of swapping the sync
// callback's recv function pointer on a state transition rather than
// branching on FSM state from inside the callback.
const (
	recvRegistering int32 = iota
	recvTargeted
)

type eventKind int

const (
	evSynced eventKind = iota
	evTerm
	evRegistered
	evAckResult
	evDataReady
	evInvalidHash
)

type event struct {
	kind    eventKind
	ackOK   bool
	payload []byte
}

const (
	syncTick     = 10 * time.Second
	livenessTick = 30 * time.Second
)

// FSM drives one Scanner device. Radio upcalls (onSync, onTerm, onRecv) run
// on the driver's callback goroutine and never block: they do the minimum
// work needed (decode, verify, pick a slot, submit a response) and post one
// event to a small buffered channel the FSM thread selects on. Events that
// would be lost by an overfull queue are logged and dropped rather than
// blocking the driver context.
type FSM struct {
	radio    radio.ScannerRadio
	proto    config.Protocol
	radioCfg config.Radio

	deviceID uint16
	ownKey   []byte
	advKey   []byte

	counters *counter.Store

	indicator *controller.Indicator
	datagen   *DataGenerator

	mode atomic.Int32

	mu               sync.Mutex
	state            State
	handle           radio.SyncHandle
	ownCounter       uint64
	advMinCounter    uint64
	selectedSlot     wire.SlotCoord
	hasSlot          bool
	unconfirmedTicks int
	pendingPayload   []byte

	events chan event
}

// New builds a Scanner FSM, loading the device's own HMAC key and replay
// counter plus the Advertiser's public-side key material needed to verify
// incoming frames.
func New(r radio.ScannerRadio, proto config.Protocol, radioCfg config.Radio, deviceID uint16, keys *keystore.Store, counters *counter.Store, indicator *controller.Indicator, datagen *DataGenerator) (*FSM, error) {
	ownID := keystore.ScannerKeyID(deviceID)
	ownKey, err := keys.Export(ownID)
	if err != nil {
		return nil, fmt.Errorf("scanner: %w: load own key: %w", apperr.ErrCrypto, err)
	}
	advKey, err := keys.Export(keystore.AdvertiserKeyID())
	if err != nil {
		return nil, fmt.Errorf("scanner: %w: load advertiser key: %w", apperr.ErrCrypto, err)
	}
	ownCounter, err := counters.Load(ownID)
	if err != nil {
		return nil, fmt.Errorf("scanner: %w: load own counter: %w", apperr.ErrCrypto, err)
	}

	return &FSM{
		radio:         r,
		proto:         proto,
		radioCfg:      radioCfg,
		deviceID:      deviceID,
		ownKey:        ownKey,
		advKey:        advKey,
		counters:      counters,
		indicator:     indicator,
		datagen:       datagen,
		state:         StateInitialize,
		ownCounter:    ownCounter,
		events:        make(chan event, 8),
	}, nil
}

// Run drives the FSM until ctx is canceled or a fault/soft condition ends
// in a cold reboot.
func (f *FSM) Run(ctx context.Context) error {
	if f.datagen != nil {
		go f.datagen.Run(ctx, func(payload []byte) {
			f.post(event{kind: evDataReady, payload: payload})
		})
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch f.state {
		case StateInitialize:
			f.state = f.initialize()
		case StateSyncing:
			f.state = f.syncing(ctx)
		case StateRegistering:
			f.state = f.registering(ctx)
		case StateConfirming:
			f.state = f.confirming(ctx)
		case StateSleeping:
			f.state = f.sleeping(ctx)
		case StateEnabled:
			f.state = f.enabled(ctx)
		case StateFaultHandling:
			return f.faultHandling()
		}
	}
}

func (f *FSM) post(e event) {
	select {
	case f.events <- e:
	default:
		log.Warn("scanner: event queue full, dropping event kind %d", e.kind)
	}
}

func (f *FSM) wait(ctx context.Context, timeout time.Duration) (event, bool) {
	select {
	case e := <-f.events:
		return e, true
	case <-time.After(timeout):
		return event{}, false
	case <-ctx.Done():
		return event{}, false
	}
}

func (f *FSM) currentHandle() radio.SyncHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle
}

func (f *FSM) syncTimeoutUnits() int {
	return (f.radioCfg.IntervalUnits * 5 / 40) * f.radioCfg.NumFailedSyncTolerance
}

func (f *FSM) initialize() State {
	if err := f.radio.Enable(); err != nil {
		log.Error("scanner: %v: enable radio: %v", apperr.ErrRadio, err)
		return StateFaultHandling
	}
	return StateSyncing
}

// syncing (re)establishes periodic sync. A prior assigned slot survives a
// resync: unless there was no slot yet, or this slot's unconfirmed-ack
// budget was already exhausted, the FSM resyncs straight to CONFIRMING on
// its existing selectedSlot instead of paying for a fresh registration.
func (f *FSM) syncing(ctx context.Context) State {
	if err := f.radio.ScanStart(radio.ScanParams{
		IntervalUnits: f.radioCfg.ScanIntervalUnits,
		WindowUnits:   f.radioCfg.ScanWindowUnits,
	}); err != nil {
		log.Error("scanner: %v: start scan: %v", apperr.ErrRadio, err)
		return StateFaultHandling
	}

	handle, err := f.radio.SyncCreate(radio.SyncCreateParams{TimeoutUnits: f.syncTimeoutUnits()}, radio.ScannerCallbacks{
		OnSync: f.onSync,
		OnTerm: f.onTerm,
		OnRecv: f.onRecv,
	})
	if err != nil {
		log.Error("scanner: %v: create sync: %v", apperr.ErrRadio, err)
		return StateFaultHandling
	}

	f.mu.Lock()
	f.handle = handle
	keepSlot := f.hasSlot && f.unconfirmedTicks < f.proto.MaxUnconfirmedTicks
	if !keepSlot {
		f.selectedSlot = wire.SlotCoord{}
		f.hasSlot = false
		f.unconfirmedTicks = 0
	}
	f.mu.Unlock()

	if keepSlot {
		f.mode.Store(recvTargeted)
	} else {
		f.mode.Store(recvRegistering)
	}

	for {
		e, ok := f.wait(ctx, syncTick)
		if !ok {
			if ctx.Err() != nil {
				return StateFaultHandling
			}
			log.DebugMemoize("scanner: still syncing")
			continue
		}
		if e.kind == evSynced {
			if err := f.radio.ScanStop(); err != nil {
				log.Warn("scanner: %v: stop scan: %v", apperr.ErrRadio, err)
			}
			if keepSlot {
				log.Info("scanner: resynced with slot %s intact, skipping registration", f.selectedSlot)
				return StateConfirming
			}
			return StateRegistering
		}
	}
}

func (f *FSM) registering(ctx context.Context) State {
	f.mode.Store(recvRegistering)
	for {
		e, ok := f.wait(ctx, syncTick)
		if !ok {
			if ctx.Err() != nil {
				return StateFaultHandling
			}
			log.DebugMemoize("scanner: still registering")
			continue
		}
		switch e.kind {
		case evRegistered:
			return StateConfirming
		case evInvalidHash, evTerm:
			return StateSyncing
		}
	}
}

func (f *FSM) confirming(ctx context.Context) State {
	f.mode.Store(recvTargeted)
	f.mu.Lock()
	target := f.selectedSlot
	f.unconfirmedTicks = 0
	f.mu.Unlock()

	if err := f.radio.SyncSubevent(f.currentHandle(), []uint8{target.Subevent}); err != nil {
		log.Warn("scanner: %v: resync to assigned subevent %s: %v", apperr.ErrRadio, target, err)
	}

	for {
		e, ok := f.wait(ctx, syncTick)
		if !ok {
			if ctx.Err() != nil {
				return StateFaultHandling
			}
			log.DebugMemoize("scanner: still confirming")
			continue
		}
		switch e.kind {
		case evAckResult:
			if e.ackOK {
				log.Info("scanner: registration confirmed at %s", target)
				return StateSleeping
			}
			f.mu.Lock()
			f.unconfirmedTicks++
			exhausted := f.unconfirmedTicks >= f.proto.MaxUnconfirmedTicks
			if exhausted {
				f.hasSlot = false
			}
			f.mu.Unlock()
			if exhausted {
				return StateRegistering
			}
		case evInvalidHash, evTerm:
			return StateSyncing
		}
	}
}

func (f *FSM) sleeping(ctx context.Context) State {
	if err := f.radio.SyncRecvDisable(f.currentHandle()); err != nil {
		log.Warn("scanner: %v: recv disable: %v", apperr.ErrRadio, err)
	}
	if f.indicator != nil {
		_ = f.indicator.Off()
	}

	for {
		e, ok := f.wait(ctx, livenessTick)
		if !ok {
			if ctx.Err() != nil {
				return StateFaultHandling
			}
			log.DebugMemoize("scanner: still alive")
			continue
		}
		switch e.kind {
		case evDataReady:
			f.mu.Lock()
			f.pendingPayload = e.payload
			f.mu.Unlock()
			return StateEnabled
		case evInvalidHash, evTerm:
			return StateSyncing
		}
	}
}

func (f *FSM) enabled(ctx context.Context) State {
	defer func() {
		f.mu.Lock()
		f.pendingPayload = nil
		f.mu.Unlock()
	}()

	if err := f.radio.SyncRecvEnable(f.currentHandle()); err != nil {
		log.Warn("scanner: %v: recv enable: %v", apperr.ErrRadio, err)
	}
	if f.indicator != nil {
		_ = f.indicator.On()
	}
	f.mu.Lock()
	f.unconfirmedTicks = 0
	f.mu.Unlock()

	for {
		e, ok := f.wait(ctx, syncTick)
		if !ok {
			if ctx.Err() != nil {
				return StateFaultHandling
			}
			log.DebugMemoize("scanner: still enabled, awaiting ack")
			continue
		}
		switch e.kind {
		case evAckResult:
			if e.ackOK {
				return StateSleeping
			}
			f.mu.Lock()
			f.unconfirmedTicks++
			exhausted := f.unconfirmedTicks >= f.proto.MaxUnconfirmedTicks
			if exhausted {
				f.hasSlot = false
			}
			f.mu.Unlock()
			if exhausted {
				return StateRegistering
			}
		case evInvalidHash, evTerm:
			return StateSyncing
		}
	}
}

func (f *FSM) faultHandling() error {
	log.Warn("scanner: entering FAULT_HANDLING")
	f.mu.Lock()
	ctr := f.ownCounter
	f.mu.Unlock()
	if err := f.counters.Commit(keystore.ScannerKeyID(f.deviceID), ctr); err != nil {
		log.Error("scanner: commit counter before reboot: %v", err)
	}
	if f.indicator != nil {
		_ = f.indicator.Off()
	}
	return reboot.Cold()
}

func (f *FSM) onSync(ctx context.Context, handle radio.SyncHandle, info radio.SyncInfo) {
	f.mu.Lock()
	f.handle = handle
	f.mu.Unlock()
	if err := f.radio.SyncSubevent(handle, []uint8{0}); err != nil {
		log.Warn("scanner: %v: sync subevent 0: %v", apperr.ErrRadio, err)
	}
	if err := f.radio.SyncRecvEnable(handle); err != nil {
		log.Warn("scanner: %v: recv enable: %v", apperr.ErrRadio, err)
	}
	log.Info("scanner: synced (%d subevents)", info.NumSubevents)
	f.post(event{kind: evSynced})
}

func (f *FSM) onTerm(ctx context.Context, info radio.TermInfo) {
	log.Warn("scanner: sync terminated (reason %d)", info.Reason)
	f.post(event{kind: evTerm})
}

func (f *FSM) onRecv(ctx context.Context, info radio.ResponseInfo, data []byte) {
	if len(data) == 0 {
		log.Warn("scanner: empty indication: subevent %d", info.Subevent)
		return
	}
	switch f.mode.Load() {
	case recvRegistering:
		f.registerRecv(info, data)
	default:
		f.targetedRecv(info, data)
	}
}

// registerRecv is the REGISTERING-state receive handler: pick a random
// register index, respond there, and record the coordinate the Advertiser
// assigned to that index for later use as the target slot.
func (f *FSM) registerRecv(info radio.ResponseInfo, data []byte) {
	frame, _, err := f.verifyAdvertiserFrame(data, f.proto.NumRegisterSlots)
	if err != nil {
		log.Warn("scanner: %v: register frame: %v", apperr.ErrVerification, err)
		f.post(event{kind: evInvalidHash})
		return
	}

	r := rand.Intn(f.proto.NumRegisterSlots)
	if err := f.respond(info.Subevent, uint8(r), nil); err != nil {
		log.Warn("scanner: %v: respond in register slot %d: %v", apperr.ErrRadio, r, err)
		return
	}

	target := frame.RegisterDescriptors[r]
	f.mu.Lock()
	f.selectedSlot = target
	f.hasSlot = true
	f.mu.Unlock()
	log.Info("scanner: registering in slot %d, assigned %s", r, target)
	f.post(event{kind: evRegistered})
}

// targetedRecv is the CONFIRMING/ENABLED-state receive handler: verify the
// frame, inspect the ack vector at the assigned slot, and respond again
// (a keepalive during CONFIRMING, real data during ENABLED).
func (f *FSM) targetedRecv(info radio.ResponseInfo, data []byte) {
	numReg := 0
	if info.Subevent == 0 {
		numReg = f.proto.NumRegisterSlots
	}
	frame, _, err := f.verifyAdvertiserFrame(data, numReg)
	if err != nil {
		log.Warn("scanner: %v: targeted frame: %v", apperr.ErrVerification, err)
		f.post(event{kind: evInvalidHash})
		return
	}

	f.mu.Lock()
	target := f.selectedSlot
	payload := f.pendingPayload
	f.mu.Unlock()
	if info.Subevent != target.Subevent {
		return
	}
	if payload == nil {
		payload = make([]byte, f.proto.ResponsePayloadLen)
	}

	ackOK := int(target.Slot) < len(frame.Acks) && frame.Acks[target.Slot].AckID == f.deviceID

	if err := f.respond(target.Subevent, target.Slot, payload); err != nil {
		log.Warn("scanner: %v: respond in slot %s: %v", apperr.ErrRadio, target, err)
	}
	f.post(event{kind: evAckResult, ackOK: ackOK})
}

// verifyAdvertiserFrame authenticates and decodes one SubeventFrame against
// the Advertiser's key and this scanner's tracked minimum counter.
func (f *FSM) verifyAdvertiserFrame(data []byte, numReg int) (wire.SubeventFrame, uint64, error) {
	f.mu.Lock()
	minCtr := f.advMinCounter
	f.mu.Unlock()

	body, ctr, err := wire.Verify(data, f.advKey, &minCtr)
	if err != nil {
		return wire.SubeventFrame{}, 0, err
	}

	f.mu.Lock()
	f.advMinCounter = minCtr
	f.mu.Unlock()

	full := binary.LittleEndian.AppendUint64(append([]byte(nil), body...), ctr)
	frame, err := wire.DecodeSubeventFrame(full, numReg, f.proto.NumResponseSlots)
	if err != nil {
		return wire.SubeventFrame{}, 0, err
	}
	return frame, ctr, nil
}

// respond signs and submits a ResponseFrame for the given slot, advancing
// this scanner's own replay counter by one.
func (f *FSM) respond(subevent, slot uint8, payload []byte) error {
	if payload == nil {
		payload = make([]byte, f.proto.ResponsePayloadLen)
	}

	f.mu.Lock()
	ctr := f.ownCounter
	f.ownCounter++
	f.mu.Unlock()

	body := wire.EncodeResponseFrame(wire.ResponseFrame{SenderID: f.deviceID, Payload: payload, Counter: ctr})
	signed, err := wire.Sign(body, f.ownKey)
	if err != nil {
		return fmt.Errorf("%w: sign response: %w", apperr.ErrCrypto, err)
	}

	req := radio.ResponseRequest{RequestSubevent: subevent, ResponseSubevent: subevent, ResponseSlot: slot}
	return f.radio.SetResponseData(f.currentHandle(), req, signed)
}
