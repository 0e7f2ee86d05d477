package advertiser

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/robolivable/pawrswarm/apperr"
	"github.com/robolivable/pawrswarm/config"
	"github.com/robolivable/pawrswarm/counter"
	"github.com/robolivable/pawrswarm/freelist"
	"github.com/robolivable/pawrswarm/keystore"
	"github.com/robolivable/pawrswarm/log"
	"github.com/robolivable/pawrswarm/radio"
	"github.com/robolivable/pawrswarm/wire"
)

type slotState struct {
	deviceID    uint16
	inactiveFor int
}

// Engine is the Advertiser's slot-allocation, liveness, and frame-assembly
// core: one signed frame per subevent per PAwR cycle, built from a grid of
// response-slot occupants and a bounded free list of reclaimed coordinates.
type Engine struct {
	radio radio.AdvertiserRadio
	proto config.Protocol

	keys     *keystore.Store
	counters *counter.Store
	free     *freelist.FreeList

	advKey []byte

	mu                  sync.Mutex
	slots               [][]slotState // [subevent][slot]
	registerDescriptors []wire.SlotCoord
	cursor              wire.SlotCoord
	counterVal          uint64
	rollover            uint64

	scannersMu    sync.Mutex
	scannerKey    map[uint16][]byte
	scannerMinCtr map[uint16]uint64
}

// New builds an Engine, loading the advertiser's persistent counter and
// populating the register-descriptor set from a fresh reservation cursor
// seeded at (subevent 0, slot NumRegisterSlots) — the first NumRegisterSlots
// slots of subevent 0 are reserved for registration traffic, never handed
// out as data slots.
func New(r radio.AdvertiserRadio, proto config.Protocol, keys *keystore.Store, counters *counter.Store, free *freelist.FreeList) (*Engine, error) {
	advKey, err := keys.Export(keystore.AdvertiserKeyID())
	if err != nil {
		return nil, fmt.Errorf("advertiser: %w: load advertiser key: %w", apperr.ErrCrypto, err)
	}
	counterVal, err := counters.Load(keystore.AdvertiserKeyID())
	if err != nil {
		return nil, fmt.Errorf("advertiser: %w: load counter: %w", apperr.ErrCrypto, err)
	}

	slots := make([][]slotState, proto.NumSubevents)
	for i := range slots {
		slots[i] = make([]slotState, proto.NumResponseSlots)
	}

	e := &Engine{
		radio:         r,
		proto:         proto,
		keys:          keys,
		counters:      counters,
		free:          free,
		advKey:        advKey,
		slots:         slots,
		cursor:        wire.SlotCoord{Subevent: 0, Slot: uint8(proto.NumRegisterSlots)},
		counterVal:    counterVal,
		scannerKey:    map[uint16][]byte{},
		scannerMinCtr: map[uint16]uint64{},
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.registerDescriptors = make([]wire.SlotCoord, proto.NumRegisterSlots)
	for i := range e.registerDescriptors {
		coord, err := e.reserveSlotLocked()
		if err != nil {
			return nil, err
		}
		e.registerDescriptors[i] = coord
	}
	return e, nil
}

// reserveSlotLocked returns the next free SlotCoord: the free list first,
// falling back to the linear cursor. Callers must hold e.mu.
func (e *Engine) reserveSlotLocked() (wire.SlotCoord, error) {
	if coord, err := e.free.Pop(); err == nil {
		return coord, nil
	}
	coord := e.cursor
	if int(coord.Subevent) >= e.proto.NumSubevents {
		return wire.SlotCoord{}, fmt.Errorf("advertiser: %w: reservation cursor exhausted at %s", apperr.ErrCapacity, coord)
	}
	if int(e.cursor.Slot)+1 == e.proto.NumResponseSlots {
		e.cursor = wire.SlotCoord{Subevent: e.cursor.Subevent + 1, Slot: 0}
	} else {
		e.cursor = wire.SlotCoord{Subevent: e.cursor.Subevent, Slot: e.cursor.Slot + 1}
	}
	return coord, nil
}

// Start brings the radio up and begins advertising: create the extended
// advertising set with this Engine's upcalls, configure PAwR timing, then
// start both the periodic and extended advertising trains.
func (e *Engine) Start(params radio.PeriodicParams) error {
	if err := e.radio.Enable(); err != nil {
		return fmt.Errorf("advertiser: %w: enable radio: %w", apperr.ErrRadio, err)
	}
	callbacks := radio.AdvertiserCallbacks{OnDataRequest: e.onDataRequest, OnResponse: e.onResponse}
	if err := e.radio.ExtAdvCreate(callbacks); err != nil {
		return fmt.Errorf("advertiser: %w: create advertising set: %w", apperr.ErrRadio, err)
	}
	if err := e.radio.PerAdvSetParam(params); err != nil {
		return fmt.Errorf("advertiser: %w: set periodic params: %w", apperr.ErrRadio, err)
	}
	if err := e.radio.ExtAdvSetData(nil); err != nil {
		return fmt.Errorf("advertiser: %w: set extended adv data: %w", apperr.ErrRadio, err)
	}
	if err := e.radio.PerAdvStart(); err != nil {
		return fmt.Errorf("advertiser: %w: start periodic advertising: %w", apperr.ErrRadio, err)
	}
	if err := e.radio.ExtAdvStart(); err != nil {
		return fmt.Errorf("advertiser: %w: start extended advertising: %w", apperr.ErrRadio, err)
	}
	return nil
}

// CommitCounter persists the current counter value, called before a
// FAULT_HANDLING or SOFT_REBOOT cold reboot.
func (e *Engine) CommitCounter() error {
	e.mu.Lock()
	v := e.counterVal
	e.mu.Unlock()
	return e.counters.Commit(keystore.AdvertiserKeyID(), v)
}

func (e *Engine) onDataRequest(ctx context.Context, req radio.DataRequest) []radio.SubeventData {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rollover > 0 {
		e.counterVal += e.rollover
		e.rollover = 0
	}

	out := make([]radio.SubeventData, 0, req.Count)
	for i := 0; i < int(req.Count); i++ {
		se := (int(req.Start) + i) % e.proto.NumSubevents
		data, err := e.buildSubeventLocked(se)
		if err != nil {
			log.Error("advertiser: build subevent %d: %v", se, err)
			continue
		}
		out = append(out, radio.SubeventData{
			Subevent: uint8(se),
			Slots:    radio.SlotRange{Start: 0, Count: uint8(e.proto.NumResponseSlots)},
			Data:     data,
		})
	}
	return out
}

func (e *Engine) buildSubeventLocked(se int) ([]byte, error) {
	acks := make([]wire.AckEntry, e.proto.NumResponseSlots)
	for j := 0; j < e.proto.NumResponseSlots; j++ {
		s := &e.slots[se][j]
		s.inactiveFor++
		if s.deviceID != 0 && s.inactiveFor > e.proto.LivenessLimit() {
			if err := e.free.Append(wire.SlotCoord{Subevent: uint8(se), Slot: uint8(j)}); err != nil {
				log.Warn("advertiser: %v", err)
			}
			s.deviceID = 0
			s.inactiveFor = 0
		}
		if s.inactiveFor == 1 && s.deviceID != 0 {
			acks[j] = wire.AckEntry{AckID: s.deviceID}
		}
	}

	var regs []wire.RegisterDescriptor
	if se == 0 {
		regs = append([]wire.RegisterDescriptor(nil), e.registerDescriptors...)
		e.rollover++
	}

	frame := wire.SubeventFrame{RegisterDescriptors: regs, Acks: acks, Counter: e.counterVal}
	body := wire.EncodeSubeventFrame(frame)
	signed, err := wire.Sign(body, e.advKey)
	if err != nil {
		return nil, fmt.Errorf("%w: sign subevent frame: %w", apperr.ErrCrypto, err)
	}
	return signed, nil
}

func (e *Engine) onResponse(ctx context.Context, info radio.ResponseInfo, data []byte) {
	if len(data) < 2 {
		log.Warn("advertiser: %v: response shorter than a sender id", apperr.ErrProtocol)
		return
	}
	senderID := binary.LittleEndian.Uint16(data[0:2])

	key, minCtr, err := e.scannerKeyAndCounter(senderID)
	if err != nil {
		log.Warn("advertiser: %v: %v", apperr.ErrCrypto, err)
		return
	}

	_, newCtr, err := wire.Verify(data, key, &minCtr)
	if err != nil {
		e.dropSlot(info)
		log.Warn("advertiser: %v: response from %d at %s: %v", apperr.ErrVerification, senderID, wire.SlotCoord{Subevent: info.Subevent, Slot: info.Slot}, err)
		return
	}
	e.setScannerCounter(senderID, newCtr)

	e.mu.Lock()
	defer e.mu.Unlock()

	if info.Subevent == 0 && int(info.Slot) < e.proto.NumRegisterSlots {
		target := e.registerDescriptors[info.Slot]
		ts := &e.slots[target.Subevent][target.Slot]
		ts.deviceID = senderID
		ts.inactiveFor = 0
		coord, err := e.reserveSlotLocked()
		if err != nil {
			log.Error("advertiser: %v", err)
			return
		}
		e.registerDescriptors[info.Slot] = coord
		return
	}

	s := &e.slots[info.Subevent][info.Slot]
	switch {
	case s.deviceID == 0:
		s.deviceID = senderID
		s.inactiveFor = 0
	case s.deviceID == senderID:
		s.inactiveFor = 0
	default:
		// Unexpected sender occupies the slot; ignore. The legitimate
		// holder's liveness will eventually time it out.
	}
}

func (e *Engine) dropSlot(info radio.ResponseInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := &e.slots[info.Subevent][info.Slot]
	if s.deviceID == 0 {
		return
	}
	if err := e.free.Append(wire.SlotCoord{Subevent: info.Subevent, Slot: info.Slot}); err != nil {
		log.Warn("advertiser: %v", err)
	}
	s.deviceID = 0
	s.inactiveFor = 0
}

func (e *Engine) scannerKeyAndCounter(senderID uint16) ([]byte, uint64, error) {
	e.scannersMu.Lock()
	defer e.scannersMu.Unlock()

	id := keystore.ScannerKeyID(senderID)
	key, ok := e.scannerKey[senderID]
	if !ok {
		var err error
		key, err = e.keys.Export(id)
		if err != nil {
			return nil, 0, err
		}
		e.scannerKey[senderID] = key
	}
	ctr, ok := e.scannerMinCtr[senderID]
	if !ok {
		var err error
		ctr, err = e.counters.Load(id)
		if err != nil {
			return nil, 0, err
		}
		e.scannerMinCtr[senderID] = ctr
	}
	return key, ctr, nil
}

func (e *Engine) setScannerCounter(senderID uint16, v uint64) {
	e.scannersMu.Lock()
	defer e.scannersMu.Unlock()
	e.scannerMinCtr[senderID] = v
}
