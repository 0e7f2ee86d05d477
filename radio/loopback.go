package radio

import (
	"context"
	"sync"
)

// Bus is an in-process stand-in for the Radio Driver that wires one
// Advertiser to any number of Scanners through plain function calls instead
// of an actual BLE5.4 SoftDevice, so the Advertiser Engine and Scanner FSM
// can be driven and tested end-to-end without hardware. It models one
// response-slot collision rule: if more than one scanner answers into the
// same (subevent, slot) on the same cycle, the "air" drops every answer
// that landed there, exactly as an undecodable HCI collision would.
type Bus struct {
	mu sync.Mutex

	advCB   AdvertiserCallbacks
	created bool

	scanners map[*BusScanner]struct{}
}

// NewBus returns an empty loopback bus.
func NewBus() *Bus {
	return &Bus{scanners: map[*BusScanner]struct{}{}}
}

// Advertiser returns an AdvertiserRadio backed by this bus.
func (b *Bus) Advertiser() AdvertiserRadio { return &busAdvertiser{bus: b} }

// NewScanner returns a fresh ScannerRadio handle backed by this bus, playing
// the role of one physical scanner device.
func (b *Bus) NewScanner() *BusScanner {
	return &BusScanner{bus: b}
}

type busAdvertiser struct{ bus *Bus }

func (a *busAdvertiser) Enable() error { return nil }

func (a *busAdvertiser) ExtAdvCreate(callbacks AdvertiserCallbacks) error {
	a.bus.mu.Lock()
	defer a.bus.mu.Unlock()
	a.bus.advCB = callbacks
	a.bus.created = true
	return nil
}

func (a *busAdvertiser) PerAdvSetParam(params PeriodicParams) error { return nil }
func (a *busAdvertiser) PerAdvStart() error                        { return nil }
func (a *busAdvertiser) ExtAdvStart() error                        { return nil }
func (a *busAdvertiser) ExtAdvSetData(data []byte) error            { return nil }

// RunCycle drives one full PAwR cycle: for each subevent in [0, numSubevents)
// it asks the advertiser for subevent data, delivers it to every scanner
// synced to that subevent with reception enabled, collects whatever
// response each scanner posts in return, resolves slot collisions, and
// delivers the surviving responses back to the advertiser.
func (b *Bus) RunCycle(ctx context.Context, numSubevents int) {
	for se := 0; se < numSubevents; se++ {
		b.runSubevent(ctx, uint8(se))
	}
}

func (b *Bus) runSubevent(ctx context.Context, se uint8) {
	b.mu.Lock()
	cb := b.advCB
	scanners := make([]*BusScanner, 0, len(b.scanners))
	for s := range b.scanners {
		scanners = append(scanners, s)
	}
	b.mu.Unlock()

	if cb.OnDataRequest == nil {
		return
	}
	entries := cb.OnDataRequest(ctx, DataRequest{Start: se, Count: 1})
	var data []byte
	for _, e := range entries {
		if e.Subevent == se {
			data = e.Data
			break
		}
	}
	if data == nil {
		return
	}

	type reply struct {
		slot uint8
		data []byte
	}
	bySlot := map[uint8][]reply{}

	for _, s := range scanners {
		s.mu.Lock()
		subevent, enabled, cb2 := s.syncedSubevent, s.recvEnabled, s.cb
		s.mu.Unlock()
		if !enabled || subevent != se || cb2.OnRecv == nil {
			continue
		}
		s.pendingResponse = nil
		cb2.OnRecv(ctx, ResponseInfo{Subevent: se}, data)
		s.mu.Lock()
		resp := s.pendingResponse
		s.pendingResponse = nil
		s.mu.Unlock()
		if resp != nil {
			bySlot[resp.slot] = append(bySlot[resp.slot], reply{slot: resp.slot, data: resp.data})
		}
	}

	if cb.OnResponse == nil {
		return
	}
	for slot, replies := range bySlot {
		if len(replies) != 1 {
			continue // collision: the air drops every colliding reply
		}
		cb.OnResponse(ctx, ResponseInfo{Subevent: se, Slot: slot}, replies[0].data)
	}
}

// register wires a scanner into the bus so RunCycle considers it. A real
// Radio Driver discovers scanners via BLE scanning; the loopback instead
// wires the scanner in once it calls SyncCreate, mirroring the transition a
// real scan-recv handler makes into establishing a periodic sync.
func (b *Bus) register(s *BusScanner) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scanners[s] = struct{}{}
}

func (b *Bus) unregister(s *BusScanner) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.scanners, s)
}

// BusScanner is one ScannerRadio handle backed by a Bus.
type BusScanner struct {
	bus *Bus

	mu              sync.Mutex
	cb              ScannerCallbacks
	syncedSubevent  uint8
	recvEnabled     bool
	pendingResponse *struct {
		slot uint8
		data []byte
	}
}

func (s *BusScanner) Enable() error                    { return nil }
func (s *BusScanner) ScanStart(params ScanParams) error { return nil }
func (s *BusScanner) ScanStop() error                   { return nil }

func (s *BusScanner) SyncCreate(params SyncCreateParams, callbacks ScannerCallbacks) (SyncHandle, error) {
	s.mu.Lock()
	s.cb = callbacks
	s.mu.Unlock()
	s.bus.register(s)
	go callbacks.OnSync(context.Background(), s, SyncInfo{})
	return s, nil
}

func (s *BusScanner) SyncSubevent(handle SyncHandle, subevents []uint8) error {
	if len(subevents) == 0 {
		return nil
	}
	s.mu.Lock()
	s.syncedSubevent = subevents[0]
	s.mu.Unlock()
	return nil
}

func (s *BusScanner) SyncRecvEnable(handle SyncHandle) error {
	s.mu.Lock()
	s.recvEnabled = true
	s.mu.Unlock()
	return nil
}

func (s *BusScanner) SyncRecvDisable(handle SyncHandle) error {
	s.mu.Lock()
	s.recvEnabled = false
	s.mu.Unlock()
	return nil
}

func (s *BusScanner) SyncDelete(handle SyncHandle) error {
	s.bus.unregister(s)
	return nil
}

func (s *BusScanner) SetResponseData(handle SyncHandle, req ResponseRequest, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), data...)
	s.pendingResponse = &struct {
		slot uint8
		data []byte
	}{slot: req.ResponseSlot, data: cp}
	return nil
}
