// Package radio defines the Radio Driver surface: the underlying radio
// stack, treated as an external collaborator reached only through this
// interface, plus two kinds of concrete implementation: BLE-backed adapters
// (ble.go for the advertiser, ble_scanner.go for the scanner) covering the
// lifecycle calls that exist in tinygo.org/x/bluetooth today, and an
// in-process Bus (loopback.go) wiring
// an Advertiser and any number of Scanners together for tests without any
// hardware.
package radio

import "context"

// SlotRange identifies the response slots a SubeventData entry covers.
type SlotRange struct {
	Start uint8
	Count uint8
}

// SubeventData is one entry of a per_adv_set_subevent_data call: the bytes
// the Advertiser wants broadcast in one subevent of the current cycle.
type SubeventData struct {
	Subevent uint8
	Slots    SlotRange
	Data     []byte
}

// DataRequest mirrors bt_le_per_adv_data_request: the radio asks for up to
// Count consecutive subevents beginning at Start.
type DataRequest struct {
	Start uint8
	Count uint8
}

// ResponseInfo identifies where a scanner response landed.
type ResponseInfo struct {
	Subevent uint8
	Slot     uint8
}

// AdvertiserCallbacks are the Advertiser Engine's two upcalls:
// on_data_request and on_response. Both run on the radio driver's callback
// context and must not block.
type AdvertiserCallbacks struct {
	OnDataRequest func(ctx context.Context, req DataRequest) []SubeventData
	OnResponse    func(ctx context.Context, info ResponseInfo, data []byte)
}

// PeriodicParams mirrors bt_le_per_adv_param.
type PeriodicParams struct {
	IntervalUnits            int
	NumSubevents             int
	SubeventIntervalUnits    int
	ResponseSlotDelayUnits   int
	ResponseSlotSpacingUnits int
	NumResponseSlots         int
}

// AdvertiserRadio is the subset of the Radio Driver surface the Advertiser
// Engine consumes: enable, create the extended advertising set, configure
// PAwR timing, start both advertising trains, and set the (non-PAwR)
// extended advertising payload.
type AdvertiserRadio interface {
	Enable() error
	ExtAdvCreate(callbacks AdvertiserCallbacks) error
	PerAdvSetParam(params PeriodicParams) error
	PerAdvStart() error
	ExtAdvStart() error
	ExtAdvSetData(data []byte) error
}

// ScanParams mirrors bt_le_scan_param.
type ScanParams struct {
	IntervalUnits int
	WindowUnits   int
}

// SyncCreateParams mirrors bt_le_per_adv_sync_param.
type SyncCreateParams struct {
	TimeoutUnits int
}

// SyncHandle is an opaque handle to an established periodic-advertising
// sync, mirroring struct bt_le_per_adv_sync *.
type SyncHandle interface{}

// SyncInfo is delivered on a successful sync (on_sync).
type SyncInfo struct {
	NumSubevents int
}

// TermInfo is delivered when a sync terminates (on_term). Reason carries the
// driver's termination code; the Scanner FSM logs it and treats every
// termination as a sync loss, whatever the code.
type TermInfo struct {
	Reason int
}

// ResponseRequest mirrors bt_le_per_adv_response_params: which request this
// response answers, and where to place it.
type ResponseRequest struct {
	RequestEvent    uint16
	RequestSubevent uint8
	ResponseSubevent uint8
	ResponseSlot     uint8
}

// ScannerCallbacks are the Scanner FSM's three upcalls: on_sync, on_term,
// on_recv.
type ScannerCallbacks struct {
	OnSync func(ctx context.Context, handle SyncHandle, info SyncInfo)
	OnTerm func(ctx context.Context, info TermInfo)
	OnRecv func(ctx context.Context, info ResponseInfo, data []byte)
}

// ScannerRadio is the subset of the Radio Driver surface the Scanner FSM
// consumes: scanning for the advertiser, establishing and retargeting a
// periodic sync, enabling/disabling reception, and publishing responses.
type ScannerRadio interface {
	Enable() error
	ScanStart(params ScanParams) error
	ScanStop() error
	SyncCreate(params SyncCreateParams, callbacks ScannerCallbacks) (SyncHandle, error)
	SyncSubevent(handle SyncHandle, subevents []uint8) error
	SyncRecvEnable(handle SyncHandle) error
	SyncRecvDisable(handle SyncHandle) error
	SyncDelete(handle SyncHandle) error
	SetResponseData(handle SyncHandle, req ResponseRequest, data []byte) error
}
