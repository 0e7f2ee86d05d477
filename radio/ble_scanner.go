package radio

import (
	"fmt"

	"tinygo.org/x/bluetooth"

	"github.com/robolivable/pawrswarm/log"
)

// BLEScannerAdapter wraps a tinygo.org/x/bluetooth.Adapter for the scanner
// side of the Radio Driver surface: adapter bring-up and the ordinary
// active-scan lifecycle work against stock tinygo.org/x/bluetooth, but
// every periodic-sync call is PAwR-specific and has no equivalent there, so
// those return ErrUnsupportedByRadio exactly like BLEAdapter's advertiser
// side.
type BLEScannerAdapter struct {
	adapter  *bluetooth.Adapter
	stopScan chan struct{}
}

// NewBLEScannerAdapter wraps bluetooth.DefaultAdapter.
func NewBLEScannerAdapter() *BLEScannerAdapter {
	return &BLEScannerAdapter{adapter: bluetooth.DefaultAdapter}
}

func (b *BLEScannerAdapter) Enable() error {
	if err := b.adapter.Enable(); err != nil {
		return fmt.Errorf("radio: adapter enable: %w", err)
	}
	return nil
}

func (b *BLEScannerAdapter) ScanStart(params ScanParams) error {
	b.stopScan = make(chan struct{})
	go func() {
		err := b.adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			select {
			case <-b.stopScan:
				_ = a.StopScan()
			default:
				log.DebugMemoize("radio: scan result from %s (rssi %d)", result.Address.String(), result.RSSI)
			}
		})
		if err != nil {
			log.Warn("radio: scan ended: %v", err)
		}
	}()
	return nil
}

func (b *BLEScannerAdapter) ScanStop() error {
	if b.stopScan != nil {
		close(b.stopScan)
	}
	return b.adapter.StopScan()
}

func (b *BLEScannerAdapter) SyncCreate(params SyncCreateParams, callbacks ScannerCallbacks) (SyncHandle, error) {
	return nil, ErrUnsupportedByRadio
}

func (b *BLEScannerAdapter) SyncSubevent(handle SyncHandle, subevents []uint8) error {
	return ErrUnsupportedByRadio
}

func (b *BLEScannerAdapter) SyncRecvEnable(handle SyncHandle) error {
	return ErrUnsupportedByRadio
}

func (b *BLEScannerAdapter) SyncRecvDisable(handle SyncHandle) error {
	return ErrUnsupportedByRadio
}

func (b *BLEScannerAdapter) SyncDelete(handle SyncHandle) error {
	return ErrUnsupportedByRadio
}

func (b *BLEScannerAdapter) SetResponseData(handle SyncHandle, req ResponseRequest, data []byte) error {
	return ErrUnsupportedByRadio
}
