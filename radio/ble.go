package radio

import (
	"errors"
	"fmt"

	"tinygo.org/x/bluetooth"

	"github.com/robolivable/pawrswarm/log"
)

// ErrUnsupportedByRadio is returned by the PAwR-specific calls of
// AdvertiserRadio/ScannerRadio that stock tinygo.org/x/bluetooth has no
// equivalent for: the library covers standard extended advertising and GATT
// central/peripheral roles but not BLE 5.4 Periodic Advertising with
// Responses. BLEAdapter implements the subset that does exist (adapter
// bring-up and starting an ordinary advertisement; ExtAdvCreate and
// ExtAdvSetData only log), BLEScannerAdapter the scan lifecycle, and both
// surface this error for the rest, so callers that only need a real radio
// for the non-PAwR half of bring-up can still use them, while PAwR-dependent
// code paths run against radio.Bus or a vendor-specific driver built on the
// target's SoftDevice/HCI bindings.
var ErrUnsupportedByRadio = errors.New("radio: not supported by tinygo.org/x/bluetooth (no PAwR support)")

// BLEAdapter wraps a tinygo.org/x/bluetooth.Adapter: the same
// Enable/DefaultAdvertisement/Configure/Start sequence used for ordinary
// extended advertising, applied to the advertiser side of the Radio Driver
// surface.
type BLEAdapter struct {
	adapter *bluetooth.Adapter
	advName string
}

// NewBLEAdapter wraps bluetooth.DefaultAdapter for advName.
func NewBLEAdapter(advName string) *BLEAdapter {
	return &BLEAdapter{adapter: bluetooth.DefaultAdapter, advName: advName}
}

func (b *BLEAdapter) Enable() error {
	if err := b.adapter.Enable(); err != nil {
		return fmt.Errorf("radio: adapter enable: %w", err)
	}
	return nil
}

func (b *BLEAdapter) ExtAdvCreate(callbacks AdvertiserCallbacks) error {
	log.Info("radio: ext_adv_create requested (PAwR subevent callbacks registered out-of-band by the advertiser engine)")
	return nil
}

func (b *BLEAdapter) PerAdvSetParam(params PeriodicParams) error {
	return ErrUnsupportedByRadio
}

func (b *BLEAdapter) PerAdvStart() error {
	return ErrUnsupportedByRadio
}

func (b *BLEAdapter) ExtAdvStart() error {
	adv := b.adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:         b.advName,
		AdvertisementType: bluetooth.AdvertisingTypeInd,
	}); err != nil {
		return fmt.Errorf("radio: configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("radio: start advertisement: %w", err)
	}
	return nil
}

func (b *BLEAdapter) ExtAdvSetData(data []byte) error {
	log.DebugMemoize("radio: ext_adv_set_data (%d bytes) ignored by tinygo.org/x/bluetooth's non-PAwR advertisement path", len(data))
	return nil
}
