// Package config loads the runtime configuration shared by the advertiser,
// scanner, and provisioning binaries from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Protocol carries the constants that both ends of the air interface must
// agree on. There is no versioning field on the wire — every device of a
// deployment must be configured with the same NumRegisterSlots,
// NumResponseSlots, and NumSubevents.
type Protocol struct {
	NumSubevents        int `yaml:"numSubevents"`        // S
	NumResponseSlots    int `yaml:"numResponseSlots"`    // R
	NumRegisterSlots    int `yaml:"numRegisterSlots"`    // N_REG
	EventsPerBlock      int `yaml:"eventsPerBlock"`      // liveness window = 3*EventsPerBlock
	MaxFreeSlots        int `yaml:"maxFreeSlots"`
	MaxUnconfirmedTicks int `yaml:"maxUnconfirmedTicks"`
	ResponsePayloadLen  int `yaml:"responsePayloadLen"` // MTU minus framing overhead
}

// Radio carries the PAwR timing parameters, all in 1.25ms units except
// where noted, mirroring the bt_le_per_adv_param shape.
type Radio struct {
	IntervalUnits            int           `yaml:"intervalUnits"`
	SubeventIntervalUnits    int           `yaml:"subeventIntervalUnits"`
	ResponseSlotDelayUnits   int           `yaml:"responseSlotDelayUnits"`
	ResponseSlotSpacingUnits int           `yaml:"responseSlotSpacingUnits"`
	ScanIntervalUnits        int           `yaml:"scanIntervalUnits"`
	ScanWindowUnits          int           `yaml:"scanWindowUnits"`
	NumFailedSyncTolerance   int           `yaml:"numFailedSyncTolerance"`
	BlockTime                time.Duration `yaml:"blockTime"`
}

// Storage points at the on-disk persistent stores.
type Storage struct {
	CounterDBPath  string `yaml:"counterDbPath"`
	KeyStoreDBPath string `yaml:"keyStoreDbPath"`
}

// Log configures the logging facade in package log.
type Log struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
}

// GPIO names the physical pins of the indicator LED and the soft-reboot
// button.
type GPIO struct {
	LEDPin      string        `yaml:"ledPin"`
	ButtonPin   string        `yaml:"buttonPin"`
	Debounce    time.Duration `yaml:"debounce"`
	Interactive bool          `yaml:"interactive"`
}

// Advertiser is the advertiser-only portion of the config.
type Advertiser struct {
	AdvertisementName string `yaml:"advertisementName"`
}

// Scanner is the scanner-only portion of the config.
type Scanner struct {
	DeviceID uint16 `yaml:"deviceId"`
}

// Config is the root document decoded from config.yaml.
type Config struct {
	Protocol   Protocol   `yaml:"protocol"`
	Radio      Radio      `yaml:"radio"`
	Storage    Storage    `yaml:"storage"`
	Log        Log        `yaml:"log"`
	GPIO       GPIO       `yaml:"gpio"`
	Advertiser Advertiser `yaml:"advertiser"`
	Scanner    Scanner    `yaml:"scanner"`
}

// Default returns the reference configuration
// (NumSubevents=46, NumResponseSlots=10, NumRegisterSlots=3).
func Default() Config {
	return Config{
		Protocol: Protocol{
			NumSubevents:        46,
			NumResponseSlots:    10,
			NumRegisterSlots:    3,
			EventsPerBlock:      4,
			MaxFreeSlots:        64,
			MaxUnconfirmedTicks: 5,
			ResponsePayloadLen:  8,
		},
		Radio: Radio{
			IntervalUnits:            2000,
			SubeventIntervalUnits:    43,
			ResponseSlotDelayUnits:   0x30,
			ResponseSlotSpacingUnits: 2,
			ScanIntervalUnits:        0x00A0,
			ScanWindowUnits:          0x0050,
			NumFailedSyncTolerance:   3,
			BlockTime:                30 * time.Second,
		},
		Storage: Storage{
			CounterDBPath:  "counter.db",
			KeyStoreDBPath: "keystore.db",
		},
		Log: Log{Enabled: true, Level: "info"},
		GPIO: GPIO{
			LEDPin:    "GPIO17",
			ButtonPin: "GPIO27",
			Debounce:  50 * time.Millisecond,
		},
	}
}

// Load reads and decodes a YAML config file over top of Default() as an
// explicit function, so tests and cmd/provision can load alternate files
// instead of relying on package init.
func Load(path string) (Config, error) {
	cfg := Default()
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: app requires a %s file: %w", path, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: error decoding config file: %w", err)
	}
	return cfg, nil
}

// LivenessLimit is the number of PAwR cycles of inactivity after which a
// slot is reclaimed: inactive_for > 3*EventsPerBlock.
func (p Protocol) LivenessLimit() int {
	return 3 * p.EventsPerBlock
}
