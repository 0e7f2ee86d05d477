// Command provision seeds the key store and counter store for one device,
// mirroring the one-shot flashing step a real deployment runs before a
// device's first boot: generate (or reuse) shared key material, import the
// keys this device needs, and reset its replay counter to zero.
//
// The advertiser (device 0) needs the advertiser key plus every scanner's
// key, since it must verify responses from any scanner. Each scanner needs
// only the advertiser key (to verify incoming subevent frames) and its own
// key (to sign its responses).
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/robolivable/pawrswarm/config"
	"github.com/robolivable/pawrswarm/counter"
	"github.com/robolivable/pawrswarm/keystore"
)

// keyMaterial is the shared, pre-generated key set for a swarm: one
// advertiser key and one key per scanner device, kept in a single file so
// every device's provisioning run agrees on the same key bytes.
type keyMaterial struct {
	AdvertiserKeyHex string            `yaml:"advertiserKey"`
	ScannerKeysHex   map[uint16]string `yaml:"scannerKeys"`
}

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "Path to the runtime configuration file.")
	keysPath := pflag.StringP("keys-file", "k", "keys.yaml", "Path to the shared key material file.")
	role := pflag.StringP("role", "r", "", "Device role to provision: \"advertiser\" or \"scanner\".")
	deviceID := pflag.Uint16P("device-id", "d", 0, "Scanner device id (ignored for --role advertiser).")
	numScanners := pflag.IntP("num-scanners", "n", 0, "Number of scanner keys to generate (only with --generate).")
	generate := pflag.Bool("generate", false, "Generate fresh key material at --keys-file instead of reading it.")
	pflag.Parse()

	if err := run(*configPath, *keysPath, *role, *deviceID, *numScanners, *generate); err != nil {
		fmt.Fprintf(os.Stderr, "provision: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, keysPath, role string, deviceID uint16, numScanners int, generate bool) error {
	if role != "advertiser" && role != "scanner" {
		return fmt.Errorf("--role must be \"advertiser\" or \"scanner\", got %q", role)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	material, err := loadOrGenerateKeys(keysPath, numScanners, generate)
	if err != nil {
		return err
	}

	keys, err := keystore.Open(cfg.Storage.KeyStoreDBPath)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	defer keys.Close()

	counters, err := counter.Open(cfg.Storage.CounterDBPath)
	if err != nil {
		return fmt.Errorf("open counter store: %w", err)
	}
	defer counters.Close()

	advKey, err := hex.DecodeString(material.AdvertiserKeyHex)
	if err != nil {
		return fmt.Errorf("decode advertiser key: %w", err)
	}
	if err := keys.Import(keystore.AdvertiserKeyID(), advKey); err != nil {
		return fmt.Errorf("import advertiser key: %w", err)
	}

	var ownCounterID string
	switch role {
	case "advertiser":
		for id, hexKey := range material.ScannerKeysHex {
			scannerKey, err := hex.DecodeString(hexKey)
			if err != nil {
				return fmt.Errorf("decode scanner %d key: %w", id, err)
			}
			if err := keys.Import(keystore.ScannerKeyID(id), scannerKey); err != nil {
				return fmt.Errorf("import scanner %d key: %w", id, err)
			}
			fmt.Printf("imported scanner %d key\n", id)
		}
		ownCounterID = keystore.AdvertiserKeyID()

	case "scanner":
		hexKey, ok := material.ScannerKeysHex[deviceID]
		if !ok {
			return fmt.Errorf("no key material for scanner device %d in %s", deviceID, keysPath)
		}
		scannerKey, err := hex.DecodeString(hexKey)
		if err != nil {
			return fmt.Errorf("decode scanner %d key: %w", deviceID, err)
		}
		if err := keys.Import(keystore.ScannerKeyID(deviceID), scannerKey); err != nil {
			return fmt.Errorf("import scanner %d key: %w", deviceID, err)
		}
		ownCounterID = keystore.ScannerKeyID(deviceID)
	}

	if err := counters.Commit(ownCounterID, 0); err != nil {
		return fmt.Errorf("reset counter: %w", err)
	}

	fmt.Printf("provisioned %s (counter reset to 0)\n", role)
	return nil
}

func loadOrGenerateKeys(path string, numScanners int, generate bool) (keyMaterial, error) {
	if !generate {
		data, err := os.ReadFile(path)
		if err != nil {
			return keyMaterial{}, fmt.Errorf("read key material (pass --generate to create it): %w", err)
		}
		var material keyMaterial
		if err := yaml.Unmarshal(data, &material); err != nil {
			return keyMaterial{}, fmt.Errorf("parse key material: %w", err)
		}
		return material, nil
	}

	if numScanners <= 0 {
		return keyMaterial{}, fmt.Errorf("--num-scanners must be positive when generating key material")
	}

	advKey, err := keystore.RandomKey()
	if err != nil {
		return keyMaterial{}, fmt.Errorf("generate advertiser key: %w", err)
	}
	material := keyMaterial{
		AdvertiserKeyHex: hex.EncodeToString(advKey),
		ScannerKeysHex:   make(map[uint16]string, numScanners),
	}
	for i := 1; i <= numScanners; i++ {
		scannerKey, err := keystore.RandomKey()
		if err != nil {
			return keyMaterial{}, fmt.Errorf("generate scanner %d key: %w", i, err)
		}
		material.ScannerKeysHex[uint16(i)] = hex.EncodeToString(scannerKey)
	}

	out, err := yaml.Marshal(material)
	if err != nil {
		return keyMaterial{}, fmt.Errorf("encode key material: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return keyMaterial{}, fmt.Errorf("write key material: %w", err)
	}
	fmt.Printf("generated key material for %d scanners at %s\n", numScanners, path)
	return material, nil
}
