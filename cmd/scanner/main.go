package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/robolivable/pawrswarm/config"
	"github.com/robolivable/pawrswarm/controller"
	"github.com/robolivable/pawrswarm/counter"
	"github.com/robolivable/pawrswarm/keystore"
	"github.com/robolivable/pawrswarm/log"
	"github.com/robolivable/pawrswarm/radio"
	"github.com/robolivable/pawrswarm/reboot"
	"github.com/robolivable/pawrswarm/scanner"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "Path to the runtime configuration file.")
	deviceID := pflag.Uint16P("device-id", "d", 0, "Overrides scanner.deviceId from the config file when nonzero.")
	pflag.Parse()

	if err := run(*configPath, *deviceID); err != nil {
		fmt.Fprintf(os.Stderr, "scanner: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, deviceIDOverride uint16) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if reboot.Recover(r) {
				return
			}
			panic(r)
		}
	}()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Configure(cfg.Log.Enabled, cfg.Log.Level)

	deviceID := cfg.Scanner.DeviceID
	if deviceIDOverride != 0 {
		deviceID = deviceIDOverride
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

	var indicator *controller.Indicator
	if cfg.GPIO.Interactive {
		indicator, err = controller.NewIndicator(controller.PinName(cfg.GPIO.LEDPin), cfg.GPIO.Debounce)
		if err != nil {
			return fmt.Errorf("claim indicator: %w", err)
		}
	}

	datagen := scanner.NewDataGenerator(cfg.Radio.BlockTime, cfg.Protocol.ResponsePayloadLen)

	fsm, err := scanner.New(radio.NewBLEScannerAdapter(), cfg.Protocol, cfg.Radio, deviceID, keys, counters, indicator, datagen)
	if err != nil {
		return fmt.Errorf("build scanner fsm: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return fsm.Run(ctx)
}
