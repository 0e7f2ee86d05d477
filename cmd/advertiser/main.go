package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/robolivable/pawrswarm/advertiser"
	"github.com/robolivable/pawrswarm/config"
	"github.com/robolivable/pawrswarm/controller"
	"github.com/robolivable/pawrswarm/counter"
	"github.com/robolivable/pawrswarm/freelist"
	"github.com/robolivable/pawrswarm/keystore"
	"github.com/robolivable/pawrswarm/log"
	"github.com/robolivable/pawrswarm/radio"
	"github.com/robolivable/pawrswarm/reboot"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "Path to the runtime configuration file.")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "advertiser: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) (err error) {
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

	free := freelist.New(cfg.Protocol.MaxFreeSlots)

	engine, err := advertiser.New(radio.NewBLEAdapter(cfg.Advertiser.AdvertisementName), cfg.Protocol, keys, counters, free)
	if err != nil {
		return fmt.Errorf("build advertiser engine: %w", err)
	}

	var button *controller.RebootButton
	var indicator *controller.Indicator
	if cfg.GPIO.Interactive {
		button, err = controller.NewRebootButton(controller.PinName(cfg.GPIO.ButtonPin), cfg.GPIO.Debounce)
		if err != nil {
			return fmt.Errorf("claim reboot button: %w", err)
		}
		indicator, err = controller.NewIndicator(controller.PinName(cfg.GPIO.LEDPin), cfg.GPIO.Debounce)
		if err != nil {
			return fmt.Errorf("claim indicator: %w", err)
		}
	}

	params := radio.PeriodicParams{
		IntervalUnits:            cfg.Radio.IntervalUnits,
		NumSubevents:             cfg.Protocol.NumSubevents,
		SubeventIntervalUnits:    cfg.Radio.SubeventIntervalUnits,
		ResponseSlotDelayUnits:   cfg.Radio.ResponseSlotDelayUnits,
		ResponseSlotSpacingUnits: cfg.Radio.ResponseSlotSpacingUnits,
		NumResponseSlots:         cfg.Protocol.NumResponseSlots,
	}
	fsm := advertiser.NewFSM(engine, params, button, indicator)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return fsm.Run(ctx)
}
