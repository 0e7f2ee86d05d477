package advertiser

import (
	"context"
	"time"

	"github.com/robolivable/pawrswarm/controller"
	"github.com/robolivable/pawrswarm/fsmsync"
	"github.com/robolivable/pawrswarm/log"
	"github.com/robolivable/pawrswarm/reboot"
	"github.com/robolivable/pawrswarm/radio"
)

// State is one of the Advertiser's four top-level states.
type State int

const (
	StateInitialize State = iota
	StateAdvertising
	StateFaultHandling
	StateSoftReboot
)

func (s State) String() string {
	switch s {
	case StateInitialize:
		return "INITIALIZE"
	case StateAdvertising:
		return "ADVERTISING"
	case StateFaultHandling:
		return "FAULT_HANDLING"
	case StateSoftReboot:
		return "SOFT_REBOOT"
	default:
		return "UNKNOWN"
	}
}

// livenessTick bounds how long the ADVERTISING state waits for a reboot
// request before logging that it is still alive and waiting again.
const livenessTick = 10 * time.Second

// FSM is the Advertiser's top-level state machine: INITIALIZE brings the
// radio up through an Engine, ADVERTISING holds steady state until the
// reboot button is pressed, and FAULT_HANDLING / SOFT_REBOOT both commit
// the persistent counter and cold-reboot. There is one FSM goroutine;
// the button watcher runs on its own goroutine and only ever posts to a
// signal, never touching FSM state directly.
type FSM struct {
	engine    *Engine
	params    radio.PeriodicParams
	button    *controller.RebootButton
	indicator *controller.Indicator

	reboot *fsmsync.Signal
	state  State
}

// NewFSM builds an Advertiser FSM around an already-constructed Engine.
// button and indicator may be nil (no GPIO on this deployment).
func NewFSM(engine *Engine, params radio.PeriodicParams, button *controller.RebootButton, indicator *controller.Indicator) *FSM {
	return &FSM{
		engine:    engine,
		params:    params,
		button:    button,
		indicator: indicator,
		reboot:    fsmsync.New(),
		state:     StateInitialize,
	}
}

// Run drives the FSM until ctx is canceled or a cold reboot is issued. On
// Linux reboot.Cold does not return on success; on other platforms it
// panics with an internal sentinel the caller recovers via reboot.Recover
// and treats as a clean exit.
func (f *FSM) Run(ctx context.Context) error {
	if f.button != nil {
		go func() {
			if err := f.button.Watch(ctx, f.reboot.Post); err != nil && ctx.Err() == nil {
				log.Warn("advertiser: button watch stopped: %v", err)
			}
		}()
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch f.state {
		case StateInitialize:
			if err := f.engine.Start(f.params); err != nil {
				log.Error("advertiser: %v", err)
				f.state = StateFaultHandling
				continue
			}
			if f.indicator != nil {
				_ = f.indicator.On()
			}
			log.Info("advertiser: advertising")
			f.state = StateAdvertising

		case StateAdvertising:
			if f.reboot.Wait(ctx, livenessTick) {
				log.Info("advertiser: reboot button pressed")
				f.state = StateSoftReboot
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.DebugMemoize("advertiser: still alive")

		case StateFaultHandling, StateSoftReboot:
			log.Warn("advertiser: entering %s", f.state)
			if err := f.engine.CommitCounter(); err != nil {
				log.Error("advertiser: commit counter before reboot: %v", err)
			}
			if f.indicator != nil {
				_ = f.indicator.Off()
			}
			return reboot.Cold()
		}
	}
}
