package controller

import (
	"fmt"
	"time"

	"github.com/robolivable/pawrswarm/log"
)

// Indicator is the one informational LED per device: it reflects FSM state
// for a human nearby but never feeds back into protocol logic.
type Indicator struct {
	state State
	gpio  GPIO
}

func (i *Indicator) String() string {
	return fmt.Sprintf("Indicator {state: %v, pin: %s}", i.state, i.gpio.String())
}

func (i *Indicator) On() error {
	if i.state == On {
		return nil
	}
	if err := i.gpio.Send(On); err != nil {
		i.state = Error
		return fmt.Errorf("failed to light indicator: %w", err)
	}
	i.state = On
	return nil
}

func (i *Indicator) Off() error {
	if i.state == Off {
		return nil
	}
	if err := i.gpio.Send(Off); err != nil {
		i.state = Error
		return fmt.Errorf("failed to dim indicator: %w", err)
	}
	i.state = Off
	return nil
}

// Blink toggles the indicator for d then restores its prior state, used to
// flag a transient event (a fault, a confirmed registration) without losing
// the steady-state reading.
func (i *Indicator) Blink(d time.Duration) error {
	prior := i.state
	if err := i.toggle(); err != nil {
		return err
	}
	time.Sleep(d)
	if prior == On {
		return i.On()
	}
	return i.Off()
}

func (i *Indicator) toggle() error {
	if i.state == On {
		return i.Off()
	}
	return i.On()
}

// NewIndicator claims the configured LED pin.
func NewIndicator(pin PinName, debounce time.Duration) (*Indicator, error) {
	g := GPIO{}
	if err := g.Claim(pin, debounce); err != nil {
		return nil, fmt.Errorf("failed to claim indicator pin: %w", err)
	}
	ind := &Indicator{state: g.Receive(), gpio: g}
	log.Debug("controller: indicator claimed on %s", pin)
	return ind, nil
}
