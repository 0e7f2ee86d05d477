// Package controller drives the two GPIO-attached "user controls" of a
// device: a purely informational indicator LED, and the Advertiser's
// soft-reboot button. Both sit on periph.io/x/conn's pin abstraction so the
// same code runs on any host periph.io/x/host recognizes.
package controller

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/robolivable/pawrswarm/log"
)

// State is a binary GPIO level, named for the two uses in this package: an
// LED that is lit or dark, and a button that is pressed or released.
type State int

const (
	Unknown State = iota
	On
	Off
	Error
)

func (s State) Level() gpio.Level {
	switch s {
	case On:
		return gpio.High
	default:
		return gpio.Low
	}
}

func (s State) Valid() bool {
	switch s {
	case On, Off:
		return true
	default:
		return false
	}
}

func GetState(l gpio.Level) State {
	switch l {
	case gpio.High:
		return On
	case gpio.Low:
		return Off
	}
	return Unknown
}

// PinName is a periph.io pin name (e.g. "GPIO17") as reported by gpioreg.
type PinName string

// GPIO wraps one claimed periph.io pin with debounced writes.
type GPIO struct {
	pin  gpio.PinIO
	name PinName

	debounce time.Duration
	last     time.Time
}

func (g *GPIO) String() string {
	return fmt.Sprintf("GPIO {name: %s}", g.name)
}

// Claim binds this GPIO to the named host pin, initializing the host's
// periph.io driver registry on first use.
func (g *GPIO) Claim(name PinName, debounce time.Duration) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host failed to initialize while claiming %s: %w", name, err)
	}
	if g.pin = gpioreg.ByName(string(name)); g.pin == nil {
		return fmt.Errorf("failed to claim: pin %s is not present on host", name)
	}
	g.name = name
	g.debounce = debounce
	return nil
}

func (g *GPIO) Receive() State {
	return GetState(g.pin.Read())
}

func (g *GPIO) Send(s State) error {
	if time.Now().Before(g.last.Add(g.debounce)) {
		log.DebugMemoize("GPIO: Send: debounced: %v", s)
		return nil
	}
	if err := g.pin.Out(s.Level()); err != nil {
		return fmt.Errorf("failed to send '%+v' to %s: %w", s, g.name, err)
	}
	g.last = time.Now()
	return nil
}

// WaitForEdge blocks until the pin's level changes, or the watch itself
// fails to arm. Used by RebootButton to detect the falling edge of a
// button press without polling.
func (g *GPIO) WaitForEdge(edge gpio.Edge) error {
	if err := g.pin.In(gpio.PullUp, edge); err != nil {
		return fmt.Errorf("failed to arm edge watch on %s: %w", g.name, err)
	}
	if !g.pin.WaitForEdge(-1) {
		return fmt.Errorf("edge watch on %s closed without an edge", g.name)
	}
	return nil
}
