package controller

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/robolivable/pawrswarm/log"
)

// RebootButton watches the Advertiser's single user control: a falling edge
// triggers a soft reboot (commit counter, cold reboot). There is no
// equivalent control on the Scanner.
type RebootButton struct {
	gpio GPIO
}

// NewRebootButton claims the configured button pin.
func NewRebootButton(pin PinName, debounce time.Duration) (*RebootButton, error) {
	g := GPIO{}
	if err := g.Claim(pin, debounce); err != nil {
		return nil, fmt.Errorf("failed to claim reboot button pin: %w", err)
	}
	log.Debug("controller: reboot button claimed on %s", pin)
	return &RebootButton{gpio: g}, nil
}

// Watch blocks, delivering onPress once per falling edge, until ctx is
// canceled. It runs on its own goroutine in callers; periph.io's
// WaitForEdge has no context support, so cancellation is checked between
// edges rather than interrupting a pending wait.
func (b *RebootButton) Watch(ctx context.Context, onPress func()) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := b.gpio.WaitForEdge(gpio.FallingEdge); err != nil {
			return fmt.Errorf("reboot button watch: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		onPress()
	}
}
