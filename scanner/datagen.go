package scanner

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/robolivable/pawrswarm/log"
)

// DataGenerator is the scanner's periodic data source: every period it
// fills a payload buffer with fresh random bytes and hands it to whoever is
// listening, standing in for a real sensor read. Used by FSM to drive the
// SLEEPING -> ENABLED transition of the post-confirmation duty cycle.
type DataGenerator struct {
	period     time.Duration
	payloadLen int
}

// NewDataGenerator builds a generator with the given firing period and
// payload size (ordinarily config.Protocol.ResponsePayloadLen).
func NewDataGenerator(period time.Duration, payloadLen int) *DataGenerator {
	return &DataGenerator{period: period, payloadLen: payloadLen}
}

// Run ticks every period, generating a fresh payload and delivering it to
// onReady, until ctx is canceled. Intended to run on its own goroutine.
func (d *DataGenerator) Run(ctx context.Context, onReady func(payload []byte)) {
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload := make([]byte, d.payloadLen)
			if _, err := rand.Read(payload); err != nil {
				log.Warn("scanner: data generator: %v", err)
				continue
			}
			onReady(payload)
		}
	}
}
