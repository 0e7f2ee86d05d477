package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDataGeneratorDeliversPayloadsOfConfiguredLength(t *testing.T) {
	gen := NewDataGenerator(5*time.Millisecond, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	payloads := make(chan []byte, 8)
	done := make(chan struct{})
	go func() {
		gen.Run(ctx, func(payload []byte) {
			select {
			case payloads <- payload:
			default:
			}
		})
		close(done)
	}()

	select {
	case p := <-payloads:
		require.Len(t, p, 8)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a generated payload")
	}

	<-done
}

func TestDataGeneratorStopsOnContextCancel(t *testing.T) {
	gen := NewDataGenerator(time.Hour, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		gen.Run(ctx, func([]byte) {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
