// Package log is the logging facade used by every other package in this
// module: a flat set of package-level functions gated by config.Log.Enabled,
// plus a "Memoize" variant that suppresses repeated identical messages
// within a rolling window using github.com/kofalt/go-memoize, rendering
// output through logrus. InfoFields attaches structured fields to a line;
// the other helpers log plain printf-style messages.
package log

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kofalt/go-memoize"
	"github.com/sirupsen/logrus"
)

var (
	enabled = true
	sink    = logrus.New()

	suppressWindow = 60 * time.Second
	memoizer       = memoize.NewMemoizer(suppressWindow, 10*time.Minute)

	countsMu sync.Mutex
	counts   = map[string]int64{}
)

// Configure wires the facade to the runtime config. It must be called once
// during process startup before any other package logs; until then the
// facade defaults to "enabled, info level" so early init-time errors are
// never silently dropped.
func Configure(enabledFlag bool, level string) {
	enabled = enabledFlag
	if lvl, err := logrus.ParseLevel(level); err == nil {
		sink.SetLevel(lvl)
	}
	sink.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Fields is a lightweight alias so callers don't need to import logrus
// themselves just to attach structured context (subevent, slot, device id).
type Fields = logrus.Fields

func entry(fields Fields) *logrus.Entry {
	if fields == nil {
		return logrus.NewEntry(sink)
	}
	return sink.WithFields(fields)
}

func Info(msg string, args ...any) {
	if !enabled {
		return
	}
	entry(nil).Infof(msg, args...)
}

func InfoFields(fields Fields, msg string, args ...any) {
	if !enabled {
		return
	}
	entry(fields).Infof(msg, args...)
}

func Debug(msg string, args ...any) {
	if !enabled {
		return
	}
	entry(nil).Debugf(msg, args...)
}

func Warn(msg string, args ...any) {
	if !enabled {
		return
	}
	entry(nil).Warnf(msg, args...)
}

func Error(msg string, args ...any) {
	if !enabled {
		return
	}
	entry(nil).Errorf(msg, args...)
}

// InfoMemoize logs msg at info level at most once per suppressWindow for a
// given (format, args) key; repeats inside the window are tallied and folded
// into the next emitted line's "[x N]" prefix, so a burst of identical
// "still alive"/connection-churn lines can't flood the log.
func InfoMemoize(msg string, args ...any) {
	memoizeAt(logrus.InfoLevel, msg, args...)
}

func DebugMemoize(msg string, args ...any) {
	memoizeAt(logrus.DebugLevel, msg, args...)
}

func memoizeAt(level logrus.Level, msg string, args ...any) {
	if !enabled {
		return
	}
	key := strings.ToLower(fmt.Sprintf(msg, args...))

	countsMu.Lock()
	counts[key]++
	n := counts[key]
	countsMu.Unlock()

	_, _, _ = memoizer.Memoize(key, func() (any, error) {
		countsMu.Lock()
		counts[key] = 0
		countsMu.Unlock()
		logAt(level, "[x%d] "+msg, append([]any{n}, args...)...)
		return struct{}{}, nil
	})
}

func logAt(level logrus.Level, msg string, args ...any) {
	entry(nil).Logf(level, msg, args...)
}
