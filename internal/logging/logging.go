// Package logging wires up the subsystem loggers shared across the
// indexer, following the btcsuite convention used throughout the
// btcd/lnd-family repositories in the example pack: one btclog.Backend,
// one leveled logger handed out per subsystem.
package logging

import (
	"io"
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// Subsystem identifiers, matching the tags used in log output.
const (
	SubsystemSync   = "SYNC"
	SubsystemStore  = "STOR"
	SubsystemHTTP   = "HTTP"
	SubsystemEngine = "ENGN"
	SubsystemRPC    = "RPCC"
)

var (
	backend    *btclog.Backend
	logRotator *rotator.Rotator
)

// Init creates the shared logging backend, writing to stdout and to a
// rotated file at logPath. Subsequent calls to Logger return loggers bound
// to this backend. Init is idempotent; only the first call takes effect.
func Init(logPath string) error {
	if backend != nil {
		return nil
	}

	var writers []io.Writer = []io.Writer{os.Stdout}
	if logPath != "" {
		r, err := rotator.New(logPath, 10*1024, false, 3)
		if err != nil {
			return err
		}
		logRotator = r
		writers = append(writers, r)
	}

	backend = btclog.NewBackend(io.MultiWriter(writers...))
	return nil
}

// Logger returns a leveled logger for subsystem, bound to the shared
// backend. If Init has not been called, a disabled logger is returned so
// packages remain independently testable without a wired backend.
func Logger(subsystem string, level btclog.Level) btclog.Logger {
	if backend == nil {
		return btclog.Disabled
	}
	l := backend.Logger(subsystem)
	l.SetLevel(level)
	return l
}

// Close flushes and closes the rotated log file, if one was configured.
func Close() {
	if logRotator != nil {
		logRotator.Close()
	}
}
