package manager

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

var stopSignals = []os.Signal{unix.SIGINT, unix.SIGTERM}

// installSignals relays SIGINT and SIGTERM into a stop request. The returned
// function undoes the installation: signals that were ignored before are
// ignored again, the rest fall back to their default action.
func (m *Manager) installSignals() (restore func()) {
	var ignored []os.Signal
	for _, s := range stopSignals {
		if signal.Ignored(s) {
			ignored = append(ignored, s)
		}
	}

	ch := make(chan os.Signal, len(stopSignals))
	signal.Notify(ch, stopSignals...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case s := <-ch:
				m.log.Info("received signal", "signal", s.String())
				m.Stop()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
		if len(ignored) > 0 {
			signal.Ignore(ignored...)
		}
	}
}
