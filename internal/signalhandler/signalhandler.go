// Package signalhandler implements the three-strikes SIGINT policy:
// the first Ctrl-C pauses the run (in-flight Fire calls finish and
// nothing new is scheduled), the second requests a stop, and the
// third calls os.Exit(130), for operators whose shutdown has itself
// hung.
//
// Grounded on the original engine's JSignalHandler.
package signalhandler

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/oriys/jana2go/internal/logging"
)

// Stoppable is the subset of supervisor.Supervisor this package needs.
type Stoppable interface {
	RequestPause()
	RequestStop()
}

// Handler installs a three-strikes SIGINT/SIGTERM handler.
type Handler struct {
	target Stoppable
	count  atomic.Int32
	sigCh  chan os.Signal
	done   chan struct{}
}

// Install registers the signal handler and starts watching for
// SIGINT/SIGTERM in a background goroutine. Call Stop to unregister.
func Install(target Stoppable) *Handler {
	h := &Handler{
		target: target,
		sigCh:  make(chan os.Signal, 1),
		done:   make(chan struct{}),
	}
	signal.Notify(h.sigCh, os.Interrupt, syscall.SIGTERM)
	go h.loop()
	return h
}

func (h *Handler) loop() {
	for {
		select {
		case <-h.done:
			return
		case <-h.sigCh:
			n := h.count.Add(1)
			switch n {
			case 1:
				logging.Op().Warn("received interrupt, pausing the run (press again to stop)")
				h.target.RequestPause()
			case 2:
				logging.Op().Warn("received second interrupt, requesting immediate stop")
				h.target.RequestStop()
			default:
				logging.Op().Error("received third interrupt, exiting immediately")
				os.Exit(130)
			}
		}
	}
}

// Stop unregisters the signal handler.
func (h *Handler) Stop() {
	signal.Stop(h.sigCh)
	close(h.done)
}
