package transport

import (
	"time"

	"github.com/searchktools/reactor-server/core/timerfd"
)

// Timer is a logical wrapper around a one-shot timer descriptor. Disarm
// does not cancel the kernel-level fire time; it sets active = false so a
// fire that is already in flight is suppressed when it arrives.
type Timer struct {
	fd       *timerfd.FD
	duration time.Duration
	resolve  func(wakeCount uint64)
	reject   Reject
	active   bool
}

// Fd returns the key this timer is registered under in its owning
// Transport's timer table.
func (t *Timer) Fd() int { return t.fd.Fd() }
