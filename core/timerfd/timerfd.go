// Package timerfd wraps Linux timerfd descriptors for one-shot wakeups.
//
// Per the documented coarseness of long timeouts: durations under one
// second are programmed with nanosecond precision; durations of one second
// or longer are truncated to whole seconds before being programmed. This is
// a deliberate choice, not a bug — callers must not rely on sub-second
// precision past the one-second mark.
package timerfd

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/reactor-server/core/poller"
)

// FD is a one-shot timer descriptor.
type FD struct {
	fd int
}

// Create allocates a new, disarmed timer descriptor.
func Create() (*FD, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &FD{fd: fd}, nil
}

// Fd returns the underlying descriptor.
func (t *FD) Fd() int { return t.fd }

// Arm programs a one-shot fire after d.
func (t *FD) Arm(d time.Duration) error {
	var spec unix.ItimerSpec
	if d >= time.Second {
		spec.Value.Sec = int64(d / time.Second)
		spec.Value.Nsec = 0
	} else {
		spec.Value.Sec = 0
		spec.Value.Nsec = int64(d)
	}
	return unix.TimerfdSettime(t.fd, 0, &spec, nil)
}

// Disarm clears any pending fire time without closing the descriptor.
func (t *FD) Disarm() error {
	return unix.TimerfdSettime(t.fd, 0, &unix.ItimerSpec{}, nil)
}

// Register adds the timer fd to p for one-shot, edge-triggered Read
// delivery under tag.
func (t *FD) Register(p poller.Poller, tag uint64) error {
	return p.AddOneShot(t.fd, poller.Read, tag, poller.Edge)
}

// ReadExpirations drains the fire counter, returning the number of
// expirations since the last read (always 1 for a one-shot timer that has
// fired) and ok=false on a spurious wake (EAGAIN).
func (t *FD) ReadExpirations() (count uint64, ok bool, err error) {
	var buf [8]byte
	n, rerr := unix.Read(t.fd, buf[:])
	if rerr != nil {
		if rerr == unix.EAGAIN {
			return 0, false, nil
		}
		return 0, false, rerr
	}
	if n != 8 {
		return 0, false, nil
	}
	count = uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
		uint64(buf[4])<<32 | uint64(buf[5])<<40 | uint64(buf[6])<<48 | uint64(buf[7])<<56
	return count, true, nil
}

// Close releases the timer descriptor.
func (t *FD) Close() error {
	return unix.Close(t.fd)
}
