// Package notify provides a kernel-backed counting event descriptor used to
// wake a reactor's poller from a foreign thread.
package notify

import (
	"golang.org/x/sys/unix"

	"github.com/searchktools/reactor-server/core/poller"
)

// FD is a Linux eventfd wrapped as a notify descriptor. Notify is safe to
// call from any thread; Bind, TryRead and Read are owned by the reactor
// thread that polls it.
type FD struct {
	fd    int
	tag   uint64
	bound bool
}

// New creates an unbound, non-blocking eventfd-backed notify descriptor.
// It is not in semaphore mode: one read resets the whole counter to zero.
func New() (*FD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &FD{fd: fd}, nil
}

// Fd returns the underlying descriptor.
func (n *FD) Fd() int { return n.fd }

// Bind registers the descriptor with p for edge-triggered Read interest
// under tag. It must be called exactly once.
func (n *FD) Bind(p poller.Poller, tag uint64) error {
	if n.bound {
		panic("notify: Bind called twice")
	}
	n.tag = tag
	n.bound = true
	return p.Add(n.fd, poller.Read, tag, poller.Edge)
}

// Tag returns the tag this descriptor was bound under.
func (n *FD) Tag() uint64 { return n.tag }

// Notify increments the eventfd counter, waking a blocked poller. Safe to
// call from any thread, including the reactor thread itself.
func (n *FD) Notify() error {
	_, err := unix.Write(n.fd, []byte{1, 0, 0, 0, 0, 0, 0, 0})
	return err
}

// TryRead clears the counter without blocking, reporting whether a
// notification was pending.
func (n *FD) TryRead() (bool, error) {
	var buf [8]byte
	_, err := unix.Read(n.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Read clears the counter, blocking until a notification is available.
// Intended for use outside the non-blocking reactor loop (tests, tooling).
func (n *FD) Read() error {
	for {
		ok, err := n.TryRead()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

// Close releases the eventfd.
func (n *FD) Close() error {
	return unix.Close(n.fd)
}
