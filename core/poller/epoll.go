//go:build linux

package poller

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// EpollPoller is an edge-triggered epoll-based readiness notifier. The
// 64-bit tag supplied at registration time is carried in the kernel's
// epoll_data union so Poll can hand it back without a side lookup table.
type EpollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

// NewPoller creates a new Poller backed by epoll_create1.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	return &EpollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, 1024),
	}, nil
}

func eventsFor(interest Interest, mode Mode, oneShot bool) uint32 {
	var ev uint32
	if interest&Read != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&Write != 0 {
		ev |= unix.EPOLLOUT
	}
	if interest&Hangup != 0 {
		ev |= unix.EPOLLRDHUP
	}
	if interest&Shutdown != 0 {
		ev |= unix.EPOLLHUP
	}
	if mode == Edge {
		ev |= unix.EPOLLET
	}
	if oneShot {
		ev |= unix.EPOLLONESHOT
	}
	return ev
}

func tagOf(ev *unix.EpollEvent) uint64 {
	return *(*uint64)(unsafe.Pointer(&ev.Fd))
}

func setTag(ev *unix.EpollEvent, tag uint64) {
	*(*uint64)(unsafe.Pointer(&ev.Fd)) = tag
}

func (p *EpollPoller) ctl(op int, fd int, interest Interest, tag uint64, mode Mode, oneShot bool) error {
	var ev unix.EpollEvent
	ev.Events = eventsFor(interest, mode, oneShot)
	setTag(&ev, tag)
	return unix.EpollCtl(p.epfd, op, fd, &ev)
}

// Add registers fd for level- or edge-triggered delivery.
func (p *EpollPoller) Add(fd int, interest Interest, tag uint64, mode Mode) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, interest, tag, mode, false)
}

// AddOneShot registers fd so it delivers exactly one event before being
// disarmed; Modify re-arms it.
func (p *EpollPoller) AddOneShot(fd int, interest Interest, tag uint64, mode Mode) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, interest, tag, mode, true)
}

// Modify changes fd's registered interest set, re-arming one-shot fds.
func (p *EpollPoller) Modify(fd int, interest Interest, tag uint64, mode Mode) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, interest, tag, mode, false)
}

// Remove deregisters fd.
func (p *EpollPoller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

// Poll blocks for up to timeoutMillis and fills out with ready events.
func (p *EpollPoller) Poll(out []Event, timeoutMillis int) (int, error) {
	if cap(p.events) < len(out) {
		p.events = make([]unix.EpollEvent, len(out))
	}
	raw := p.events[:len(out)]

	n, err := unix.EpollWait(p.epfd, raw, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	for i := 0; i < n; i++ {
		var ready Interest
		ev := raw[i].Events
		if ev&unix.EPOLLIN != 0 {
			ready |= Read
		}
		if ev&unix.EPOLLOUT != 0 {
			ready |= Write
		}
		if ev&unix.EPOLLRDHUP != 0 {
			ready |= Hangup
		}
		if ev&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ready |= Shutdown
		}
		out[i] = Event{Tag: tagOf(&raw[i]), Ready: ready}
	}

	return n, nil
}

// Close releases the epoll fd.
func (p *EpollPoller) Close() error {
	return unix.Close(p.epfd)
}
