// Package transport implements the reactor's connection, write and timer
// bookkeeping on top of core/poller, core/notify, core/queue and
// core/timerfd: one Transport per reactor thread, driving one Handler
// instance through a single-threaded dispatch loop fed by readiness
// events and three cross-thread submission queues.
package transport

import (
	"log"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/reactor-server/core/notify"
	"github.com/searchktools/reactor-server/core/poller"
	"github.com/searchktools/reactor-server/core/pools"
	"github.com/searchktools/reactor-server/core/queue"
	"github.com/searchktools/reactor-server/core/timerfd"
)

// Sentinel tags for the queues and notifier, kept out of fd space (real
// fds never set the top bit) so a single switch on Event.Tag distinguishes
// "drain a queue" from "look up an fd" without a side table.
const (
	tagWritesQ  uint64 = 1<<63 | 1
	tagTimersQ  uint64 = 1<<63 | 2
	tagPeersQ   uint64 = 1<<63 | 3
	tagNotifier uint64 = 1<<63 | 4
)

type writeStatus int

const (
	statusFirstTry writeStatus = iota
	statusRetry
)

type peerSubmission struct {
	fd         int
	remoteAddr net.Addr
}

// Transport owns one reactor's peer, pending-write and timer tables and
// drives the dispatch loop that services them. Exactly one goroutine
// (pinned to its OS thread via Run) is the "owner". SubmitPeer, AsyncWrite
// and ArmTimer are safe to call from any other thread too, routing through
// the appropriate MPSC queue when the caller isn't the owner, and Stop is
// safe from any thread. ClosePeer and DisarmTimer read and mutate the
// tables directly and must be called on the owner thread.
type Transport struct {
	poller  poller.Poller
	handler Handler

	peers         map[int]*Peer
	pendingWrites map[int]*PendingWrite
	timers        map[int]*Timer

	writesQ  *queue.MPSC[*PendingWrite]
	timersQ  *queue.MPSC[*Timer]
	peersQ   *queue.MPSC[peerSubmission]
	notifier *notify.FD

	maxBuffer int
	bufPool   *pools.BytePool
	peerPool  *pools.ConnectionPool
	pwPool    *pools.FastPool

	ownerTid int32
	closed   atomic.Bool

	Logger *log.Logger

	eventBuf []poller.Event
	writeBuf []*PendingWrite
	timerBuf []*Timer
	peerBuf  []peerSubmission
}

// PendingWrite is the at-most-one-per-fd record of a write that blocked on
// EAGAIN, kept until the fd reports writable again.
type PendingWrite struct {
	fd      int
	payload Payload
	flags   int
	resolve Resolve
	reject  Reject
}

// New constructs a Transport bound to p, with one Handler obtained from
// factory. maxBuffer sizes the per-peer scratch buffer incoming reads
// accumulate into between deliveries to Handler.OnInput.
func New(p poller.Poller, factory HandlerFactory, maxBuffer int) (*Transport, error) {
	t := &Transport{
		poller:        p,
		handler:       factory(),
		peers:         make(map[int]*Peer),
		pendingWrites: make(map[int]*PendingWrite),
		timers:        make(map[int]*Timer),
		maxBuffer:     maxBuffer,
		bufPool:       pools.NewBytePool(),
		Logger:        log.Default(),
		eventBuf:      make([]poller.Event, 256),
	}
	t.peerPool = pools.NewConnectionPool(1024, func() any { return &Peer{} })
	t.pwPool = pools.NewFastPool(func() any { return &PendingWrite{} })

	var err error
	if t.writesQ, err = queue.New[*PendingWrite](p, tagWritesQ); err != nil {
		return nil, err
	}
	if t.timersQ, err = queue.New[*Timer](p, tagTimersQ); err != nil {
		return nil, err
	}
	if t.peersQ, err = queue.New[peerSubmission](p, tagPeersQ); err != nil {
		return nil, err
	}
	if t.notifier, err = notify.New(); err != nil {
		return nil, err
	}
	if err := t.notifier.Bind(p, tagNotifier); err != nil {
		return nil, err
	}

	return t, nil
}

// Run pins the calling goroutine to its OS thread and becomes this
// Transport's owner for the rest of the call, blocking until Stop is
// called (or Poll returns an error).
func (t *Transport) Run() error {
	runtime.LockOSThread()
	atomic.StoreInt32(&t.ownerTid, int32(unix.Gettid()))

	for !t.closed.Load() {
		n, err := t.poller.Poll(t.eventBuf, 100)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			t.dispatch(t.eventBuf[i])
		}
	}
	return nil
}

// Stop requests the dispatch loop exit and wakes it immediately rather
// than waiting out the current poll timeout.
func (t *Transport) Stop() {
	t.closed.Store(true)
	t.notifier.Notify()
}

// Close releases every queue and the notify descriptor. Call only after
// Run has returned.
func (t *Transport) Close() error {
	t.writesQ.Close()
	t.timersQ.Close()
	t.peersQ.Close()
	return t.notifier.Close()
}

func (t *Transport) onOwnerThread() bool {
	return int32(unix.Gettid()) == atomic.LoadInt32(&t.ownerTid)
}

func (t *Transport) dispatch(ev poller.Event) {
	switch ev.Tag {
	case tagWritesQ:
		t.drainWrites()
		return
	case tagTimersQ:
		t.drainTimers()
		return
	case tagPeersQ:
		t.drainPeers()
		return
	case tagNotifier:
		t.notifier.TryRead()
		return
	}

	fd := int(ev.Tag)

	if ev.Ready&(poller.Read|poller.Hangup|poller.Shutdown) != 0 {
		if peer, ok := t.peers[fd]; ok {
			t.handleIncoming(peer)
			return
		}
		if _, ok := t.timers[fd]; ok {
			t.handleTimerFire(fd)
			return
		}
		misuse("readiness event for fd %d matches neither a peer nor a timer", fd)
	}

	if ev.Ready&poller.Write != 0 {
		pw, ok := t.pendingWrites[fd]
		if !ok {
			misuse("writable event for fd %d with no pending write", fd)
		}
		t.setInterest(fd, poller.Read)
		t.attemptWrite(pw, statusRetry)
	}
}

// setInterest re-registers fd's interest set, falling back to Add when the
// fd was never registered (Modify on an unknown fd fails with ENOENT).
func (t *Transport) setInterest(fd int, interest poller.Interest) error {
	if err := t.poller.Modify(fd, interest, uint64(fd), poller.Edge); err != nil {
		return t.poller.Add(fd, interest, uint64(fd), poller.Edge)
	}
	return nil
}

// --- peer admission -------------------------------------------------------

// SubmitPeer admits fd as a newly-accepted connection. Safe from any
// thread; an acceptor running on its own goroutine is the typical caller.
func (t *Transport) SubmitPeer(fd int, remoteAddr net.Addr) error {
	if t.onOwnerThread() {
		t.handlePeerLocal(fd, remoteAddr)
		return nil
	}
	return t.peersQ.Push(peerSubmission{fd: fd, remoteAddr: remoteAddr})
}

func (t *Transport) drainPeers() {
	t.peerBuf = t.peersQ.DrainTo(t.peerBuf[:0])
	for _, sub := range t.peerBuf {
		t.handlePeerLocal(sub.fd, sub.remoteAddr)
	}
}

func (t *Transport) handlePeerLocal(fd int, remoteAddr net.Addr) {
	peer := t.peerPool.Get().(*Peer)
	peer.SetFD(fd)
	peer.remoteAddr = remoteAddr
	peer.transport = t
	peer.readBuf = t.bufPool.Get(t.maxBuffer)
	t.peers[fd] = peer
	t.handler.OnConnection(peer)
	if err := t.setInterest(fd, poller.Read|poller.Shutdown); err != nil {
		t.closePeer(peer, &SystemError{Op: "epoll_ctl", Err: err})
	}
}

// ClosePeer closes fd's connection as if the remote end had hung up.
func (t *Transport) ClosePeer(fd int) {
	if peer, ok := t.peers[fd]; ok {
		t.closePeer(peer, nil)
	}
}

func (t *Transport) closePeer(peer *Peer, err error) {
	if _, ok := t.peers[peer.fd]; !ok {
		return
	}
	delete(t.peers, peer.fd)
	t.poller.Remove(peer.fd)

	if pw, ok := t.pendingWrites[peer.fd]; ok {
		delete(t.pendingWrites, peer.fd)
		if pw.reject != nil {
			pw.reject(ErrPeerClosed)
		}
		t.pwPool.Put(pw)
	}

	if err != nil {
		t.Logger.Printf("transport: peer fd=%d closing on error: %v", peer.fd, err)
	}

	t.handler.OnDisconnection(peer)
	unix.Close(peer.fd)
	t.bufPool.Put(peer.readBuf)
	t.peerPool.Put(peer)
}

// --- incoming data ---------------------------------------------------------

func (t *Transport) handleIncoming(peer *Peer) {
	for {
		n, err := unix.Read(peer.fd, peer.readBuf[peer.readLen:])
		switch {
		case err != nil && err == unix.EAGAIN:
			if peer.readLen > 0 {
				data := peer.readBuf[:peer.readLen]
				peer.readLen = 0
				t.handler.OnInput(data, peer)
			}
			return
		case err != nil && err == unix.ECONNRESET:
			t.closePeer(peer, nil)
			return
		case err != nil:
			t.closePeer(peer, &SystemError{Op: "read", Err: err})
			return
		case n == 0:
			t.closePeer(peer, nil)
			return
		default:
			peer.readLen += n
			if peer.readLen >= len(peer.readBuf) {
				t.Logger.Printf("transport: peer fd=%d: packet too long, dropping this turn's read", peer.fd)
				peer.readLen = 0
				return
			}
		}
	}
}

// --- asynchronous writes ---------------------------------------------------

// AsyncWrite submits payload for delivery on fd. Safe from any thread.
func (t *Transport) AsyncWrite(fd int, payload Payload, flags int, resolve Resolve, reject Reject) {
	pw := t.pwPool.Get().(*PendingWrite)
	pw.fd, pw.payload, pw.flags, pw.resolve, pw.reject = fd, payload, flags, resolve, reject
	if t.onOwnerThread() {
		t.attemptWrite(pw, statusFirstTry)
		return
	}
	t.writesQ.Push(pw)
}

func (t *Transport) drainWrites() {
	t.writeBuf = t.writesQ.DrainTo(t.writeBuf[:0])
	for _, pw := range t.writeBuf {
		t.attemptWrite(pw, statusFirstTry)
	}
}

func (t *Transport) attemptWrite(pw *PendingWrite, status writeStatus) {
	for pw.payload.Len() > 0 {
		_, err := pw.payload.writeOnce(pw.fd, pw.flags)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				t.armPendingWrite(pw)
				return
			}
			t.removePending(pw)
			if pw.reject != nil {
				pw.reject(&SystemError{Op: "write", Err: err})
			}
			t.pwPool.Put(pw)
			return
		}
	}
	t.removePending(pw)
	if pw.resolve != nil {
		pw.resolve(pw.payload.sent)
	}
	t.pwPool.Put(pw)
}

func (t *Transport) armPendingWrite(pw *PendingWrite) {
	if existing, ok := t.pendingWrites[pw.fd]; ok && existing != pw {
		misuse("second pending write submitted for fd %d", pw.fd)
	}
	t.pendingWrites[pw.fd] = pw
	t.setInterest(pw.fd, poller.Read|poller.Write)
}

func (t *Transport) removePending(pw *PendingWrite) {
	if cur, ok := t.pendingWrites[pw.fd]; ok && cur == pw {
		delete(t.pendingWrites, pw.fd)
	}
}

// --- timers -----------------------------------------------------------------

// ArmTimer creates and arms a new one-shot timer that fires after d,
// resolving with a wake count of 1 or rejecting on a system error. Safe
// from any thread.
func (t *Transport) ArmTimer(d time.Duration, resolve func(uint64), reject Reject) (*Timer, error) {
	tfd, err := timerfd.Create()
	if err != nil {
		return nil, err
	}
	if err := tfd.Arm(d); err != nil {
		tfd.Close()
		return nil, err
	}
	timer := &Timer{fd: tfd, duration: d, resolve: resolve, reject: reject, active: true}

	if t.onOwnerThread() {
		t.armTimerLocal(timer)
		return timer, nil
	}
	if err := t.timersQ.Push(timer); err != nil {
		tfd.Close()
		return nil, err
	}
	return timer, nil
}

func (t *Transport) drainTimers() {
	t.timerBuf = t.timersQ.DrainTo(t.timerBuf[:0])
	for _, timer := range t.timerBuf {
		t.armTimerLocal(timer)
	}
}

func (t *Transport) armTimerLocal(timer *Timer) {
	key := timer.fd.Fd()
	if _, exists := t.timers[key]; exists {
		timer.fd.Close()
		if timer.reject != nil {
			timer.reject(ErrTimerAlreadyArmed)
		}
		return
	}
	t.timers[key] = timer
	if err := timer.fd.Register(t.poller, uint64(key)); err != nil {
		delete(t.timers, key)
		timer.fd.Close()
		if timer.reject != nil {
			timer.reject(&SystemError{Op: "timerfd_register", Err: err})
		}
	}
}

// DisarmTimer suppresses timer's eventual fire without removing the kernel
// timer immediately; the fire, if already in flight, is delivered to no
// callback. Disarming a timer not present in the owning Transport's table
// is a programmer error.
func (t *Transport) DisarmTimer(timer *Timer) {
	if _, ok := t.timers[timer.Fd()]; !ok {
		misuse("disarm of unarmed timer fd %d", timer.Fd())
	}
	timer.active = false
}

func (t *Transport) handleTimerFire(fd int) {
	timer, ok := t.timers[fd]
	if !ok {
		misuse("readiness event for unregistered timer fd %d", fd)
	}

	// A disarmed timer is removed unconditionally, without even attempting
	// to read its expiration count: disarm suppresses the fire entirely,
	// it does not merely withhold the resolve call.
	defer func() {
		delete(t.timers, fd)
		t.poller.Remove(fd)
		timer.fd.Close()
	}()
	if !timer.active {
		return
	}

	count, fired, err := timer.fd.ReadExpirations()
	if err != nil {
		if timer.reject != nil {
			timer.reject(&SystemError{Op: "timerfd_read", Err: err})
		}
		return
	}
	if !fired {
		return
	}
	if timer.resolve != nil {
		timer.resolve(count)
	}
}
