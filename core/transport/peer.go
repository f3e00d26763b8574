package transport

import "net"

// Resolve is a one-shot success continuation; for a write it receives the
// cumulative number of bytes sent across every retry, for a timer it
// receives the wake count (always 1 for a one-shot timer fire).
type Resolve func(n int)

// Reject is a one-shot failure continuation.
type Reject func(err error)

// Handler is the application collaborator a Transport drives. Each
// reactor owns exactly one Handler instance, obtained from a
// HandlerFactory at construction time, so state kept on the Handler never
// needs synchronization against any other reactor.
type Handler interface {
	OnConnection(peer *Peer)
	OnInput(data []byte, peer *Peer)
	OnDisconnection(peer *Peer)
}

// HandlerFactory builds a fresh Handler for one reactor. A Transport calls
// it exactly once, at construction.
type HandlerFactory func() Handler

// Peer represents one accepted connection for the lifetime the reactor
// that owns it knows about it. It holds a non-owning back-reference to its
// Transport; once the peer is closed the back-reference is cleared and
// further calls reject with ErrPeerClosed instead of touching a stale fd.
type Peer struct {
	fd         int
	remoteAddr net.Addr
	transport  *Transport
	data       any

	readBuf []byte
	readLen int
}

// Fd returns the peer's underlying file descriptor.
func (p *Peer) Fd() int { return p.fd }

// RemoteAddr returns the address supplied when the peer was admitted.
func (p *Peer) RemoteAddr() net.Addr { return p.remoteAddr }

// Data returns the opaque value a handler previously stashed with SetData.
func (p *Peer) Data() any { return p.data }

// SetData stashes a handler-owned value alongside the peer, e.g. parsed
// request state that spans multiple OnInput calls.
func (p *Peer) SetData(v any) { p.data = v }

// Write submits payload for asynchronous delivery on this peer's
// connection. Safe to call from any thread; a call from the owning
// reactor's own thread attempts the write inline, a call from any other
// thread is queued and woken via the reactor's notify descriptor.
func (p *Peer) Write(payload Payload, flags int, resolve Resolve, reject Reject) {
	if p.transport == nil {
		if reject != nil {
			reject(ErrPeerClosed)
		}
		return
	}
	p.transport.AsyncWrite(p.fd, payload, flags, resolve, reject)
}

// Close requests that the transport close this peer's connection.
func (p *Peer) Close() {
	if p.transport == nil {
		return
	}
	p.transport.ClosePeer(p.fd)
}

// Reset clears a Peer's fields so it can be recycled by a pools.ConnectionPool
// once its connection closes. The Transport, which owns readBuf's lifetime
// via bufPool, returns the buffer to that pool before recycling the Peer;
// Reset only drops the Peer's reference to it.
func (p *Peer) Reset() {
	p.fd = -1
	p.remoteAddr = nil
	p.transport = nil
	p.data = nil
	p.readBuf = nil
	p.readLen = 0
}

// SetFD satisfies pools.ConnectionPoolable; the Transport calls it after
// pulling a recycled Peer from the pool to give it its new identity.
func (p *Peer) SetFD(fd int) { p.fd = fd }
