// Package queue implements the cross-thread submission primitive used to
// reach a reactor from a foreign thread: a lock-free multi-producer queue
// whose single consumer is the owning reactor, paired with a notify
// descriptor so a push always wakes the consumer's poller.
package queue

import (
	"sync/atomic"
	"unsafe"

	"github.com/searchktools/reactor-server/core/notify"
	"github.com/searchktools/reactor-server/core/poller"
)

type node[T any] struct {
	next  unsafe.Pointer // *node[T]
	value T
}

// MPSC is a Vyukov-style intrusive queue: Push is lock-free and safe from
// any number of concurrent producers, PopSafe and DrainTo are safe only from
// the single consumer thread that owns the queue.
//
// Every Push is immediately followed by a notify so that the owning reactor
// never misses work enqueued after its last drain but before it goes back
// to sleep in Poll: the notify's counter is incremented strictly after the
// node is linked, so any node a drain does not yet see is followed by a
// notification that wakes the consumer again.
type MPSC[T any] struct {
	head *notify.FD // bound in the reactor's poller; wakes the consumer
	tail unsafe.Pointer
	cur  *node[T] // consumer-owned, never touched by producers
	stub node[T]
}

// New creates a queue bound to p under tag. Producers call Push; the
// reactor owning p drains with DrainTo whenever it observes tag in Poll's
// output.
func New[T any](p poller.Poller, tag uint64) (*MPSC[T], error) {
	n, err := notify.New()
	if err != nil {
		return nil, err
	}
	if err := n.Bind(p, tag); err != nil {
		n.Close()
		return nil, err
	}
	q := &MPSC[T]{head: n}
	q.tail = unsafe.Pointer(&q.stub)
	q.cur = &q.stub
	return q, nil
}

// Tag reports the notify tag this queue was bound under.
func (q *MPSC[T]) Tag() uint64 { return q.head.Tag() }

// Push enqueues entry and wakes the consumer. Safe to call concurrently
// from any thread, including the consumer's own.
func (q *MPSC[T]) Push(entry T) error {
	n := &node[T]{value: entry}
	prev := (*node[T])(atomic.SwapPointer(&q.tail, unsafe.Pointer(n)))
	atomic.StorePointer(&prev.next, unsafe.Pointer(n))
	return q.head.Notify()
}

// PopSafe returns the next entry, or ok=false if the queue is momentarily
// empty. Must only be called from the consumer thread.
func (q *MPSC[T]) PopSafe() (entry T, ok bool) {
	n := (*node[T])(atomic.LoadPointer(&q.cur.next))
	if n == nil {
		return entry, false
	}
	q.cur = n
	return n.value, true
}

// DrainTo clears the notify descriptor and appends every currently-enqueued
// entry to dst, oldest first, returning the extended slice. The reactor
// calls this once per wake-up on its own thread; per the link-before-notify
// ordering in Push, nothing enqueued before this call can be missed.
func (q *MPSC[T]) DrainTo(dst []T) []T {
	q.head.TryRead()
	for {
		entry, ok := q.PopSafe()
		if !ok {
			return dst
		}
		dst = append(dst, entry)
	}
}

// Close releases the queue's notify descriptor.
func (q *MPSC[T]) Close() error {
	return q.head.Close()
}
