package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/reactor-server/core/poller"
)

// recordingHandler captures the three Handler callbacks on channels so a
// test goroutine can synchronize with the reactor thread without locking
// shared state.
type recordingHandler struct {
	connected    chan *Peer
	input        chan []byte
	disconnected chan *Peer
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		connected:    make(chan *Peer, 4),
		input:        make(chan []byte, 4),
		disconnected: make(chan *Peer, 4),
	}
}

func (h *recordingHandler) OnConnection(peer *Peer) { h.connected <- peer }
func (h *recordingHandler) OnInput(data []byte, peer *Peer) {
	cp := make([]byte, len(data))
	copy(cp, data)
	h.input <- cp
}
func (h *recordingHandler) OnDisconnection(peer *Peer) { h.disconnected <- peer }

func newTestTransport(t *testing.T, h Handler) (*Transport, func()) {
	t.Helper()
	p, err := poller.NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	tr, err := New(p, func() Handler { return h }, 4096)
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tr.Run(); err != nil {
			t.Logf("transport.Run exited: %v", err)
		}
	}()

	stop := func() {
		tr.Stop()
		wg.Wait()
		tr.Close()
	}
	return tr, stop
}

func mustSocketpair(t *testing.T) (ownFD, peerFD int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}
	return fds[0], fds[1]
}

func TestTransportPeerAdmissionAndInput(t *testing.T) {
	h := newRecordingHandler()
	tr, stop := newTestTransport(t, h)
	defer stop()

	ownFD, peerFD := mustSocketpair(t)
	defer unix.Close(peerFD)

	if err := tr.SubmitPeer(ownFD, &net.UnixAddr{}); err != nil {
		t.Fatalf("SubmitPeer: %v", err)
	}

	select {
	case <-h.connected:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnConnection")
	}

	msg := []byte("hello reactor")
	if _, err := unix.Write(peerFD, msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-h.input:
		if string(got) != string(msg) {
			t.Errorf("OnInput got %q, want %q", got, msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnInput")
	}
}

func TestTransportPeerDisconnection(t *testing.T) {
	h := newRecordingHandler()
	tr, stop := newTestTransport(t, h)
	defer stop()

	ownFD, peerFD := mustSocketpair(t)

	if err := tr.SubmitPeer(ownFD, &net.UnixAddr{}); err != nil {
		t.Fatalf("SubmitPeer: %v", err)
	}
	<-h.connected

	unix.Close(peerFD)

	select {
	case <-h.disconnected:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnDisconnection after peer close")
	}
}

func TestTransportAsyncWriteRoundTrip(t *testing.T) {
	h := newRecordingHandler()
	tr, stop := newTestTransport(t, h)
	defer stop()

	ownFD, peerFD := mustSocketpair(t)
	defer unix.Close(peerFD)

	if err := tr.SubmitPeer(ownFD, &net.UnixAddr{}); err != nil {
		t.Fatalf("SubmitPeer: %v", err)
	}
	peer := <-h.connected

	payload := []byte("response bytes")
	resolved := make(chan int, 1)
	peer.Write(BytesPayload(append([]byte(nil), payload...)), 0, func(n int) {
		resolved <- n
	}, func(err error) {
		t.Errorf("unexpected write rejection: %v", err)
	})

	buf := make([]byte, len(payload))
	if err := readFull(peerFD, buf); err != nil {
		t.Fatalf("reading echoed payload: %v", err)
	}
	if string(buf) != string(payload) {
		t.Errorf("got %q, want %q", buf, payload)
	}

	select {
	case n := <-resolved:
		if n != len(payload) {
			t.Errorf("resolve n=%d, want %d", n, len(payload))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for write resolve")
	}
}

// Slow-consumer scenario: a receiver with a small receive buffer forces an
// AsyncWrite through at least one EAGAIN/pending-write cycle; the write
// must still resolve exactly once with the full byte count and leave no
// pending-write table entry behind.
func TestTransportAsyncWriteDrainsOnBackpressure(t *testing.T) {
	h := newRecordingHandler()
	tr, stop := newTestTransport(t, h)
	defer stop()

	ownFD, peerFD := mustSocketpair(t)
	defer unix.Close(peerFD)

	// Shrink both ends' buffers so a write larger than the window blocks.
	_ = unix.SetsockoptInt(ownFD, unix.SOL_SOCKET, unix.SO_SNDBUF, 4096)
	_ = unix.SetsockoptInt(peerFD, unix.SOL_SOCKET, unix.SO_RCVBUF, 4096)

	if err := tr.SubmitPeer(ownFD, &net.UnixAddr{}); err != nil {
		t.Fatalf("SubmitPeer: %v", err)
	}
	peer := <-h.connected

	payload := make([]byte, 512*1024)
	for i := range payload {
		payload[i] = byte(i)
	}

	resolved := make(chan int, 1)
	rejected := make(chan error, 1)
	peer.Write(BytesPayload(payload), 0, func(n int) { resolved <- n }, func(err error) { rejected <- err })

	// Drain peerFD slowly on a background goroutine so the write path must
	// go through at least one EAGAIN/pending-write/write-ready cycle.
	done := make(chan struct{})
	go func() {
		defer close(done)
		total := 0
		buf := make([]byte, 4096)
		for total < len(payload) {
			n, err := unix.Read(peerFD, buf)
			if err != nil {
				if err == unix.EAGAIN {
					time.Sleep(time.Millisecond)
					continue
				}
				return
			}
			total += n
		}
	}()

	select {
	case n := <-resolved:
		if n != len(payload) {
			t.Errorf("resolve n=%d, want %d", n, len(payload))
		}
	case err := <-rejected:
		t.Fatalf("write rejected: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for large write to resolve")
	}
	<-done

	if _, ok := tr.pendingWrites[peer.fd]; ok {
		t.Error("pending-write table should be empty once the write resolves")
	}
}

func TestTransportTimerFire(t *testing.T) {
	h := newRecordingHandler()
	tr, stop := newTestTransport(t, h)
	defer stop()

	resolved := make(chan uint64, 1)
	if _, err := tr.ArmTimer(20*time.Millisecond, func(n uint64) { resolved <- n }, func(err error) {
		t.Errorf("unexpected timer rejection: %v", err)
	}); err != nil {
		t.Fatalf("ArmTimer: %v", err)
	}

	select {
	case n := <-resolved:
		if n != 1 {
			t.Errorf("wake count = %d, want 1", n)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for timer fire")
	}
}

func readFull(fd int, buf []byte) error {
	got := 0
	deadline := time.Now().Add(2 * time.Second)
	for got < len(buf) {
		n, err := unix.Read(fd, buf[got:])
		if err != nil {
			if err == unix.EAGAIN {
				if time.Now().After(deadline) {
					return err
				}
				time.Sleep(time.Millisecond)
				continue
			}
			return err
		}
		got += n
	}
	return nil
}
