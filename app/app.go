package app

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/searchktools/reactor-server/config"
	"github.com/searchktools/reactor-server/core"
	"github.com/searchktools/reactor-server/core/poller"
	"github.com/searchktools/reactor-server/core/transport"
)

// App wires an Engine's route table to a pool of reactor threads: one
// Transport plus Poller per cfg.Threads, fed by a single acceptor
// goroutine that round-robins newly accepted connections across them.
type App struct {
	cfg    *config.Config
	engine *core.Engine

	listener  *net.TCPListener
	reactors  []*transport.Transport
	nextReact atomic.Uint64
}

// New creates an application instance.
func New(cfg *config.Config) *App {
	return &App{cfg: cfg, engine: core.NewEngine()}
}

// Engine returns the underlying engine for route registration.
func (a *App) Engine() *core.Engine { return a.engine }

// NewWithEngine creates an application instance with a pre-configured engine.
func NewWithEngine(cfg *config.Config, engine *core.Engine) *App {
	return &App{cfg: cfg, engine: engine}
}

// Run binds the listening socket, starts cfg.Threads reactor threads, and
// accepts connections until a termination signal arrives. It exits the
// process non-zero if the listener can't bind.
func (a *App) Run() {
	addr := fmt.Sprintf(":%d", a.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Printf("server: bind %s failed: %v", addr, err)
		os.Exit(1)
	}
	a.listener = ln.(*net.TCPListener)

	log.Printf("server: %d CPUs online", runtime.NumCPU())

	for i := 0; i < a.cfg.Threads; i++ {
		p, err := poller.NewPoller()
		if err != nil {
			log.Fatalf("server: creating poller %d: %v", i, err)
		}
		t, err := transport.New(p, a.engine.HandlerFactory(), a.engine.MaxBuffer())
		if err != nil {
			log.Fatalf("server: creating reactor %d: %v", i, err)
		}
		a.reactors = append(a.reactors, t)
		go func(t *transport.Transport) {
			if err := t.Run(); err != nil {
				log.Printf("server: reactor exited: %v", err)
			}
		}(t)
	}

	go a.awaitSignal()

	log.Printf("server listening on %s with %d reactor threads", addr, a.cfg.Threads)
	a.acceptLoop()
}

// acceptLoop runs net.Listener.Accept in a blocking loop, handing each
// accepted connection's descriptor to a reactor chosen round-robin. The
// listener/acceptor is intentionally outside the reactor core: it is the
// one external collaborator that produces new peer descriptors.
func (a *App) acceptLoop() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			log.Printf("server: accept error: %v", err)
			continue
		}
		fd, remoteAddr, err := detachFD(conn)
		if err != nil {
			log.Printf("server: detaching fd: %v", err)
			conn.Close()
			continue
		}
		reactor := a.reactors[a.nextReact.Add(1)%uint64(len(a.reactors))]
		if err := reactor.SubmitPeer(fd, remoteAddr); err != nil {
			log.Printf("server: submitting peer: %v", err)
			unix.Close(fd)
		}
	}
}

// detachFD dups conn's underlying descriptor into one the Go runtime's
// netpoller no longer tracks, sets it non-blocking, and closes the
// original net.Conn. The reactor owns the dup from here on.
func detachFD(conn net.Conn) (int, net.Addr, error) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return 0, nil, fmt.Errorf("unexpected conn type %T", conn)
	}

	raw, err := tc.SyscallConn()
	if err != nil {
		conn.Close()
		return 0, nil, err
	}

	var dupFD int
	var dupErr error
	ctlErr := raw.Control(func(fd uintptr) {
		dupFD, dupErr = unix.Dup(int(fd))
	})
	remoteAddr := conn.RemoteAddr()
	conn.Close()

	if ctlErr != nil {
		return 0, nil, ctlErr
	}
	if dupErr != nil {
		return 0, nil, dupErr
	}
	if err := unix.SetNonblock(dupFD, true); err != nil {
		unix.Close(dupFD)
		return 0, nil, err
	}
	return dupFD, remoteAddr, nil
}

func (a *App) awaitSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("server: signal %v received, shutting down", sig)

	a.listener.Close()
	for _, t := range a.reactors {
		t.Stop()
	}
	os.Exit(0)
}
