package core

import (
	"log"

	"github.com/searchktools/reactor-server/core/http"
	"github.com/searchktools/reactor-server/core/middleware"
	"github.com/searchktools/reactor-server/core/pools"
	"github.com/searchktools/reactor-server/core/router"
	"github.com/searchktools/reactor-server/core/transport"
)

// HandlerFunc is a route's request handler.
type HandlerFunc func(ctx http.Context)

// Engine holds the compiled route table and global middleware chain shared
// by every reactor thread's handler instance. It is read-only after
// construction (routes and middleware are registered before the first
// Transport starts), so every reactor's requestHandler can reference the
// same Engine without coordination. Request and Context pooling live in
// core/http, next to the types they pool.
type Engine struct {
	router     *router.Router[HandlerFunc]
	middleware *middleware.Pipeline
	maxRead    int
}

// NewEngine creates an Engine with an empty route table.
func NewEngine() *Engine {
	pools.OptimizeForHighThroughput()

	return &Engine{
		router:     router.New[HandlerFunc](),
		middleware: middleware.NewPipeline(),
		maxRead:    DefaultMaxBuffer,
	}
}

// Use registers a middleware that runs ahead of every route's handler, in
// registration order.
func (e *Engine) Use(handler middleware.HandlerFunc) { e.middleware.Use(handler) }

// MaxBuffer returns the per-peer read scratch buffer size reactors should
// construct their Transport with.
func (e *Engine) MaxBuffer() int { return e.maxRead }

func (e *Engine) GET(path string, handler HandlerFunc)     { e.router.Add("GET", path, handler) }
func (e *Engine) POST(path string, handler HandlerFunc)    { e.router.Add("POST", path, handler) }
func (e *Engine) PUT(path string, handler HandlerFunc)     { e.router.Add("PUT", path, handler) }
func (e *Engine) DELETE(path string, handler HandlerFunc)  { e.router.Add("DELETE", path, handler) }
func (e *Engine) PATCH(path string, handler HandlerFunc)   { e.router.Add("PATCH", path, handler) }
func (e *Engine) HEAD(path string, handler HandlerFunc)    { e.router.Add("HEAD", path, handler) }
func (e *Engine) OPTIONS(path string, handler HandlerFunc) { e.router.Add("OPTIONS", path, handler) }

// HandlerFactory returns a transport.HandlerFactory that builds one
// requestHandler per reactor thread, per the prototype pattern: each
// reactor's handler owns its own per-peer Assembler map, while the route
// table, middleware chain and the request/context pools are shared.
func (e *Engine) HandlerFactory() transport.HandlerFactory {
	return func() transport.Handler {
		return &requestHandler{engine: e}
	}
}

// requestHandler is the transport.Handler installed on one reactor. State
// here (the assembler map, keyed by peer) is only ever touched from that
// reactor's own thread, so it needs no locking.
type requestHandler struct {
	engine     *Engine
	assemblers map[*transport.Peer]*http.Assembler
}

func (h *requestHandler) OnConnection(peer *transport.Peer) {
	if h.assemblers == nil {
		h.assemblers = make(map[*transport.Peer]*http.Assembler)
	}
	h.assemblers[peer] = &http.Assembler{}
}

func (h *requestHandler) OnDisconnection(peer *transport.Peer) {
	delete(h.assemblers, peer)
}

func (h *requestHandler) OnInput(data []byte, peer *transport.Peer) {
	asm := h.assemblers[peer]
	if asm == nil {
		asm = &http.Assembler{}
		h.assemblers[peer] = asm
	}

	for _, raw := range asm.Feed(data) {
		h.dispatch(raw, peer)
	}
}

func (h *requestHandler) dispatch(raw []byte, peer *transport.Peer) {
	req, err := http.ParseRequest(raw)
	if err != nil {
		resp := []byte("HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\n\r\n")
		peer.Write(transport.BytesPayload(resp), 0, nil, nil)
		return
	}

	handler, match, ok := h.engine.router.Dispatch(req.Method, req.Path)
	ctx := http.AcquireContext(peer, req)
	for _, p := range match.Params {
		ctx.SetParam(p.Name, p.Raw)
	}
	splats := make([]string, len(match.Splats))
	for i, s := range match.Splats {
		splats[i] = s.Raw
	}
	ctx.SetSplats(splats)

	if !ok {
		ctx.String(404, "Could not find a matching route")
		http.ReleaseContext(ctx)
		http.ReleaseRequest(req)
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("engine: handler panic for %s %s: %v", req.Method, req.Path, r)
				ctx.Error(500, "Internal Server Error")
			}
		}()
		h.engine.middleware.Execute(ctx, middleware.HandlerFunc(handler))
	}()

	http.ReleaseContext(ctx)
	http.ReleaseRequest(req)
}
