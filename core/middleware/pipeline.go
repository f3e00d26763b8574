package middleware

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchktools/reactor-server/core/http"
)

// HandlerFunc is the signature for middleware handlers. It takes the same
// Context interface route handlers see, so a middleware can be written
// once and run ahead of any Engine route.
type HandlerFunc func(http.Context)

// Pipeline is an ordered chain of middleware run ahead of a route's final
// handler; any middleware can call ctx.Abort() to short-circuit the rest.
type Pipeline struct {
	handlers []HandlerFunc
	length   int
}

// NewPipeline creates a new middleware pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		handlers: make([]HandlerFunc, 0, 16),
	}
}

// Use adds a middleware to the pipeline.
func (p *Pipeline) Use(handler HandlerFunc) *Pipeline {
	p.handlers = append(p.handlers, handler)
	p.length = len(p.handlers)
	return p
}

// Execute runs the middleware chain, then finalHandler unless some
// middleware aborted first.
func (p *Pipeline) Execute(ctx http.Context, finalHandler HandlerFunc) {
	if p.length == 0 {
		finalHandler(ctx)
		return
	}

	for i := 0; i < p.length; i++ {
		p.handlers[i](ctx)
		if ctx.IsAborted() {
			return
		}
	}

	if !ctx.IsAborted() {
		finalHandler(ctx)
	}
}

// Compile freezes the handler slice to its exact size, dropping the spare
// append capacity NewPipeline reserved.
func (p *Pipeline) Compile() *Pipeline {
	if p.length <= 1 {
		return p
	}

	compiled := make([]HandlerFunc, p.length)
	copy(compiled, p.handlers)
	p.handlers = compiled

	return p
}

// AsyncPipeline runs a synchronous chain followed by fire-and-forget
// middleware (logging, metrics) handed off to a small worker pool so they
// never delay the response.
type AsyncPipeline struct {
	sync     *Pipeline
	async    []AsyncHandlerFunc
	pool     *sync.Pool
	workerCh chan asyncTask
}

// AsyncHandlerFunc is a middleware that runs off the reactor thread; it
// must not write to ctx's response, only observe it.
type AsyncHandlerFunc func(http.Context)

type asyncTask struct {
	handler AsyncHandlerFunc
	ctx     http.Context
}

// NewAsyncPipeline creates a pipeline backed by workers async goroutines.
func NewAsyncPipeline(workers int) *AsyncPipeline {
	if workers <= 0 {
		workers = 4
	}

	p := &AsyncPipeline{
		sync:     NewPipeline(),
		async:    make([]AsyncHandlerFunc, 0, 8),
		workerCh: make(chan asyncTask, 256),
		pool: &sync.Pool{
			New: func() any {
				return &asyncTask{}
			},
		},
	}

	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

func (p *AsyncPipeline) worker() {
	for task := range p.workerCh {
		task.handler(task.ctx)
		p.pool.Put(&task)
	}
}

// UseSync adds a synchronous middleware.
func (p *AsyncPipeline) UseSync(handler HandlerFunc) *AsyncPipeline {
	p.sync.Use(handler)
	return p
}

// UseAsync adds an asynchronous middleware.
func (p *AsyncPipeline) UseAsync(handler AsyncHandlerFunc) *AsyncPipeline {
	p.async = append(p.async, handler)
	return p
}

// Execute runs the sync chain inline, then, unless the sync chain aborted,
// dispatches every async middleware to a worker (falling back to running it
// inline if the worker queue is full).
func (p *AsyncPipeline) Execute(ctx http.Context, finalHandler HandlerFunc) {
	p.sync.Execute(ctx, finalHandler)

	if ctx.IsAborted() {
		return
	}
	for _, handler := range p.async {
		task := p.pool.Get().(*asyncTask)
		task.handler = handler
		task.ctx = ctx

		select {
		case p.workerCh <- *task:
		default:
			handler(ctx)
			p.pool.Put(task)
		}
	}
}

// Common middleware implementations

// Recovery converts a panic in the rest of the chain into a 500 response
// instead of letting it escape the reactor's dispatch loop.
func Recovery() HandlerFunc {
	return func(ctx http.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("middleware: panic recovered: %v", err)
				ctx.Abort()
				ctx.Error(500, "Internal Server Error")
			}
		}()
	}
}

// Logger logs the method and path of every request, off the reactor thread.
func Logger() AsyncHandlerFunc {
	return func(ctx http.Context) {
		log.Printf("[%s] %s", ctx.Method(), ctx.Path())
	}
}

// CORS adds permissive CORS headers and short-circuits preflight requests.
func CORS() HandlerFunc {
	return func(ctx http.Context) {
		ctx.SetHeader("Access-Control-Allow-Origin", "*")
		ctx.SetHeader("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		ctx.SetHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if ctx.Method() == "OPTIONS" {
			ctx.Abort()
			ctx.Status(204)
		}
	}
}

// RateLimiter implements a simple per-second token bucket shared across
// every request that passes through this middleware instance.
func RateLimiter(requestsPerSecond int) HandlerFunc {
	var (
		tokens     int
		lastRefill time.Time
		mu         sync.Mutex
	)

	tokens = requestsPerSecond
	lastRefill = time.Now()

	return func(ctx http.Context) {
		mu.Lock()

		now := time.Now()
		if now.Sub(lastRefill) > time.Second {
			tokens = requestsPerSecond
			lastRefill = now
		}

		if tokens > 0 {
			tokens--
			mu.Unlock()
			return
		}
		mu.Unlock()

		ctx.Abort()
		ctx.Error(429, "Too Many Requests")
	}
}

// RequestID stamps every request with a monotonically increasing ID.
func RequestID() HandlerFunc {
	var counter uint64

	return func(ctx http.Context) {
		id := atomic.AddUint64(&counter, 1)
		ctx.SetHeader("X-Request-ID", fmt.Sprintf("%d", id))
	}
}

// Metrics observes method and path for counters; left as an extension
// point for a real metrics sink.
func Metrics() AsyncHandlerFunc {
	return func(ctx http.Context) {
		_ = ctx.Method()
		_ = ctx.Path()
	}
}
