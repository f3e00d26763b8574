/*
Package reactorserver is an embeddable HTTP server library built on a
purpose-written TCP reactor: an epoll-driven readiness poller, an
eventfd-backed cross-thread notify descriptor, a lock-free MPSC queue for
handing work to a reactor's owning thread, and a Transport that tracks
peers, in-flight writes, and per-connection timers.

A server is one or more reactor threads, each running its own Poller and
Transport, fed by a single accept loop that round-robins newly accepted
connections across them. Route dispatch goes through core/router's
compiled URL-pattern matcher and an optional middleware pipeline.

Quick Start

	package main

	import (
	    "github.com/searchktools/reactor-server/app"
	    "github.com/searchktools/reactor-server/config"
	    "github.com/searchktools/reactor-server/core/http"
	)

	func main() {
	    cfg := config.New()
	    application := app.New(cfg)

	    engine := application.Engine()
	    engine.GET("/hello", func(ctx http.Context) {
	        ctx.String(200, "Hello, World!")
	    })

	    engine.GET("/json", func(ctx http.Context) {
	        ctx.JSON(200, map[string]string{
	            "message": "reactor-server",
	            "status":  "running",
	        })
	    })

	    application.Run()
	}

Modules

  - app: reactor-thread-pool bootstrap and process lifecycle
  - config: flag/env configuration loading
  - core: route table, middleware wiring, and the per-reactor request handler
  - core/http: request parsing, response writing, cookies, Context pooling
  - core/router: URL-pattern compilation and dispatch
  - core/middleware: request pipeline (sync and async)
  - core/pools: connection, buffer, and context object pools with GC tuning
  - core/poller: epoll-based readiness notification
  - core/notify: eventfd cross-thread wakeup
  - core/queue: lock-free MPSC queue
  - core/timerfd: one-shot kernel timers
  - core/transport: peer, pending-write, and timer management
  - core/sendfile: zero-copy file responses
  - core/optimize: architecture-dispatched word-at-a-time path comparison
*/
package reactorserver
