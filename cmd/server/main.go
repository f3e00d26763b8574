// Command server is the example CLI binary: server [-port=9080] [-threads=2].
// It exposes the metric-recording and cookie-auth routes used as the
// system's end-to-end scenarios, wired on top of app.App's reactor pool.
package main

import (
	"log"
	"strconv"
	"sync"

	"github.com/searchktools/reactor-server/app"
	"github.com/searchktools/reactor-server/config"
	"github.com/searchktools/reactor-server/core/http"
	"github.com/searchktools/reactor-server/core/middleware"
)

// metricStore is a tiny in-memory counter keyed by metric name, guarded by
// a mutex since handlers for different peers can run concurrently across
// reactor threads.
type metricStore struct {
	mu     sync.Mutex
	values map[string]int
}

func newMetricStore() *metricStore {
	return &metricStore{values: make(map[string]int)}
}

// add increments name by delta, creating it at 0 first if absent, and
// reports whether this call created the entry.
func (s *metricStore) add(name string, delta int) (total int, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.values[name]
	s.values[name] += delta
	return s.values[name], !existed
}

func (s *metricStore) get(name string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

func main() {
	cfg := config.New()
	application := app.New(cfg)
	engine := application.Engine()

	engine.Use(middleware.RequestID())
	engine.Use(middleware.Recovery())

	store := newMetricStore()

	engine.GET("/ready", func(ctx http.Context) {
		ctx.String(200, "1")
	})

	engine.POST("/record/:metric/:amount?", func(ctx http.Context) {
		delta := 1
		if ctx.HasParam("amount") {
			n, err := strconv.Atoi(ctx.Param("amount"))
			if err != nil {
				ctx.Error(400, "amount must be an integer")
				return
			}
			delta = n
		}

		total, created := store.add(ctx.Param("metric"), delta)
		code := 200
		if created {
			code = 201
		}
		ctx.String(code, strconv.Itoa(total))
	})

	engine.GET("/value/:metric", func(ctx http.Context) {
		v, ok := store.get(ctx.Param("metric"))
		if !ok {
			ctx.String(404, "Metric does not exist")
			return
		}
		ctx.String(200, strconv.Itoa(v))
	})

	engine.GET("/auth", func(ctx http.Context) {
		if _, ok := ctx.Cookie("session"); !ok {
			ctx.Error(401, "missing session cookie")
			return
		}
		ctx.SetCookie(http.Cookie{Name: "lang", Value: "en-US"})
		ctx.String(200, "authenticated")
	})

	log.Printf("reactor-server starting (port=%d threads=%d)", cfg.Port, cfg.Threads)
	application.Run()
}
