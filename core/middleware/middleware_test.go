package middleware

import (
	"testing"
	"time"

	"github.com/searchktools/reactor-server/core/http"
)

func TestPipelineBasic(t *testing.T) {
	pipeline := NewPipeline()

	executed := false
	pipeline.Use(func(ctx http.Context) {
		executed = true
	})

	ctx := &http.FDContext{}
	pipeline.Execute(ctx, func(ctx http.Context) {})

	if !executed {
		t.Error("middleware was not executed")
	}
}

func TestPipelineAbort(t *testing.T) {
	pipeline := NewPipeline()

	var middleware1Executed, middleware2Executed, finalExecuted bool

	pipeline.Use(func(ctx http.Context) {
		middleware1Executed = true
		ctx.Abort()
	})
	pipeline.Use(func(ctx http.Context) {
		middleware2Executed = true
	})

	ctx := &http.FDContext{}
	pipeline.Execute(ctx, func(ctx http.Context) {
		finalExecuted = true
	})

	if !middleware1Executed {
		t.Error("first middleware should run")
	}
	if middleware2Executed {
		t.Error("second middleware should not run after abort")
	}
	if finalExecuted {
		t.Error("final handler should not run after abort")
	}
}

func TestPipelineOrder(t *testing.T) {
	pipeline := NewPipeline()

	var order []int
	pipeline.Use(func(ctx http.Context) { order = append(order, 1) })
	pipeline.Use(func(ctx http.Context) { order = append(order, 2) })
	pipeline.Use(func(ctx http.Context) { order = append(order, 3) })

	ctx := &http.FDContext{}
	pipeline.Execute(ctx, func(ctx http.Context) { order = append(order, 4) })

	expected := []int{1, 2, 3, 4}
	if len(order) != len(expected) {
		t.Fatalf("expected %d executions, got %d", len(expected), len(order))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("order[%d] = %d, want %d", i, order[i], v)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	pipeline := NewPipeline()
	pipeline.Use(Recovery())

	ctx := &http.FDContext{}
	pipeline.Execute(ctx, func(ctx http.Context) {
		panic("boom")
	})

	// Recovery must stop the panic from propagating out of Execute.
}

func TestRequestIDMiddleware(t *testing.T) {
	middleware := RequestID()
	ctx := &http.FDContext{}
	middleware(ctx)
}

func TestRateLimiter(t *testing.T) {
	limiter := RateLimiter(2)

	ctx1 := &http.FDContext{}
	limiter(ctx1)
	if ctx1.IsAborted() {
		t.Error("first request should not be rate limited")
	}

	ctx2 := &http.FDContext{}
	limiter(ctx2)
	if ctx2.IsAborted() {
		t.Error("second request should not be rate limited")
	}

	ctx3 := &http.FDContext{}
	limiter(ctx3)
	if !ctx3.IsAborted() {
		t.Error("third request should be rate limited")
	}

	time.Sleep(1100 * time.Millisecond)

	ctx4 := &http.FDContext{}
	limiter(ctx4)
	if ctx4.IsAborted() {
		t.Error("request after refill should not be rate limited")
	}
}

func TestAsyncPipeline(t *testing.T) {
	asyncPipeline := NewAsyncPipeline(2)

	var syncExecuted, asyncExecuted bool

	asyncPipeline.UseSync(func(ctx http.Context) { syncExecuted = true })
	asyncPipeline.UseAsync(func(ctx http.Context) { asyncExecuted = true })

	ctx := &http.FDContext{}
	asyncPipeline.Execute(ctx, func(ctx http.Context) {})

	if !syncExecuted {
		t.Error("sync middleware was not executed")
	}

	time.Sleep(100 * time.Millisecond)
	if !asyncExecuted {
		t.Error("async middleware was not executed")
	}
}

func BenchmarkPipeline(b *testing.B) {
	pipeline := NewPipeline()
	pipeline.Use(func(ctx http.Context) {})
	pipeline.Use(func(ctx http.Context) {})
	pipeline.Use(func(ctx http.Context) {})
	pipeline.Compile()

	final := func(ctx http.Context) {}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ctx := &http.FDContext{}
		pipeline.Execute(ctx, final)
	}
}

func BenchmarkRecoveryMiddleware(b *testing.B) {
	middleware := Recovery()
	ctx := &http.FDContext{}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		middleware(ctx)
	}
}

func BenchmarkRequestIDMiddleware(b *testing.B) {
	middleware := RequestID()
	ctx := &http.FDContext{}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		middleware(ctx)
	}
}

func BenchmarkRateLimiter(b *testing.B) {
	middleware := RateLimiter(1000000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ctx := &http.FDContext{}
		middleware(ctx)
	}
}
