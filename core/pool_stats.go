package core

import (
	"encoding/json"
	"fmt"

	"github.com/searchktools/reactor-server/core/http"
	"github.com/searchktools/reactor-server/core/pools"
)

// PoolStats reports hit rates for the pools an Engine's handlers drive: the
// per-request Context pool in core/http, and the global response-buffer
// pool every write borrows from.
type PoolStats struct {
	Context pools.SmartPoolStats `json:"context"`
	Buffer  pools.BufferStats    `json:"buffer"`
}

// GetPoolStats returns statistics for the pools an Engine's handlers drive.
func (e *Engine) GetPoolStats() PoolStats {
	return PoolStats{
		Context: http.ContextPoolStats(),
		Buffer:  pools.GetBufferStats(),
	}
}

// GetPoolStatsJSON returns pool statistics as a JSON string.
func (e *Engine) GetPoolStatsJSON() string {
	data, _ := json.MarshalIndent(e.GetPoolStats(), "", "  ")
	return string(data)
}

// GetPoolStatsText returns pool statistics as human-readable text.
func (e *Engine) GetPoolStatsText() string {
	stats := e.GetPoolStats()
	return fmt.Sprintf(`Pool Statistics
===============

Context Pool:
  Gets:     %d
  Puts:     %d
  Hit Rate: %.2f%%

Response Buffer Pool:
  Gets:     %d
  Hit Rate: %.2f%%
`,
		stats.Context.Gets, stats.Context.Puts, stats.Context.HitRate*100,
		stats.Buffer.TotalGets, stats.Buffer.HitRate*100,
	)
}
