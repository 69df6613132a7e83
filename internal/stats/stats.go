// Package stats tracks bridge statistics and exports Prometheus metrics.
package stats

import (
	"runtime"
	"sync"
	"time"
)

// Collector collects in-process request statistics for the status view.
type Collector struct {
	mu            sync.Mutex
	startTime     time.Time
	requestCount  int64
	toolCallCount int64
	tokenCount    int64
	errorCount    int64
	uploadCount   int64
	totalDuration int64 // nanoseconds
}

// NewCollector creates a new stats collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
	}
}

// Stats represents bridge statistics at a point in time.
type Stats struct {
	// System resources
	MemoryStats MemoryStats `json:"memory"`
	Goroutines  int         `json:"goroutines"`
	Uptime      string      `json:"uptime"`

	// Request metrics
	RequestCount  int64   `json:"request_count"`
	ToolCallCount int64   `json:"tool_call_count"`
	TokenCount    int64   `json:"token_count"`
	ErrorCount    int64   `json:"error_count"`
	UploadCount   int64   `json:"upload_count"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`

	// Audit database
	DBSize   int64   `json:"db_size_bytes"`
	DBSizeMB float64 `json:"db_size_mb"`
	DBPath   string  `json:"db_path,omitempty"`
}

// MemoryStats represents memory usage statistics.
type MemoryStats struct {
	HeapAllocMB  float64       `json:"heap_alloc_mb"`
	HeapInuseMB  float64       `json:"heap_inuse_mb"`
	HeapObjects  uint64        `json:"heap_objects"`
	NumGC        uint32        `json:"num_gc"`
	GCPauseTotal time.Duration `json:"gc_pause_total"`
}

// Collect returns current statistics.
func (c *Collector) Collect(dbSize int64, dbPath string) *Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.mu.Lock()
	defer c.mu.Unlock()

	avgLatency := float64(0)
	if c.requestCount > 0 {
		avgLatency = float64(c.totalDuration) / float64(c.requestCount) / 1e6 // nanos to millis
	}

	return &Stats{
		MemoryStats: MemoryStats{
			HeapAllocMB:  bytesToMB(int64(m.HeapAlloc)),
			HeapInuseMB:  bytesToMB(int64(m.HeapInuse)),
			HeapObjects:  m.HeapObjects,
			NumGC:        m.NumGC,
			GCPauseTotal: time.Duration(m.PauseTotalNs),
		},
		Goroutines:    runtime.NumGoroutine(),
		Uptime:        time.Since(c.startTime).Round(time.Second).String(),
		RequestCount:  c.requestCount,
		ToolCallCount: c.toolCallCount,
		TokenCount:    c.tokenCount,
		ErrorCount:    c.errorCount,
		UploadCount:   c.uploadCount,
		AvgLatencyMs:  avgLatency,
		DBSize:        dbSize,
		DBSizeMB:      bytesToMB(dbSize),
		DBPath:        dbPath,
	}
}

// RecordRequest records a completed question.
func (c *Collector) RecordRequest(tokens, toolCalls int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestCount++
	c.tokenCount += int64(tokens)
	c.toolCallCount += int64(toolCalls)
	c.totalDuration += duration.Nanoseconds()
}

// RecordUpload records a completed upload.
func (c *Collector) RecordUpload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploadCount++
}

// RecordError records an error.
func (c *Collector) RecordError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCount++
}

// StartTime returns when the collector started.
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

func bytesToMB(b int64) float64 {
	return float64(b) / 1024 / 1024
}
