package consumer

import (
	"context"
	"sync"
	"time"

	"securebus/internal/audit"
	"securebus/internal/constants"
)

// ProcessingMetrics covers every record the consumer attempted, including
// dead-letter retries.
type ProcessingMetrics struct {
	TotalProcessed          int64     `json:"totalProcessed"`
	Succeeded               int64     `json:"succeeded"`
	Failed                  int64     `json:"failed"`
	AverageProcessingTimeMs float64   `json:"averageProcessingTimeMs"`
	DuplicatesSkipped       int64     `json:"duplicatesSkipped"`
	LastProcessedAt         time.Time `json:"lastProcessedAt,omitempty"`
}

type processingStats struct {
	mu      sync.Mutex
	metrics ProcessingMetrics
}

func (s *processingStats) observe(ok bool, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := &s.metrics
	m.TotalProcessed++
	if ok {
		m.Succeeded++
	} else {
		m.Failed++
	}
	ms := float64(elapsed) / float64(time.Millisecond)
	m.AverageProcessingTimeMs += (ms - m.AverageProcessingTimeMs) / float64(m.TotalProcessed)
	m.LastProcessedAt = time.Now().UTC()
}

func (s *processingStats) duplicate() {
	s.mu.Lock()
	s.metrics.DuplicatesSkipped++
	s.mu.Unlock()
}

func (s *processingStats) snapshot() ProcessingMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// Metrics returns a snapshot of the processing counters.
func (c *Consumer) Metrics() ProcessingMetrics {
	return c.stats.snapshot()
}

func (c *Consumer) metricsLoop(ctx context.Context) {
	defer c.bgWG.Done()

	ticker := time.NewTicker(c.cfg.MetricsInterval)
	defer ticker.Stop()

	var last ProcessingMetrics
	lastAt := c.now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := c.now()
			current := c.stats.snapshot()
			c.reportMetrics(ctx, last, current, now.Sub(lastAt))
			last, lastAt = current, now
		}
	}
}

// reportMetrics emits the interval's performance metrics. It only reads the
// dead-letter store.
func (c *Consumer) reportMetrics(ctx context.Context, prev, cur ProcessingMetrics, interval time.Duration) {
	processed := cur.TotalProcessed - prev.TotalProcessed
	failed := cur.Failed - prev.Failed

	var throughput, errorRate float64
	if interval > 0 {
		throughput = float64(processed) / interval.Seconds()
	}
	if processed > 0 {
		errorRate = float64(failed) / float64(processed)
	}

	now := c.now().UTC()
	for _, m := range []struct {
		name  string
		value float64
		unit  string
	}{
		{"throughput", throughput, "messages/s"},
		{"error_rate", errorRate, "ratio"},
		{"average_processing_time", cur.AverageProcessingTimeMs, "ms"},
		{"dead_letter_size", float64(c.deadLetters.len()), "messages"},
	} {
		c.sink.RecordPerformance(ctx, audit.PerformanceMetric{
			Timestamp: now,
			Component: constants.ComponentConsumer,
			Name:      m.name,
			Value:     m.value,
			Unit:      m.unit,
		})
	}
}
