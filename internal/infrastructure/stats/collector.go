package stats

import (
	"sync"
	"time"
)

// PointWriter is the sink the Collector writes into. *Client satisfies it;
// tests substitute an in-memory implementation.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// Collector records named statistic series.
//
// Two recording modes are supported, matching the engine's statistics
// interface:
//
//   - Datapoint: a single value written immediately.
//   - Average: values are accumulated into fixed-size time buckets; when
//     a bucket rolls over, one point carrying the bucket average (plus
//     min/max/count) is written at the bucket start time.
//
// All recording is fire-and-forget: failures surface only through the
// underlying client's error callback, never to callers.
//
// Thread Safety: all methods are safe for concurrent use.
type Collector struct {
	writer PointWriter

	mu      sync.Mutex
	buckets map[string]*bucket

	// now is the clock source, replaceable for tests.
	now func() time.Time
}

// bucket accumulates values for one series until its window ends.
type bucket struct {
	start time.Time
	size  time.Duration
	sum   float64
	min   float64
	max   float64
	count int
}

// NewCollector creates a statistics collector writing into the given sink.
func NewCollector(writer PointWriter) *Collector {
	return &Collector{
		writer:  writer,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Datapoint records a single value for the series, written immediately.
//
// Parameters:
//   - series: Dotted series name (e.g. "devices.porch-light.energy")
//   - value: The value to record
func (c *Collector) Datapoint(series string, value float64) {
	if c == nil || c.writer == nil {
		return
	}

	c.writer.WritePoint("datapoint",
		map[string]string{"series": series},
		map[string]any{"value": value},
		c.now().UTC(),
	)
}

// Average accumulates a value into the series' current time bucket.
//
// Buckets are aligned to multiples of bucketSize since the Unix epoch.
// When a new value lands outside the open bucket, the finished bucket is
// written as one point (value = mean, plus min/max/count) timestamped at
// the bucket start, and a new bucket is opened.
//
// A bucketSize change for an open series flushes the old bucket first.
//
// Parameters:
//   - series: Dotted series name
//   - value: The value to accumulate
//   - bucketSize: The averaging window (e.g. 5*time.Minute)
func (c *Collector) Average(series string, value float64, bucketSize time.Duration) {
	if c == nil || c.writer == nil {
		return
	}
	if bucketSize <= 0 {
		c.Datapoint(series, value)
		return
	}

	now := c.now().UTC()
	start := now.Truncate(bucketSize)

	c.mu.Lock()
	b, ok := c.buckets[series]
	if ok && (b.size != bucketSize || !b.start.Equal(start)) {
		c.flushLocked(series, b)
		ok = false
	}
	if !ok {
		b = &bucket{start: start, size: bucketSize, min: value, max: value}
		c.buckets[series] = b
	}

	b.sum += value
	b.count++
	if value < b.min {
		b.min = value
	}
	if value > b.max {
		b.max = value
	}
	c.mu.Unlock()
}

// Flush writes out all open average buckets.
//
// Call on shutdown so partially-filled buckets are not lost.
func (c *Collector) Flush() {
	if c == nil || c.writer == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for series, b := range c.buckets {
		c.flushLocked(series, b)
	}
}

// flushLocked writes one finished bucket and removes it. Caller holds c.mu.
func (c *Collector) flushLocked(series string, b *bucket) {
	if b.count > 0 {
		c.writer.WritePoint("average",
			map[string]string{"series": series},
			map[string]any{
				"value": b.sum / float64(b.count),
				"min":   b.min,
				"max":   b.max,
				"count": b.count,
			},
			b.start,
		)
	}
	delete(c.buckets, series)
}
