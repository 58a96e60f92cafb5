// Package queue holds helpers shared by the lease-based task queue backends.
// Each backend lives in its own subpackage and implements crawler.Queue.
package queue

import (
	"math"
	"time"
)

// VisibilitySeconds converts a lease duration to whole seconds clamped to
// [lower, upper]. Backends reject sub-second or oversized leases.
func VisibilitySeconds(d time.Duration, lower, upper int32) int32 {
	secs := math.Ceil(d.Seconds())
	switch {
	case secs < float64(lower):
		return lower
	case secs > float64(upper):
		return upper
	default:
		return int32(secs)
	}
}

// Carrier adapts message attributes to an OpenTelemetry TextMapCarrier so a
// producer's trace context can be continued by the worker.
type Carrier map[string]string

// Get returns the value for key.
func (c Carrier) Get(key string) string {
	return c[key]
}

// Set stores value under key. Setting on a nil carrier is a no-op.
func (c Carrier) Set(key, value string) {
	if c == nil {
		return
	}
	c[key] = value
}

// Keys lists the stored keys.
func (c Carrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
