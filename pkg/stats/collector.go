package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// OperationType defines the type of operation being tracked
type OperationType string

// Common operation types
const (
	OpOpen      OperationType = "open"
	OpClose     OperationType = "close"
	OpBlockRead OperationType = "block_read"
	OpTreeWalk  OperationType = "tree_walk"
	OpFold      OperationType = "fold"
	OpMap       OperationType = "map"
	OpListPaths OperationType = "list_paths"
	OpDigest    OperationType = "digest"
)

// Corruption kinds recorded while walking damaged stores
const (
	CorruptSkippedPair      = "skipped_pair"
	CorruptMalformedNode    = "malformed_node"
	CorruptUnresolvableNode = "unresolvable_node"
	CorruptTruncatedLeaf    = "truncated_leaf"
	CorruptWalkCycle        = "walk_cycle"
	CorruptBadPathRecord    = "bad_path_record"
)

// AtomicCollector provides centralized statistics collection with minimal contention
// using atomic operations for thread safety
type AtomicCollector struct {
	// Operation counters using atomic values
	counts   map[OperationType]*atomic.Uint64
	countsMu sync.RWMutex // Only used when creating new counter entries

	// Timing measurements for last operation timestamps
	lastOpTime   map[OperationType]time.Time
	lastOpTimeMu sync.RWMutex // Only used for timestamp updates

	// Usage metrics
	totalBytesRead atomic.Uint64

	// Corruption tracking
	corruptions   map[string]*atomic.Uint64
	corruptionsMu sync.RWMutex // Only used when creating new corruption entries

	// Statistics for the most recent tree walk
	walkStats WalkStats

	// Latency tracking
	latencies   map[OperationType]*LatencyTracker
	latenciesMu sync.RWMutex // Only used when creating new latency trackers
}

// WalkStats tracks statistics related to the most recent tree walk
type WalkStats struct {
	NodesVisited uint64
	PairsEmitted uint64
	PairsSkipped uint64
	Duration     int64 // nanoseconds
	mu           sync.Mutex
}

// LatencyTracker maintains running statistics about operation latencies
type LatencyTracker struct {
	count atomic.Uint64
	sum   atomic.Uint64 // sum in nanoseconds
	max   atomic.Uint64 // max in nanoseconds
	min   atomic.Uint64 // min in nanoseconds, zero until first sample
}

// NewCollector creates a new statistics collector
func NewCollector() *AtomicCollector {
	return &AtomicCollector{
		counts:      make(map[OperationType]*atomic.Uint64),
		lastOpTime:  make(map[OperationType]time.Time),
		corruptions: make(map[string]*atomic.Uint64),
		latencies:   make(map[OperationType]*LatencyTracker),
	}
}

// NewAtomicCollector creates a new atomic statistics collector
// This is the recommended collector implementation for production use
func NewAtomicCollector() *AtomicCollector {
	return &AtomicCollector{
		counts:      make(map[OperationType]*atomic.Uint64),
		lastOpTime:  make(map[OperationType]time.Time),
		corruptions: make(map[string]*atomic.Uint64),
		latencies:   make(map[OperationType]*LatencyTracker),
	}
}

// TrackOperation increments the counter for the specified operation type
func (c *AtomicCollector) TrackOperation(op OperationType) {
	counter := c.getOrCreateCounter(op)
	counter.Add(1)

	// Update last operation time (less critical, can use mutex)
	c.lastOpTimeMu.Lock()
	c.lastOpTime[op] = time.Now()
	c.lastOpTimeMu.Unlock()
}

// TrackOperationWithLatency tracks an operation and its latency
func (c *AtomicCollector) TrackOperationWithLatency(op OperationType, latencyNs uint64) {
	// Track operation count
	counter := c.getOrCreateCounter(op)
	counter.Add(1)

	// Update last operation time
	c.lastOpTimeMu.Lock()
	c.lastOpTime[op] = time.Now()
	c.lastOpTimeMu.Unlock()

	// Update latency statistics
	tracker := c.getOrCreateLatencyTracker(op)
	tracker.count.Add(1)
	tracker.sum.Add(latencyNs)

	// Update max (using compare-and-swap pattern)
	for {
		current := tracker.max.Load()
		if latencyNs <= current {
			break
		}
		if tracker.max.CompareAndSwap(current, latencyNs) {
			break
		}
		// Another writer moved the max between our load and CAS, retry
	}

	// Update min (using compare-and-swap pattern)
	for {
		current := tracker.min.Load()
		if current == 0 {
			// First value
			if tracker.min.CompareAndSwap(0, latencyNs) {
				break
			}
			continue
		}
		if latencyNs >= current {
			break
		}
		if tracker.min.CompareAndSwap(current, latencyNs) {
			break
		}
	}
}

// TrackCorruption increments the counter for the specified corruption kind
func (c *AtomicCollector) TrackCorruption(kind string) {
	c.corruptionsMu.RLock()
	counter, exists := c.corruptions[kind]
	c.corruptionsMu.RUnlock()

	if !exists {
		c.corruptionsMu.Lock()
		if counter, exists = c.corruptions[kind]; !exists {
			counter = &atomic.Uint64{}
			c.corruptions[kind] = counter
		}
		c.corruptionsMu.Unlock()
	}

	counter.Add(1)
}

// TrackBytesRead adds the specified number of bytes to the read counter
func (c *AtomicCollector) TrackBytesRead(bytes uint64) {
	c.totalBytesRead.Add(bytes)
}

// StartWalk initializes walk statistics
func (c *AtomicCollector) StartWalk() time.Time {
	c.walkStats.mu.Lock()
	c.walkStats.NodesVisited = 0
	c.walkStats.PairsEmitted = 0
	c.walkStats.PairsSkipped = 0
	c.walkStats.Duration = 0
	c.walkStats.mu.Unlock()

	return time.Now()
}

// FinishWalk completes walk statistics
func (c *AtomicCollector) FinishWalk(startTime time.Time, nodesVisited, pairsEmitted, pairsSkipped uint64) {
	c.walkStats.mu.Lock()
	c.walkStats.NodesVisited = nodesVisited
	c.walkStats.PairsEmitted = pairsEmitted
	c.walkStats.PairsSkipped = pairsSkipped
	c.walkStats.Duration = time.Since(startTime).Nanoseconds()
	c.walkStats.mu.Unlock()
}

// GetStats returns all statistics as a map
func (c *AtomicCollector) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	// Add operation counters
	c.countsMu.RLock()
	for op, counter := range c.counts {
		stats[string(op)+"_ops"] = counter.Load()
	}
	c.countsMu.RUnlock()

	// Add timing information
	c.lastOpTimeMu.RLock()
	for op, timestamp := range c.lastOpTime {
		stats["last_"+string(op)+"_time"] = timestamp.UnixNano()
	}
	c.lastOpTimeMu.RUnlock()

	stats["total_bytes_read"] = c.totalBytesRead.Load()

	// Add corruption statistics
	c.corruptionsMu.RLock()
	corruptionStats := make(map[string]uint64)
	for kind, counter := range c.corruptions {
		corruptionStats[kind] = counter.Load()
	}
	c.corruptionsMu.RUnlock()
	stats["corruptions"] = corruptionStats

	// Add walk statistics
	c.walkStats.mu.Lock()
	walkStats := map[string]interface{}{
		"walk_nodes_visited": c.walkStats.NodesVisited,
		"walk_pairs_emitted": c.walkStats.PairsEmitted,
		"walk_pairs_skipped": c.walkStats.PairsSkipped,
	}
	if c.walkStats.Duration > 0 {
		walkStats["walk_duration_us"] = c.walkStats.Duration / int64(time.Microsecond)
	}
	c.walkStats.mu.Unlock()
	stats["walk"] = walkStats

	// Add latency statistics
	c.latenciesMu.RLock()
	for op, tracker := range c.latencies {
		count := tracker.count.Load()
		if count == 0 {
			continue
		}

		latencyStats := map[string]interface{}{
			"count":  count,
			"avg_ns": tracker.sum.Load() / count,
		}

		// Only include min/max if we have values
		if min := tracker.min.Load(); min != 0 {
			latencyStats["min_ns"] = min
		}
		if max := tracker.max.Load(); max != 0 {
			latencyStats["max_ns"] = max
		}

		stats[string(op)+"_latency"] = latencyStats
	}
	c.latenciesMu.RUnlock()

	return stats
}

// GetStatsFiltered returns statistics filtered by prefix
func (c *AtomicCollector) GetStatsFiltered(prefix string) map[string]interface{} {
	allStats := c.GetStats()
	filtered := make(map[string]interface{})

	for key, value := range allStats {
		// Add entries that start with the prefix
		if len(prefix) == 0 || startsWith(key, prefix) {
			filtered[key] = value
		}
	}

	return filtered
}

// getOrCreateCounter gets or creates an atomic counter for the operation
func (c *AtomicCollector) getOrCreateCounter(op OperationType) *atomic.Uint64 {
	// Try read lock first (fast path)
	c.countsMu.RLock()
	counter, exists := c.counts[op]
	c.countsMu.RUnlock()

	if !exists {
		// Slow path with write lock
		c.countsMu.Lock()
		if counter, exists = c.counts[op]; !exists {
			counter = &atomic.Uint64{}
			c.counts[op] = counter
		}
		c.countsMu.Unlock()
	}

	return counter
}

// getOrCreateLatencyTracker gets or creates a latency tracker for the operation
func (c *AtomicCollector) getOrCreateLatencyTracker(op OperationType) *LatencyTracker {
	// Try read lock first (fast path)
	c.latenciesMu.RLock()
	tracker, exists := c.latencies[op]
	c.latenciesMu.RUnlock()

	if !exists {
		// Slow path with write lock
		c.latenciesMu.Lock()
		if tracker, exists = c.latencies[op]; !exists {
			tracker = &LatencyTracker{}
			c.latencies[op] = tracker
		}
		c.latenciesMu.Unlock()
	}

	return tracker
}

// startsWith checks if a string starts with a prefix
func startsWith(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	return s[:len(prefix)] == prefix
}
