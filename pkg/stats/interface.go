package stats

import "time"

// Provider defines the interface for components that provide statistics
type Provider interface {
	// GetStats returns all statistics
	GetStats() map[string]interface{}

	// GetStatsFiltered returns statistics filtered by prefix
	GetStatsFiltered(prefix string) map[string]interface{}
}

// Collector interface defines methods for collecting statistics
type Collector interface {
	Provider

	// TrackOperation records a single operation
	TrackOperation(op OperationType)

	// TrackOperationWithLatency records an operation with its latency
	TrackOperationWithLatency(op OperationType, latencyNs uint64)

	// TrackCorruption increments the counter for the specified corruption kind
	TrackCorruption(kind string)

	// TrackBytesRead adds the specified number of bytes to the read counter
	TrackBytesRead(bytes uint64)

	// StartWalk initializes walk statistics
	StartWalk() time.Time

	// FinishWalk completes walk statistics
	FinishWalk(startTime time.Time, nodesVisited, pairsEmitted, pairsSkipped uint64)
}

// Ensure AtomicCollector implements the Collector interface
var _ Collector = (*AtomicCollector)(nil)
