package store

// Cache tier labels reported through the MetricsRecorder.
const (
	TierUser     = "user"
	TierGroup    = "group"
	TierCluster  = "cluster"
	TierInstance = "instance"
	TierSecret   = "secret"
	TierRelation = "relation"
	TierConfig   = "kubeconfig"
)

// MetricsRecorder receives cache events from the store. Implementations
// must be safe for concurrent use.
type MetricsRecorder interface {
	CacheHit(tier string)
	CacheMiss(tier string)
	CacheEviction(tier string)
}

// NopMetrics discards all events. It is the default recorder.
type NopMetrics struct{}

func (NopMetrics) CacheHit(string)      {}
func (NopMetrics) CacheMiss(string)     {}
func (NopMetrics) CacheEviction(string) {}
